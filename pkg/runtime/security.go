package runtime

import (
	"strconv"

	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// sandboxUID/sandboxGID are the fixed non-root identity every session
// container runs as.
const (
	sandboxUID = 1000
	sandboxGID = 1000
)

// securityOpts builds the OCI spec options implementing the fixed
// security profile of spec.md §4.1: non-root UID, read-only root
// filesystem, all capabilities dropped, no-new-privileges, and explicit
// tmpfs mounts for every writable path. Resource caps and the
// network/workspace mounts are layered on top by the caller because
// they vary per CreateParams, not fixed like this profile.
func securityOpts(tmpfs []TmpfsMount) []oci.SpecOpts {
	opts := []oci.SpecOpts{
		oci.WithUIDGID(sandboxUID, sandboxGID),
		oci.WithReadonlyRootfs(),
		oci.WithCapabilities(nil),
		oci.WithDroppedCapabilities([]string{
			"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_FSETID", "CAP_FOWNER",
			"CAP_MKNOD", "CAP_NET_RAW", "CAP_SETGID", "CAP_SETUID",
			"CAP_SETFCAP", "CAP_SETPCAP", "CAP_NET_BIND_SERVICE",
			"CAP_SYS_CHROOT", "CAP_KILL", "CAP_AUDIT_WRITE",
		}),
		oci.WithNoNewPrivileges,
	}

	mounts := make([]specs.Mount, 0, len(tmpfs))
	for _, t := range tmpfs {
		mounts = append(mounts, tmpfsMountSpec(t))
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}
	return opts
}

// tmpfsMountSpec renders one TmpfsMount into the OCI mount options
// string containerd expects: size in bytes, the nosuid and nodev flags
// applied to every tmpfs, and noexec when the mount's NoExec is set.
func tmpfsMountSpec(t TmpfsMount) specs.Mount {
	options := []string{"nosuid", "nodev"}
	if t.NoExec {
		options = append(options, "noexec")
	}
	if t.NoSuid {
		options = append(options, "nosuid")
	}
	if t.SizeBytes > 0 {
		options = append(options, sizeOption(t.SizeBytes))
	}
	return specs.Mount{
		Destination: t.ContainerPath,
		Type:        "tmpfs",
		Source:      "tmpfs",
		Options:     options,
	}
}

func sizeOption(bytes int64) string {
	return "size=" + strconv.FormatInt(bytes, 10)
}

// resourceOpts layers memory/CPU caps on top of the fixed security
// profile.
func resourceOpts(caps ResourceCaps) []oci.SpecOpts {
	var opts []oci.SpecOpts
	if caps.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(caps.MemoryBytes)))
	}
	if caps.CPUQuota > 0 {
		period := uint64(100000)
		quota := int64(caps.CPUQuota * 100000)
		opts = append(opts, oci.WithCPUCFS(quota, period))
	}
	return opts
}

// workspaceMountSpec renders the optional persistent workspace bind
// mount.
func workspaceMountSpec(m Mount) specs.Mount {
	options := []string{"bind"}
	if m.ReadOnly {
		options = append(options, "ro")
	} else {
		options = append(options, "rw")
	}
	return specs.Mount{
		Source:      m.HostPath,
		Destination: m.ContainerPath,
		Type:        "bind",
		Options:     options,
	}
}

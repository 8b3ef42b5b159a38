package types

import "time"

// TmpfsMount describes one in-container tmpfs mount: path, size, and the noexec/nosuid flags the fixed
// security profile always applies.
type TmpfsMount struct {
	Path      string
	SizeBytes int64
	NoExec    bool
	NoSuid    bool
}

// ResourceCaps bundles the per-session resource limits applied at
// container-create time.
type ResourceCaps struct {
	MemoryBytes  int64
	CPUQuota     float64 // cores, e.g. 0.5 = half a core
}

// Config is the immutable configuration record built once at startup
// from environment variables. Nothing in this module mutates a Config
// after Load returns it.
type Config struct {
	IdleTimeout   time.Duration
	MaxSessions   int
	ImageName     string
	RuntimeSocket string // containerd socket path (DOCKER_HOST analog)

	Resources  ResourceCaps
	TmpfsSizes map[string]TmpfsMount

	// WorkspaceRoot, when set, bind-mounts a host directory keyed by
	// session id into each container at /sandbox. Empty means tmpfs-only workspaces.
	WorkspaceRoot string

	// EnvPassthrough is injected into every container's environment:
	// database endpoint parameters and credentials.
	EnvPassthrough []string

	// PackageSourceCredential is an optional credential for reaching a
	// private package index; empty when package installation uses only
	// public sources or is disabled.
	PackageSourceCredential string

	// AllowPackageInstall gates install_package and is passed to the
	// runtime adapter as CreateParams.AllowNetwork.
	AllowPackageInstall bool

	LogLevel  string
	LogJSON   bool

	// EncryptionKey is a 32-byte AES-256 key used by pkg/security to
	// encrypt EnvSnapshot at rest in the registry.
	EncryptionKey []byte

	// MaxFileBytes bounds read_session_file/write_session_file payloads.
	MaxFileBytes int64

	// ExecTimeBudget/ExecByteBudget are the defaults applied when a call
	// doesn't supply Limits.
	ExecTimeBudget time.Duration
	ExecByteBudget int64

	// FileTransferTimeout is the internal default budget for put/get
	// archive calls.
	FileTransferTimeout time.Duration

	// ReaperInterval is the period between idle sweeps.
	ReaperInterval time.Duration
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		IdleTimeout:   300 * time.Second,
		MaxSessions:   10,
		LogLevel:      "info",
		MaxFileBytes:  10 << 20, // 10 MB
		ExecTimeBudget: 30 * time.Second,
		ExecByteBudget: 1 << 20, // 1 MB
		FileTransferTimeout: 20 * time.Second,
		ReaperInterval:      10 * time.Second,
		TmpfsSizes: map[string]TmpfsMount{
			"/tmp":     {Path: "/tmp", SizeBytes: 100 << 20, NoExec: true, NoSuid: true},
			"/sandbox": {Path: "/sandbox", SizeBytes: 500 << 20, NoExec: true, NoSuid: true},
		},
	}
}

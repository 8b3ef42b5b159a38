package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace sessiond uses,
	// isolating its containers from any other tenant of the same
	// containerd daemon.
	DefaultNamespace = "sessiond"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime is the sole Runtime implementation, a thin facade
// over containerd's client API. It is stateless with
// respect to session bookkeeping — the only state it carries is what it
// needs to tear down port-forwarding rules it installed itself.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger
	ports     *portPublisher

	mu          sync.Mutex
	portsByCtr  map[Handle]publishedPort
	pendingPort map[Handle]int // container-port to publish at Start, set by Create
}

type publishedPort struct {
	containerIP   string
	containerPort int
	hostPort      int
}

// NewContainerdRuntime dials the containerd socket and returns a Runtime
// scoped to the sessiond namespace.
func NewContainerdRuntime(socketPath string, logger zerolog.Logger) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd at %s: %w", socketPath, err)
	}

	return &ContainerdRuntime{
		client:     client,
		namespace:  DefaultNamespace,
		logger:     logger,
		ports:       newPortPublisher(logger),
		portsByCtr:  make(map[Handle]publishedPort),
		pendingPort: make(map[Handle]int),
	}, nil
}

// Close releases the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// Create pulls the image if needed and creates (but does not start) a
// container under the fixed security profile plus the caller's resource
// caps, tmpfs table, and optional workspace/network attachments.
func (r *ContainerdRuntime) Create(ctx context.Context, params CreateParams) (Handle, error) {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, params.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, params.Image, containerd.WithPullUnpack)
		if err != nil {
			return "", classify(fmt.Errorf("pull image %s: %w", params.Image, err))
		}
	}

	opts := securityOpts(params.Tmpfs)
	opts = append(opts, oci.WithImageConfig(image))
	opts = append(opts, oci.WithEnv(params.Env))
	opts = append(opts, resourceOpts(ResourceCaps(params.Resources))...)

	if !params.AllowNetwork {
		// A private, unconfigured network namespace with no CNI attach
		// leaves the container with only loopback — "no inherited
		// network attachment by default".
		opts = append(opts, oci.WithLinuxNamespace(specs.LinuxNamespace{Type: specs.NetworkNamespace}))
	}

	if params.Workspace != nil {
		opts = append(opts, oci.WithMounts([]specs.Mount{workspaceMountSpec(*params.Workspace)}))
	}

	name := params.Name
	if name == "" {
		name = uuid.NewString()
	}

	container, err := r.client.NewContainer(
		ctx,
		name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", classify(fmt.Errorf("create container: %w", err))
	}

	handle := Handle(container.ID())
	if params.PersistentPort > 0 {
		r.mu.Lock()
		r.pendingPort[handle] = params.PersistentPort
		r.mu.Unlock()
	}

	return handle, nil
}

// Start creates the container's task, starts it running, and — for a
// handle created with CreateParams.PersistentPort set — publishes a host
// port forwarding to that in-container port so Inspect can report it.
func (r *ContainerdRuntime) Start(ctx context.Context, handle Handle) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return classify(fmt.Errorf("load container %s: %w", handle, err))
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return classify(fmt.Errorf("create task: %w", err))
	}

	if err := task.Start(ctx); err != nil {
		return classify(fmt.Errorf("start task: %w", err))
	}

	r.mu.Lock()
	containerPort, pending := r.pendingPort[handle]
	delete(r.pendingPort, handle)
	r.mu.Unlock()
	if !pending {
		return nil
	}

	ip, err := r.containerIP(ctx, handle)
	if err != nil {
		return classify(err)
	}
	hostPort, err := r.ports.publish(ip, containerPort)
	if err != nil {
		return classify(err)
	}
	r.mu.Lock()
	r.portsByCtr[handle] = publishedPort{containerIP: ip, containerPort: containerPort, hostPort: hostPort}
	r.mu.Unlock()
	return nil
}

// Stop sends SIGTERM, waits up to grace, then SIGKILLs. Idempotent: a
// container with no task (already stopped/gone) returns nil.
func (r *ContainerdRuntime) Stop(ctx context.Context, handle Handle, grace time.Duration) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return nil // already gone: Stop is idempotent
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil // no running task
	}

	stopCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	statusC, err := task.Wait(ctx)
	if err != nil {
		return classify(fmt.Errorf("wait on task: %w", err))
	}

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return classify(fmt.Errorf("signal task: %w", err))
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return classify(fmt.Errorf("force-kill task: %w", err))
		}
		<-statusC
	}

	if _, err := task.Delete(ctx); err != nil && !isNotFound(err) {
		return classify(fmt.Errorf("delete task: %w", err))
	}
	return nil
}

// Remove deletes the container, its snapshot, and any port-forwarding
// rules this runtime installed for it. Idempotent like Stop.
func (r *ContainerdRuntime) Remove(ctx context.Context, handle Handle, force bool) error {
	ctx = r.ctx(ctx)

	r.mu.Lock()
	pp, had := r.portsByCtr[handle]
	delete(r.portsByCtr, handle)
	delete(r.pendingPort, handle)
	r.mu.Unlock()
	if had {
		r.ports.unpublish(pp.containerIP, pp.containerPort, pp.hostPort)
	}

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return nil // already gone
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify(fmt.Errorf("delete container: %w", err))
	}
	return nil
}

// Inspect reports whether the container's task is running and, for
// persistent-evaluator sessions, the mapped host port.
func (r *ContainerdRuntime) Inspect(ctx context.Context, handle Handle) (InspectResult, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return InspectResult{}, nil
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return InspectResult{}, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return InspectResult{}, classify(fmt.Errorf("task status: %w", err))
	}

	result := InspectResult{Running: status.Status == containerd.Running}

	r.mu.Lock()
	pp, ok := r.portsByCtr[handle]
	r.mu.Unlock()
	if ok && result.Running {
		result.HostPort = pp.hostPort
	}
	return result, nil
}

// Exec runs argv inside the container, capturing stdout/stderr under
// the caller-supplied time and byte budgets.
func (r *ContainerdRuntime) Exec(ctx context.Context, handle Handle, params ExecParams) (ExecResult, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return ExecResult{}, classify(fmt.Errorf("load container %s: %w", handle, err))
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return ExecResult{}, classify(fmt.Errorf("load task: %w", err))
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return ExecResult{}, classify(fmt.Errorf("load spec: %w", err))
	}
	procSpec := *spec.Process
	procSpec.Args = params.Argv
	procSpec.Terminal = false

	var stdout, stderr boundedBuffer
	if params.ByteBudget > 0 {
		stdout.limit = params.ByteBudget
		stderr.limit = params.ByteBudget
	}

	execID := uuid.NewString()
	var stdin io.Reader = bytes.NewReader(params.Stdin)
	if params.Stdin == nil {
		stdin = bytes.NewReader(nil)
	}

	process, err := task.Exec(ctx, execID, &procSpec, cio.NewCreator(cio.WithStreams(stdin, &stdout, &stderr)))
	if err != nil {
		return ExecResult{}, classify(fmt.Errorf("exec: %w", err))
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return ExecResult{}, classify(fmt.Errorf("wait exec: %w", err))
	}

	if err := process.Start(ctx); err != nil {
		return ExecResult{}, classify(fmt.Errorf("start exec: %w", err))
	}

	budget := params.TimeBudget
	if budget <= 0 {
		budget = 30 * time.Second
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()

	var result ExecResult
	select {
	case status := <-statusC:
		result.ExitCode = int(status.ExitCode())
	case <-timer.C:
		result.TimedOut = true
		_ = process.Kill(ctx, syscall.SIGKILL)
		<-statusC
	case <-stopOnOverflow(&stdout, &stderr):
		result.Truncated = true
		_ = process.Kill(ctx, syscall.SIGKILL)
		<-statusC
	}

	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	if stdout.overflowed() || stderr.overflowed() {
		result.Truncated = true
	}
	return result, nil
}

// PutArchive extracts a tar stream into containerPath (typically the
// workspace root) by running tar inside the container, since containerd
// has no Docker-style archive RPC.
func (r *ContainerdRuntime) PutArchive(ctx context.Context, handle Handle, containerPath string, data []byte) error {
	res, err := r.execRaw(ctx, handle, []string{"tar", "-x", "-C", containerPath}, data, 20*time.Second)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classify(fmt.Errorf("tar extract into %s exited %d: %s", containerPath, res.ExitCode, res.Stderr))
	}
	return nil
}

// GetArchive tars up containerPath (file or directory) inside the
// container and returns the resulting tar stream.
func (r *ContainerdRuntime) GetArchive(ctx context.Context, handle Handle, containerPath string) ([]byte, error) {
	dir := filepath.Dir(containerPath)
	base := filepath.Base(containerPath)
	res, err := r.execRaw(ctx, handle, []string{"tar", "-c", "-C", dir, base}, nil, 20*time.Second)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, classify(fmt.Errorf("tar create of %s exited %d: %s", containerPath, res.ExitCode, res.Stderr))
	}
	return res.Stdout, nil
}

func (r *ContainerdRuntime) execRaw(ctx context.Context, handle Handle, argv []string, stdin []byte, budget time.Duration) (ExecResult, error) {
	return r.Exec(ctx, handle, ExecParams{Argv: argv, Stdin: stdin, TimeBudget: budget, ByteBudget: 64 << 20})
}

// containerIP resolves the container's network-namespace IP using
// nsenter, the same technique Warren's ContainerdRuntime.GetContainerIP
// used for overlay-network containers, here scoped to the single
// bridge a persistent-evaluator session attaches.
func (r *ContainerdRuntime) containerIP(ctx context.Context, handle Handle) (string, error) {
	ctx = r.ctx(ctx)
	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return "", fmt.Errorf("load container %s: %w", handle, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("load task: %w", err)
	}
	pid := task.Pid()
	if pid == 0 {
		return "", fmt.Errorf("task has no pid")
	}

	cmd := exec.CommandContext(ctx, "nsenter", "-t", fmt.Sprint(pid), "-n", "ip", "-4", "addr", "show", "eth0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("resolve container ip: %w (%s)", err, output)
	}
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip, _, err := net.ParseCIDR(fields[1])
		if err != nil {
			return "", fmt.Errorf("parse container ip %s: %w", fields[1], err)
		}
		return ip.String(), nil
	}
	return "", fmt.Errorf("no eth0 address found")
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

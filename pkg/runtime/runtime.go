package runtime

import (
	"context"
	"time"
)

// Handle is the opaque reference a Runtime hands back at container
// creation. Nothing outside this package
// interprets its contents.
type Handle string

// Mount describes one bind mount applied at container-create time, used
// for the optional persistent workspace bind.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// ResourceCaps mirrors types.ResourceCaps; duplicated here so this
// package has no import-cycle-prone dependency beyond what it needs.
type ResourceCaps struct {
	MemoryBytes int64
	CPUQuota    float64
}

// TmpfsMount describes one in-container tmpfs mount.
type TmpfsMount struct {
	ContainerPath string
	SizeBytes     int64
	NoExec        bool
	NoSuid        bool
}

// CreateParams bundles everything Create needs to instantiate a
// container under the fixed security profile of spec.md §4.1.
type CreateParams struct {
	Image     string
	Name      string
	Env       []string
	Resources ResourceCaps
	Tmpfs     []TmpfsMount
	Workspace *Mount // nil when the workspace is tmpfs-only

	// PersistentPort is the in-container port the R-variant evaluator
	// listens on; 0 for one-shot sessions that need no mapped port.
	PersistentPort int

	// AllowNetwork, when set, makes Create leave out its private
	// network-namespace option. Create does not attach a bridge or any
	// other network to the container itself.
	AllowNetwork bool
}

// InspectResult reports the observable state of a container.
type InspectResult struct {
	Running bool

	// HostPort is the host-side port mapped to PersistentPort, set only
	// when CreateParams.PersistentPort was non-zero and the container
	// is running.
	HostPort int
}

// ExecParams bundles exec(2)-level inputs plus the time/byte budgets
// spec.md §4.1 requires every exec to enforce.
type ExecParams struct {
	Argv       []string
	Stdin      []byte
	TimeBudget time.Duration
	ByteBudget int64
}

// ExecResult is what Exec captures: spec.md §4.1 requires it not return
// until the process exits, the time budget elapses (process signaled),
// or the byte budget on either stream is crossed (capture truncated,
// process signaled).
type ExecResult struct {
	Stdout    []byte
	Stderr    []byte
	ExitCode  int
	TimedOut  bool
	Truncated bool
}

// Runtime is the narrow adapter contract of spec.md §4.1: everything
// above it (pkg/registry, pkg/engine, pkg/files, pkg/reaper) depends on
// this interface, never on a concrete client, so tests can substitute
// runtimetest.Fake.
type Runtime interface {
	// Create instantiates (but does not start) a container under the
	// fixed security profile. Fails with ErrImageMissing or
	// ErrRuntimeUnavailable; never ErrCapacityExhausted.
	Create(ctx context.Context, params CreateParams) (Handle, error)

	// Start starts a created container's task.
	Start(ctx context.Context, handle Handle) error

	// Stop sends SIGTERM and waits up to grace before SIGKILL.
	// Idempotent: stopping an already-gone container succeeds silently.
	Stop(ctx context.Context, handle Handle, grace time.Duration) error

	// Remove deletes the container and its snapshot. Idempotent like
	// Stop.
	Remove(ctx context.Context, handle Handle, force bool) error

	// Inspect reports status and, for persistent-evaluator sessions,
	// the mapped host port.
	Inspect(ctx context.Context, handle Handle) (InspectResult, error)

	// Exec runs argv inside the container, capturing stdout/stderr
	// under the budgets in params.
	Exec(ctx context.Context, handle Handle, params ExecParams) (ExecResult, error)

	// PutArchive writes data (a tar stream) into the container rooted
	// at containerPath, creating parent directories as needed.
	PutArchive(ctx context.Context, handle Handle, containerPath string, data []byte) error

	// GetArchive reads containerPath out of the container as a tar
	// stream.
	GetArchive(ctx context.Context, handle Handle, containerPath string) ([]byte, error)
}

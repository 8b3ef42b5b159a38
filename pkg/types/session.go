package types

import (
	"context"
	"time"
)

// Variant selects which execution engine owns a session.
type Variant string

const (
	// VariantOneShot runs the interpreter as a fresh process per call;
	// no state survives between Execute calls.
	VariantOneShot Variant = "one_shot"

	// VariantPersistent keeps a long-running in-container evaluator
	// listening on HostPort; session-local state survives between calls.
	VariantPersistent Variant = "persistent"
)

// Session is the central entity sessiond manages: a live container plus
// its registry record, addressable by ID.
type Session struct {
	ID              string
	ContainerHandle string // opaque to everything but pkg/runtime
	Variant         Variant
	CreatedAt       time.Time
	LastUsedAt      time.Time

	// HostPort is set only for VariantPersistent sessions: the host-side
	// port mapped to the in-container evaluator's listening port.
	HostPort int

	// WorkspacePath is the host directory bind-mounted into the
	// container at /sandbox. Empty when the workspace is a
	// container-local tmpfs (no workspace_root configured).
	WorkspacePath string

	// EnvSnapshot is the environment injected at creation time (database
	// endpoint/credentials and any package-source credential), sealed
	// with pkg/security's AES-256-GCM so a registry memory dump never
	// exposes injected credentials in the clear. pkg/registry hands the
	// plaintext env to the runtime adapter at creation and keeps only this
	// sealed copy, which nothing in the process decrypts. Immutable for
	// the session's lifetime.
	EnvSnapshot []byte

	// execSlot is a single-slot semaphore enforcing that only one
	// execution runs against a session at a time: a send acquires the
	// slot, a receive releases it. Buffered with capacity 1.
	execSlot chan struct{}

	// pendingSlot bounds the wait queue to one call, implementing the
	// FIFO-with-queue-depth-one default of spec.md §4.3: a second
	// concurrent call waits for the first to finish; a third fails
	// immediately with session_busy.
	pendingSlot chan struct{}

	// closing is closed by registry.Close before it tears the container
	// down, waking a call queued in AcquireExecFIFO. A call already
	// holding execSlot is not interrupted by it.
	closing chan struct{}

	// IdleTimeout overrides the configured default idle timeout for this
	// session only.
	// Zero means "use the registry's configured default".
	IdleTimeout time.Duration
}

// NewSession constructs a live session record with its execution
// semaphore and closing signal initialized.
func NewSession(id string, variant Variant) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Variant:    variant,
		CreatedAt:  now,
		LastUsedAt: now,
		execSlot:    make(chan struct{}, 1),
		pendingSlot: make(chan struct{}, 1),
		closing:     make(chan struct{}),
	}
}

// TryAcquireExec attempts to claim the single execution slot, returning
// false immediately if another execute already holds it.
func (s *Session) TryAcquireExec() bool {
	select {
	case s.execSlot <- struct{}{}:
		return true
	default:
		return false
	}
}

// AcquireExecFIFO implements spec.md §4.3's default single-writer
// policy: a call that finds the slot free acquires it immediately; a
// call that finds it held queues behind the current holder (the one
// pending slot); a call that finds both the slot and the queue occupied
// fails immediately with busy=true. A queued call that unblocks because
// the session started closing, or because ctx was canceled before its
// turn came, returns acquired=false, busy=false, closed reporting which.
func (s *Session) AcquireExecFIFO(ctx context.Context) (acquired, busy, closed bool) {
	if s.TryAcquireExec() {
		return true, false, false
	}

	select {
	case s.pendingSlot <- struct{}{}:
	default:
		return false, true, false
	}
	defer func() {
		select {
		case <-s.pendingSlot:
		default:
		}
	}()

	select {
	case s.execSlot <- struct{}{}:
		return true, false, false
	case <-s.closing:
		return false, false, true
	case <-ctx.Done():
		return false, false, false
	}
}

// ReleaseExec releases the execution slot.
func (s *Session) ReleaseExec() {
	select {
	case <-s.execSlot:
	default:
	}
}

// Closing returns the channel closed when the session begins tearing
// down, so an in-flight Execute can select on it.
func (s *Session) Closing() <-chan struct{} {
	return s.closing
}

// SignalClosing closes the closing channel exactly once.
func (s *Session) SignalClosing() {
	select {
	case <-s.closing:
		// already closing
	default:
		close(s.closing)
	}
}

// Touch updates LastUsedAt to now, keeping it monotonic even if called
// concurrently with a slightly stale clock read elsewhere.
func (s *Session) Touch() {
	now := time.Now()
	if now.After(s.LastUsedAt) {
		s.LastUsedAt = now
	}
}

// IdleFor reports how long the session has been idle as of now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastUsedAt)
}

// Summary is the snapshot shape returned by list_sessions.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	HostPort   int       `json:"host_port,omitempty"`
}

// ToSummary snapshots the fields exposed to callers.
func (s *Session) ToSummary() Summary {
	return Summary{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.LastUsedAt,
		HostPort:   s.HostPort,
	}
}

// Limits overrides the default execution budget for a single call.
type Limits struct {
	MaxDurationSeconds int `json:"max_duration_seconds,omitempty"`
	MaxOutputBytes     int `json:"max_output_bytes,omitempty"`
}

// ExecResult is the outcome of running a code string in a session.
type ExecResult struct {
	Output           string
	Result           string
	ExitCode         int
	ElapsedSeconds   float64
	OutputTruncated  bool
}

// FileInfo describes one entry of a workspace directory listing.
type FileInfo struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Path  string `json:"path"`
}

// FileContent is the outcome of read_session_file: binary files are
// surfaced base64-encoded with Base64 set.
type FileContent struct {
	Content string `json:"content"`
	Base64  bool   `json:"base64,omitempty"`
}

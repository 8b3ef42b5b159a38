package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/sessiond/pkg/health"
	"github.com/cuemby/sessiond/pkg/metrics"
	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/security"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// evaluatorPort is the fixed in-container port the persistent R
	// evaluator listens on; the runtime adapter maps it to a free host
	// port at Start time.
	evaluatorPort = 8765

	// sandboxPath is the fixed writable workspace mount point inside
	// every session's container.
	sandboxPath = "/sandbox"

	// stopGrace bounds how long Close waits for a SIGTERM'd container
	// before the runtime adapter escalates to SIGKILL.
	stopGrace = 5 * time.Second

	containerNamePrefix = "sessiond-"

	// evaluatorReadyTimeout bounds how long create waits for the
	// persistent R evaluator's TCP port to accept connections before
	// giving up and tearing the container back down.
	evaluatorReadyTimeout = 10 * time.Second
	evaluatorPollInterval = 100 * time.Millisecond
)

// Registry owns the live id -> *types.Session map. All
// operations are atomic with respect to one another under mu; allocate
// alone releases the lock between its capacity check and the runtime
// calls that actually create the container.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	reserved int

	cfg     types.Config
	rt      runtime.Runtime
	secrets *security.SecretsManager
	logger  zerolog.Logger

	// checkEvaluatorReady gates persistent-variant creation on the R
	// evaluator's TCP port accepting connections. Overridable so tests
	// can swap in a fake runtime without a real listener behind it,
	// mirroring engine.Persistent's injectable dial func.
	checkEvaluatorReady func(ctx context.Context, hostPort int) *types.Error
}

// New builds a Registry bound to rt for container lifecycle calls and cfg
// for capacity/resource/env policy.
func New(cfg types.Config, rt runtime.Runtime, logger zerolog.Logger) (*Registry, error) {
	sm, err := security.NewSecretsManager(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	r := &Registry{
		sessions: make(map[string]*types.Session),
		cfg:      cfg,
		rt:       rt,
		secrets:  sm,
		logger:   logger,
	}
	r.checkEvaluatorReady = r.waitForEvaluator
	return r, nil
}

// Allocate mints a session id, creates and starts its container under
// the configured security profile, and inserts the record — or fails
// with capacity_exhausted without touching the runtime at all when the
// registry is already at max_sessions.
func (r *Registry) Allocate(ctx context.Context, variant types.Variant, idleTimeout time.Duration) (*types.Session, *types.Error) {
	r.mu.Lock()
	if len(r.sessions)+r.reserved >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, types.NewErrorf(types.ErrCapacityExhausted, "max_sessions (%d) reached", r.cfg.MaxSessions)
	}
	r.reserved++
	r.mu.Unlock()

	session, cerr := r.create(ctx, variant, idleTimeout)

	r.mu.Lock()
	r.reserved--
	if cerr == nil {
		r.sessions[session.ID] = session
	}
	active := len(r.sessions)
	r.mu.Unlock()

	if cerr != nil {
		return nil, cerr
	}
	metrics.SessionsActive.Set(float64(active))
	r.logger.Info().
		Str("session_id", session.ID).
		Str("variant", string(session.Variant)).
		Int("host_port", session.HostPort).
		Msg("session created")
	return session, nil
}

// create does the actual runtime work outside the registry lock: pull
// image if needed, start the container, inspect for the evaluator's
// mapped port, and build the session record. Any failure after a
// successful Create tears the partial container down before returning
//.
func (r *Registry) create(ctx context.Context, variant types.Variant, idleTimeout time.Duration) (*types.Session, *types.Error) {
	id := uuid.NewString()

	env, sealedEnv, cerr := r.sealEnv()
	if cerr != nil {
		return nil, cerr
	}

	var workspace *runtime.Mount
	var workspacePath string
	if r.cfg.WorkspaceRoot != "" {
		workspacePath = filepath.Join(r.cfg.WorkspaceRoot, id)
		if err := os.MkdirAll(workspacePath, 0o750); err != nil {
			return nil, types.NewErrorf(types.ErrInternal, "create workspace directory: %v", err)
		}
		workspace = &runtime.Mount{HostPath: workspacePath, ContainerPath: sandboxPath}
	}

	params := runtime.CreateParams{
		Image:        r.cfg.ImageName,
		Name:         containerNamePrefix + id,
		Env:          env,
		Resources:    runtime.ResourceCaps(r.cfg.Resources),
		Tmpfs:        tmpfsParams(r.cfg.TmpfsSizes),
		Workspace:    workspace,
		AllowNetwork: r.cfg.AllowPackageInstall,
	}
	if variant == types.VariantPersistent {
		params.PersistentPort = evaluatorPort
	}

	timer := metrics.NewTimer()
	handle, err := r.rt.Create(ctx, params)
	if err != nil {
		return nil, types.AsError(err)
	}

	if err := r.rt.Start(ctx, handle); err != nil {
		r.teardown(ctx, handle)
		return nil, types.AsError(err)
	}
	timer.ObserveDuration(metrics.ContainerCreateDuration)

	inspect, err := r.rt.Inspect(ctx, handle)
	if err != nil {
		r.teardown(ctx, handle)
		return nil, types.AsError(err)
	}

	if variant == types.VariantPersistent {
		readyCtx, cancel := context.WithTimeout(ctx, evaluatorReadyTimeout)
		cerr := r.checkEvaluatorReady(readyCtx, inspect.HostPort)
		cancel()
		if cerr != nil {
			r.teardown(ctx, handle)
			return nil, cerr
		}
	}

	session := types.NewSession(id, variant)
	session.ContainerHandle = string(handle)
	session.HostPort = inspect.HostPort
	session.WorkspacePath = workspacePath
	session.EnvSnapshot = sealedEnv
	session.IdleTimeout = idleTimeout

	return session, nil
}

// teardown best-effort stops and removes a container created (and
// possibly started) during a create() call that failed downstream,
// logging rather than returning — the caller is already propagating the
// original error.
func (r *Registry) teardown(ctx context.Context, handle runtime.Handle) {
	if err := r.rt.Stop(ctx, handle, stopGrace); err != nil {
		r.logger.Warn().Err(err).Str("container", string(handle)).Msg("stop failed during rollback")
	}
	if err := r.rt.Remove(ctx, handle, true); err != nil {
		r.logger.Warn().Err(err).Str("container", string(handle)).Msg("remove failed during rollback")
	}
}

// waitForEvaluator polls the evaluator's mapped host port with
// pkg/health.TCPChecker's dial-with-timeout check until it accepts a
// connection or evaluatorReadyTimeout elapses, so a freshly created
// persistent session is never handed back to a caller before its R
// process has finished starting up.
func (r *Registry) waitForEvaluator(ctx context.Context, hostPort int) *types.Error {
	checker := health.NewTCPChecker(fmt.Sprintf("127.0.0.1:%d", hostPort)).WithTimeout(evaluatorPollInterval)

	for {
		result := checker.Check(ctx)
		if result.Healthy {
			return nil
		}
		select {
		case <-ctx.Done():
			return types.NewErrorf(types.ErrInternal, "evaluator on port %d did not become ready: %s", hostPort, result.Message)
		case <-time.After(evaluatorPollInterval):
		}
	}
}

// sealEnv builds the plaintext env slice passed to the runtime adapter
// plus an AES-256-GCM sealed copy stored on the session record, so the
// registry never keeps injected credentials in the clear once creation
// completes.
func (r *Registry) sealEnv() ([]string, []byte, *types.Error) {
	env := append([]string{}, r.cfg.EnvPassthrough...)
	if r.cfg.PackageSourceCredential != "" {
		env = append(env, "PACKAGE_SOURCE_CREDENTIAL="+r.cfg.PackageSourceCredential)
	}
	if len(env) == 0 {
		return env, nil, nil
	}
	sealed, err := r.secrets.EncryptSecret([]byte(strings.Join(env, "\n")))
	if err != nil {
		return nil, nil, types.NewErrorf(types.ErrInternal, "seal env snapshot: %v", err)
	}
	return env, sealed, nil
}

// Lookup returns the live session record for id, or session_not_found.
func (r *Registry) Lookup(id string) (*types.Session, *types.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrSessionNotFound, "no such session: %s", id)
	}
	return s, nil
}

// Touch bumps last_used_at for id, failing with session_not_found if the
// session is already gone.
func (r *Registry) Touch(id string) *types.Error {
	s, cerr := r.Lookup(id)
	if cerr != nil {
		return cerr
	}
	s.Touch()
	return nil
}

// Close removes id's record and drives stop+remove through the runtime
// adapter. With force=false it refuses (session_active) unless the
// session has already been idle past its timeout; with force=true it
// proceeds unconditionally. Closing an already-closed (or never-existing)
// session returns session_not_found, never a runtime error.
func (r *Registry) Close(ctx context.Context, id string, force bool) *types.Error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return types.NewErrorf(types.ErrSessionNotFound, "no such session: %s", id)
	}
	if !force && time.Since(s.LastUsedAt) < r.idleTimeoutFor(s) {
		r.mu.Unlock()
		return types.NewErrorf(types.ErrSessionActive, "session %s is still active; retry with force=true", id)
	}
	delete(r.sessions, id)
	active := len(r.sessions)
	r.mu.Unlock()

	// Wake a call queued for the exec slot before the container is torn
	// down; a call already holding the slot is not interrupted.
	s.SignalClosing()

	handle := runtime.Handle(s.ContainerHandle)
	if err := r.rt.Stop(ctx, handle, stopGrace); err != nil {
		r.logger.Warn().Err(err).Str("session_id", id).Msg("stop failed during close")
	}
	if err := r.rt.Remove(ctx, handle, true); err != nil {
		r.logger.Warn().Err(err).Str("session_id", id).Msg("remove failed during close")
	}

	metrics.SessionsActive.Set(float64(active))
	r.logger.Info().Str("session_id", id).Bool("force", force).Msg("session closed")
	return nil
}

// List snapshots live sessions. When includeInactive is false, entries
// idle past their timeout are filtered from the response only — the
// registry never deletes on a read path.
func (r *Registry) List(includeInactive bool) []types.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := make([]types.Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !includeInactive && s.IdleFor(now) >= r.idleTimeoutFor(s) {
			continue
		}
		out = append(out, s.ToSummary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// IdleSessionIDs returns the ids of every session idle past its timeout
// as of now, for pkg/reaper to drive through Close.
func (r *Registry) IdleSessionIDs(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, s := range r.sessions {
		if s.IdleFor(now) >= r.idleTimeoutFor(s) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of currently live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll force-closes every live session, used by graceful shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Close(ctx, id, true); err != nil {
			r.logger.Warn().Err(err).Str("session_id", id).Msg("close during shutdown failed")
		}
	}
}

func (r *Registry) idleTimeoutFor(s *types.Session) time.Duration {
	if s.IdleTimeout > 0 {
		return s.IdleTimeout
	}
	return r.cfg.IdleTimeout
}

func tmpfsParams(sizes map[string]types.TmpfsMount) []runtime.TmpfsMount {
	out := make([]runtime.TmpfsMount, 0, len(sizes))
	for _, m := range sizes {
		out = append(out, runtime.TmpfsMount{
			ContainerPath: m.Path,
			SizeBytes:     m.SizeBytes,
			NoExec:        m.NoExec,
			NoSuid:        m.NoSuid,
		})
	}
	return out
}

package reaper

import (
	"context"
	"time"

	"github.com/cuemby/sessiond/pkg/log"
	"github.com/cuemby/sessiond/pkg/metrics"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/rs/zerolog"
)

// registry is the subset of *registry.Registry the reaper depends on,
// kept narrow so tests substitute a map-backed stub instead of a real
// Registry plus runtime.
type registry interface {
	IdleSessionIDs(now time.Time) []string
	Close(ctx context.Context, id string, force bool) *types.Error
}

// Reaper drives the periodic idle sweep of spec.md §4.5, matching
// pkg/scheduler.Scheduler's ticker-loop shape.
type Reaper struct {
	reg      registry
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	done     chan struct{}

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// New builds a Reaper that sweeps reg every interval.
func New(reg registry, interval time.Duration) *Reaper {
	return &Reaper{
		reg:      reg,
		interval: interval,
		logger:   log.WithComponent("reaper"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the sweep loop in a background goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop signals the loop to exit and waits for it to return.
func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.done
}

func (r *Reaper) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

// sweep closes every session idle past its timeout. session_not_found
// is expected when a session closed between IdleSessionIDs and Close
// and is swallowed; anything else is logged.
func (r *Reaper) sweep() {
	for _, id := range r.reg.IdleSessionIDs(r.now()) {
		cerr := r.reg.Close(context.Background(), id, true)
		if cerr == nil {
			metrics.SessionsReapedTotal.WithLabelValues("idle_timeout").Inc()
			r.logger.Info().Str("session_id", id).Msg("reaped idle session")
			continue
		}
		if cerr.Code == types.ErrSessionNotFound {
			continue
		}
		r.logger.Warn().Str("session_id", id).Str("code", string(cerr.Code)).Msg("reap sweep close failed")
	}
}

package reaper

import (
	"context"
	"sync"
	"time"

	"testing"

	"github.com/cuemby/sessiond/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeRegistry is a minimal in-memory stand-in for *registry.Registry
// satisfying the reaper package's narrow registry interface.
type fakeRegistry struct {
	mu      sync.Mutex
	idle    []string
	closed  []string
	closeFn func(id string) *types.Error
}

func (f *fakeRegistry) IdleSessionIDs(time.Time) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.idle...)
}

func (f *fakeRegistry) Close(_ context.Context, id string, _ bool) *types.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeFn != nil {
		if cerr := f.closeFn(id); cerr != nil {
			return cerr
		}
	}
	f.closed = append(f.closed, id)
	f.idle = removeString(f.idle, id)
	return nil
}

func (f *fakeRegistry) closedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func TestSweepClosesIdleSessions(t *testing.T) {
	reg := &fakeRegistry{idle: []string{"a", "b"}}
	r := New(reg, time.Hour)
	r.sweep()

	require.ElementsMatch(t, []string{"a", "b"}, reg.closedIDs())
}

func TestSweepSwallowsSessionNotFound(t *testing.T) {
	reg := &fakeRegistry{
		idle: []string{"a"},
		closeFn: func(id string) *types.Error {
			return types.NewError(types.ErrSessionNotFound, "already gone")
		},
	}
	r := New(reg, time.Hour)
	r.sweep() // must not panic or retry forever

	require.Empty(t, reg.closedIDs())
}

func TestStartStopTicksAtLeastOnce(t *testing.T) {
	reg := &fakeRegistry{idle: []string{"a"}}
	r := New(reg, 10*time.Millisecond)

	r.Start()
	require.Eventually(t, func() bool {
		return len(reg.closedIDs()) == 1
	}, time.Second, 5*time.Millisecond)
	r.Stop()
}

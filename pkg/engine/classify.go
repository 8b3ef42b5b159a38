package engine

import (
	"context"

	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/types"
)

// ClassifyGone distinguishes, for a session whose queued execute
// unblocked because the registry started closing it, whether the
// container is already gone (session_crashed) or merely mid-teardown
// while still running (session_closing) — the same running/exited
// split Persistent.classifyFailure applies to a lost evaluator
// connection, generalized to every caller that can observe
// AcquireExecFIFO's closed result.
func ClassifyGone(ctx context.Context, rt runtime.Runtime, handle string) *types.Error {
	inspect, err := rt.Inspect(ctx, runtime.Handle(handle))
	if err == nil && inspect.Running {
		return types.NewError(types.ErrSessionClosing, "session is closing")
	}
	return types.NewError(types.ErrSessionCrashed, "session container is no longer running")
}

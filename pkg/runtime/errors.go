package runtime

import (
	"context"
	"errors"

	"github.com/containerd/errdefs"
	"github.com/cuemby/sessiond/pkg/types"
)

// classify translates a containerd client error into the taxonomy of
// spec.md §7, the "translate runtime-adapter errors" half of the
// propagation policy. Anything not recognized falls through to
// ErrRuntimeUnavailable since a Runtime call that fails unexpectedly is,
// from the caller's point of view, the runtime being unreliable.
func classify(err error) *types.Error {
	if err == nil {
		return nil
	}
	switch {
	case errdefs.IsNotFound(err):
		return types.NewError(types.ErrImageMissing, err.Error())
	case errdefs.IsUnavailable(err):
		return types.NewError(types.ErrRuntimeUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewTimeoutError(err.Error(), true)
	default:
		return types.NewError(types.ErrRuntimeUnavailable, err.Error())
	}
}

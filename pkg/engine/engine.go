package engine

import (
	"context"

	"github.com/cuemby/sessiond/pkg/types"
)

// Engine runs one code string inside a session and returns its captured
// output. A session_crashed result means the caller
// (pkg/session) must remove the session record; Engine itself never
// touches the registry.
type Engine interface {
	Execute(ctx context.Context, session *types.Session, code string, limits types.Limits) (types.ExecResult, *types.Error)
}

// Router dispatches to OneShot or Persistent by the session's variant, so
// pkg/session's Manager holds one Engine regardless of which variants a
// deployment mixes.
type Router struct {
	oneShot    *OneShot
	persistent *Persistent
}

// NewRouter builds a Router over both concrete engines.
func NewRouter(oneShot *OneShot, persistent *Persistent) *Router {
	return &Router{oneShot: oneShot, persistent: persistent}
}

func (r *Router) Execute(ctx context.Context, session *types.Session, code string, limits types.Limits) (types.ExecResult, *types.Error) {
	if session.Variant == types.VariantPersistent {
		return r.persistent.Execute(ctx, session, code, limits)
	}
	return r.oneShot.Execute(ctx, session, code, limits)
}

var _ Engine = (*Router)(nil)
var _ Engine = (*OneShot)(nil)
var _ Engine = (*Persistent)(nil)

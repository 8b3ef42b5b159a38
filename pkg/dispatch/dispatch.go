package dispatch

import (
	"context"
	"encoding/json"

	"github.com/cuemby/sessiond/pkg/session"
	"github.com/cuemby/sessiond/pkg/types"
)

// Handler is one table entry: takes the operation's JSON arguments and
// returns the already-enveloped JSON response, never a bare Go error.
type Handler func(ctx context.Context, args json.RawMessage) json.RawMessage

// Table maps operation names to handlers bound to one Manager.
type Table map[string]Handler

// New builds the full operation table over mgr.
func New(mgr *session.Manager) Table {
	return Table{
		"create_session":     handleCreateSession(mgr),
		"list_sessions":      handleListSessions(mgr),
		"close_session":      handleCloseSession(mgr),
		"execute_in_session": handleExecuteInSession(mgr),
		"list_session_files": handleListSessionFiles(mgr),
		"read_session_file":  handleReadSessionFile(mgr),
		"write_session_file": handleWriteSessionFile(mgr),
		"install_package":    handleInstallPackage(mgr),
	}
}

// Dispatch looks up operation in t and invokes it, returning an
// unknown-operation envelope when the name is not found.
func (t Table) Dispatch(ctx context.Context, operation string, args json.RawMessage) json.RawMessage {
	h, ok := t[operation]
	if !ok {
		return errorEnvelope(types.NewErrorf(types.ErrInvalidArgument, "unknown operation: %s", operation))
	}
	return h(ctx, args)
}

func handleCreateSession(mgr *session.Manager) Handler {
	return func(ctx context.Context, args json.RawMessage) json.RawMessage {
		var req session.CreateSessionRequest
		if err := unmarshalArgs(args, &req); err != nil {
			return errorEnvelope(err)
		}
		resp, cerr := mgr.CreateSession(ctx, req)
		return envelope(resp, cerr)
	}
}

func handleListSessions(mgr *session.Manager) Handler {
	return func(_ context.Context, args json.RawMessage) json.RawMessage {
		var req struct {
			IncludeInactive bool `json:"include_inactive"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return errorEnvelope(err)
		}
		return envelope(mgr.ListSessions(req.IncludeInactive), nil)
	}
}

func handleCloseSession(mgr *session.Manager) Handler {
	return func(ctx context.Context, args json.RawMessage) json.RawMessage {
		var req struct {
			ID    string `json:"id"`
			Force bool   `json:"force"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return errorEnvelope(err)
		}
		resp, cerr := mgr.CloseSession(ctx, req.ID, req.Force)
		return envelope(resp, cerr)
	}
}

func handleExecuteInSession(mgr *session.Manager) Handler {
	return func(ctx context.Context, args json.RawMessage) json.RawMessage {
		var req session.ExecuteRequest
		if err := unmarshalArgs(args, &req); err != nil {
			return errorEnvelope(err)
		}
		resp, cerr := mgr.ExecuteInSession(ctx, req)
		return envelope(resp, cerr)
	}
}

func handleListSessionFiles(mgr *session.Manager) Handler {
	return func(ctx context.Context, args json.RawMessage) json.RawMessage {
		var req struct {
			ID   string `json:"id"`
			Path string `json:"path"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return errorEnvelope(err)
		}
		resp, cerr := mgr.ListSessionFiles(ctx, req.ID, req.Path)
		return envelope(resp, cerr)
	}
}

func handleReadSessionFile(mgr *session.Manager) Handler {
	return func(ctx context.Context, args json.RawMessage) json.RawMessage {
		var req struct {
			ID   string `json:"id"`
			Path string `json:"path"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return errorEnvelope(err)
		}
		resp, cerr := mgr.ReadSessionFile(ctx, req.ID, req.Path)
		return envelope(resp, cerr)
	}
}

func handleWriteSessionFile(mgr *session.Manager) Handler {
	return func(ctx context.Context, args json.RawMessage) json.RawMessage {
		var req struct {
			ID      string `json:"id"`
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return errorEnvelope(err)
		}
		resp, cerr := mgr.WriteSessionFile(ctx, req.ID, req.Path, req.Content)
		return envelope(resp, cerr)
	}
}

func handleInstallPackage(mgr *session.Manager) Handler {
	return func(ctx context.Context, args json.RawMessage) json.RawMessage {
		var req struct {
			ID          string `json:"id"`
			PackageName string `json:"package_name"`
			Source      string `json:"source"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return errorEnvelope(err)
		}
		resp, cerr := mgr.InstallPackage(ctx, req.ID, req.PackageName, req.Source)
		return envelope(resp, cerr)
	}
}

func unmarshalArgs(args json.RawMessage, dst any) *types.Error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return types.NewErrorf(types.ErrInvalidArgument, "invalid arguments: %v", err)
	}
	return nil
}

// envelope wraps a success response as {"success": true, ...fields}.
// On a non-nil cerr it delegates to errorEnvelope instead, ignoring resp.
func envelope(resp any, cerr *types.Error) json.RawMessage {
	if cerr != nil {
		return errorEnvelope(cerr)
	}

	fields := map[string]any{}
	if b, err := json.Marshal(resp); err == nil {
		_ = json.Unmarshal(b, &fields)
	}
	fields["success"] = true

	out, err := json.Marshal(fields)
	if err != nil {
		return errorEnvelope(types.NewError(types.ErrInternal, "failed to marshal response"))
	}
	return out
}

func errorEnvelope(cerr *types.Error) json.RawMessage {
	body := map[string]any{
		"success": false,
		"error": map[string]any{
			"code":      string(cerr.Code),
			"message":   cerr.Message,
			"retryable": cerr.Retryable,
			"details":   cerr.Details,
		},
	}
	out, err := json.Marshal(body)
	if err != nil {
		// last resort: a hand-built envelope that cannot fail to marshal
		return json.RawMessage(`{"success":false,"error":{"code":"internal","message":"failed to marshal error","retryable":false}}`)
	}
	return out
}

package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cuemby/sessiond/pkg/engine"
	"github.com/cuemby/sessiond/pkg/files"
	"github.com/cuemby/sessiond/pkg/registry"
	"github.com/cuemby/sessiond/pkg/runtime/runtimetest"
	"github.com/cuemby/sessiond/pkg/session"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) Table {
	t.Helper()
	fake := runtimetest.New()

	cfg := types.Defaults()
	cfg.MaxSessions = 2
	cfg.ImageName = "sessiond/sandbox:latest"
	cfg.EncryptionKey = make([]byte, 32)

	reg, err := registry.New(cfg, fake, zerolog.Nop())
	require.NoError(t, err)

	oneShot := engine.NewOneShot(fake, cfg, zerolog.Nop())
	persistent := engine.NewPersistent(fake, cfg, zerolog.Nop())
	router := engine.NewRouter(oneShot, persistent)
	f := files.New(fake, cfg, zerolog.Nop())

	mgr := session.New(reg, router, f, fake, cfg)
	return New(mgr)
}

func TestDispatchCreateSessionSucceeds(t *testing.T) {
	table := newTestTable(t)
	out := table.Dispatch(context.Background(), "create_session", nil)

	var body map[string]any
	require.NoError(t, json.Unmarshal(out, &body))
	require.Equal(t, true, body["success"])
	require.NotEmpty(t, body["id"])
}

func TestDispatchUnknownOperation(t *testing.T) {
	table := newTestTable(t)
	out := table.Dispatch(context.Background(), "does_not_exist", nil)

	var body map[string]any
	require.NoError(t, json.Unmarshal(out, &body))
	require.Equal(t, false, body["success"])
	errObj := body["error"].(map[string]any)
	require.Equal(t, "invalid_argument", errObj["code"])
}

func TestDispatchCloseSessionNotFound(t *testing.T) {
	table := newTestTable(t)
	args, err := json.Marshal(map[string]any{"id": "missing", "force": true})
	require.NoError(t, err)

	out := table.Dispatch(context.Background(), "close_session", args)

	var body map[string]any
	require.NoError(t, json.Unmarshal(out, &body))
	require.Equal(t, false, body["success"])
	errObj := body["error"].(map[string]any)
	require.Equal(t, "session_not_found", errObj["code"])
	require.Equal(t, false, errObj["retryable"])
}

func TestDispatchExecuteRoundTrip(t *testing.T) {
	table := newTestTable(t)
	createOut := table.Dispatch(context.Background(), "create_session", nil)
	var created map[string]any
	require.NoError(t, json.Unmarshal(createOut, &created))
	id := created["id"].(string)

	args, err := json.Marshal(map[string]any{"id": id, "code": "1+1"})
	require.NoError(t, err)
	out := table.Dispatch(context.Background(), "execute_in_session", args)

	var body map[string]any
	require.NoError(t, json.Unmarshal(out, &body))
	require.Equal(t, true, body["success"])
	require.Contains(t, body, "meta")
}

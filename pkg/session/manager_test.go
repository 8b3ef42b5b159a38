package session

import (
	"context"
	"testing"

	"github.com/cuemby/sessiond/pkg/engine"
	"github.com/cuemby/sessiond/pkg/files"
	"github.com/cuemby/sessiond/pkg/registry"
	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/runtime/runtimetest"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, maxSessions int) (*Manager, *runtimetest.Fake) {
	t.Helper()
	fake := runtimetest.New()

	cfg := types.Defaults()
	cfg.MaxSessions = maxSessions
	cfg.ImageName = "sessiond/sandbox:latest"
	cfg.EncryptionKey = make([]byte, 32)
	cfg.AllowPackageInstall = true

	reg, err := registry.New(cfg, fake, zerolog.Nop())
	require.NoError(t, err)

	oneShot := engine.NewOneShot(fake, cfg, zerolog.Nop())
	persistent := engine.NewPersistent(fake, cfg, zerolog.Nop())
	router := engine.NewRouter(oneShot, persistent)

	f := files.New(fake, cfg, zerolog.Nop())

	return New(reg, router, f, fake, cfg), fake
}

func TestCreateSessionDefaultsToOneShot(t *testing.T) {
	mgr, _ := newTestManager(t, 2)
	resp, cerr := mgr.CreateSession(context.Background(), CreateSessionRequest{})
	require.Nil(t, cerr)
	require.NotEmpty(t, resp.ID)
	s, cerr := mgr.reg.Lookup(resp.ID)
	require.Nil(t, cerr)
	require.Equal(t, types.VariantOneShot, s.Variant)
}

func TestCreateSessionAtCapacityFails(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	_, cerr := mgr.CreateSession(context.Background(), CreateSessionRequest{})
	require.Nil(t, cerr)

	_, cerr = mgr.CreateSession(context.Background(), CreateSessionRequest{})
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrCapacityExhausted, cerr.Code)
}

func TestCloseThenExecuteFailsNotFound(t *testing.T) {
	mgr, _ := newTestManager(t, 2)
	created, cerr := mgr.CreateSession(context.Background(), CreateSessionRequest{})
	require.Nil(t, cerr)

	_, cerr = mgr.CloseSession(context.Background(), created.ID, true)
	require.Nil(t, cerr)

	_, cerr = mgr.ExecuteInSession(context.Background(), ExecuteRequest{ID: created.ID, Code: "1+1"})
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrSessionNotFound, cerr.Code)
}

func TestExecuteInSessionEmptyCodeIsInvalidArgument(t *testing.T) {
	mgr, _ := newTestManager(t, 2)
	created, cerr := mgr.CreateSession(context.Background(), CreateSessionRequest{})
	require.Nil(t, cerr)

	_, cerr = mgr.ExecuteInSession(context.Background(), ExecuteRequest{ID: created.ID, Code: ""})
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrInvalidArgument, cerr.Code)
}

func TestWriteThenReadSessionFileRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t, 2)
	created, cerr := mgr.CreateSession(context.Background(), CreateSessionRequest{})
	require.Nil(t, cerr)

	_, cerr = mgr.WriteSessionFile(context.Background(), created.ID, "note.txt", "hi")
	require.Nil(t, cerr)

	resp, cerr := mgr.ReadSessionFile(context.Background(), created.ID, "note.txt")
	require.Nil(t, cerr)
	require.Equal(t, "hi", resp.Content)
}

func TestInstallPackageDisabledByDefault(t *testing.T) {
	mgr, _ := newTestManager(t, 2)
	mgr.cfg.AllowPackageInstall = false
	created, cerr := mgr.CreateSession(context.Background(), CreateSessionRequest{})
	require.Nil(t, cerr)

	_, cerr = mgr.InstallPackage(context.Background(), created.ID, "numpy", "")
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrInvalidArgument, cerr.Code)
}

func TestInstallPackageInvokesPip(t *testing.T) {
	mgr, fake := newTestManager(t, 2)
	created, cerr := mgr.CreateSession(context.Background(), CreateSessionRequest{})
	require.Nil(t, cerr)

	var gotArgv []string
	fake.ExecFunc = func(h runtime.Handle, params runtime.ExecParams) (runtime.ExecResult, error) {
		gotArgv = params.Argv
		return runtime.ExecResult{ExitCode: 0, Stdout: []byte("installed")}, nil
	}

	resp, cerr := mgr.InstallPackage(context.Background(), created.ID, "numpy", "")
	require.Nil(t, cerr)
	require.Equal(t, 0, resp.ExitCode)
	require.Equal(t, []string{"pip", "install", "--no-input", "numpy"}, gotArgv)
}

func TestListSessionsExcludesClosed(t *testing.T) {
	mgr, _ := newTestManager(t, 2)
	a, cerr := mgr.CreateSession(context.Background(), CreateSessionRequest{})
	require.Nil(t, cerr)
	b, cerr := mgr.CreateSession(context.Background(), CreateSessionRequest{})
	require.Nil(t, cerr)

	_, cerr = mgr.CloseSession(context.Background(), a.ID, true)
	require.Nil(t, cerr)

	resp := mgr.ListSessions(false)
	require.Equal(t, 1, resp.Count)
	require.Equal(t, b.ID, resp.Sessions[0].ID)
}

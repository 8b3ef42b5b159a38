package engine

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/runtime/runtimetest"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeEvaluator starts a loopback TCP listener that echoes one
// evalResponse per request, so Persistent.Execute can dial a real
// socket without a container.
func fakeEvaluator(t *testing.T, respond func(evalRequest) evalResponse) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var req evalRequest
				if err := json.NewDecoder(conn).Decode(&req); err != nil {
					return
				}
				resp := respond(req)
				line, _ := json.Marshal(resp)
				conn.Write(append(line, '\n'))
			}()
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func newPersistentSession(t *testing.T, fake *runtimetest.Fake, hostPort int) *types.Session {
	t.Helper()
	handle, err := fake.Create(context.Background(), runtime.CreateParams{Name: "p1", PersistentPort: 8765})
	require.NoError(t, err)
	require.NoError(t, fake.Start(context.Background(), handle))
	s := types.NewSession("p1", types.VariantPersistent)
	s.ContainerHandle = string(handle)
	s.HostPort = hostPort
	return s
}

func TestPersistentRoundTrip(t *testing.T) {
	addr, stop := fakeEvaluator(t, func(req evalRequest) evalResponse {
		return evalResponse{Stdout: "42", Result: "42"}
	})
	defer stop()

	_, portStr, _ := net.SplitHostPort(addr)
	fake := runtimetest.New()
	s := newPersistentSession(t, fake, mustAtoi(t, portStr))

	persistent := NewPersistent(fake, testCfg(), zerolog.Nop())
	persistent.dial = func(ctx context.Context, address string) (net.Conn, error) {
		d := net.Dialer{}
		return d.DialContext(ctx, "tcp", addr)
	}

	res, cerr := persistent.Execute(context.Background(), s, "cat(x)", types.Limits{})
	require.Nil(t, cerr)
	require.Equal(t, "42", res.Output)
	require.Equal(t, "42", res.Result)
}

func TestPersistentEvaluatorUnreachableWhenStillRunning(t *testing.T) {
	fake := runtimetest.New()
	s := newPersistentSession(t, fake, 1) // nothing listens on port 1
	persistent := NewPersistent(fake, testCfg(), zerolog.Nop())
	persistent.dial = func(ctx context.Context, address string) (net.Conn, error) {
		return nil, context.DeadlineExceeded
	}

	_, cerr := persistent.Execute(context.Background(), s, "1+1", types.Limits{})
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrEvaluatorUnreachable, cerr.Code)
}

func TestPersistentSessionCrashedWhenContainerGone(t *testing.T) {
	fake := runtimetest.New()
	s := newPersistentSession(t, fake, 1)
	require.NoError(t, fake.Stop(context.Background(), runtime.Handle(s.ContainerHandle), 0))

	persistent := NewPersistent(fake, testCfg(), zerolog.Nop())
	persistent.dial = func(ctx context.Context, address string) (net.Conn, error) {
		return nil, context.DeadlineExceeded
	}

	_, cerr := persistent.Execute(context.Background(), s, "1+1", types.Limits{})
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrSessionCrashed, cerr.Code)
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, c := range s {
		require.True(t, c >= '0' && c <= '9')
		n = n*10 + int(c-'0')
	}
	return n
}

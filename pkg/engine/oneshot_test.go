package engine

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/runtime/runtimetest"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newOneShotSession(t *testing.T, fake *runtimetest.Fake) *types.Session {
	t.Helper()
	handle, err := fake.Create(context.Background(), runtime.CreateParams{Name: "s1"})
	require.NoError(t, err)
	require.NoError(t, fake.Start(context.Background(), handle))
	s := types.NewSession("s1", types.VariantOneShot)
	s.ContainerHandle = string(handle)
	return s
}

func testCfg() types.Config {
	cfg := types.Defaults()
	cfg.ExecTimeBudget = time.Second
	cfg.ExecByteBudget = 1024
	return cfg
}

func TestOneShotRejectsEmptyCode(t *testing.T) {
	fake := runtimetest.New()
	oneShot := NewOneShot(fake, testCfg(), zerolog.Nop())
	s := newOneShotSession(t, fake)

	_, cerr := oneShot.Execute(context.Background(), s, "   ", types.Limits{})
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrInvalidArgument, cerr.Code)
}

func TestOneShotSuccess(t *testing.T) {
	fake := runtimetest.New()
	fake.ExecFunc = func(handle runtime.Handle, params runtime.ExecParams) (runtime.ExecResult, error) {
		return runtime.ExecResult{Stdout: []byte("hi"), ExitCode: 0}, nil
	}
	oneShot := NewOneShot(fake, testCfg(), zerolog.Nop())
	s := newOneShotSession(t, fake)

	res, cerr := oneShot.Execute(context.Background(), s, "print('hi')", types.Limits{})
	require.Nil(t, cerr)
	require.Equal(t, "hi", res.Output)
	require.Equal(t, 0, res.ExitCode)
}

func TestOneShotTimedOutMapsToTimeout(t *testing.T) {
	fake := runtimetest.New()
	fake.ExecFunc = func(handle runtime.Handle, params runtime.ExecParams) (runtime.ExecResult, error) {
		return runtime.ExecResult{TimedOut: true}, nil
	}
	oneShot := NewOneShot(fake, testCfg(), zerolog.Nop())
	s := newOneShotSession(t, fake)

	_, cerr := oneShot.Execute(context.Background(), s, "while True: pass", types.Limits{})
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrTimeout, cerr.Code)
	require.False(t, cerr.Retryable)
}

func TestOneShotBusyWhenQueueFull(t *testing.T) {
	fake := runtimetest.New()
	fake.ExecFunc = func(handle runtime.Handle, params runtime.ExecParams) (runtime.ExecResult, error) {
		return runtime.ExecResult{Stdout: []byte("hi"), ExitCode: 0}, nil
	}
	oneShot := NewOneShot(fake, testCfg(), zerolog.Nop())
	s := newOneShotSession(t, fake)

	// A holds the slot; B queues behind it (occupying the one pending
	// slot); a third concurrent call must fail immediately rather than
	// block, per spec.md §4.3's queue-depth-one policy.
	require.True(t, s.TryAcquireExec())

	bDone := make(chan struct{})
	go func() {
		defer close(bDone)
		_, _ = oneShot.Execute(context.Background(), s, "print('b')", types.Limits{})
	}()
	time.Sleep(20 * time.Millisecond)

	_, cerr := oneShot.Execute(context.Background(), s, "1+1", types.Limits{})
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrSessionBusy, cerr.Code)

	s.ReleaseExec()
	<-bDone
}

func TestOneShotQueuesBehindHolderThenRuns(t *testing.T) {
	fake := runtimetest.New()
	fake.ExecFunc = func(handle runtime.Handle, params runtime.ExecParams) (runtime.ExecResult, error) {
		return runtime.ExecResult{Stdout: []byte("hi"), ExitCode: 0}, nil
	}
	oneShot := NewOneShot(fake, testCfg(), zerolog.Nop())
	s := newOneShotSession(t, fake)

	require.True(t, s.TryAcquireExec())

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, cerr := oneShot.Execute(context.Background(), s, "print('hi')", types.Limits{})
		require.Nil(t, cerr)
		require.Equal(t, "hi", res.Output)
	}()

	time.Sleep(20 * time.Millisecond)
	s.ReleaseExec()
	<-done
}

func TestOneShotQueuedCallReturnsSessionClosingWhileContainerStillRunning(t *testing.T) {
	fake := runtimetest.New()
	oneShot := NewOneShot(fake, testCfg(), zerolog.Nop())
	s := newOneShotSession(t, fake)

	require.True(t, s.TryAcquireExec())

	result := make(chan *types.Error, 1)
	go func() {
		_, cerr := oneShot.Execute(context.Background(), s, "1+1", types.Limits{})
		result <- cerr
	}()
	time.Sleep(20 * time.Millisecond)

	// Container is still running (the registry only signals closing
	// before Stop/Remove complete), so the queued call must see
	// session_closing, not session_crashed.
	s.SignalClosing()

	cerr := <-result
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrSessionClosing, cerr.Code)
	require.False(t, cerr.Retryable)
}

func TestOneShotQueuedCallReturnsSessionCrashedWhenContainerAlreadyGone(t *testing.T) {
	fake := runtimetest.New()
	oneShot := NewOneShot(fake, testCfg(), zerolog.Nop())
	s := newOneShotSession(t, fake)

	require.True(t, s.TryAcquireExec())

	result := make(chan *types.Error, 1)
	go func() {
		_, cerr := oneShot.Execute(context.Background(), s, "1+1", types.Limits{})
		result <- cerr
	}()
	time.Sleep(20 * time.Millisecond)

	// Container has already exited by the time the signal fires, so the
	// queued call must see session_crashed.
	require.NoError(t, fake.Stop(context.Background(), runtime.Handle(s.ContainerHandle), 0))
	s.SignalClosing()

	cerr := <-result
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrSessionCrashed, cerr.Code)
	require.False(t, cerr.Retryable)
}

package engine

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/sessiond/pkg/metrics"
	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/rs/zerolog"
)

// pythonInterpreter is the fixed entry point for the one-shot variant:
// one-shot maps to Python, persistent maps to R.
var pythonInterpreter = []string{"python3", "-c"}

// OneShot runs the interpreter as a fresh process per call; no state
// survives between calls.
type OneShot struct {
	rt     runtime.Runtime
	logger zerolog.Logger

	defaultTimeBudget time.Duration
	defaultByteBudget int64
}

// NewOneShot builds a OneShot engine using cfg's default exec budgets.
func NewOneShot(rt runtime.Runtime, cfg types.Config, logger zerolog.Logger) *OneShot {
	return &OneShot{
		rt:                rt,
		logger:            logger,
		defaultTimeBudget: cfg.ExecTimeBudget,
		defaultByteBudget: cfg.ExecByteBudget,
	}
}

func (e *OneShot) Execute(ctx context.Context, session *types.Session, code string, limits types.Limits) (types.ExecResult, *types.Error) {
	if strings.TrimSpace(code) == "" {
		return types.ExecResult{}, types.NewError(types.ErrInvalidArgument, "code must not be empty")
	}
	acquired, busy, closed := session.AcquireExecFIFO(ctx)
	if !acquired {
		if busy {
			return types.ExecResult{}, types.NewError(types.ErrSessionBusy, "session is already executing a call")
		}
		if closed {
			return types.ExecResult{}, ClassifyGone(ctx, e.rt, session.ContainerHandle)
		}
		return types.ExecResult{}, types.NewTimeoutError("call canceled while queued behind another execute", true)
	}
	defer session.ReleaseExec()
	session.Touch()

	timeBudget, byteBudget := resolveBudgets(limits, e.defaultTimeBudget, e.defaultByteBudget)

	argv := make([]string, 0, len(pythonInterpreter)+1)
	argv = append(argv, pythonInterpreter...)
	argv = append(argv, code)

	start := time.Now()
	res, err := e.rt.Exec(ctx, runtime.Handle(session.ContainerHandle), runtime.ExecParams{
		Argv:       argv,
		TimeBudget: timeBudget,
		ByteBudget: byteBudget,
	})
	elapsed := time.Since(start).Seconds()
	session.Touch()

	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues(string(types.VariantOneShot), "error").Inc()
		return types.ExecResult{}, types.AsError(err)
	}

	if res.TimedOut {
		metrics.ExecutionsTotal.WithLabelValues(string(types.VariantOneShot), "timeout").Inc()
		return types.ExecResult{}, types.NewTimeoutError("execution exceeded its time budget", false)
	}

	metrics.ExecutionsTotal.WithLabelValues(string(types.VariantOneShot), "ok").Inc()
	metrics.ExecutionDuration.WithLabelValues(string(types.VariantOneShot)).Observe(elapsed)

	output := decodeLossy(res.Stdout)
	if len(res.Stderr) > 0 {
		if output != "" {
			output += "\n"
		}
		output += decodeLossy(res.Stderr)
	}

	return types.ExecResult{
		Output:          output,
		ExitCode:        res.ExitCode,
		ElapsedSeconds:  elapsed,
		OutputTruncated: res.Truncated,
	}, nil
}

var _ Engine = (*OneShot)(nil)

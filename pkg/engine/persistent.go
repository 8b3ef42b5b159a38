package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cuemby/sessiond/pkg/metrics"
	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/rs/zerolog"
)

// evalRequest/evalResponse are the line-delimited JSON framing the
// in-container R evaluator speaks on its fixed listening port.
type evalRequest struct {
	Code string `json:"code"`
}

type evalResponse struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

// Persistent dials the session's mapped host port and exchanges one
// request/response per call; session-local variables, attached
// libraries, and open database handles persist between calls because
// they live in the evaluator process, not in this engine.
type Persistent struct {
	rt     runtime.Runtime
	logger zerolog.Logger

	defaultTimeBudget time.Duration
	defaultByteBudget int64

	// dial is overridable in tests to avoid a real TCP listener.
	dial func(ctx context.Context, address string) (net.Conn, error)
}

// NewPersistent builds a Persistent engine using cfg's default exec
// budgets and dialing 127.0.0.1:<session.HostPort>, the same loopback
// target pkg/health.TCPChecker's dial-with-timeout pattern probes.
func NewPersistent(rt runtime.Runtime, cfg types.Config, logger zerolog.Logger) *Persistent {
	return &Persistent{
		rt:                rt,
		logger:            logger,
		defaultTimeBudget: cfg.ExecTimeBudget,
		defaultByteBudget: cfg.ExecByteBudget,
		dial: func(ctx context.Context, address string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "tcp", address)
		},
	}
}

func (e *Persistent) Execute(ctx context.Context, session *types.Session, code string, limits types.Limits) (types.ExecResult, *types.Error) {
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

	callCtx, cancel := context.WithTimeout(ctx, timeBudget)
	defer cancel()

	start := time.Now()
	resp, truncated, callErr := e.call(callCtx, session.HostPort, code, byteBudget)
	elapsed := time.Since(start).Seconds()
	session.Touch()

	if callErr != nil {
		return e.classifyFailure(ctx, session, callCtx, callErr)
	}

	outcome := "ok"
	if resp.Error != "" {
		outcome = "evaluator_error"
	}
	metrics.ExecutionsTotal.WithLabelValues(string(types.VariantPersistent), outcome).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(types.VariantPersistent)).Observe(elapsed)

	output := resp.Stdout
	if resp.Stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += resp.Stderr
	}

	result := types.ExecResult{
		Output:          output,
		Result:          resp.Result,
		ElapsedSeconds:  elapsed,
		OutputTruncated: truncated,
	}
	if resp.Error != "" {
		result.ExitCode = 1
	}
	return result, nil
}

// classifyFailure implements the transport-failure policy: a deliberate
// time-budget expiry is `timeout` (not retryable); anything
// else is classified by inspecting the container — still running means
// `evaluator_unreachable` (retryable), exited means `session_crashed`
// (the caller must remove the session record).
func (e *Persistent) classifyFailure(ctx context.Context, session *types.Session, callCtx context.Context, callErr error) (types.ExecResult, *types.Error) {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		metrics.ExecutionsTotal.WithLabelValues(string(types.VariantPersistent), "timeout").Inc()
		return types.ExecResult{}, types.NewTimeoutError("evaluator call exceeded its time budget", false)
	}

	inspect, ierr := e.rt.Inspect(ctx, runtime.Handle(session.ContainerHandle))
	if ierr == nil && inspect.Running {
		metrics.ExecutionsTotal.WithLabelValues(string(types.VariantPersistent), "evaluator_unreachable").Inc()
		return types.ExecResult{}, types.NewError(types.ErrEvaluatorUnreachable, callErr.Error())
	}

	metrics.ExecutionsTotal.WithLabelValues(string(types.VariantPersistent), "session_crashed").Inc()
	return types.ExecResult{}, types.NewError(types.ErrSessionCrashed, "persistent evaluator container has exited")
}

// call opens one connection, writes a single JSON request line, and
// reads back a single JSON response line bounded by byteBudget.
func (e *Persistent) call(ctx context.Context, hostPort int, code string, byteBudget int64) (evalResponse, bool, error) {
	if hostPort == 0 {
		return evalResponse{}, false, fmt.Errorf("session has no mapped evaluator port")
	}

	conn, err := e.dial(ctx, fmt.Sprintf("127.0.0.1:%d", hostPort))
	if err != nil {
		return evalResponse{}, false, fmt.Errorf("dial evaluator: %w", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	line, err := json.Marshal(evalRequest{Code: code})
	if err != nil {
		return evalResponse{}, false, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return evalResponse{}, false, fmt.Errorf("write request: %w", err)
	}

	limit := byteBudget
	if limit <= 0 {
		limit = e.defaultByteBudget
	}
	limited := io.LimitReader(conn, limit+1)
	raw, err := bufio.NewReader(limited).ReadBytes('\n')
	if err != nil && len(raw) == 0 {
		return evalResponse{}, false, fmt.Errorf("read response: %w", err)
	}
	raw = []byte(strings.TrimRight(string(raw), "\n"))

	truncated := int64(len(raw)) > limit
	if truncated {
		raw = raw[:limit]
	}

	var resp evalResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		if truncated {
			return evalResponse{Stdout: decodeLossy(raw)}, true, nil
		}
		return evalResponse{}, false, fmt.Errorf("decode response: %w", err)
	}
	return resp, truncated, nil
}

var _ Engine = (*Persistent)(nil)

package session

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuemby/sessiond/pkg/engine"
	"github.com/cuemby/sessiond/pkg/files"
	"github.com/cuemby/sessiond/pkg/log"
	"github.com/cuemby/sessiond/pkg/metrics"
	"github.com/cuemby/sessiond/pkg/registry"
	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/rs/zerolog"
)

// Manager implements the eight operations of spec.md §6, each a thin
// translation between the wire request/response shapes below and the
// registry/engine/files collaborators.
type Manager struct {
	reg    *registry.Registry
	engine engine.Engine
	files  *files.Files
	rt     runtime.Runtime
	cfg    types.Config
	logger zerolog.Logger
}

// New builds a Manager over the given collaborators.
func New(reg *registry.Registry, eng engine.Engine, f *files.Files, rt runtime.Runtime, cfg types.Config) *Manager {
	return &Manager{
		reg:    reg,
		engine: eng,
		files:  f,
		rt:     rt,
		cfg:    cfg,
		logger: log.WithComponent("session"),
	}
}

// CreateSessionRequest is create_session's input.
type CreateSessionRequest struct {
	Variant        types.Variant `json:"variant"`
	TimeoutSeconds int           `json:"timeout_seconds,omitempty"`
}

// CreateSessionResponse is create_session's success shape.
type CreateSessionResponse struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	HostPort   int       `json:"host_port,omitempty"`
}

// CreateSession allocates a new session of the requested variant.
func (m *Manager) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, *types.Error) {
	variant := req.Variant
	if variant == "" {
		variant = types.VariantOneShot
	}

	var idleTimeout time.Duration
	if req.TimeoutSeconds > 0 {
		idleTimeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	s, cerr := m.reg.Allocate(ctx, variant, idleTimeout)
	if cerr != nil {
		metrics.SessionsCreatedTotal.WithLabelValues(string(variant), string(cerr.Code)).Inc()
		return CreateSessionResponse{}, cerr
	}
	metrics.SessionsCreatedTotal.WithLabelValues(string(variant), "ok").Inc()

	m.logger.Info().Str("session_id", s.ID).Str("variant", string(variant)).Msg("session created")
	return CreateSessionResponse{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.LastUsedAt,
		HostPort:   s.HostPort,
	}, nil
}

// ListSessionsResponse is list_sessions's success shape.
type ListSessionsResponse struct {
	Sessions []types.Summary `json:"sessions"`
	Count    int              `json:"count"`
}

// ListSessions returns a snapshot of live sessions.
func (m *Manager) ListSessions(includeInactive bool) ListSessionsResponse {
	summaries := m.reg.List(includeInactive)
	return ListSessionsResponse{Sessions: summaries, Count: len(summaries)}
}

// MessageResponse is the success shape shared by close_session and
// write_session_file.
type MessageResponse struct {
	Message string `json:"message"`
}

// CloseSession tears a session down.
func (m *Manager) CloseSession(ctx context.Context, id string, force bool) (MessageResponse, *types.Error) {
	var variant types.Variant
	if s, lerr := m.reg.Lookup(id); lerr == nil {
		variant = s.Variant
	}
	if cerr := m.reg.Close(ctx, id, force); cerr != nil {
		return MessageResponse{}, cerr
	}
	metrics.SessionsClosedTotal.WithLabelValues(string(variant)).Inc()
	return MessageResponse{Message: "session closed"}, nil
}

// ExecuteRequest is execute_in_session's input.
type ExecuteRequest struct {
	ID     string       `json:"id"`
	Code   string       `json:"code"`
	Limits types.Limits `json:"limits,omitempty"`
}

// ExecuteMeta carries the per-call execution metadata spec.md §6
// requires alongside output.
type ExecuteMeta struct {
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	OutputTruncated bool    `json:"output_truncated"`
}

// ExecuteResponse is execute_in_session's success shape.
type ExecuteResponse struct {
	Output string      `json:"output"`
	Result string      `json:"result,omitempty"`
	Meta   ExecuteMeta `json:"meta"`
}

// ExecuteInSession runs code in the named session's engine variant
//. A nonzero exit code is not itself a taxonomy error;
// it is surfaced through Output/Result per the engine's own contract.
func (m *Manager) ExecuteInSession(ctx context.Context, req ExecuteRequest) (ExecuteResponse, *types.Error) {
	s, cerr := m.reg.Lookup(req.ID)
	if cerr != nil {
		return ExecuteResponse{}, cerr
	}

	result, cerr := m.engine.Execute(ctx, s, req.Code, req.Limits)
	if cerr != nil {
		if cerr.Code == types.ErrSessionCrashed {
			_ = m.reg.Close(ctx, req.ID, true)
		}
		return ExecuteResponse{}, cerr
	}

	return ExecuteResponse{
		Output: result.Output,
		Result: result.Result,
		Meta: ExecuteMeta{
			ElapsedSeconds:  result.ElapsedSeconds,
			OutputTruncated: result.OutputTruncated,
		},
	}, nil
}

// ListFilesResponse is list_session_files's success shape.
type ListFilesResponse struct {
	Files []types.FileInfo `json:"files"`
}

// ListSessionFiles lists one directory level of a session's workspace.
func (m *Manager) ListSessionFiles(ctx context.Context, id, path string) (ListFilesResponse, *types.Error) {
	s, cerr := m.reg.Lookup(id)
	if cerr != nil {
		return ListFilesResponse{}, cerr
	}
	entries, cerr := m.files.List(ctx, s, path)
	if cerr != nil {
		return ListFilesResponse{}, cerr
	}
	return ListFilesResponse{Files: entries}, nil
}

// ReadFileResponse is read_session_file's success shape.
type ReadFileResponse struct {
	Content string `json:"content"`
	Base64  bool   `json:"base64,omitempty"`
}

// ReadSessionFile reads a file from a session's workspace.
func (m *Manager) ReadSessionFile(ctx context.Context, id, path string) (ReadFileResponse, *types.Error) {
	s, cerr := m.reg.Lookup(id)
	if cerr != nil {
		return ReadFileResponse{}, cerr
	}
	content, cerr := m.files.Read(ctx, s, path)
	if cerr != nil {
		return ReadFileResponse{}, cerr
	}
	return ReadFileResponse{Content: content.Content, Base64: content.Base64}, nil
}

// WriteSessionFile writes a file into a session's workspace.
func (m *Manager) WriteSessionFile(ctx context.Context, id, path, content string) (MessageResponse, *types.Error) {
	s, cerr := m.reg.Lookup(id)
	if cerr != nil {
		return MessageResponse{}, cerr
	}
	if cerr := m.files.Write(ctx, s, path, content); cerr != nil {
		return MessageResponse{}, cerr
	}
	return MessageResponse{Message: "file written"}, nil
}

// InstallPackageResponse is install_package's success shape.
type InstallPackageResponse struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// InstallPackage invokes the variant-appropriate package manager inside
// the session's container (pip for one-shot/Python, install.packages
// for persistent/R). Rejected fast when package installation is
// disabled, since the default security profile attaches no network
//. Runs through runtime.Exec directly
// rather than the execution engine, since the payload is a package
// manager invocation, not interpreter code; it still honors the
// session's single-writer execution slot.
func (m *Manager) InstallPackage(ctx context.Context, id, packageName, source string) (InstallPackageResponse, *types.Error) {
	if !m.cfg.AllowPackageInstall {
		return InstallPackageResponse{}, types.NewError(types.ErrInvalidArgument, "package installation is disabled")
	}
	if packageName == "" {
		return InstallPackageResponse{}, types.NewError(types.ErrInvalidArgument, "package_name must not be empty")
	}

	s, cerr := m.reg.Lookup(id)
	if cerr != nil {
		return InstallPackageResponse{}, cerr
	}

	acquired, busy, closed := s.AcquireExecFIFO(ctx)
	if !acquired {
		if busy {
			return InstallPackageResponse{}, types.NewError(types.ErrSessionBusy, "session is busy executing")
		}
		if closed {
			return InstallPackageResponse{}, engine.ClassifyGone(ctx, m.rt, s.ContainerHandle)
		}
		return InstallPackageResponse{}, types.NewTimeoutError("call canceled while queued behind another execute", true)
	}
	defer s.ReleaseExec()

	res, err := m.rt.Exec(ctx, runtime.Handle(s.ContainerHandle), runtime.ExecParams{
		Argv:       installArgv(s.Variant, packageName, source),
		TimeBudget: m.cfg.ExecTimeBudget,
		ByteBudget: m.cfg.ExecByteBudget,
	})
	if err != nil {
		return InstallPackageResponse{}, types.AsError(err)
	}

	s.Touch()
	output := decodeLossy(res.Stdout)
	if len(res.Stderr) > 0 {
		if output != "" {
			output += "\n"
		}
		output += decodeLossy(res.Stderr)
	}
	return InstallPackageResponse{Output: output, ExitCode: res.ExitCode}, nil
}

func installArgv(variant types.Variant, packageName, source string) []string {
	if variant == types.VariantPersistent {
		repos := "getOption(\"repos\")"
		if source != "" {
			repos = fmt.Sprintf("%q", source)
		}
		expr := fmt.Sprintf("install.packages(%q, repos=%s)", packageName, repos)
		return []string{"Rscript", "-e", expr}
	}
	argv := []string{"pip", "install", "--no-input"}
	if source != "" {
		argv = append(argv, "--index-url", source)
	}
	return append(argv, packageName)
}

func decodeLossy(b []byte) string {
	s := string(b)
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

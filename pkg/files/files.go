package files

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuemby/sessiond/pkg/metrics"
	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/rs/zerolog"
)

// Files implements list/read/write against a session's workspace,
// confining every path under SandboxPath first.
type Files struct {
	rt      runtime.Runtime
	logger  zerolog.Logger
	maxSize int64
	timeout time.Duration
}

// New builds a Files operator bound to rt and cfg's size/timeout limits.
func New(rt runtime.Runtime, cfg types.Config, logger zerolog.Logger) *Files {
	return &Files{
		rt:      rt,
		logger:  logger,
		maxSize: cfg.MaxFileBytes,
		timeout: cfg.FileTransferTimeout,
	}
}

// List returns the entries of path (one directory level), confined
// under SandboxPath. Each entry's Path is the client-relative form
//.
func (f *Files) List(ctx context.Context, session *types.Session, path string) ([]types.FileInfo, *types.Error) {
	absPath, relDir, cerr := resolve(path)
	if cerr != nil {
		return nil, cerr
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	timer := metrics.NewTimer()
	res, err := f.rt.Exec(ctx, runtime.Handle(session.ContainerHandle), runtime.ExecParams{
		Argv:       []string{"ls", "-1Ap", absPath},
		TimeBudget: f.timeout,
		ByteBudget: f.maxSize,
	})
	metrics.FileTransferDuration.WithLabelValues("list").Observe(timer.Duration().Seconds())
	if err != nil {
		return nil, types.AsError(err)
	}
	if res.ExitCode != 0 {
		return nil, types.NewErrorf(types.ErrInvalidPath, "list %s: %s", path, decodeLossy(res.Stderr))
	}

	var entries []types.FileInfo
	for _, line := range strings.Split(strings.TrimRight(string(res.Stdout), "\n"), "\n") {
		if line == "" {
			continue
		}
		isDir := strings.HasSuffix(line, "/")
		name := strings.TrimSuffix(line, "/")
		entryRel := name
		if relDir != "" {
			entryRel = filepath.Join(relDir, name)
		}
		entries = append(entries, types.FileInfo{Name: name, IsDir: isDir, Path: entryRel})
	}

	session.Touch()
	return entries, nil
}

// Read extracts the file at path via get_archive, returning its textual
// content or, for non-UTF-8 data, a base64-encoded payload with Base64
// set.
func (f *Files) Read(ctx context.Context, session *types.Session, path string) (types.FileContent, *types.Error) {
	absPath, _, cerr := resolve(path)
	if cerr != nil {
		return types.FileContent{}, cerr
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	timer := metrics.NewTimer()
	archive, err := f.rt.GetArchive(ctx, runtime.Handle(session.ContainerHandle), absPath)
	metrics.FileTransferDuration.WithLabelValues("get").Observe(timer.Duration().Seconds())
	if err != nil {
		return types.FileContent{}, types.AsError(err)
	}

	data, cerr := firstTarEntry(archive)
	if cerr != nil {
		return types.FileContent{}, cerr
	}
	if int64(len(data)) > f.maxSize {
		return types.FileContent{}, types.NewErrorf(types.ErrFileTooLarge, "file exceeds %d bytes", f.maxSize)
	}

	session.Touch()
	if utf8.Valid(data) {
		return types.FileContent{Content: string(data)}, nil
	}
	return types.FileContent{Content: base64.StdEncoding.EncodeToString(data), Base64: true}, nil
}

// Write puts content at path via put_archive, overwriting atomically and
// creating parent directories as needed. Payload size is
// bounded by the same maximum as Read.
func (f *Files) Write(ctx context.Context, session *types.Session, path string, content string) *types.Error {
	_, relPath, cerr := resolve(path)
	if cerr != nil {
		return cerr
	}
	if relPath == "" {
		return types.NewError(types.ErrInvalidPath, "path must name a file")
	}

	data := []byte(content)
	if int64(len(data)) > f.maxSize {
		return types.NewErrorf(types.ErrFileTooLarge, "payload exceeds %d bytes", f.maxSize)
	}

	archive, buildErr := buildTarArchive(relPath, data)
	if buildErr != nil {
		return types.NewErrorf(types.ErrInternal, "build archive: %v", buildErr)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	timer := metrics.NewTimer()
	err := f.rt.PutArchive(ctx, runtime.Handle(session.ContainerHandle), SandboxPath, archive)
	metrics.FileTransferDuration.WithLabelValues("put").Observe(timer.Duration().Seconds())
	if err != nil {
		return types.AsError(err)
	}

	session.Touch()
	return nil
}

func firstTarEntry(raw []byte) ([]byte, *types.Error) {
	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, types.NewError(types.ErrInvalidPath, "file not found")
		}
		if err != nil {
			return nil, types.NewErrorf(types.ErrInternal, "read archive: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, types.NewErrorf(types.ErrInternal, "read archive entry: %v", err)
		}
		return data, nil
	}
}

func buildTarArchive(name string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o640,
		Size:     int64(len(data)),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeLossy(b []byte) string {
	s := string(b)
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// Package runtimetest provides an in-memory Runtime implementation for
// tests, the same role pkg/manager's tests give an in-memory
// storage.Store in place of a real BoltDB file: every package that only
// needs the adapter's contract, not a real containerd daemon, depends on
// Fake instead.
package runtimetest

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/google/uuid"
)

// Container records what a Fake believes about one container; tests can
// reach into Fake.Containers to assert on creation params.
type Container struct {
	Params   runtime.CreateParams
	Running  bool
	HostPort int
	Files    map[string][]byte // containerPath -> raw content, written via PutArchive/GetArchive stand-ins
}

// Fake is a Runtime that keeps all state in memory. ExecFunc, when set,
// lets a test script Exec's behavior per call; the default echoes back
// an empty successful result.
type Fake struct {
	mu         sync.Mutex
	containers map[runtime.Handle]*Container
	nextPort   int

	// ExecFunc overrides Exec's behavior; receivers may inspect argv to
	// simulate one-shot interpreter calls or persistent-evaluator
	// health probes.
	ExecFunc func(handle runtime.Handle, params runtime.ExecParams) (runtime.ExecResult, error)

	// FailCreate, when non-nil, is returned by every Create call.
	FailCreate error

	// FailInspect, when non-nil, is returned by every Inspect call.
	FailInspect error
}

// New returns an empty Fake runtime.
func New() *Fake {
	return &Fake{
		containers: make(map[runtime.Handle]*Container),
		nextPort:   20000,
	}
}

func (f *Fake) Create(_ context.Context, params runtime.CreateParams) (runtime.Handle, error) {
	if f.FailCreate != nil {
		return "", f.FailCreate
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := params.Name
	if name == "" {
		name = uuid.NewString()
	}
	handle := runtime.Handle(name)
	if _, exists := f.containers[handle]; exists {
		return "", types.NewErrorf(types.ErrInternal, "container name collision: %s", name)
	}
	f.containers[handle] = &Container{Params: params, Files: make(map[string][]byte)}
	return handle, nil
}

func (f *Fake) Start(_ context.Context, handle runtime.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[handle]
	if !ok {
		return types.NewError(types.ErrRuntimeUnavailable, "container not found")
	}
	c.Running = true
	if c.Params.PersistentPort > 0 {
		c.HostPort = f.nextPort
		f.nextPort++
	}
	return nil
}

func (f *Fake) Stop(_ context.Context, handle runtime.Handle, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[handle]; ok {
		c.Running = false
	}
	return nil
}

func (f *Fake) Remove(_ context.Context, handle runtime.Handle, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, handle)
	return nil
}

func (f *Fake) Inspect(_ context.Context, handle runtime.Handle) (runtime.InspectResult, error) {
	if f.FailInspect != nil {
		return runtime.InspectResult{}, f.FailInspect
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[handle]
	if !ok {
		return runtime.InspectResult{}, nil
	}
	return runtime.InspectResult{Running: c.Running, HostPort: c.HostPort}, nil
}

func (f *Fake) Exec(_ context.Context, handle runtime.Handle, params runtime.ExecParams) (runtime.ExecResult, error) {
	if f.ExecFunc != nil {
		return f.ExecFunc(handle, params)
	}
	return runtime.ExecResult{ExitCode: 0}, nil
}

// PutArchive extracts the tar stream data into containerPath, mirroring
// ContainerdRuntime's `tar -x -C containerPath` so pkg/files's tests
// exercise the same archive semantics a real container would apply.
func (f *Fake) PutArchive(_ context.Context, handle runtime.Handle, containerPath string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[handle]
	if !ok {
		return types.NewError(types.ErrRuntimeUnavailable, "container not found")
	}

	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.NewErrorf(types.ErrInternal, "fake tar extract: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return types.NewErrorf(types.ErrInternal, "fake tar extract: %v", err)
		}
		c.Files[path.Join(containerPath, hdr.Name)] = content
	}
	return nil
}

// GetArchive tars up the single file at containerPath, mirroring
// ContainerdRuntime's `tar -c -C dir base`.
func (f *Fake) GetArchive(_ context.Context, handle runtime.Handle, containerPath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[handle]
	if !ok {
		return nil, types.NewError(types.ErrRuntimeUnavailable, "container not found")
	}
	data, ok := c.Files[containerPath]
	if !ok {
		return nil, types.NewErrorf(types.ErrInvalidPath, "no such file: %s", containerPath)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: path.Base(containerPath), Mode: 0o640, Size: int64(len(data)), Typeflag: tar.TypeReg}
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

// IsRunning reports whether handle is tracked and marked running,
// a convenience for assertions in registry/reaper tests.
func (f *Fake) IsRunning(handle runtime.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[handle]
	return ok && c.Running
}

var _ runtime.Runtime = (*Fake)(nil)

func (f *Fake) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("runtimetest.Fake{containers=%d}", len(f.containers))
}

package files

import (
	"context"
	"strings"
	"testing"

	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/runtime/runtimetest"
	"github.com/cuemby/sessiond/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestFiles(t *testing.T, maxBytes int64) (*Files, *runtimetest.Fake, *types.Session) {
	t.Helper()
	fake := runtimetest.New()
	handle, err := fake.Create(context.Background(), runtime.CreateParams{Name: "sess-1"})
	require.NoError(t, err)
	require.NoError(t, fake.Start(context.Background(), handle))

	session := types.NewSession("sess-1", types.VariantOneShot)
	session.ContainerHandle = string(handle)

	cfg := types.Defaults()
	cfg.MaxFileBytes = maxBytes
	return New(fake, cfg, zerolog.Nop()), fake, session
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	f, _, session := newTestFiles(t, 1<<20)
	ctx := context.Background()

	cerr := f.Write(ctx, session, "greeting.txt", "hello world")
	require.Nil(t, cerr)

	content, cerr := f.Read(ctx, session, "greeting.txt")
	require.Nil(t, cerr)
	require.False(t, content.Base64)
	require.Equal(t, "hello world", content.Content)
}

func TestWriteThenReadNestedPath(t *testing.T) {
	f, _, session := newTestFiles(t, 1<<20)
	ctx := context.Background()

	cerr := f.Write(ctx, session, "sub/dir/data.txt", "nested")
	require.Nil(t, cerr)

	content, cerr := f.Read(ctx, session, "sub/dir/data.txt")
	require.Nil(t, cerr)
	require.Equal(t, "nested", content.Content)
}

func TestReadMissingFile(t *testing.T) {
	f, _, session := newTestFiles(t, 1<<20)
	_, cerr := f.Read(context.Background(), session, "missing.txt")
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrInvalidPath, cerr.Code)
}

func TestReadRejectsEscape(t *testing.T) {
	f, _, session := newTestFiles(t, 1<<20)
	_, cerr := f.Read(context.Background(), session, "../../etc/passwd")
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrInvalidPath, cerr.Code)
}

func TestWriteRejectsEscape(t *testing.T) {
	f, _, session := newTestFiles(t, 1<<20)
	cerr := f.Write(context.Background(), session, "/etc/passwd", "pwned")
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrInvalidPath, cerr.Code)
}

func TestWriteRejectsSandboxRootItself(t *testing.T) {
	f, _, session := newTestFiles(t, 1<<20)
	cerr := f.Write(context.Background(), session, "", "data")
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrInvalidPath, cerr.Code)
}

func TestWriteAtExactCapSucceeds(t *testing.T) {
	f, _, session := newTestFiles(t, 10)
	cerr := f.Write(context.Background(), session, "exact.txt", strings.Repeat("a", 10))
	require.Nil(t, cerr)
}

func TestWriteOverCapFails(t *testing.T) {
	f, _, session := newTestFiles(t, 10)
	cerr := f.Write(context.Background(), session, "over.txt", strings.Repeat("a", 11))
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrFileTooLarge, cerr.Code)
}

func TestReadBinaryContentIsBase64(t *testing.T) {
	f, _, session := newTestFiles(t, 1<<20)
	ctx := context.Background()

	binary := string([]byte{0xff, 0xfe, 0x00, 0x01, 0x02})
	require.Nil(t, f.Write(ctx, session, "blob.bin", binary))

	content, cerr := f.Read(ctx, session, "blob.bin")
	require.Nil(t, cerr)
	require.True(t, content.Base64)
	require.NotEqual(t, binary, content.Content)
}

func TestListReturnsEntriesWithRelativePaths(t *testing.T) {
	f, fake, session := newTestFiles(t, 1<<20)
	handle := runtime.Handle(session.ContainerHandle)

	fake.ExecFunc = func(h runtime.Handle, params runtime.ExecParams) (runtime.ExecResult, error) {
		if h != handle {
			return runtime.ExecResult{}, nil
		}
		return runtime.ExecResult{ExitCode: 0, Stdout: []byte("a.txt\nsub/\n")}, nil
	}

	entries, cerr := f.List(context.Background(), session, "")
	require.Nil(t, cerr)
	require.Len(t, entries, 2)
	require.Equal(t, "a.txt", entries[0].Name)
	require.False(t, entries[0].IsDir)
	require.Equal(t, "a.txt", entries[0].Path)
	require.Equal(t, "sub", entries[1].Name)
	require.True(t, entries[1].IsDir)
}

func TestListOfSubdirectoryPrefixesRelativePath(t *testing.T) {
	f, fake, session := newTestFiles(t, 1<<20)
	fake.ExecFunc = func(h runtime.Handle, params runtime.ExecParams) (runtime.ExecResult, error) {
		return runtime.ExecResult{ExitCode: 0, Stdout: []byte("leaf.txt\n")}, nil
	}

	entries, cerr := f.List(context.Background(), session, "sub/dir")
	require.Nil(t, cerr)
	require.Len(t, entries, 1)
	require.Equal(t, "sub/dir/leaf.txt", entries[0].Path)
}

func TestListRejectsEscape(t *testing.T) {
	f, _, session := newTestFiles(t, 1<<20)
	_, cerr := f.List(context.Background(), session, "../outside")
	require.NotNil(t, cerr)
	require.Equal(t, types.ErrInvalidPath, cerr.Code)
}

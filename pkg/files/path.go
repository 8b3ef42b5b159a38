package files

import (
	"path/filepath"
	"strings"

	"github.com/cuemby/sessiond/pkg/types"
)

// SandboxPath is the fixed writable workspace mount inside every
// session's container.
const SandboxPath = "/sandbox"

// resolve confines input under SandboxPath: a relative
// input is joined under SandboxPath; an absolute input must be lexically
// under SandboxPath after normalization. Any residual escape (via a
// leading ".." or an absolute path outside the sandbox) yields
// invalid_path. It returns both the absolute in-container path and its
// client-relative form (without the /sandbox prefix, used in list()
// entries).
func resolve(input string) (absolute, relative string, cerr *types.Error) {
	if input == "" || input == "." {
		return SandboxPath, "", nil
	}

	var candidate string
	if filepath.IsAbs(input) {
		candidate = filepath.Clean(input)
	} else {
		candidate = filepath.Clean(filepath.Join(SandboxPath, input))
	}

	if candidate != SandboxPath && !strings.HasPrefix(candidate, SandboxPath+"/") {
		return "", "", types.NewErrorf(types.ErrInvalidPath, "path escapes sandbox: %s", input)
	}

	rel, err := filepath.Rel(SandboxPath, candidate)
	if err != nil || rel == "." {
		rel = ""
	}
	return candidate, rel, nil
}

package engine

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuemby/sessiond/pkg/types"
)

// resolveBudgets applies a call's optional limits over the engine's
// configured defaults.
func resolveBudgets(limits types.Limits, defaultTime time.Duration, defaultBytes int64) (time.Duration, int64) {
	timeBudget := defaultTime
	if limits.MaxDurationSeconds > 0 {
		timeBudget = time.Duration(limits.MaxDurationSeconds) * time.Second
	}
	byteBudget := defaultBytes
	if limits.MaxOutputBytes > 0 {
		byteBudget = int64(limits.MaxOutputBytes)
	}
	return timeBudget, byteBudget
}

// decodeLossy decodes captured output as UTF-8, substituting the
// replacement character for invalid sequences rather than failing.
func decodeLossy(b []byte) string {
	s := string(b)
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Call dials path, sends one {operation, args} request line, and
// returns the single enveloped response line. Used by cmd/sessiond's
// session subcommands to drive a running daemon without linking
// against pkg/session directly.
func Call(path, operation string, args any) (json.RawMessage, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socket: dial %s: %w", path, err)
	}
	defer conn.Close()

	argsRaw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("socket: marshal args: %w", err)
	}

	req := request{Operation: operation, Args: argsRaw}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("socket: marshal request: %w", err)
	}

	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("socket: write request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("socket: read response: %w", err)
		}
		return nil, fmt.Errorf("socket: connection closed before a response was received")
	}

	out := make([]byte, len(scanner.Bytes()))
	copy(out, scanner.Bytes())
	return out, nil
}

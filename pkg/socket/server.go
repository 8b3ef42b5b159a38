package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"

	"github.com/cuemby/sessiond/pkg/dispatch"
	"github.com/rs/zerolog"
)

// request is one line of the wire framing this package speaks.
type request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
}

// Server accepts connections on a Unix-domain socket and dispatches one
// request per line through table, writing the enveloped response back
// on its own line.
type Server struct {
	table    dispatch.Table
	listener net.Listener
	logger   zerolog.Logger
}

// Listen binds path, removing any stale socket file left behind by a
// previous, uncleanly terminated run.
func Listen(path string, table dispatch.Table, logger zerolog.Logger) (*Server, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Server{table: table, listener: ln, logger: logger}, nil
}

// Addr returns the bound socket path.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is canceled or the listener is
// closed, handling each connection on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		var out json.RawMessage
		if err := json.Unmarshal(line, &req); err != nil {
			out = json.RawMessage(`{"success":false,"error":{"code":"invalid_argument","message":"malformed request line","retryable":false}}`)
		} else {
			out = s.table.Dispatch(ctx, req.Operation, req.Args)
		}

		if _, err := conn.Write(append(out, '\n')); err != nil {
			s.logger.Warn().Err(err).Msg("failed to write socket response")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug().Err(err).Msg("socket connection read error")
	}
}

// Package socket serves pkg/dispatch.Table over a local Unix-domain
// socket using a line-delimited JSON framing: each request line is
// {"operation": "...", "args": {...}}, and the response line is the
// dispatch table's own envelope. This is the transport
// cmd/sessiond's session subcommands use to drive a running daemon,
// matching the line-delimited framing pkg/engine.Persistent already
// uses to talk to the R evaluator over TCP.
package socket

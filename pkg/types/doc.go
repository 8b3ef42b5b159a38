// Package types defines the data model shared across sessiond: the
// Session record and its lifecycle helpers (session.go), the daemon's
// Config and its defaults (config.go), and the Error/ErrorCode taxonomy
// every operation translates runtime and validation failures into
// before they reach the response envelope (errors.go).
package types

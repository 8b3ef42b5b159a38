// Package log provides sessiond's structured logging over zerolog: a
// global Logger initialized once by Init from cmd/sessiond's persistent
// --log-level/--log-json flags, and WithComponent to derive a
// component-scoped child logger (used by pkg/session, pkg/reaper, and
// cmd/sessiond itself, whose "sessiond" logger is passed to the runtime,
// registry, engines and files) rather than passing component name
// strings through every call.
package log

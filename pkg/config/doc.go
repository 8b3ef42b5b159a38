/*
Package config loads sessiond's immutable configuration record from the
process environment.

A single Load() call reads the named environment variables and returns
a types.Config, applying types.Defaults() for anything unset.

No hierarchical sources, no file-based overlays, no hot reload: the
record is read once in cmd/sessiond's serve subcommand and passed down
by value to every component that needs it.
*/
package config

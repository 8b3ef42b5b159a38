// Package session implements the eight Session Manager operations of
// spec.md §6 as a single Manager bound to a registry, an execution
// engine router, and a file-transfer operator. Every method returns a
// typed response plus a *types.Error; nothing escapes as a panic or a
// bare Go error across this boundary. pkg/dispatch adapts Manager's
// methods to an operation-name table for a future wire frontend.
package session

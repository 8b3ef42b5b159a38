// Package engine implements the two execute_in_session policies:
// OneShot invokes the interpreter as a fresh process per call (the
// Python variant); Persistent dials the long-running in-container
// evaluator over TCP and exchanges one request/response per call (the R
// variant), keeping session-local state in the evaluator process itself.
// Router selects between them by types.Session.Variant so pkg/session
// depends on a single Engine interface. ClassifyGone is shared by both
// engines, and by pkg/session's InstallPackage, to tell a crashed
// container apart from one still mid-teardown when a queued execute
// unblocks because the session started closing.
package engine

// Package files implements path confinement and the list/read/write
// operations of spec.md §4.4: every caller-supplied path is resolved and
// confined under the fixed in-container workspace /sandbox before it ever
// reaches the runtime adapter. resolve is pure and fully unit-testable
// without a runtime; List/Read/Write build on it plus runtime.Runtime's
// Exec and archive primitives.
package files

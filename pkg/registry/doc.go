// Package registry owns the in-memory id -> session map:
// allocate, lookup, touch, close, and list, all atomic with respect to one
// another under a single mutex. Allocate follows an optimistic
// reserve-then-create approach so the capacity check never serializes
// behind a running container create.
package registry

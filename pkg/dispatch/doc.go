// Package dispatch adapts pkg/session.Manager's typed methods to a
// single operation-name table, each entry taking and returning
// json.RawMessage and wrapping the result in a success/error envelope.
// A wire frontend only needs an operation name plus its JSON arguments
// to drive the whole Session Manager through this table.
package dispatch

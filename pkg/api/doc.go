// Package api provides the HTTP surface around sessiond: a liveness
// probe, a readiness probe backed by pkg/registry, and the Prometheus
// scrape endpoint. The operation surface itself (create_session,
// execute_in_session, and the rest) is served through pkg/dispatch's
// table, not through this package; HealthServer only carries the
// endpoints an orchestrator needs to supervise the process.
package api

// Package metrics defines and registers sessiond's Prometheus metrics:
// session counts, execution counts and latency by variant, file-transfer
// latency, and container create timing. pkg/api.HealthServer mounts
// Handler() at /metrics; Timer is used by pkg/registry and pkg/files
// to time the operations these metrics track.
package metrics

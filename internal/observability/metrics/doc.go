// Package metrics registers the agent's Prometheus collectors on a private
// registry and serves them from /metrics.
package metrics

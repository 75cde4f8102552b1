// Package metrics defines Prometheus metrics for tekton-step, covering the
// client cache, resource submissions, observed run outcomes and status reporting.
package metrics

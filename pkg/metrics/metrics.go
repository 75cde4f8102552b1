package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Client cache metrics
	ClusterCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tekton_step_cluster_cache_hits_total",
		Help: "Total number of client cache hits",
	}, []string{"cluster"})
	ClusterCacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tekton_step_cluster_cache_misses_total",
		Help: "Total number of client cache misses",
	}, []string{"cluster"})
	// Evictions keyed by reason (expired, stale, removed, invalidated)
	ClusterCacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tekton_step_cluster_cache_evictions_total",
		Help: "Total number of client cache evictions grouped by reason",
	}, []string{"reason"})
	ClusterClientErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tekton_step_cluster_client_errors_total",
		Help: "Total number of failed client constructions",
	}, []string{"cluster"})

	// Submission metrics
	ResourcesSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tekton_step_resources_submitted_total",
		Help: "Total number of resources created on a cluster",
	}, []string{"kind"})
	ResourceSubmissionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tekton_step_resource_submission_errors_total",
		Help: "Total number of failed resource submissions",
	}, []string{"kind"})

	// Run outcome metrics; outcome is succeeded, failed or error
	RunsObserved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tekton_step_runs_observed_total",
		Help: "Total number of observed runs grouped by outcome",
	}, []string{"kind", "outcome"})
	RunObservationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tekton_step_run_observation_seconds",
		Help:    "Time spent observing a run until it reached a terminal condition",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"kind"})

	// Catalog expansion outcome: succeeded, failed or error
	CatalogExpansions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tekton_step_catalog_expansions_total",
		Help: "Total number of catalog expansion runs grouped by outcome",
	}, []string{"outcome"})

	// Status reporting
	ReportFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tekton_step_report_failures_total",
		Help: "Total number of status report calls that failed",
	}, []string{"reporter", "phase"})
)

func init() {
	prometheus.MustRegister(ClusterCacheHits)
	prometheus.MustRegister(ClusterCacheMisses)
	prometheus.MustRegister(ClusterCacheEvictions)
	prometheus.MustRegister(ClusterClientErrors)
	prometheus.MustRegister(ResourcesSubmitted)
	prometheus.MustRegister(ResourceSubmissionErrors)
	prometheus.MustRegister(RunsObserved)
	prometheus.MustRegister(RunObservationSeconds)
	prometheus.MustRegister(CatalogExpansions)
	prometheus.MustRegister(ReportFailures)
}

// WriteTextfile dumps the default registry in the text exposition format so a
// node-exporter textfile collector can pick it up after the step finished.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

package monitoring

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// KubernetesLabels holds Kubernetes metadata labels
var (
	kubernetesNamespace = os.Getenv("KUBERNETES_NAMESPACE")
	kubernetesPodName   = os.Getenv("KUBERNETES_POD_NAME")
	helmReleaseName     = os.Getenv("HELM_RELEASE_NAME")
	helmChartVersion    = os.Getenv("HELM_CHART_VERSION")
)

// getKubernetesLabels returns the Kubernetes labels for metrics
func getKubernetesLabels() prometheus.Labels {
	labels := prometheus.Labels{}

	if kubernetesNamespace != "" {
		labels["kubernetes_namespace"] = kubernetesNamespace
	}
	if kubernetesPodName != "" {
		labels["kubernetes_pod_name"] = kubernetesPodName
	}
	if helmReleaseName != "" {
		labels["helm_release"] = helmReleaseName
	}
	if helmChartVersion != "" {
		labels["helm_chart_version"] = helmChartVersion
	}

	return labels
}

// Registry with Kubernetes labels
var (
	registry = newRegistry()
	factory  = promauto.With(prometheus.WrapRegistererWith(getKubernetesLabels(), registry))
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Registry returns the registry all proxy metrics are registered with
func Registry() *prometheus.Registry {
	return registry
}

// Body acquisition outcomes
const (
	OutcomeDeclined  = "declined"
	OutcomeImmediate = "immediate"
	OutcomeSuspended = "suspended"
	OutcomeError     = "error"
)

// Prometheus metrics for the JSON POST proxy
var (
	// HTTP Request metrics
	RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jpp_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jpp_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ActiveConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "jpp_active_connections",
			Help: "Number of active connections",
		},
	)

	// Body acquisition metrics
	BodyAcquisitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jpp_body_acquisitions_total",
			Help: "Rewrite phase decisions of the body acquisition coordinator",
		},
		[]string{"outcome"},
	)

	BodyResumesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "jpp_body_resumes_total",
			Help: "Number of phase runs resumed after a request body completed",
		},
	)

	BodyBytes = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jpp_request_body_bytes",
			Help:    "Size of completely received request bodies",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		},
	)

	// Decode metrics
	JSONDecodesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jpp_json_decodes_total",
			Help: "Total number of JSON body decodes",
		},
		[]string{"status"},
	)

	JSONVariables = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jpp_json_variables",
			Help:    "Number of variables bound from one JSON body",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// Access metrics
	AuthFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jpp_auth_failures_total",
			Help: "Requests rejected in the access phase",
		},
		[]string{"type", "reason"},
	)

	// Content handler metrics
	ContentOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jpp_content_operations_total",
			Help: "Total number of content handler operations",
		},
		[]string{"handler", "status"},
	)

	ContentOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jpp_content_operation_duration_seconds",
			Help:    "Content handler operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	// Server metrics
	ServerInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jpp_server_info",
			Help: "Server build information",
		},
		[]string{"version", "commit", "build_time"},
	)

	LocationsInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jpp_locations_info",
			Help: "Configured locations (1 = json_decode enabled)",
		},
		[]string{"path", "content"},
	)
)

// SetServerInfo sets server build information
func SetServerInfo(version, commit, buildTime string) {
	ServerInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// SetLocationInfo publishes one configured location
func SetLocationInfo(path, content string, jsonDecode bool) {
	value := float64(0)
	if jsonDecode {
		value = 1
	}
	LocationsInfo.WithLabelValues(path, content).Set(value)
}

// RecordBodyAcquisition records one coordinator decision
func RecordBodyAcquisition(outcome string) {
	BodyAcquisitionsTotal.WithLabelValues(outcome).Inc()
}

// RecordBodyResume records a resumed phase run
func RecordBodyResume() {
	BodyResumesTotal.Inc()
}

// RecordBodyBytes records the size of a completed body
func RecordBodyBytes(n int) {
	BodyBytes.Observe(float64(n))
}

// RecordJSONDecode records the outcome of one decode
func RecordJSONDecode(err error, variables int) {
	if err != nil {
		JSONDecodesTotal.WithLabelValues("error").Inc()
		return
	}
	JSONDecodesTotal.WithLabelValues("ok").Inc()
	JSONVariables.Observe(float64(variables))
}

// RecordAuthFailure records a request rejected by an access handler
func RecordAuthFailure(authType, reason string) {
	AuthFailuresTotal.WithLabelValues(authType, reason).Inc()
}

// RecordContentOperation records metrics for content handler operations
func RecordContentOperation(handler, status string, duration time.Duration) {
	ContentOperationsTotal.WithLabelValues(handler, status).Inc()
	ContentOperationDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

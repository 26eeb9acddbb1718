package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// HTTP endpoints
	EndpointTile          = "tile"
	EndpointRender        = "render"
	EndpointUpload        = "upload"
	EndpointWebhook       = "webhook_callback"
	EndpointOAuthStart    = "oauth_start"
	EndpointOAuthCallback = "oauth_callback"
	EndpointActivityCount = "activity_count"
	EndpointProperties    = "properties"
	EndpointHealth        = "health"

	// Render kinds
	RenderKindTile   = "tile"
	RenderKindBounds = "bounds"

	// Ingest results
	ResultImported = "imported"
	ResultSkipped  = "skipped"
	ResultFailed   = "failed"

	// Webhook processing results
	ResultSuccess = "success"
	ResultFailure = "failure"

	// Strava API operations
	OpExchangeCode = "exchange_code"
	OpRefreshToken = "refresh_token"
	OpGetActivity  = "get_activity"

	// Rate limit types
	RateLimit15Min = "15min"
	RateLimitDaily = "daily"

	// Rate limit buckets
	BucketLimit = "limit"
	BucketUsage = "usage"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Render Metrics
var (
	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "render_duration_seconds",
			Help:    "Heatmap render latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)

	RenderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_errors_total",
			Help: "Total number of failed renders",
		},
		[]string{"kind"},
	)
)

// Ingest Metrics
var (
	IngestActivitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_activities_total",
			Help: "Total number of activities processed by ingest",
		},
		[]string{"result"},
	)
)

// Queue and Worker Metrics
var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth",
			Help: "Number of webhook events awaiting processing",
		},
	)

	QueueEnqueueTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_queue_enqueue_total",
			Help: "Total number of webhook events enqueued",
		},
	)

	WebhookProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "Time spent processing webhook events",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"result"},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether the webhook worker is currently active (1) or not (0)",
		},
	)
)

// Strava API Metrics
var (
	StravaAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strava_api_requests_total",
			Help: "Total number of Strava API requests",
		},
		[]string{"operation", "status_code"},
	)

	StravaAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strava_api_request_duration_seconds",
			Help:    "Strava API request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status_code"},
	)

	StravaRateLimitUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strava_rate_limit_usage",
			Help: "Strava API rate limit usage",
		},
		[]string{"limit_type", "bucket"},
	)
)

// Store Metrics
var (
	ActivityCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "activity_count",
			Help: "Number of stored activities",
		},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whisper_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whisper_users_registered_total",
			Help: "Total users registered",
		},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_logins_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"}, // "success" or "failure"
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whisper_messages_sent_total",
			Help: "Total messages persisted and delivered",
		},
	)

	MessageSendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_message_send_failures_total",
			Help: "Rejected or failed message sends",
		},
		[]string{"reason"}, // "validation" or "persistence"
	)

	TypingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_typing_events_total",
			Help: "Typing indicator events forwarded",
		},
		[]string{"kind"}, // "start" or "stop"
	)

	// Socket metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whisper_socket_connections",
			Help: "Live socket connections",
		},
	)

	SocketAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whisper_socket_auth_failures_total",
			Help: "Socket connection attempts rejected for missing or invalid sessions",
		},
	)

	DroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whisper_socket_dropped_frames_total",
			Help: "Outbound frames dropped because a connection queue was full or closed",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	MongoLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whisper_mongo_latency_seconds",
			Help:    "MongoDB operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)

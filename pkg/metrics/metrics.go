package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mathstarz_api_requests_total",
		Help: "The total number of API requests by route, method and status code",
	}, []string{"route", "method", "status"})
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mathstarz_api_request_duration_seconds",
		Help:    "Latency of API requests by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// Game Metrics
	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mathstarz_registrations_total",
		Help: "Registration attempts by outcome",
	}, []string{"outcome"})
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mathstarz_logins_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})
	PasswordUpgradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathstarz_password_upgrades_total",
		Help: "Legacy plaintext passwords re-hashed after a successful login",
	})
	ScoreUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathstarz_score_updates_total",
		Help: "The total number of applied score deltas",
	})
	PuzzleUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathstarz_puzzle_updates_total",
		Help: "The total number of puzzle progress upserts",
	})

	// Exporter Metrics
	ExporterEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathstarz_exporter_events_total",
		Help: "The total number of user change events captured from MongoDB",
	})
	ExporterPublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathstarz_exporter_publish_errors_total",
		Help: "The total number of errors while publishing user changes to Kafka",
	})
	ExporterTokenSavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathstarz_exporter_token_saves_total",
		Help: "The total number of resume token saves",
	})

	// Syncer Metrics
	SyncerMessagesConsumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathstarz_syncer_messages_consumed_total",
		Help: "The total number of user change messages consumed from Kafka",
	})
	SyncerBatchWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathstarz_syncer_batch_writes_total",
		Help: "The total number of batch writes to the reporting table",
	})
	SyncerWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathstarz_syncer_write_errors_total",
		Help: "The total number of errors during reporting table writes",
	})
	SyncerUpsertLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mathstarz_syncer_upsert_latency_seconds",
		Help:    "Latency of reporting table UPSERT batches",
		Buckets: prometheus.DefBuckets,
	})
)

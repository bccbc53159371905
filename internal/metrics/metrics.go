package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Frame metrics
	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formcoach_frames_total",
			Help: "Frames seen by the evaluator, by outcome",
		},
		[]string{"outcome"},
	)

	FrameDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formcoach_frame_duration_seconds",
			Help:    "Time spent evaluating one frame",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"source"},
	)

	// Rep metrics
	RepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formcoach_reps_total",
			Help: "Completed reps, by quality",
		},
		[]string{"mode", "quality"},
	)

	// Session metrics
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "formcoach_active_sessions",
			Help: "Number of live evaluator sessions",
		},
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formcoach_sessions_total",
			Help: "Sessions created, by source",
		},
		[]string{"source"},
	)

	Disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formcoach_stream_disconnects_total",
			Help: "Streaming disconnects, by reason",
		},
		[]string{"reason"},
	)

	// Batch metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formcoach_jobs_total",
			Help: "Batch jobs, by final status",
		},
		[]string{"status"},
	)

	JobQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "formcoach_job_queue_depth",
			Help: "Batch jobs waiting for a worker",
		},
	)
)

func init() {
	prometheus.MustRegister(
		FramesTotal,
		FrameDuration,
		RepsTotal,
		ActiveSessions,
		SessionsTotal,
		Disconnects,
		JobsTotal,
		JobQueueDepth,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

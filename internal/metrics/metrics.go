package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// API metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studytrack_api_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studytrack_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Interval lifecycle metrics
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studytrack_transitions_total",
			Help: "Interval operations by outcome",
		},
		[]string{"op", "result"},
	)

	IntervalsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studytrack_intervals_finalized_total",
			Help: "Intervals that reached a terminal status",
		},
		[]string{"status", "type"},
	)

	IntervalsAbandoned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studytrack_intervals_abandoned_total",
			Help: "Intervals abandoned by the system",
		},
		[]string{"reason"},
	)

	SecondsTracked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studytrack_tracked_seconds_total",
			Help: "Active seconds of finalized intervals",
		},
		[]string{"type"},
	)

	LiveIntervals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studytrack_live_intervals",
			Help: "Intervals RUNNING or PAUSED at the last sweep",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studytrack_sweep_duration_seconds",
			Help:    "Duration of liveness sweeps",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Rollup metrics
	RollupsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studytrack_rollups_applied_total",
			Help: "Finalized intervals added to stats buckets",
		},
	)

	RollupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studytrack_rollup_failures_total",
			Help: "Rollups that exhausted their retries",
		},
	)

	RollupPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studytrack_rollup_pending",
			Help: "Finalized intervals awaiting rollup at the last pass",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		TransitionsTotal,
		IntervalsFinalized,
		IntervalsAbandoned,
		SecondsTracked,
		LiveIntervals,
		SweepDuration,
		RollupsApplied,
		RollupFailures,
		RollupPending,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}

package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Lock metrics
	LockTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_lock_transitions_total",
			Help: "Total lock state transitions",
		},
		[]string{"from", "to", "reason"},
	)

	LockState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lockbox_lock_state",
			Help: "Current lock state (1 for the active state)",
		},
		[]string{"state"},
	)

	// Challenge metrics
	ChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_challenges_total",
			Help: "Unlock challenges by outcome",
		},
		[]string{"outcome"},
	)

	JudgeVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_judge_verdicts_total",
			Help: "Sentence evaluator verdicts",
		},
		[]string{"judge", "verdict"},
	)

	JudgeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lockbox_judge_duration_seconds",
			Help:    "Sentence evaluator latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"judge"},
	)

	WordRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockbox_word_refreshes_total",
			Help: "Total challenge word refreshes",
		},
	)

	// Usage metrics
	UsageSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockbox_usage_seconds_total",
			Help: "Total counted device usage in seconds",
		},
	)

	UsageTodaySeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockbox_usage_today_seconds",
			Help: "Usage counted so far in the current period",
		},
	)

	// Enforcement metrics
	EnforcementErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_enforcement_errors_total",
			Help: "Enforcement agent failures",
		},
		[]string{"action"},
	)

	// Storage metrics
	PersistenceDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockbox_persistence_degraded",
			Help: "1 when the storage backend failed and state is held in memory",
		},
	)

	// Streak metrics
	StreakDays = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockbox_streak_days",
			Help: "Consecutive goal-achieving days",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		LockTransitionsTotal,
		LockState,
		ChallengesTotal,
		JudgeVerdictsTotal,
		JudgeDuration,
		WordRefreshesTotal,
		UsageSecondsTotal,
		UsageTodaySeconds,
		EnforcementErrorsTotal,
		PersistenceDegraded,
		StreakDays,
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
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
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

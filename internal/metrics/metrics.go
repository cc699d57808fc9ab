package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tracking metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "focusgate_sessions_started_total",
			Help: "Total tracking sessions started",
		},
	)

	ActiveSession = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "focusgate_active_session",
			Help: "Whether a tracking session is currently active (0 or 1)",
		},
	)

	SiteOpens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusgate_site_opens_total",
			Help: "Total site opens recorded",
		},
		[]string{"site"},
	)

	UsageSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusgate_usage_seconds_total",
			Help: "Total tracked time recorded per site",
		},
		[]string{"site"},
	)

	// Enforcement metrics
	LimitEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusgate_limit_evaluations_total",
			Help: "Total limit evaluations by outcome",
		},
		[]string{"outcome"},
	)

	BlockedNavigations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusgate_blocked_navigations_total",
			Help: "Total navigations redirected to the blocking page",
		},
		[]string{"site", "limit_type"},
	)

	Reevaluations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "focusgate_reevaluations_total",
			Help: "Total cross-tab re-evaluation sweeps",
		},
	)

	OverrideDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusgate_override_decisions_total",
			Help: "Total override policy decisions by result",
		},
		[]string{"result"},
	)

	// Extension metrics
	ExtensionsGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusgate_extensions_granted_total",
			Help: "Total limit extensions granted",
		},
		[]string{"site"},
	)

	// Reset metrics
	DailyResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "focusgate_daily_resets_total",
			Help: "Total daily reset runs",
		},
	)

	// API metrics
	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusgate_events_received_total",
			Help: "Total browser events received by kind",
		},
		[]string{"kind"},
	)

	CommandsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusgate_commands_queued_total",
			Help: "Total tab commands queued for the browser client",
		},
		[]string{"kind"},
	)

	// Storage metrics
	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusgate_storage_errors_total",
			Help: "Total storage operation failures",
		},
		[]string{"operation"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsStarted,
		ActiveSession,
		SiteOpens,
		UsageSeconds,
		LimitEvaluations,
		BlockedNavigations,
		Reevaluations,
		OverrideDecisions,
		ExtensionsGranted,
		DailyResets,
		EventsReceived,
		CommandsQueued,
		StorageErrors,
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

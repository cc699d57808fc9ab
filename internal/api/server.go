package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mtappler/focusgate/internal/config"
	"github.com/mtappler/focusgate/internal/enforce"
	"github.com/mtappler/focusgate/internal/events"
	"github.com/mtappler/focusgate/internal/extensions"
	"github.com/mtappler/focusgate/internal/host"
	"github.com/mtappler/focusgate/internal/session"
	"github.com/mtappler/focusgate/internal/settings"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

// Server is the loopback HTTP API the browser client talks to: it
// posts host events and tab snapshots, drains queued commands, and
// manages sites, groups, extensions, and preferences.
type Server struct {
	cfg        config.APIConfig
	router     *mux.Router
	server     *http.Server
	listener   net.Listener // Optional pre-created listener (for systemd socket activation)
	dispatcher *host.Dispatcher
	settings   *settings.Service
	extensions *extensions.Service
	queue      *CommandQueue
	bus        *events.Bus
	tracker    *session.Tracker
	orch       *enforce.Orchestrator
	store      storage.Store
	logger     zerolog.Logger
}

// NewServer creates the API server.
func NewServer(cfg config.APIConfig, dispatcher *host.Dispatcher, settingsSvc *settings.Service, extensionsSvc *extensions.Service, queue *CommandQueue, bus *events.Bus, tracker *session.Tracker, orch *enforce.Orchestrator, store storage.Store, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		cfg:        cfg,
		router:     router,
		dispatcher: dispatcher,
		settings:   settingsSvc,
		extensions: extensionsSvc,
		queue:      queue,
		bus:        bus,
		tracker:    tracker,
		orch:       orch,
		store:      store,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	// Client plumbing
	s.router.HandleFunc("/v1/events", s.handleEvent).Methods("POST")
	s.router.HandleFunc("/v1/tabs", s.handleTabs).Methods("POST")
	s.router.HandleFunc("/v1/commands", s.handleCommands).Methods("GET")
	s.router.HandleFunc("/v1/broadcasts", s.handleBroadcasts).Methods("GET")

	// Configuration
	s.router.HandleFunc("/v1/sites", s.handleListSites).Methods("GET")
	s.router.HandleFunc("/v1/sites", s.handleAddSite).Methods("POST")
	s.router.HandleFunc("/v1/sites/{id}", s.handleGetSite).Methods("GET")
	s.router.HandleFunc("/v1/sites/{id}", s.handleUpdateSite).Methods("PUT")
	s.router.HandleFunc("/v1/sites/{id}", s.handleDeleteSite).Methods("DELETE")
	s.router.HandleFunc("/v1/groups", s.handleListGroups).Methods("GET")
	s.router.HandleFunc("/v1/groups", s.handleAddGroup).Methods("POST")
	s.router.HandleFunc("/v1/groups/{id}", s.handleGetGroup).Methods("GET")
	s.router.HandleFunc("/v1/groups/{id}", s.handleUpdateGroup).Methods("PUT")
	s.router.HandleFunc("/v1/groups/{id}", s.handleDeleteGroup).Methods("DELETE")
	s.router.HandleFunc("/v1/preferences", s.handleGetPreferences).Methods("GET")
	s.router.HandleFunc("/v1/preferences", s.handlePutPreferences).Methods("PUT")

	// Extensions and inspection
	s.router.HandleFunc("/v1/extensions", s.handleListExtensions).Methods("GET")
	s.router.HandleFunc("/v1/extensions", s.handleGrantExtension).Methods("POST")
	s.router.HandleFunc("/v1/usage", s.handleUsage).Methods("GET")
	s.router.HandleFunc("/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/v1/check", s.handleCheck).Methods("GET")

	// Interstitial and liveness
	s.router.HandleFunc("/blocked", s.handleBlockedPage).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop shuts the API server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

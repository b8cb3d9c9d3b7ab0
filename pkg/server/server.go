package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/websocket"
	"github.com/levenlabs/go-lflag"
	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/metrics"
	"github.com/pvsim/pvsim/pkg/publish"
	"github.com/pvsim/pvsim/pkg/simulation"
	"github.com/pvsim/pvsim/pkg/storage"
)

// Server is the HTTP control plane of the simulator. It translates requests
// into registry and seeder operations and streams published events to
// websocket subscribers.
type Server struct {
	storage   storage.Database
	registry  *simulation.Registry
	seeder    *simulation.Seeder
	publisher *publish.Publisher

	listenAddr     string
	allowedOrigins []string
	serverName     string
	upgrader       websocket.Upgrader
	httpServer     *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(s storage.Database, r *simulation.Registry, seeder *simulation.Seeder, p *publish.Publisher) *Server {
	srv := newServer(s, r, seeder, p)
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	allowedOrigins := lflag.String("allowed-origins", "", "comma-delimited list of origins allowed to open websocket subscriptions; empty allows any")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *allowedOrigins != "" {
			for _, o := range strings.Split(*allowedOrigins, ",") {
				if o = strings.TrimSpace(o); o != "" {
					srv.allowedOrigins = append(srv.allowedOrigins, o)
				}
			}
		}
	})

	return srv
}

func newServer(s storage.Database, r *simulation.Registry, seeder *simulation.Seeder, p *publish.Publisher) *Server {
	srv := &Server{
		storage:    s,
		registry:   r,
		seeder:     seeder,
		publisher:  p,
		serverName: "pvsim",
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     srv.checkOrigin,
	}
	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/sites", s.handleListSites)
	apiMux.HandleFunc("POST /api/sites", s.handleCreateSite)
	apiMux.HandleFunc("GET /api/sites/{siteID}", s.handleGetSite)
	apiMux.HandleFunc("POST /api/sites/{siteID}/simulation/start", s.handleStartSimulation)
	apiMux.HandleFunc("POST /api/sites/{siteID}/simulation/stop", s.handleStopSimulation)
	apiMux.HandleFunc("GET /api/sites/{siteID}/simulation/status", s.handleSimulationStatus)
	apiMux.HandleFunc("POST /api/sites/{siteID}/simulation/seed", s.handleSeed)
	apiMux.HandleFunc("DELETE /api/sites/{siteID}/data", s.handleClear)
	apiMux.HandleFunc("GET /api/sites/{siteID}/history/weather", s.handleHistoryWeather)
	apiMux.HandleFunc("GET /api/sites/{siteID}/history/telemetry", s.handleHistoryTelemetry)
	apiMux.HandleFunc("GET /api/simulations", s.handleListSimulations)

	mux := http.NewServeMux()
	mux.Handle("/api/", gziphandler.GzipHandler(apiHeadersMiddleware(apiMux)))
	// websocket upgrades need the raw ResponseWriter, so /ws stays outside gzip
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(mux)
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// apiHeadersMiddleware sets the headers every JSON response carries. Handlers
// may override Cache-Control.
func apiHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

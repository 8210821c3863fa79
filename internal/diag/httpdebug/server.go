// Package httpdebug serves metrics and sync diagnostics over HTTP.
package httpdebug

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/statesync/internal/core/gamestate/manager"
	"github.com/zeusync/statesync/internal/core/observability/log"
	"github.com/zeusync/statesync/internal/diag/recorder"
	"github.com/zeusync/statesync/internal/transport"
)

// Command is an operator action run on the simulation goroutine.
type Command string

const (
	CommandResync        Command = "resync"
	CommandResetEntities Command = "reset_entities"
)

type StatsSource interface {
	Stats() manager.Stats
}

type TransportSource interface {
	Stats() transport.Stats
}

type StateLog interface {
	Recent(ctx context.Context, limit int) ([]recorder.Row, error)
}

// Deps are the data sources of the server. Nil members disable their routes.
type Deps struct {
	Gatherer  prometheus.Gatherer
	Sync      StatsSource
	Transport TransportSource
	States    StateLog
	// Commands receives operator commands. The caller runs them on the
	// simulation goroutine.
	Commands func(Command)
}

type Server struct {
	addr   string
	deps   Deps
	logger log.Log
	router chi.Router
}

func New(addr string, deps Deps, logger log.Log) *Server {
	s := &Server{
		addr:   addr,
		deps:   deps,
		logger: log.OrNop(logger).With(log.String("component", "debug_http")),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/debug/sync", func(r chi.Router) {
		if s.deps.Sync != nil {
			r.Get("/stats", s.handleStats)
		}
		if s.deps.Transport != nil {
			r.Get("/transport", s.handleTransport)
		}
		if s.deps.States != nil {
			r.Get("/states", s.handleStates)
		}
		if s.deps.Commands != nil {
			r.Post("/commands/{command}", s.handleCommand)
		}
	})
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Debug server listening", log.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.Int("status", ww.Status()),
			log.Duration("took", time.Since(start)))
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sync.Stats())
}

func (s *Server) handleTransport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Transport.Stats())
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 10000 {
			http.Error(w, "limit must be between 1 and 10000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := s.deps.States.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read recorded states", log.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []recorder.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd := Command(chi.URLParam(r, "command"))
	switch cmd {
	case CommandResync, CommandResetEntities:
	default:
		http.Error(w, "Unknown command", http.StatusNotFound)
		return
	}

	s.deps.Commands(cmd)
	s.logger.Info("Queued operator command", log.String("command", string(cmd)))
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package api exposes jobs, auto sync settings and the library relocation
// over HTTP and websockets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tracksync/tracksync/internal/live"
	"github.com/tracksync/tracksync/internal/model"
	"github.com/tracksync/tracksync/internal/relocate"
	"github.com/tracksync/tracksync/internal/service"
	"github.com/tracksync/tracksync/internal/store"
)

// Store is the part of store.Store the handlers read and write directly.
type Store interface {
	Source(ctx context.Context, id int64) (model.Source, error)
	Settings(ctx context.Context) (model.Settings, error)
	SetSetting(ctx context.Context, key, value string) error
	Jobs(ctx context.Context, sourceID int64, limit int) ([]model.JobRecord, error)
}

type Config struct {
	Store        Store
	Orchestrator *service.Orchestrator
	Trigger      *service.Trigger
	Relocator    *relocate.Relocator
	Hub          *live.Hub
	ArchiveRoot  string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	// background work started by requests outlives them
	ctx context.Context
	wg  sync.WaitGroup
}

// New returns a Server whose background work runs under ctx.
func New(ctx context.Context, cfg Config) *Server {
	return &Server{
		cfg: cfg,
		ctx: ctx,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)

	// static routes first, {id} would match them
	api.HandleFunc("/sync/all", s.syncAll).Methods(http.MethodPost)
	api.HandleFunc("/sync/status", s.syncStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync/{id:[0-9]+}", s.syncStart).Methods(http.MethodPost)
	api.HandleFunc("/sync/{id:[0-9]+}/status", s.syncSourceStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync/{id:[0-9]+}/cancel", s.syncCancel).Methods(http.MethodPost)
	api.HandleFunc("/sync/{id:[0-9]+}/live", s.syncLive).Methods(http.MethodGet)
	api.HandleFunc("/sync/{id:[0-9]+}/history", s.syncHistory).Methods(http.MethodGet)
	api.HandleFunc("/sync/{id:[0-9]+}/reset-archive", s.resetArchive).Methods(http.MethodPost)

	api.HandleFunc("/settings/auto-sync", s.getAutoSync).Methods(http.MethodGet)
	api.HandleFunc("/settings/auto-sync", s.putAutoSync).Methods(http.MethodPut)

	api.HandleFunc("/library/precheck", s.libraryPreCheck).Methods(http.MethodPost)
	api.HandleFunc("/library/move", s.libraryMove).Methods(http.MethodPost)
	api.HandleFunc("/library/move", s.libraryMoveStatus).Methods(http.MethodGet)

	r.HandleFunc("/ws/sync/{id:[0-9]+}", s.wsSync).Methods(http.MethodGet)
	r.HandleFunc("/ws/move", s.wsMove).Methods(http.MethodGet)

	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics).Methods(http.MethodGet)
	}
	return r
}

// Wait blocks until background work started by requests has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.DebugContext(r.Context(), "request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

// Problem is the body of every error response.
type Problem struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", problemType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Status: status, Detail: detail})
}

// writeError maps err to a status code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrToolNotFound):
		status = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrJobActive),
		errors.Is(err, model.ErrRelocationActive),
		errors.Is(err, relocate.ErrMoveInProgress):
		status = http.StatusConflict
	case errors.Is(err, relocate.ErrSameLocation):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeProblem(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func sourceID(r *http.Request) int64 {
	// the route pattern guarantees digits
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func cursor(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("cursor"))
	if err != nil {
		return 0
	}
	return n
}

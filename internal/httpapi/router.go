// Package httpapi serves health, metrics and read-only access to analysis results.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/chat-analyzer-bot/internal/models"
	"github.com/chat-analyzer-bot/internal/results"
	"github.com/chat-analyzer-bot/internal/scheduler"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// ResultReader is the read side of the result store
type ResultReader interface {
	List(ctx context.Context, offset, limit int) results.ListResult
	Get(ctx context.Context, analysisID int64) (*results.Detail, error)
	LatestForChat(ctx context.Context, chatID int64) (*models.AnalysisResult, error)
}

// Pinger checks storage connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobLister lists scheduled jobs
type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// errBadRequest marks client input errors
var errBadRequest = errors.New("bad request")

// errNotFound marks missing resources
var errNotFound = errors.New("not found")

// Router serves the HTTP API
type Router struct {
	results ResultReader
	pinger  Pinger
	jobs    JobLister
	logger  zerolog.Logger
}

// NewRouter builds the HTTP handler; jobs may be nil when the scheduler is not running
func NewRouter(reader ResultReader, pinger Pinger, jobs JobLister, gatherer prometheus.Gatherer, logger zerolog.Logger) http.Handler {
	r := &Router{
		results: reader,
		pinger:  pinger,
		jobs:    jobs,
		logger:  logger.With().Str("component", "httpapi").Logger(),
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(r.logRequests)

	mux.Get("/healthz", r.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.Route("/api", func(rt chi.Router) {
		rt.Get("/analyses", r.wrap(r.handleList))
		rt.Get("/analyses/{id}", r.wrap(r.handleGet))
		rt.Get("/chats/{id}/latest", r.wrap(r.handleLatest))
		rt.Get("/jobs", r.wrap(r.handleJobs))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, errBadRequest):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, errNotFound):
				http.Error(w, "not found", http.StatusNotFound)
			default:
				r.logger.Error().Err(err).Str("path", req.URL.Path).Msg("Request failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}
	}
}

func (r *Router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		r.logger.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Str("request_id", middleware.GetReqID(req.Context())).
			Msg("HTTP request")
	})
}

// GET /healthz
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if r.pinger != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		if err := r.pinger.Ping(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Health check failed")
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("ok"))
}

// GET /api/analyses?offset=&limit=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	offset, err := queryInt(req, "offset", 0)
	if err != nil {
		return err
	}
	limit, err := queryInt(req, "limit", defaultLimit)
	if err != nil {
		return err
	}
	if offset < 0 || limit <= 0 {
		return fmt.Errorf("%w: offset must be >= 0 and limit > 0", errBadRequest)
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	return writeJSON(w, r.results.List(req.Context(), offset, limit))
}

// GET /api/analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := pathInt(req, "id")
	if err != nil {
		return err
	}

	detail, err := r.results.Get(req.Context(), id)
	if err != nil {
		return err
	}
	if detail == nil {
		return errNotFound
	}
	return writeJSON(w, detail)
}

// GET /api/chats/{id}/latest
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	chatID, err := pathInt(req, "id")
	if err != nil {
		return err
	}

	result, err := r.results.LatestForChat(req.Context(), chatID)
	if err != nil {
		return err
	}
	if result == nil {
		return errNotFound
	}
	return writeJSON(w, result)
}

// GET /api/jobs
func (r *Router) handleJobs(w http.ResponseWriter, req *http.Request) error {
	jobs := []scheduler.JobInfo{}
	if r.jobs != nil {
		if registered := r.jobs.Jobs(); registered != nil {
			jobs = registered
		}
	}
	return writeJSON(w, jobs)
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

func queryInt(req *http.Request, key string, def int) (int, error) {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, key)
	}
	return v, nil
}

func pathInt(req *http.Request, key string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(req, key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, key)
	}
	return v, nil
}

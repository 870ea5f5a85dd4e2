package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/api/handlers"
	mw "github.com/jmin1219/voku/internal/api/middleware"
	"github.com/jmin1219/voku/internal/app"
	"github.com/jmin1219/voku/internal/buildconfig"
)

type RouterConfig struct {
	// APIKey enables bearer authentication on /v1 when set.
	APIKey         string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server is the HTTP surface over a wired App.
type Server struct {
	Router      *chi.Mux
	startTime   time.Time
	stopLimiter func()
}

func NewServer(a *app.App, cfg RouterConfig, logger *zap.Logger) *Server {
	propositionHandler := handlers.NewPropositionHandler(a.Ingest, a.Retrieval)
	retrievalHandler := handlers.NewRetrievalHandler(a.Retrieval)
	processHandler := handlers.NewProcessHandler(a.Engine, a.Threads)

	rateLimit, stop := mw.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)

	r := chi.NewRouter()
	s := &Server{Router: r, startTime: time.Now(), stopLimiter: stop}

	// Order matters: the request id must exist before logging, and RealIP
	// must run before the per-IP limiter.
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Metrics)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(rateLimit)

	r.Get("/health", s.healthHandler(a.Ledger))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.BearerAuth(cfg.APIKey))

		r.Route("/propositions", func(r chi.Router) {
			r.Post("/", propositionHandler.Ingest)
			r.Get("/", propositionHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", propositionHandler.Get)
				r.Get("/edges", propositionHandler.Edges)
				r.Post("/archive", propositionHandler.Archive)
			})
		})
		r.Post("/messages", propositionHandler.IngestMessages)

		r.Post("/retrieve", retrievalHandler.Retrieve)
		r.Get("/timeline", retrievalHandler.Timeline)

		r.Route("/threads", func(r chi.Router) {
			r.Get("/", retrievalHandler.Threads)
			r.Post("/rebuild", processHandler.RebuildThreads)
		})

		r.Route("/process", func(r chi.Router) {
			r.Post("/", processHandler.Run)
			r.Post("/pairs", processHandler.ClassifyPair)
		})
	})

	return s
}

// Close stops the rate limiter's cleanup loop.
func (s *Server) Close() {
	s.stopLimiter()
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) healthHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
			"build":          buildconfig.VersionInfo(),
		}
		status := http.StatusOK
		if err := db.Ping(r.Context()); err != nil {
			body["status"] = "error"
			body["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

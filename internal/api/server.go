// SPDX-License-Identifier: MIT

// Package api exposes the derivation pipeline over HTTP: batch derive,
// streamed transcode, input registration and job listing, all tenant-scoped.
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cubhouse/mom/internal/catalog"
	"github.com/cubhouse/mom/internal/config"
	"github.com/cubhouse/mom/internal/deriver"
	"github.com/cubhouse/mom/internal/jobs"
	"github.com/cubhouse/mom/internal/log"
	"github.com/cubhouse/mom/internal/storage"
)

// Server holds the HTTP surface's collaborators. Everything is injected;
// nothing is ambient.
type Server struct {
	cfg     config.Config
	exec    *deriver.Executor
	jobs    *jobs.Registry
	catalog *catalog.Store
	store   storage.Store
	logger  zerolog.Logger
}

// NewServer builds the HTTP server around an executor and its registries.
func NewServer(cfg config.Config, exec *deriver.Executor, reg *jobs.Registry, cat *catalog.Store, store storage.Store) *Server {
	return &Server{
		cfg:     cfg,
		exec:    exec,
		jobs:    reg,
		catalog: cat,
		store:   store,
		logger:  log.WithComponent("api"),
	}
}

// Routes assembles the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	if s.cfg.RateLimit.Requests > 0 {
		r.Use(rateLimit(s.cfg.RateLimit))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/tenants/{tenant}", func(r chi.Router) {
		r.Post("/inputs", s.handleRegisterInput)
		r.Get("/jobs", s.handleListJobs)
		r.Post("/derive", s.handleDerive)
		r.Post("/transcode", s.handleTranscode)
	})

	return r
}

// rateLimit wraps httprate's sliding-window limiter with a JSON 429.
func rateLimit(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.Window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limit_exceeded"})
		}),
	)
}

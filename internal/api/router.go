// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

// Package api exposes the pipeline over HTTP: run triggers, the audit
// surfaces and operational endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/database"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/middleware"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/pipeline"
)

// Router owns the HTTP surface.
type Router struct {
	runner *pipeline.Runner
	db     *database.DB
}

// NewRouter creates the API router over the given run coordinator and store.
func NewRouter(runner *pipeline.Runner, db *database.DB) *Router {
	return &Router{runner: runner, db: db}
}

// chiMiddleware adapts http.HandlerFunc middleware to chi's shape.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// SetupChi builds the route tree.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chiMiddleware(middleware.RequestID))

	r.Get("/api/v1/health", router.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Post("/runs", router.handleRunFull)
		r.Post("/runs/refresh", router.handleRunRefresh)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/refresh-log", router.handleRefreshLog)
			r.Get("/freshness", router.handleFreshness)
			r.Get("/watermarks", router.handleWatermarks)
		})
	})

	return r
}

// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/database"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/ingest"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/logging"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// handleRunFull triggers a full ingest, aggregate and refresh cycle. The
// optional body may carry {"full_resync": true} to force a REPLACE pass over
// the full historical window.
func (router *Router) handleRunFull(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	result, err := router.runner.RunFull(r.Context(), req.FullResync)
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, ingest.ErrTransientFetch):
		respondJSON(w, http.StatusBadGateway, &models.APIResponse{Success: false, Data: result, Error: result.Error})
		return
	case err != nil:
		respondJSON(w, http.StatusInternalServerError, &models.APIResponse{Success: false, Data: result, Error: result.Error})
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{Success: true, Data: result})
}

// handleRunRefresh re-derives every view without ingesting.
func (router *Router) handleRunRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := router.runner.RunRefreshOnly(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{Success: true, Data: result})
}

// handleRefreshLog queries the append-only refresh audit trail. Supported
// query parameters: view, status, since (RFC3339), limit.
func (router *Router) handleRefreshLog(w http.ResponseWriter, r *http.Request) {
	filter := database.RefreshLogFilter{
		ViewName: r.URL.Query().Get("view"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = models.RefreshStatus(status)
	}
	if since := r.URL.Query().Get("since"); since != "" {
		parsed, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &parsed
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = parsed
	}

	entries, err := router.db.ListRefreshLog(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to query refresh log")
		respondError(w, http.StatusInternalServerError, "failed to query refresh log")
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{Success: true, Data: entries})
}

// handleFreshness reports, per view, how long ago it last refreshed
// successfully.
func (router *Router) handleFreshness(w http.ResponseWriter, r *http.Request) {
	freshness, err := router.db.GetViewFreshness(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to query view freshness")
		respondError(w, http.StatusInternalServerError, "failed to query view freshness")
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{Success: true, Data: freshness})
}

// handleWatermarks reports ingestion lag per source.
func (router *Router) handleWatermarks(w http.ResponseWriter, r *http.Request) {
	marks, err := router.db.ListWatermarks(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to query watermarks")
		respondError(w, http.StatusInternalServerError, "failed to query watermarks")
		return
	}

	now := time.Now().UTC()
	audits := make([]models.WatermarkAudit, 0, len(marks))
	for _, wm := range marks {
		audits = append(audits, models.WatermarkAudit{
			SourceName:      wm.SourceName,
			LastEventTime:   wm.LastEventTime.Format(time.RFC3339),
			LastRunStatus:   wm.LastRunStatus,
			EventsProcessed: wm.EventsProcessed,
			StaleRuns:       wm.StaleRuns,
			LagSeconds:      wm.Lag(now).Seconds(),
		})
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{Success: true, Data: audits})
}

// handleHealth reports liveness: the database must answer a ping.
func (router *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := router.db.Ping(r.Context()); err != nil {
		logging.Error().Err(err).Msg("Health check failed")
		respondJSON(w, http.StatusServiceUnavailable, &models.APIResponse{
			Success: false,
			Data:    map[string]string{"status": "unhealthy"},
			Error:   err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Success: true,
		Data:    map[string]string{"status": "healthy"},
	})
}

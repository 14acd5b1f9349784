// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/logging"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// respondJSON sends an APIResponse with proper headers.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError sends a failure envelope.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, &models.APIResponse{Success: false, Error: message})
}

// Package handlers provides HTTP handlers for the web API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Adioame/PhotoMind-sub002/internal/cluster"
	"github.com/Adioame/PhotoMind-sub002/internal/detect"
	"github.com/Adioame/PhotoMind-sub002/internal/regen"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps pipeline errors onto HTTP statuses. Caller input
// errors come back 400, conflicts 409, unknown ids 404; anything else is a
// 500.
func respondDomainError(w http.ResponseWriter, err error) {
	var conflict *cluster.ExistingPersonConflictError
	switch {
	case errors.As(err, &conflict):
		respondJSON(w, http.StatusConflict, map[string]string{
			"error":     conflict.Error(),
			"person_id": conflict.PersonID,
		})
	case errors.Is(err, regen.ErrJobConflict), errors.Is(err, detect.ErrScanInProgress):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cluster.ErrInvalidMergeRequest),
		errors.Is(err, cluster.ErrAmbiguousSplitTarget),
		errors.Is(err, cluster.ErrNoEmbedding),
		errors.Is(err, regen.ErrNotRunning):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

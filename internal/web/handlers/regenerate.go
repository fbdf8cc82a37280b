package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Adioame/PhotoMind-sub002/internal/regen"
)

// RegenHandler drives the regeneration job manager over HTTP.
type RegenHandler struct {
	manager *regen.Manager
}

// NewRegenHandler creates a new regeneration handler.
func NewRegenHandler(manager *regen.Manager) *RegenHandler {
	return &RegenHandler{manager: manager}
}

// Start begins or resumes regeneration. "force": true recomputes every
// embedding instead of only the missing ones. A 409 means another job holds
// the slot.
func (h *RegenHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Force bool `json:"force"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	job, err := h.manager.Start(r.Context(), req.Force)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// Pause requests a pause; the in-flight face finishes first.
func (h *RegenHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Pause(); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "pausing"})
}

// Reset clears the active job's counters and errors, returning it to idle.
func (h *RegenHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Reset(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Progress returns the latest job snapshot with its per-face errors.
func (h *RegenHandler) Progress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.manager.GetProgress(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

// QueueStatus reports queue depth plus the stall diagnosis.
func (h *RegenHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.GetQueueStatus(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// QueueReset frees the job slot of a stalled job without touching its
// counters, so a fresh start can proceed.
func (h *RegenHandler) QueueReset(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ResetQueue(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

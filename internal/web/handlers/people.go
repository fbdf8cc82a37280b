package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Adioame/PhotoMind-sub002/internal/cluster"
	"github.com/Adioame/PhotoMind-sub002/internal/people"
)

// PeopleHandler handles person CRUD and the merge/cleanup operations.
type PeopleHandler struct {
	registry *people.Registry
	matcher  *cluster.Matcher
}

// NewPeopleHandler creates a new people handler.
func NewPeopleHandler(registry *people.Registry, matcher *cluster.Matcher) *PeopleHandler {
	return &PeopleHandler{registry: registry, matcher: matcher}
}

// List returns every person ordered by display name.
func (h *PeopleHandler) List(w http.ResponseWriter, r *http.Request) {
	persons, err := h.registry.GetAll(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"people": persons, "count": len(persons)})
}

// Create adds a new named person.
func (h *PeopleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	existing, err := h.registry.FindByName(r.Context(), req.Name)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if existing != nil {
		respondJSON(w, http.StatusConflict, map[string]string{
			"error":     "person with this name already exists",
			"person_id": existing.ID,
		})
		return
	}

	person, err := h.registry.Add(r.Context(), req.Name)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, person)
}

// Get returns one person by id.
func (h *PeopleHandler) Get(w http.ResponseWriter, r *http.Request) {
	person, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}

// Update renames a person or sets their display name and avatar.
func (h *PeopleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	person, err := h.registry.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req struct {
		Name        *string `json:"name"`
		DisplayName *string `json:"display_name"`
		AvatarPath  *string `json:"avatar_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Name != nil {
		person.Name = *req.Name
	}
	if req.DisplayName != nil {
		person.DisplayName = *req.DisplayName
	}
	if req.AvatarPath != nil {
		person.AvatarPath = *req.AvatarPath
	}

	if err := h.registry.Update(r.Context(), person); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}

// Delete removes a person, releasing their faces back to the unnamed pool.
func (h *PeopleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.Delete(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	log.Printf("deleted person %s", sanitizeForLog(id))
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Merge folds one person into another.
func (h *PeopleHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string `json:"source_id"`
		TargetID string `json:"target_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceID == "" || req.TargetID == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := h.matcher.MergePersons(r.Context(), req.SourceID, req.TargetID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "merged", "person_id": req.TargetID})
}

// Cleanup deletes every person with zero faces.
func (h *PeopleHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.matcher.CleanupEmptyPersons(context.WithoutCancel(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "count": len(deleted)})
}

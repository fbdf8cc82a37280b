package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Adioame/PhotoMind-sub002/internal/cluster"
	"github.com/Adioame/PhotoMind-sub002/internal/constants"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

// FacesHandler handles face matching, similarity and assignment endpoints.
type FacesHandler struct {
	store   *store.Store
	matcher *cluster.Matcher
}

// NewFacesHandler creates a new faces handler.
func NewFacesHandler(s *store.Store, matcher *cluster.Matcher) *FacesHandler {
	return &FacesHandler{store: s, matcher: matcher}
}

// GetPhotoFaces lists the faces detected in one photo.
func (h *FacesHandler) GetPhotoFaces(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "id")
	if _, err := h.store.GetPhoto(r.Context(), photoID); err != nil {
		respondDomainError(w, err)
		return
	}
	faces, err := h.store.ListFacesByPhoto(r.Context(), photoID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"faces": faces, "count": len(faces)})
}

// Match runs automatic clustering over all unassigned embedded faces.
func (h *FacesHandler) Match(w http.ResponseWriter, r *http.Request) {
	result, err := h.matcher.AutoMatch(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Similar returns the faces most similar to the given one. The k query
// parameter bounds the result size.
func (h *FacesHandler) Similar(w http.ResponseWriter, r *http.Request) {
	faceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid face id")
		return
	}

	k := constants.DefaultSimilarLimit
	if v := r.URL.Query().Get("k"); v != "" {
		k, err = strconv.Atoi(v)
		if err != nil || k < 1 {
			respondError(w, http.StatusBadRequest, "invalid k parameter")
			return
		}
	}

	neighbors, err := h.matcher.FindSimilar(r.Context(), faceID, k)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"similar": neighbors, "count": len(neighbors)})
}

// Assign manually attaches faces to a person.
func (h *FacesHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FaceIDs  []int64 `json:"face_ids"`
		PersonID string  `json:"person_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.FaceIDs) == 0 || req.PersonID == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := h.matcher.Assign(r.Context(), req.FaceIDs, req.PersonID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "assigned", "count": len(req.FaceIDs)})
}

// Unmatch releases a face from its person.
func (h *FacesHandler) Unmatch(w http.ResponseWriter, r *http.Request) {
	faceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid face id")
		return
	}

	if err := h.matcher.Unmatch(r.Context(), faceID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unmatched"})
}

// Split moves a face out of its person, into either a newly named person or
// an existing one.
func (h *FacesHandler) Split(w http.ResponseWriter, r *http.Request) {
	faceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid face id")
		return
	}

	var req struct {
		FromPersonID string `json:"from_person_id"`
		NewName      string `json:"new_name"`
		ToPersonID   string `json:"to_person_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FromPersonID == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	person, err := h.matcher.SplitFace(r.Context(), faceID, req.FromPersonID, req.NewName, req.ToPersonID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}

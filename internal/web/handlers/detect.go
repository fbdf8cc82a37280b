package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/Adioame/PhotoMind-sub002/internal/detect"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

// DetectHandler handles detection endpoints. Batch scans run in the
// background; cancel functions are kept per job id so a batch can be
// aborted between photos.
type DetectHandler struct {
	store    *store.Store
	detector *detect.Detector

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewDetectHandler creates a new detection handler.
func NewDetectHandler(s *store.Store, detector *detect.Detector) *DetectHandler {
	return &DetectHandler{
		store:    s,
		detector: detector,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// DetectPhoto runs detection on a single photo synchronously.
func (h *DetectHandler) DetectPhoto(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "id")
	faces, err := h.detector.DetectPhoto(r.Context(), photoID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"faces": faces, "count": len(faces)})
}

// StartBatch kicks off a background scan. By default only photos without
// any detected faces are scanned; "all": true rescans the whole library.
func (h *DetectHandler) StartBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		All   bool `json:"all"`
		Limit int  `json:"limit"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	var photoIDs []string
	var err error
	if req.All {
		photoIDs, err = h.store.ListPhotoIDs(r.Context())
	} else {
		photoIDs, err = h.store.ListUnscannedPhotoIDs(r.Context())
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if req.Limit > 0 && len(photoIDs) > req.Limit {
		photoIDs = photoIDs[:req.Limit]
	}

	job, err := h.detector.NewBatchJob(r.Context(), len(photoIDs))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// The batch outlives the request; it gets its own cancelable context.
	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.cancels[job.ID] = cancel
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.cancels, job.ID)
			h.mu.Unlock()
			cancel()
		}()
		if _, err := h.detector.RunBatch(ctx, job, photoIDs, nil); err != nil && ctx.Err() == nil {
			log.Printf("scan %s: %v", job.ID, err)
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"total":  len(photoIDs),
	})
}

// CancelBatch aborts a running batch scan. The in-flight photo finishes
// first.
func (h *DetectHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	h.mu.Lock()
	cancel, ok := h.cancels[jobID]
	h.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "no running scan with this job id")
		return
	}

	cancel()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "job_id": jobID})
}

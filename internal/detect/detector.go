package detect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Adioame/PhotoMind-sub002/internal/embed"
	"github.com/Adioame/PhotoMind-sub002/internal/events"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

// ErrScanInProgress is returned when a scan is requested while another scan
// job is still active.
var ErrScanInProgress = errors.New("a scan job is already active")

// Detector runs face detection over photos and persists the results.
type Detector struct {
	store         *store.Store
	model         Model
	bus           *events.Bus
	minConfidence float64
	maxImageSize  int
	stallTimeout  time.Duration
}

// NewDetector creates a detector backed by the given model. stallTimeout
// bounds how long a running scan job may go without a heartbeat before a
// new scan may reclaim its slot.
func NewDetector(s *store.Store, model Model, bus *events.Bus, minConfidence float64, maxImageSize int, stallTimeout time.Duration) *Detector {
	return &Detector{
		store:         s,
		model:         model,
		bus:           bus,
		minConfidence: minConfidence,
		maxImageSize:  maxImageSize,
		stallTimeout:  stallTimeout,
	}
}

// DetectPhoto runs detection on a single photo and stores the faces found.
// Any previous faces of the photo are replaced, so a re-scan starts clean.
// Detections below the confidence floor are discarded; model servers report
// plenty of sub-0.5 false positives on busy backgrounds.
func (d *Detector) DetectPhoto(ctx context.Context, photoID string) ([]store.Face, error) {
	photo, err := d.store.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(photo.FilePath)
	if err != nil {
		return nil, fmt.Errorf("reading photo %s: %w", photoID, err)
	}

	resized, err := embed.ResizeImage(data, d.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("resizing photo %s: %w", photoID, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(resized))
	if err != nil {
		return nil, fmt.Errorf("decoding photo %s: %w", photoID, err)
	}

	detections, err := d.model.DetectFaces(ctx, resized)
	if err != nil {
		return nil, fmt.Errorf("detecting faces in %s: %w", photoID, err)
	}

	if _, err := d.store.DeleteFacesByPhoto(ctx, photoID); err != nil {
		return nil, err
	}

	var faces []store.Face
	for _, det := range detections {
		if det.DetScore < d.minConfidence {
			continue
		}
		face, err := toFace(photoID, det, cfg.Width, cfg.Height)
		if err != nil {
			return nil, fmt.Errorf("photo %s: %w", photoID, err)
		}
		id, err := d.store.InsertFace(ctx, face)
		if err != nil {
			return nil, err
		}
		face.ID = id
		faces = append(faces, *face)
	}

	d.bus.Publish(events.Event{
		Type:    events.TypeDetection,
		Message: fmt.Sprintf("detected %d faces in %s", len(faces), photoID),
	})
	return faces, nil
}

// toFace converts a raw detection into a stored face with coordinates
// normalized to the image dimensions.
func toFace(photoID string, det Detection, width, height int) (*store.Face, error) {
	if len(det.BBox) != 4 {
		return nil, fmt.Errorf("detection bbox has %d values, want 4", len(det.BBox))
	}
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}

	// det.Embedding is deliberately not carried over: faces start without a
	// vector and regeneration is the single path that sets one, so every
	// stored embedding comes from the same model and crop pipeline.
	w := float64(width)
	h := float64(height)
	face := &store.Face{
		PhotoID: photoID,
		Box: store.BoundingBox{
			X: det.BBox[0] / w,
			Y: det.BBox[1] / h,
			W: (det.BBox[2] - det.BBox[0]) / w,
			H: (det.BBox[3] - det.BBox[1]) / h,
		},
		Confidence: det.DetScore,
	}
	for _, lm := range det.Landmarks {
		face.Landmarks = append(face.Landmarks, store.Point{X: lm[0] / w, Y: lm[1] / h})
	}
	return face, nil
}

// BatchResult summarizes a batch scan.
type BatchResult struct {
	Job        *store.Job
	FacesFound int
}

// DetectBatch scans the given photos sequentially under a persisted scan
// job. Per-photo failures are recorded against the job and do not stop the
// batch; cancellation between photos marks the job cancelled. Progress is
// persisted after every photo.
func (d *Detector) DetectBatch(ctx context.Context, photoIDs []string, onProgress func(processed, total int)) (*BatchResult, error) {
	job, err := d.NewBatchJob(ctx, len(photoIDs))
	if err != nil {
		return nil, err
	}
	return d.RunBatch(ctx, job, photoIDs, onProgress)
}

// NewBatchJob claims the scan job slot and persists a fresh running job.
// Split from RunBatch so callers can start the loop asynchronously and
// still hand the job id back immediately.
func (d *Detector) NewBatchJob(ctx context.Context, total int) (*store.Job, error) {
	active, err := d.store.ActiveJob(ctx, store.JobKindScan)
	if err != nil {
		return nil, err
	}
	if active != nil {
		// A running row whose heartbeat went quiet has no live worker behind
		// it (crashed process); mark it failed and free the slot rather than
		// blocking every future scan.
		stalled := active.Status == store.JobStatusRunning &&
			time.Since(active.LastHeartbeat) > d.stallTimeout
		if !stalled {
			return nil, fmt.Errorf("%w: job %s", ErrScanInProgress, active.ID)
		}
		ended := time.Now().UTC()
		if err := d.store.SetJobStatus(ctx, active.ID, store.JobStatusFailed, &ended); err != nil {
			return nil, err
		}
		log.Printf("scan %s: stalled (no heartbeat since %s), releasing slot",
			active.ID, active.LastHeartbeat.Format(time.RFC3339))
	}

	now := time.Now().UTC()
	job := &store.Job{
		ID:            uuid.NewString(),
		Kind:          store.JobKindScan,
		Status:        store.JobStatusRunning,
		Total:         total,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// failJob marks the job failed so a storage error mid-batch never leaves
// the row stuck in running. Best effort: the original error is what the
// caller sees.
func (d *Detector) failJob(ctx context.Context, job *store.Job) {
	ended := time.Now().UTC()
	if err := d.store.SetJobStatus(context.WithoutCancel(ctx), job.ID, store.JobStatusFailed, &ended); err != nil {
		log.Printf("scan %s: marking failed: %v", job.ID, err)
	}
	job.Status = store.JobStatusFailed
}

// RunBatch processes the photos under an already-created scan job.
func (d *Detector) RunBatch(ctx context.Context, job *store.Job, photoIDs []string, onProgress func(processed, total int)) (*BatchResult, error) {
	result := &BatchResult{Job: job}
	for _, photoID := range photoIDs {
		if err := ctx.Err(); err != nil {
			ended := time.Now().UTC()
			if serr := d.store.SetJobStatus(context.WithoutCancel(ctx), job.ID, store.JobStatusCancelled, &ended); serr != nil {
				log.Printf("scan %s: marking cancelled: %v", job.ID, serr)
			}
			job.Status = store.JobStatusCancelled
			return result, err
		}

		faces, err := d.DetectPhoto(ctx, photoID)
		if err != nil {
			job.FailedCount++
			if aerr := d.store.AddJobError(ctx, job.ID, 0, fmt.Sprintf("photo %s: %v", photoID, err)); aerr != nil {
				d.failJob(ctx, job)
				return result, aerr
			}
		} else {
			job.SuccessCount++
			result.FacesFound += len(faces)
		}
		job.Processed++
		job.LastHeartbeat = time.Now().UTC()
		if err := d.store.UpdateJobProgress(ctx, job); err != nil {
			d.failJob(ctx, job)
			return result, err
		}

		d.bus.Publish(events.Event{
			Type: events.TypeProgress,
			Data: events.Progress{
				JobID:        job.ID,
				Processed:    job.Processed,
				Total:        job.Total,
				SuccessCount: job.SuccessCount,
				FailedCount:  job.FailedCount,
			},
		})
		if onProgress != nil {
			onProgress(job.Processed, job.Total)
		}
	}

	ended := time.Now().UTC()
	status := store.JobStatusCompleted
	if job.SuccessCount == 0 && job.FailedCount > 0 {
		status = store.JobStatusFailed
	}
	if err := d.store.SetJobStatus(ctx, job.ID, status, &ended); err != nil {
		return result, err
	}
	job.Status = status
	job.EndedAt = &ended

	log.Printf("scan %s: %d photos, %d faces, %d failures",
		job.ID, job.Processed, result.FacesFound, job.FailedCount)
	return result, nil
}

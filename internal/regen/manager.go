// Package regen drives embedding regeneration as a resumable background
// job. The job record is persisted, so progress and stall diagnosis survive
// process restarts; the work queue is rebuilt from faces lacking an
// embedding, less already-recorded failures, which makes resuming after a
// crash idempotent.
package regen

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adioame/PhotoMind-sub002/internal/cluster"
	"github.com/Adioame/PhotoMind-sub002/internal/embed"
	"github.com/Adioame/PhotoMind-sub002/internal/events"
	"github.com/Adioame/PhotoMind-sub002/internal/index"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

// ErrJobConflict is returned when a regeneration job is already active and
// cannot be resumed.
var ErrJobConflict = errors.New("a regeneration job is already active")

// ErrNotRunning is returned by Pause when no job is currently running.
var ErrNotRunning = errors.New("no regeneration job is running")

// Manager is the single coordinator for regeneration jobs. The embedding
// model is a singleton resource, so items are processed strictly one at a
// time and at most one job per kind is ever non-terminal.
type Manager struct {
	store        *store.Store
	embedder     embed.Embedder
	matcher      *cluster.Matcher
	idx          *index.Index // may be nil
	bus          *events.Bus
	stallTimeout time.Duration

	mu      sync.Mutex
	job     *store.Job
	queue   []int64
	pos     int
	running bool
	pausing bool
	stopped bool
	done    chan struct{}
}

// NewManager creates a regeneration manager. idx may be nil.
func NewManager(s *store.Store, embedder embed.Embedder, matcher *cluster.Matcher,
	idx *index.Index, bus *events.Bus, stallTimeout time.Duration) *Manager {
	return &Manager{
		store:        s,
		embedder:     embedder,
		matcher:      matcher,
		idx:          idx,
		bus:          bus,
		stallTimeout: stallTimeout,
	}
}

// Start begins or resumes a regeneration job. A paused job resumes at its
// paused index; any other active job is a conflict and must be reset first.
// With force the queue covers every face, recomputing embeddings that
// already exist; otherwise only faces lacking an embedding are queued.
func (m *Manager) Start(ctx context.Context, force bool) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil, fmt.Errorf("%w: job %s is running", ErrJobConflict, m.job.ID)
	}

	active, err := m.store.ActiveJob(ctx, store.JobKindRegenerate)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if active.Status != store.JobStatusPaused {
			// A running row without a live worker means a crashed or stuck
			// process; the caller must diagnose and ResetQueue first.
			return nil, fmt.Errorf("%w: job %s is %s", ErrJobConflict, active.ID, active.Status)
		}
		return m.resumeLocked(ctx, active)
	}

	var faces []store.Face
	if force {
		faces, err = m.store.ListAllFaces(ctx)
	} else {
		faces, err = m.store.ListFacesMissingEmbedding(ctx)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &store.Job{
		ID:            uuid.NewString(),
		Kind:          store.JobKindRegenerate,
		Status:        store.JobStatusRunning,
		Total:         len(faces),
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	m.job = job
	m.queue = make([]int64, len(faces))
	for i, f := range faces {
		m.queue[i] = f.ID
	}
	m.pos = 0
	m.startWorkerLocked()
	m.publishStatus(job.Status)
	return job, nil
}

// resumeLocked continues a paused job. When the in-memory queue survived
// (user pause) it picks up at the exact index; after a process restart the
// queue is rebuilt from faces still lacking an embedding, minus faces the
// job already counted as failed — requeueing those would push processed
// past total and duplicate their error rows.
func (m *Manager) resumeLocked(ctx context.Context, active *store.Job) (*store.Job, error) {
	if m.job == nil || m.job.ID != active.ID {
		faces, err := m.store.ListFacesMissingEmbedding(ctx)
		if err != nil {
			return nil, err
		}
		jobErrors, err := m.store.ListJobErrors(ctx, active.ID)
		if err != nil {
			return nil, err
		}
		counted := make(map[int64]bool, len(jobErrors))
		for _, je := range jobErrors {
			counted[je.FaceID] = true
		}
		m.job = active
		m.queue = make([]int64, 0, len(faces))
		for _, f := range faces {
			if counted[f.ID] {
				continue
			}
			m.queue = append(m.queue, f.ID)
		}
		m.pos = 0
	}

	if err := m.store.SetJobStatus(ctx, m.job.ID, store.JobStatusRunning, nil); err != nil {
		return nil, err
	}
	m.job.Status = store.JobStatusRunning
	m.startWorkerLocked()
	m.publishStatus(store.JobStatusRunning)
	return m.job, nil
}

func (m *Manager) startWorkerLocked() {
	m.running = true
	m.pausing = false
	m.stopped = false
	m.done = make(chan struct{})
	go m.run()
}

// Pause requests a pause. The in-flight item always completes; the job
// transitions to paused before the next one.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}
	m.pausing = true
	return nil
}

// Reset stops any active job and clears its counters and errors, returning
// it to idle. Embeddings computed so far are kept.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.stopped = true
		done := m.done
		m.mu.Unlock()
		<-done
		m.mu.Lock()
	}
	job := m.job
	m.job = nil
	m.queue = nil
	m.pos = 0
	m.mu.Unlock()

	if job == nil {
		active, err := m.store.ActiveJob(ctx, store.JobKindRegenerate)
		if err != nil {
			return err
		}
		job = active
	}
	if job == nil {
		return nil
	}
	if err := m.store.ResetJobCounters(ctx, job.ID); err != nil {
		return err
	}
	m.publishStatus(store.JobStatusIdle)
	return nil
}

// ResetQueue recovers from a stalled job: the worker is presumed dead, so
// only the persisted row is forced back to idle. Counters, errors and
// already-computed embeddings all survive; unlike Reset this is a release
// of the job slot, not a fresh start.
func (m *Manager) ResetQueue(ctx context.Context) error {
	active, err := m.store.ActiveJob(ctx, store.JobKindRegenerate)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}

	m.mu.Lock()
	if m.job != nil && m.job.ID == active.ID && !m.running {
		m.job = nil
		m.queue = nil
		m.pos = 0
	}
	m.mu.Unlock()

	if err := m.store.SetJobStatus(ctx, active.ID, store.JobStatusIdle, nil); err != nil {
		return err
	}
	m.publishStatus(store.JobStatusIdle)
	return nil
}

// Progress is a point-in-time snapshot of the latest regeneration job.
type Progress struct {
	Job    *store.Job       `json:"job"`
	Errors []store.JobError `json:"errors,omitempty"`
}

// GetProgress returns the latest regeneration job with its per-face
// errors, or an empty snapshot when no job has ever run.
func (m *Manager) GetProgress(ctx context.Context) (*Progress, error) {
	job, err := m.store.LatestJob(ctx, store.JobKindRegenerate)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &Progress{}, nil
	}
	jobErrors, err := m.store.ListJobErrors(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return &Progress{Job: job, Errors: jobErrors}, nil
}

// QueueStatus describes the regeneration queue for diagnostics.
type QueueStatus struct {
	Status       store.JobStatus `json:"status"`
	JobID        string          `json:"job_id,omitempty"`
	Processed    int             `json:"processed"`
	Total        int             `json:"total"`
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	Pending      int             `json:"pending"`
	Stalled      bool            `json:"stalled"`
}

// GetQueueStatus reports the latest job state plus a stall diagnosis: a
// running job whose heartbeat went quiet for longer than the stall timeout
// while work remains is stuck, not slow.
func (m *Manager) GetQueueStatus(ctx context.Context) (*QueueStatus, error) {
	pending, err := m.store.CountFacesMissingEmbedding(ctx)
	if err != nil {
		return nil, err
	}

	job, err := m.store.LatestJob(ctx, store.JobKindRegenerate)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &QueueStatus{Status: store.JobStatusIdle, Pending: pending}, nil
	}

	stalled := job.Status == store.JobStatusRunning &&
		job.Processed < job.Total &&
		time.Since(job.LastHeartbeat) > m.stallTimeout

	return &QueueStatus{
		Status:       job.Status,
		JobID:        job.ID,
		Processed:    job.Processed,
		Total:        job.Total,
		SuccessCount: job.SuccessCount,
		FailedCount:  job.FailedCount,
		Pending:      pending,
		Stalled:      stalled,
	}, nil
}

// Wait blocks until the current worker goroutine exits. Returns immediately
// when nothing is running.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// run is the worker loop. It owns its own context: jobs outlive the HTTP
// request or CLI invocation that started them.
func (m *Manager) run() {
	ctx := context.Background()
	defer func() {
		m.mu.Lock()
		m.running = false
		close(m.done)
		m.mu.Unlock()
	}()

	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		if m.pausing {
			job := m.job
			m.mu.Unlock()
			if err := m.store.SetJobStatus(ctx, job.ID, store.JobStatusPaused, nil); err != nil {
				log.Printf("regen %s: marking paused: %v", job.ID, err)
			}
			job.Status = store.JobStatusPaused
			m.publishStatus(store.JobStatusPaused)
			return
		}
		if m.pos >= len(m.queue) {
			m.mu.Unlock()
			m.complete(ctx)
			return
		}
		faceID := m.queue[m.pos]
		m.pos++
		job := m.job
		m.mu.Unlock()

		if err := m.processFace(ctx, job, faceID); err != nil {
			// Storage failure, not an embedding failure: the job cannot make
			// trustworthy progress, so it fails outright.
			log.Printf("regen %s: %v", job.ID, err)
			ended := time.Now().UTC()
			if serr := m.store.SetJobStatus(ctx, job.ID, store.JobStatusFailed, &ended); serr != nil {
				log.Printf("regen %s: marking failed: %v", job.ID, serr)
			}
			job.Status = store.JobStatusFailed
			m.publishStatus(store.JobStatusFailed)
			return
		}
	}
}

// processFace embeds a single face. Embedding failures are recorded against
// the job and the loop continues; only persistence errors propagate.
func (m *Manager) processFace(ctx context.Context, job *store.Job, faceID int64) error {
	embedding, embedErr := m.embedFace(ctx, faceID)
	if embedErr != nil {
		job.FailedCount++
		if err := m.store.AddJobError(ctx, job.ID, faceID, embedErr.Error()); err != nil {
			return err
		}
	} else {
		if err := m.store.UpdateFaceEmbedding(ctx, faceID, embedding); err != nil {
			return err
		}
		if m.idx != nil {
			m.idx.Add(index.Entry{ID: faceID, Embedding: embedding})
		}
		job.SuccessCount++
	}

	job.Processed++
	job.LastHeartbeat = time.Now().UTC()
	if err := m.store.UpdateJobProgress(ctx, job); err != nil {
		return err
	}

	m.bus.Publish(events.Event{
		Type: events.TypeProgress,
		Data: events.Progress{
			JobID:        job.ID,
			Processed:    job.Processed,
			Total:        job.Total,
			SuccessCount: job.SuccessCount,
			FailedCount:  job.FailedCount,
		},
	})
	return nil
}

// embedFace crops the face out of its photo and asks the embedder for a
// vector.
func (m *Manager) embedFace(ctx context.Context, faceID int64) ([]float32, error) {
	face, err := m.store.GetFace(ctx, faceID)
	if err != nil {
		return nil, err
	}
	photo, err := m.store.GetPhoto(ctx, face.PhotoID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(photo.FilePath)
	if err != nil {
		return nil, fmt.Errorf("reading photo %s: %w", face.PhotoID, err)
	}
	crop, err := embed.CropFace(data, face.Box)
	if err != nil {
		return nil, err
	}
	return m.embedder.Embed(ctx, crop)
}

// complete finishes the job and triggers the follow-up pipeline: recluster
// the fresh embeddings and sweep persons the recluster left empty.
func (m *Manager) complete(ctx context.Context) {
	m.mu.Lock()
	job := m.job
	m.mu.Unlock()

	ended := time.Now().UTC()
	if err := m.store.SetJobStatus(ctx, job.ID, store.JobStatusCompleted, &ended); err != nil {
		log.Printf("regen %s: marking completed: %v", job.ID, err)
		return
	}
	job.Status = store.JobStatusCompleted
	job.EndedAt = &ended
	m.publishStatus(store.JobStatusCompleted)
	log.Printf("regen %s: completed, %d ok, %d failed", job.ID, job.SuccessCount, job.FailedCount)

	if _, err := m.matcher.AutoMatch(ctx); err != nil {
		log.Printf("regen %s: auto-match after completion: %v", job.ID, err)
	}
	if _, err := m.matcher.CleanupEmptyPersons(ctx); err != nil {
		log.Printf("regen %s: cleanup after completion: %v", job.ID, err)
	}
	if m.idx != nil {
		if err := m.idx.Save(); err != nil {
			log.Printf("regen %s: saving index: %v", job.ID, err)
		}
	}
}

func (m *Manager) publishStatus(status store.JobStatus) {
	m.bus.Publish(events.Event{Type: events.TypeStatus, Data: map[string]string{"status": string(status)}})
}

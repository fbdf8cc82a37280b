package regen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Adioame/PhotoMind-sub002/internal/cluster"
	"github.com/Adioame/PhotoMind-sub002/internal/events"
	"github.com/Adioame/PhotoMind-sub002/internal/people"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

// fakeEmbedder returns a fixed vector, optionally failing on one call.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	failCall int // 1-based call number that fails, 0 = never
	vec      []float32
}

func (e *fakeEmbedder) Embed(ctx context.Context, faceImage []byte) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	if call == e.failCall {
		return nil, errors.New("embedder timeout")
	}
	return e.vec, nil
}

// gateEmbedder blocks each call until the test releases it, making pause
// points deterministic.
type gateEmbedder struct {
	started chan struct{}
	release chan struct{}
}

func (e *gateEmbedder) Embed(ctx context.Context, faceImage []byte) ([]float32, error) {
	e.started <- struct{}{}
	<-e.release
	return []float32{1, 0, 0}, nil
}

func newTestManager(t *testing.T, embedder interface {
	Embed(ctx context.Context, faceImage []byte) ([]float32, error)
}) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{
		Driver:       store.DriverSQLite,
		DSN:          ":memory:",
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bus := events.NewBus()
	registry := people.NewRegistry(s, bus)
	matcher := cluster.NewMatcher(s, registry, nil, bus, 0.5, 2)
	m := NewManager(s, embedder, matcher, nil, bus, 30*time.Second)
	return m, s
}

// seedFaces writes one shared photo file and inserts n faces on it, all
// lacking embeddings. Returns face ids in insertion order.
func seedFaces(t *testing.T, s *store.Store, n int) []int64 {
	t.Helper()
	ctx := context.Background()

	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for x := 0; x < 100; x++ {
		for y := 0; y < 100; y++ {
			img.Set(x, y, color.RGBA{R: 180, G: 160, B: 140, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "group.jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.UpsertPhoto(ctx, store.Photo{ID: "group", FilePath: path}); err != nil {
		t.Fatalf("photo: %v", err)
	}

	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		id, err := s.InsertFace(ctx, &store.Face{
			PhotoID:    "group",
			Box:        store.BoundingBox{X: 0.2, Y: 0.2, W: 0.4, H: 0.4},
			Confidence: 0.9,
		})
		if err != nil {
			t.Fatalf("face %d: %v", i, err)
		}
		ids[i] = id
	}
	return ids
}

func waitForJob(t *testing.T, s *store.Store, jobID string, want store.JobStatus) *store.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

func TestRunToCompletion(t *testing.T) {
	m, s := newTestManager(t, &fakeEmbedder{vec: []float32{1, 0, 0}})
	ctx := context.Background()
	seedFaces(t, s, 3)

	job, err := m.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Wait()

	got := waitForJob(t, s, job.ID, store.JobStatusCompleted)
	if got.Processed != 3 || got.SuccessCount != 3 || got.FailedCount != 0 {
		t.Errorf("unexpected counters: %+v", got)
	}
	if got.EndedAt == nil {
		t.Error("completed job should have ended_at")
	}

	missing, err := s.CountFacesMissingEmbedding(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if missing != 0 {
		t.Errorf("%d faces still missing embeddings", missing)
	}
}

// 100 pending faces with exactly one embedder failure: the job completes
// with 99 successes, 1 failure, and a single error entry naming the face.
func TestPartialFailure(t *testing.T) {
	m, s := newTestManager(t, &fakeEmbedder{vec: []float32{1, 0, 0}, failCall: 47})
	ctx := context.Background()
	ids := seedFaces(t, s, 100)

	job, err := m.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.Total != 100 {
		t.Fatalf("total = %d, want 100", job.Total)
	}
	m.Wait()

	got := waitForJob(t, s, job.ID, store.JobStatusCompleted)
	if got.Processed != 100 || got.SuccessCount != 99 || got.FailedCount != 1 {
		t.Errorf("unexpected counters: %+v", got)
	}

	jobErrors, err := s.ListJobErrors(ctx, job.ID)
	if err != nil {
		t.Fatalf("list errors: %v", err)
	}
	if len(jobErrors) != 1 {
		t.Fatalf("expected exactly 1 error, got %d", len(jobErrors))
	}
	if jobErrors[0].FaceID != ids[46] {
		t.Errorf("error face = %d, want %d", jobErrors[0].FaceID, ids[46])
	}
}

func TestPauseAndResume(t *testing.T) {
	ge := &gateEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	m, s := newTestManager(t, ge)
	ctx := context.Background()
	seedFaces(t, s, 3)

	job, err := m.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Let item 1 begin, request pause, then let it finish. The in-flight
	// item completes; the worker parks before item 2.
	<-ge.started
	if err := m.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	ge.release <- struct{}{}
	m.Wait()

	paused := waitForJob(t, s, job.ID, store.JobStatusPaused)
	if paused.Processed != 1 {
		t.Errorf("processed = %d, want 1", paused.Processed)
	}

	// A second start resumes the same job at the paused index.
	resumed, err := m.Start(ctx, false)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != job.ID {
		t.Errorf("resume created a new job %s, want %s", resumed.ID, job.ID)
	}
	for i := 0; i < 2; i++ {
		<-ge.started
		ge.release <- struct{}{}
	}
	m.Wait()

	done := waitForJob(t, s, job.ID, store.JobStatusCompleted)
	if done.Processed != 3 || done.SuccessCount != 3 {
		t.Errorf("unexpected counters after resume: %+v", done)
	}
}

func TestPauseWithoutRunningJob(t *testing.T) {
	m, _ := newTestManager(t, &fakeEmbedder{vec: []float32{1}})
	if err := m.Pause(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestStartConflictsWithRunningJob(t *testing.T) {
	ge := &gateEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	m, s := newTestManager(t, ge)
	ctx := context.Background()
	seedFaces(t, s, 1)

	if _, err := m.Start(ctx, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-ge.started

	if _, err := m.Start(ctx, false); !errors.Is(err, ErrJobConflict) {
		t.Errorf("expected ErrJobConflict, got %v", err)
	}

	ge.release <- struct{}{}
	m.Wait()
}

// A paused job in the database with no in-memory worker (process restart)
// resumes by rebuilding the queue from faces still missing embeddings, so
// completed items are never reprocessed.
func TestResumeAfterRestart(t *testing.T) {
	ge := &gateEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	m1, s := newTestManager(t, ge)
	ctx := context.Background()
	seedFaces(t, s, 3)

	job, err := m1.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-ge.started
	if err := m1.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	ge.release <- struct{}{}
	m1.Wait()
	waitForJob(t, s, job.ID, store.JobStatusPaused)

	// "Restart": a fresh manager over the same store, counting embedder
	// calls to prove only the remainder is reprocessed.
	fe := &fakeEmbedder{vec: []float32{1, 0, 0}}
	bus := events.NewBus()
	registry := people.NewRegistry(s, bus)
	matcher := cluster.NewMatcher(s, registry, nil, bus, 0.5, 2)
	m2 := NewManager(s, fe, matcher, nil, bus, 30*time.Second)

	resumed, err := m2.Start(ctx, false)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != job.ID {
		t.Errorf("restart resumed job %s, want %s", resumed.ID, job.ID)
	}
	m2.Wait()

	done := waitForJob(t, s, job.ID, store.JobStatusCompleted)
	if done.Processed != 3 || done.SuccessCount+done.FailedCount != done.Total {
		t.Errorf("unexpected counters: %+v", done)
	}
	if fe.calls != 2 {
		t.Errorf("remainder should be 2 faces, embedder saw %d calls", fe.calls)
	}
}

// gateFailEmbedder gates like gateEmbedder but fails one call, so a pause
// point can land right after a counted failure.
type gateFailEmbedder struct {
	started  chan struct{}
	release  chan struct{}
	calls    int
	failCall int
}

func (e *gateFailEmbedder) Embed(ctx context.Context, faceImage []byte) ([]float32, error) {
	e.started <- struct{}{}
	<-e.release
	e.calls++
	if e.calls == e.failCall {
		return nil, errors.New("embedder timeout")
	}
	return []float32{1, 0, 0}, nil
}

// A face the paused run already counted as failed still lacks an embedding,
// but the rebuilt queue must skip it: reprocessing would end the job with
// processed > total and a duplicate error row.
func TestResumeAfterRestartSkipsFailedFaces(t *testing.T) {
	ge := &gateFailEmbedder{started: make(chan struct{}), release: make(chan struct{}), failCall: 2}
	m1, s := newTestManager(t, ge)
	ctx := context.Background()
	ids := seedFaces(t, s, 4)

	job, err := m1.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// Item 1 succeeds, item 2 fails; pause lands after item 2 is counted.
	<-ge.started
	ge.release <- struct{}{}
	<-ge.started
	if err := m1.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	ge.release <- struct{}{}
	m1.Wait()

	paused := waitForJob(t, s, job.ID, store.JobStatusPaused)
	if paused.Processed != 2 || paused.FailedCount != 1 {
		t.Fatalf("unexpected counters at pause: %+v", paused)
	}

	fe := &fakeEmbedder{vec: []float32{1, 0, 0}}
	bus := events.NewBus()
	registry := people.NewRegistry(s, bus)
	matcher := cluster.NewMatcher(s, registry, nil, bus, 0.5, 2)
	m2 := NewManager(s, fe, matcher, nil, bus, 30*time.Second)

	resumed, err := m2.Start(ctx, false)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != job.ID {
		t.Fatalf("restart resumed job %s, want %s", resumed.ID, job.ID)
	}
	m2.Wait()

	done := waitForJob(t, s, job.ID, store.JobStatusCompleted)
	if done.Processed != 4 || done.Processed > done.Total {
		t.Errorf("processed = %d, total = %d; must never exceed total", done.Processed, done.Total)
	}
	if done.SuccessCount != 3 || done.FailedCount != 1 {
		t.Errorf("unexpected counters: %+v", done)
	}
	if fe.calls != 2 {
		t.Errorf("remainder should be 2 faces, embedder saw %d calls", fe.calls)
	}
	jobErrors, err := s.ListJobErrors(ctx, job.ID)
	if err != nil {
		t.Fatalf("list errors: %v", err)
	}
	if len(jobErrors) != 1 || jobErrors[0].FaceID != ids[1] {
		t.Errorf("expected one error row for face %d, got %+v", ids[1], jobErrors)
	}
}

func TestResetClearsCounters(t *testing.T) {
	ge := &gateEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	m, s := newTestManager(t, ge)
	ctx := context.Background()
	ids := seedFaces(t, s, 3)

	job, err := m.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-ge.started
	if err := m.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	ge.release <- struct{}{}
	m.Wait()
	waitForJob(t, s, job.ID, store.JobStatusPaused)

	if err := m.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.JobStatusIdle || got.Processed != 0 || got.SuccessCount != 0 {
		t.Errorf("unexpected job after reset: %+v", got)
	}
	jobErrors, err := s.ListJobErrors(ctx, job.ID)
	if err != nil {
		t.Fatalf("errors: %v", err)
	}
	if len(jobErrors) != 0 {
		t.Errorf("reset must clear job errors, got %d", len(jobErrors))
	}

	// The successful embedding from the first run is untouched.
	face, err := s.GetFace(ctx, ids[0])
	if err != nil {
		t.Fatalf("face: %v", err)
	}
	if !face.HasEmbedding() {
		t.Error("reset must not discard computed embeddings")
	}
}

// A running job whose heartbeat went quiet is reported stalled; ResetQueue
// frees the slot without touching counters, and a new start picks up only
// the remaining faces.
func TestStallDiagnosisAndResetQueue(t *testing.T) {
	m, s := newTestManager(t, &fakeEmbedder{vec: []float32{1, 0, 0}})
	ctx := context.Background()
	ids := seedFaces(t, s, 3)

	// Simulate a crashed worker: a running row, one face already embedded,
	// heartbeat far in the past.
	stale := time.Now().UTC().Add(-5 * time.Minute)
	job := &store.Job{
		ID:            "stuck",
		Kind:          store.JobKindRegenerate,
		Status:        store.JobStatusRunning,
		Total:         3,
		Processed:     1,
		SuccessCount:  1,
		StartedAt:     stale,
		LastHeartbeat: stale,
	}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if err := s.UpdateFaceEmbedding(ctx, ids[0], []float32{1, 0, 0}); err != nil {
		t.Fatalf("embed: %v", err)
	}

	status, err := m.GetQueueStatus(ctx)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if !status.Stalled {
		t.Fatalf("expected stalled, got %+v", status)
	}
	if status.Pending != 2 {
		t.Errorf("pending = %d, want 2", status.Pending)
	}

	// Starting over a stuck running job is a conflict until ResetQueue.
	if _, err := m.Start(ctx, false); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected ErrJobConflict, got %v", err)
	}

	if err := m.ResetQueue(ctx); err != nil {
		t.Fatalf("reset queue: %v", err)
	}
	got, err := s.GetJob(ctx, "stuck")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.JobStatusIdle {
		t.Errorf("status = %s, want idle", got.Status)
	}
	if got.SuccessCount != 1 {
		t.Errorf("success_count = %d, want 1 (unchanged)", got.SuccessCount)
	}

	fresh, err := m.Start(ctx, false)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if fresh.Total != 2 {
		t.Errorf("new job should cover only the 2 remaining faces, got %d", fresh.Total)
	}
	m.Wait()
	waitForJob(t, s, fresh.ID, store.JobStatusCompleted)
}

// Completion triggers clustering: identical embeddings end up on one
// person.
func TestCompletionTriggersAutoMatch(t *testing.T) {
	m, s := newTestManager(t, &fakeEmbedder{vec: []float32{1, 0, 0}})
	ctx := context.Background()
	seedFaces(t, s, 2)

	if _, err := m.Start(ctx, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Wait()

	persons, err := s.ListPersons(ctx)
	if err != nil {
		t.Fatalf("list persons: %v", err)
	}
	if len(persons) != 1 {
		t.Fatalf("expected 1 person after recluster, got %d", len(persons))
	}
	if persons[0].FaceCount != 2 {
		t.Errorf("face_count = %d, want 2", persons[0].FaceCount)
	}
}

func TestForceRequeuesEverything(t *testing.T) {
	fe := &fakeEmbedder{vec: []float32{1, 0, 0}}
	m, s := newTestManager(t, fe)
	ctx := context.Background()
	ids := seedFaces(t, s, 2)

	if err := s.UpdateFaceEmbedding(ctx, ids[0], []float32{0, 1, 0}); err != nil {
		t.Fatalf("embed: %v", err)
	}

	job, err := m.Start(ctx, true)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.Total != 2 {
		t.Fatalf("force should queue all faces, got total %d", job.Total)
	}
	m.Wait()
	waitForJob(t, s, job.ID, store.JobStatusCompleted)

	face, err := s.GetFace(ctx, ids[0])
	if err != nil {
		t.Fatalf("face: %v", err)
	}
	if face.Embedding[0] != 1 {
		t.Errorf("force should overwrite the existing embedding, got %v", face.Embedding)
	}
}

func TestGetProgressEmpty(t *testing.T) {
	m, _ := newTestManager(t, &fakeEmbedder{vec: []float32{1}})
	p, err := m.GetProgress(context.Background())
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Job != nil {
		t.Errorf("expected empty snapshot, got %+v", p.Job)
	}
}

func TestGetProgressReportsErrors(t *testing.T) {
	m, s := newTestManager(t, &fakeEmbedder{vec: []float32{1, 0, 0}, failCall: 2})
	ctx := context.Background()
	seedFaces(t, s, 3)

	job, err := m.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Wait()
	waitForJob(t, s, job.ID, store.JobStatusCompleted)

	p, err := m.GetProgress(ctx)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Job == nil || p.Job.ID != job.ID {
		t.Fatalf("unexpected snapshot: %+v", p)
	}
	if len(p.Errors) != 1 {
		t.Errorf("expected 1 error in snapshot, got %d", len(p.Errors))
	}
}

package store

import "time"

// BoundingBox locates a detected face within a photo, in raw pixel
// coordinates of the original image.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Point is a single facial landmark coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Photo is the minimal surface of the external photo store that the
// pipeline reads. The pipeline never mutates photos.
type Photo struct {
	ID         string    `json:"id"`
	FilePath   string    `json:"file_path"`
	ImportedAt time.Time `json:"imported_at"`
}

// Face is a detected face. It is created by detection with no embedding and
// no person, gains an embedding during regeneration, and gains a person
// through matching or manual assignment.
type Face struct {
	ID         int64       `json:"id"`
	PhotoID    string      `json:"photo_id"`
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	Embedding  []float32   `json:"-"`
	PersonID   *string     `json:"person_id,omitempty"`
	IsManual   bool        `json:"is_manual"`
	Landmarks  []Point     `json:"landmarks,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// HasEmbedding reports whether an embedding has been computed for the face.
func (f *Face) HasEmbedding() bool {
	return len(f.Embedding) > 0
}

// Person is an identity aggregate over faces. FaceCount is derived from
// face rows and cached; it is only ever written by recounting.
type Person struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	FaceCount   int       `json:"face_count"`
	AvatarPath  string    `json:"avatar_path,omitempty"`
	IsManual    bool      `json:"is_manual"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobKind identifies the type of background work a job drives.
type JobKind string

const (
	JobKindScan       JobKind = "scan"
	JobKindRegenerate JobKind = "regenerate"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// NonTerminal reports whether the status still holds the per-kind job slot.
// At most one job per kind may be non-terminal at a time.
func (s JobStatus) NonTerminal() bool {
	return s == JobStatusRunning || s == JobStatusPaused
}

// Job is a persisted background job record. Progress is written after every
// item so a crash mid-batch loses at most the in-flight item.
type Job struct {
	ID            string     `json:"id"`
	Kind          JobKind    `json:"kind"`
	Status        JobStatus  `json:"status"`
	Total         int        `json:"total"`
	Processed     int        `json:"processed"`
	SuccessCount  int        `json:"success_count"`
	FailedCount   int        `json:"failed_count"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}

// JobError records a single per-item failure inside a job.
type JobError struct {
	JobID     string    `json:"job_id"`
	FaceID    int64     `json:"face_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

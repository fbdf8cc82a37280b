// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face matching constants
const (
	// DefaultMatchThreshold is the minimum cosine similarity required to
	// assign a face to an existing person or to link two unassigned faces
	// into the same cluster
	DefaultMatchThreshold = 0.5

	// DefaultMinClusterSize is the minimum number of faces an automatic
	// cluster must contain before it becomes a person; smaller groups stay
	// in the unnamed pool
	DefaultMinClusterSize = 2

	// DefaultMinDetConfidence is the minimum detection score for a candidate
	// box to be stored as a face
	DefaultMinDetConfidence = 0.6

	// DefaultSimilarLimit is the default number of neighbors returned by
	// similar-face lookups
	DefaultSimilarLimit = 20
)

// Job constants
const (
	// DefaultStallTimeoutSeconds is how long a running job may go without a
	// heartbeat before it is reported as stalled
	DefaultStallTimeoutSeconds = 30

	// EventChannelBuffer is the buffer size for event listener channels
	EventChannelBuffer = 100
)

// Image processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) for images
	// sent to the detection model
	MaxImageSize = 1920

	// FaceCropMargin is the fraction of the bounding box added on each side
	// when cropping a face for embedding
	FaceCropMargin = 0.25

	// FaceCropSize is the edge length of the square crop sent to the embedder
	FaceCropSize = 160
)

// Embedding constants
const (
	// DefaultEmbeddingDim is the expected dimensionality of face embeddings
	DefaultEmbeddingDim = 512
)

// HNSW index constants
const (
	// HNSWMaxNeighbors is the M parameter of the HNSW graph
	HNSWMaxNeighbors = 16
)

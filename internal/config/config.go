package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Detector   DetectorConfig
	Embedder   EmbedderConfig
	Database   DatabaseConfig
	Matching   MatchingConfig
	Jobs       JobsConfig
	LibraryDir string // root directory of the photo library
}

type DetectorConfig struct {
	URL string // detection model server, defaults to http://localhost:8000
}

type EmbedderConfig struct {
	URL   string // embedding model server, defaults to the detector URL
	Model string // model name requested from the embedding server
	Dim   int    // expected face embedding dimensionality
}

type DatabaseConfig struct {
	Driver       string // "sqlite" (default) or "postgres"
	DSN          string // postgres connection URL, or sqlite file path
	MaxOpenConns int
	MaxIdleConns int
	HNSWIndexPath string // optional path to persist the face HNSW index
}

type MatchingConfig struct {
	Threshold      float64 // minimum cosine similarity for a person match
	MinClusterSize int     // minimum faces for a new automatic person
	MinConfidence  float64 // minimum detection score to keep a face
	SimilarLimit   int     // default neighbor count for similar-face lookups
}

type JobsConfig struct {
	StallTimeout time.Duration
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	d := loadDefaults()

	embedderURL := os.Getenv("EMBEDDER_URL")
	if embedderURL == "" {
		embedderURL = os.Getenv("DETECTOR_URL")
	}

	return &Config{
		Detector: DetectorConfig{
			URL: os.Getenv("DETECTOR_URL"),
		},
		Embedder: EmbedderConfig{
			URL:   embedderURL,
			Model: envString("EMBEDDER_MODEL", d.Embedding.Model),
			Dim:   envInt("EMBEDDING_DIM", d.Embedding.Dim),
		},
		Database: DatabaseConfig{
			Driver:        envString("DATABASE_DRIVER", "sqlite"),
			DSN:           envString("DATABASE_DSN", "photomind.db"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Matching: MatchingConfig{
			Threshold:      envFloat("MATCH_THRESHOLD", d.Matching.Threshold),
			MinClusterSize: envInt("MIN_CLUSTER_SIZE", d.Matching.MinClusterSize),
			MinConfidence:  envFloat("MIN_DET_CONFIDENCE", d.Matching.MinConfidence),
			SimilarLimit:   envInt("SIMILAR_LIMIT", d.Matching.SimilarLimit),
		},
		Jobs: JobsConfig{
			StallTimeout: time.Duration(envInt("JOB_STALL_TIMEOUT_SECONDS", d.Jobs.StallTimeoutSeconds)) * time.Second,
		},
		LibraryDir: os.Getenv("LIBRARY_DIR"),
	}
}

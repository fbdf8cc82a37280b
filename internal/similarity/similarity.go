// Package similarity provides pure vector math over face embeddings.
// All functions are stateless and perform no I/O.
package similarity

import (
	"fmt"
	"math"
	"sort"
)

// DimensionMismatchError reports an attempt to compare vectors of different
// lengths. This is a programmer or data error, never silently truncated.
type DimensionMismatchError struct {
	LenA int
	LenB int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: %d != %d", e.LenA, e.LenB)
}

// Cosine computes the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical direction.
// Returns 0 for zero-norm vectors to guard against division by zero.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{LenA: len(a), LenB: len(b)}
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// Candidate is an embedding with a stable identifier, used for ranking.
type Candidate struct {
	ID        int64
	Embedding []float32
}

// Score is a candidate id paired with its similarity to some query.
type Score struct {
	ID    int64
	Value float64
}

// BatchScores computes the similarity of every candidate to the query.
// Candidates whose embeddings do not match the query dimensionality fail the
// whole call rather than being skipped.
func BatchScores(query []float32, candidates []Candidate) ([]Score, error) {
	scores := make([]Score, 0, len(candidates))
	for _, c := range candidates {
		sim, err := Cosine(query, c.Embedding)
		if err != nil {
			return nil, fmt.Errorf("scoring candidate %d: %w", c.ID, err)
		}
		scores = append(scores, Score{ID: c.ID, Value: sim})
	}
	return scores, nil
}

// TopK filters scores below minScore and returns up to k results sorted by
// descending similarity. Ties are broken by ascending candidate id so the
// ordering is deterministic and reproducible.
func TopK(scores []Score, k int, minScore float64) []Score {
	filtered := make([]Score, 0, len(scores))
	for _, s := range scores {
		if s.Value >= minScore {
			filtered = append(filtered, s)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Value != filtered[j].Value {
			return filtered[i].Value > filtered[j].Value
		}
		return filtered[i].ID < filtered[j].ID
	})

	if k >= 0 && len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered
}

package similarity

import (
	"errors"
	"math"
	"testing"
)

func TestCosineIdenticalVectors(t *testing.T) {
	v := []float32{0.3, -0.5, 0.8, 0.1}
	sim, err := Cosine(v, v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(sim-1.0) > 1e-9 {
		t.Errorf("expected similarity ~1.0, got %f", sim)
	}
}

func TestCosineSymmetry(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-2, 0.5, 4}

	ab, err := Cosine(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ba, err := Cosine(b, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ab != ba {
		t.Errorf("expected symmetric similarity, got %f and %f", ab, ba)
	}
}

func TestCosineOrthogonal(t *testing.T) {
	sim, err := Cosine([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(sim) > 1e-9 {
		t.Errorf("expected similarity 0 for orthogonal vectors, got %f", sim)
	}
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := Cosine([]float32{1, 2}, []float32{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionMismatchError, got %T", err)
	}
	if dimErr.LenA != 2 || dimErr.LenB != 3 {
		t.Errorf("expected lengths 2 and 3, got %d and %d", dimErr.LenA, dimErr.LenB)
	}
}

func TestCosineZeroNorm(t *testing.T) {
	sim, err := Cosine([]float32{0, 0, 0}, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sim != 0 {
		t.Errorf("expected similarity 0 for zero vector, got %f", sim)
	}
}

func TestBatchScoresFailsOnDimensionMismatch(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{ID: 1, Embedding: []float32{1, 0}},
		{ID: 2, Embedding: []float32{1, 0, 0}},
	}
	_, err := BatchScores(query, candidates)
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
}

func TestTopKOrderingAndThreshold(t *testing.T) {
	scores := []Score{
		{ID: 5, Value: 0.9},
		{ID: 2, Value: 0.3},
		{ID: 9, Value: 0.9},
		{ID: 1, Value: 0.7},
		{ID: 4, Value: 0.5},
	}

	got := TopK(scores, 3, 0.5)
	want := []Score{{ID: 5, Value: 0.9}, {ID: 9, Value: 0.9}, {ID: 1, Value: 0.7}}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestTopKTiesBrokenByAscendingID(t *testing.T) {
	scores := []Score{
		{ID: 30, Value: 0.8},
		{ID: 10, Value: 0.8},
		{ID: 20, Value: 0.8},
	}
	got := TopK(scores, 10, 0)
	for i, wantID := range []int64{10, 20, 30} {
		if got[i].ID != wantID {
			t.Errorf("position %d: expected id %d, got %d", i, wantID, got[i].ID)
		}
	}
}

func TestTopKEmptyInput(t *testing.T) {
	if got := TopK(nil, 5, 0.5); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

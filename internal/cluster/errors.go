package cluster

import (
	"errors"
	"fmt"
)

// ErrInvalidMergeRequest is returned when a merge names the same person
// twice or references a person that does not exist.
var ErrInvalidMergeRequest = errors.New("invalid merge request")

// ErrAmbiguousSplitTarget is returned when a split supplies neither or both
// of a new person name and an existing person id.
var ErrAmbiguousSplitTarget = errors.New("split requires exactly one of a new name or an existing person")

// ErrNoEmbedding is returned when an operation needs an embedding the face
// does not have yet.
var ErrNoEmbedding = errors.New("face has no embedding")

// ExistingPersonConflictError reports that a requested new person name
// already belongs to an existing person, so the caller can offer "assign
// instead of create" rather than silently merging.
type ExistingPersonConflictError struct {
	PersonID string
	Name     string
}

func (e *ExistingPersonConflictError) Error() string {
	return fmt.Sprintf("person named %q already exists (id %s)", e.Name, e.PersonID)
}

// Package cluster converts face embeddings into person assignments and
// exposes the manual correction operations (assign, unmatch, merge, split).
// Every membership mutation recounts the affected persons through the
// registry inside the same transaction.
package cluster

import (
	"context"
	"fmt"
	"log"

	"github.com/Adioame/PhotoMind-sub002/internal/events"
	"github.com/Adioame/PhotoMind-sub002/internal/index"
	"github.com/Adioame/PhotoMind-sub002/internal/people"
	"github.com/Adioame/PhotoMind-sub002/internal/similarity"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

// Matcher assigns faces to persons by embedding similarity.
type Matcher struct {
	store    *store.Store
	registry *people.Registry
	idx      *index.Index // optional ANN accelerator, may be nil
	bus      *events.Bus

	threshold      float64
	minClusterSize int
}

// NewMatcher creates a cluster matcher. idx may be nil, in which case
// similar-face lookups fall back to an exact scan.
func NewMatcher(s *store.Store, registry *people.Registry, idx *index.Index, bus *events.Bus,
	threshold float64, minClusterSize int) *Matcher {
	return &Matcher{
		store:          s,
		registry:       registry,
		idx:            idx,
		bus:            bus,
		threshold:      threshold,
		minClusterSize: minClusterSize,
	}
}

// Result summarizes an AutoMatch run.
type Result struct {
	MatchedToExisting int `json:"matched_to_existing"`
	NewPersons        int `json:"new_persons"`
	Clustered         int `json:"clustered"`
	LeftUnassigned    int `json:"left_unassigned"`
}

// AutoMatch assigns every embedded, unassigned face to a person. Faces
// similar enough to an existing person's members join that person; the rest
// are grouped by transitive closure over pairwise similarity and each group
// reaching the minimum size becomes a new unnamed person. Person similarity
// is max-over-members rather than a centroid: centroids blur accessories
// and poses.
func (m *Matcher) AutoMatch(ctx context.Context) (*Result, error) {
	unassigned, err := m.store.ListUnassignedEmbeddedFaces(ctx)
	if err != nil {
		return nil, err
	}
	if len(unassigned) == 0 {
		return &Result{}, nil
	}

	members, err := m.loadPersonMembers(ctx)
	if err != nil {
		return nil, err
	}

	var result Result
	var remaining []store.Face

	// Phase 1: nearest-neighbor-to-cluster against a fixed snapshot of
	// person members, so the outcome does not depend on processing order.
	for _, face := range unassigned {
		personID, best, err := bestPerson(face.Embedding, members)
		if err != nil {
			return nil, fmt.Errorf("matching face %d: %w", face.ID, err)
		}
		if personID != "" && best >= m.threshold {
			if err := m.assignOne(ctx, face.ID, personID, false); err != nil {
				return nil, err
			}
			result.MatchedToExisting++
			continue
		}
		remaining = append(remaining, face)
	}

	// Phase 2: transitive closure among the leftovers. If A-B and B-C both
	// clear the threshold, A, B and C land in one person even when A-C
	// alone would not.
	uf := newUnionFind(len(remaining))
	for i := 0; i < len(remaining); i++ {
		for j := i + 1; j < len(remaining); j++ {
			sim, err := similarity.Cosine(remaining[i].Embedding, remaining[j].Embedding)
			if err != nil {
				return nil, fmt.Errorf("comparing faces %d and %d: %w", remaining[i].ID, remaining[j].ID, err)
			}
			if sim >= m.threshold {
				uf.union(i, j)
			}
		}
	}

	for _, group := range uf.groups() {
		if len(group) < m.minClusterSize {
			result.LeftUnassigned += len(group)
			continue
		}
		err := m.store.WithTx(ctx, func(q store.Querier) error {
			person, err := m.registry.CreateAuto(ctx, q, "")
			if err != nil {
				return err
			}
			for _, idx := range group {
				if err := m.store.SetFacePerson(ctx, q, remaining[idx].ID, &person.ID, false); err != nil {
					return err
				}
			}
			return m.registry.Recount(ctx, q, person.ID)
		})
		if err != nil {
			return nil, err
		}
		result.NewPersons++
		result.Clustered += len(group)
	}

	log.Printf("auto-match: %d to existing persons, %d new persons (%d faces), %d left unassigned",
		result.MatchedToExisting, result.NewPersons, result.Clustered, result.LeftUnassigned)
	m.bus.Publish(events.Event{Type: events.TypePeopleUpdated, Data: result})
	return &result, nil
}

// Neighbor is a similar face with its similarity to the query.
type Neighbor struct {
	Face       store.Face `json:"face"`
	Similarity float64    `json:"similarity"`
}

// FindSimilar returns the k faces most similar to the given face, excluding
// the face itself. Uses the ANN index when it is warm, otherwise an exact
// scan; both paths order by descending similarity with ties broken by
// ascending face id.
func (m *Matcher) FindSimilar(ctx context.Context, faceID int64, k int) ([]Neighbor, error) {
	face, err := m.store.GetFace(ctx, faceID)
	if err != nil {
		return nil, err
	}
	if !face.HasEmbedding() {
		return nil, fmt.Errorf("face %d: %w", faceID, ErrNoEmbedding)
	}

	if m.idx != nil && m.idx.Ready() {
		return m.findSimilarIndexed(ctx, face, k)
	}
	return m.findSimilarExact(ctx, face, k)
}

func (m *Matcher) findSimilarIndexed(ctx context.Context, face *store.Face, k int) ([]Neighbor, error) {
	// Overfetch by one so the query face can be dropped.
	found, err := m.idx.Search(face.Embedding, k+1)
	if err != nil {
		return nil, err
	}
	neighbors := make([]Neighbor, 0, k)
	for _, n := range found {
		if n.ID == face.ID {
			continue
		}
		f, err := m.store.GetFace(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, Neighbor{Face: *f, Similarity: n.Similarity})
		if len(neighbors) == k {
			break
		}
	}
	return neighbors, nil
}

func (m *Matcher) findSimilarExact(ctx context.Context, face *store.Face, k int) ([]Neighbor, error) {
	all, err := m.store.ListEmbeddedFaces(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]store.Face, len(all))
	candidates := make([]similarity.Candidate, 0, len(all))
	for _, f := range all {
		if f.ID == face.ID {
			continue
		}
		byID[f.ID] = f
		candidates = append(candidates, similarity.Candidate{ID: f.ID, Embedding: f.Embedding})
	}

	scores, err := similarity.BatchScores(face.Embedding, candidates)
	if err != nil {
		return nil, err
	}
	top := similarity.TopK(scores, k, -1)

	neighbors := make([]Neighbor, 0, len(top))
	for _, s := range top {
		f := byID[s.ID]
		neighbors = append(neighbors, Neighbor{Face: f, Similarity: s.Value})
	}
	return neighbors, nil
}

// Assign manually attaches the given faces to a person, recounting the
// target and every person the faces previously belonged to.
func (m *Matcher) Assign(ctx context.Context, faceIDs []int64, personID string) error {
	if _, err := m.store.GetPerson(ctx, personID); err != nil {
		return err
	}

	// Collect previous owners outside the transaction; recount inside it.
	affected := map[string]bool{personID: true}
	for _, id := range faceIDs {
		face, err := m.store.GetFace(ctx, id)
		if err != nil {
			return err
		}
		if face.PersonID != nil {
			affected[*face.PersonID] = true
		}
	}

	err := m.store.WithTx(ctx, func(q store.Querier) error {
		for _, id := range faceIDs {
			pid := personID
			if err := m.store.SetFacePerson(ctx, q, id, &pid, true); err != nil {
				return err
			}
		}
		for id := range affected {
			if err := m.registry.Recount(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.bus.Publish(events.Event{Type: events.TypePeopleUpdated})
	return nil
}

// Unmatch releases a face back to the unnamed pool and recounts its former
// person.
func (m *Matcher) Unmatch(ctx context.Context, faceID int64) error {
	face, err := m.store.GetFace(ctx, faceID)
	if err != nil {
		return err
	}
	if face.PersonID == nil {
		return nil
	}
	former := *face.PersonID

	err = m.store.WithTx(ctx, func(q store.Querier) error {
		if err := m.store.SetFacePerson(ctx, q, faceID, nil, false); err != nil {
			return err
		}
		return m.registry.Recount(ctx, q, former)
	})
	if err != nil {
		return err
	}
	m.bus.Publish(events.Event{Type: events.TypePeopleUpdated})
	return nil
}

// MergePersons repoints every face of source to target and deletes source.
// The whole merge commits atomically; no partial merge is ever observable.
func (m *Matcher) MergePersons(ctx context.Context, sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: source and target are the same person", ErrInvalidMergeRequest)
	}

	err := m.store.WithTx(ctx, func(q store.Querier) error {
		for _, id := range []string{sourceID, targetID} {
			exists, err := m.store.PersonExists(ctx, q, id)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: person %s does not exist", ErrInvalidMergeRequest, id)
			}
		}
		if err := m.store.RepointFaces(ctx, q, sourceID, targetID); err != nil {
			return err
		}
		if err := m.registry.Recount(ctx, q, targetID); err != nil {
			return err
		}
		return m.store.DeletePerson(ctx, q, sourceID)
	})
	if err != nil {
		return err
	}
	m.bus.Publish(events.Event{Type: events.TypePeopleUpdated})
	return nil
}

// SplitFace moves one face out of a person, either into a freshly created
// person or into an existing one. Exactly one of newName and toPersonID
// must be supplied. When newName collides with an existing person the call
// fails with ExistingPersonConflictError so the caller can offer assigning
// instead.
func (m *Matcher) SplitFace(ctx context.Context, faceID int64, fromPersonID, newName, toPersonID string) (*store.Person, error) {
	if (newName == "") == (toPersonID == "") {
		return nil, ErrAmbiguousSplitTarget
	}

	face, err := m.store.GetFace(ctx, faceID)
	if err != nil {
		return nil, err
	}
	if face.PersonID == nil || *face.PersonID != fromPersonID {
		return nil, fmt.Errorf("face %d is not assigned to person %s", faceID, fromPersonID)
	}

	var target *store.Person
	if toPersonID != "" {
		target, err = m.store.GetPerson(ctx, toPersonID)
		if err != nil {
			return nil, err
		}
	} else {
		existing, err := m.registry.FindByName(ctx, newName)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, &ExistingPersonConflictError{PersonID: existing.ID, Name: newName}
		}
	}

	// Creation, reassignment and recounts commit together: a failed split
	// never leaves a fresh zero-face person behind.
	err = m.store.WithTx(ctx, func(q store.Querier) error {
		if target == nil {
			var err error
			target, err = m.registry.AddIn(ctx, q, newName)
			if err != nil {
				return err
			}
		}
		if err := m.store.SetFacePerson(ctx, q, faceID, &target.ID, true); err != nil {
			return err
		}
		if err := m.registry.Recount(ctx, q, fromPersonID); err != nil {
			return err
		}
		return m.registry.Recount(ctx, q, target.ID)
	})
	if err != nil {
		return nil, err
	}
	m.bus.Publish(events.Event{Type: events.TypePeopleUpdated})
	return m.store.GetPerson(ctx, target.ID)
}

// CleanupEmptyPersons deletes every person left with zero faces, typically
// residue of merges and splits. Only ever runs as a consequence of an
// explicit call, never on a timer.
func (m *Matcher) CleanupEmptyPersons(ctx context.Context) ([]string, error) {
	if err := m.store.RecountAllPersons(ctx); err != nil {
		return nil, err
	}
	deleted, err := m.store.DeleteEmptyPersons(ctx)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		m.bus.Publish(events.Event{Type: events.TypePeopleUpdated})
	}
	return deleted, nil
}

// loadPersonMembers returns the embedded member faces of every person.
func (m *Matcher) loadPersonMembers(ctx context.Context) (map[string][][]float32, error) {
	persons, err := m.store.ListPersons(ctx)
	if err != nil {
		return nil, err
	}
	members := make(map[string][][]float32, len(persons))
	for _, p := range persons {
		faces, err := m.store.ListFacesByPerson(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, f := range faces {
			if f.HasEmbedding() {
				members[p.ID] = append(members[p.ID], f.Embedding)
			}
		}
	}
	return members, nil
}

// assignOne attaches a single face to a person with a recount in the same
// transaction.
func (m *Matcher) assignOne(ctx context.Context, faceID int64, personID string, manual bool) error {
	return m.store.WithTx(ctx, func(q store.Querier) error {
		if err := m.store.SetFacePerson(ctx, q, faceID, &personID, manual); err != nil {
			return err
		}
		return m.registry.Recount(ctx, q, personID)
	})
}

// bestPerson returns the person with the highest max-over-members
// similarity to the embedding. Iteration order over the map does not affect
// the outcome: the best person is picked by score with ties broken by
// lexicographically smallest id.
func bestPerson(embedding []float32, members map[string][][]float32) (string, float64, error) {
	bestID := ""
	bestSim := -2.0
	for personID, embeddings := range members {
		for _, member := range embeddings {
			sim, err := similarity.Cosine(embedding, member)
			if err != nil {
				return "", 0, err
			}
			if sim > bestSim || (sim == bestSim && personID < bestID) {
				bestSim = sim
				bestID = personID
			}
		}
	}
	return bestID, bestSim, nil
}

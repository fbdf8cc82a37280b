// Package people owns Person aggregates and the cached face count. The
// registry is the single writer of face_count: every component that changes
// face-person membership recounts through it in the same transaction as the
// membership change, never "eventually".
package people

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Adioame/PhotoMind-sub002/internal/events"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

// Registry provides person CRUD and the recount primitive.
type Registry struct {
	store *store.Store
	bus   *events.Bus
}

// NewRegistry creates a person registry.
func NewRegistry(s *store.Store, bus *events.Bus) *Registry {
	return &Registry{store: s, bus: bus}
}

// GetAll returns all persons.
func (r *Registry) GetAll(ctx context.Context) ([]store.Person, error) {
	return r.store.ListPersons(ctx)
}

// Get returns a person by id.
func (r *Registry) Get(ctx context.Context, id string) (*store.Person, error) {
	return r.store.GetPerson(ctx, id)
}

// Add creates a person from an explicit user naming action.
func (r *Registry) Add(ctx context.Context, name string) (*store.Person, error) {
	p, err := r.AddIn(ctx, nil, name)
	if err != nil {
		return nil, err
	}
	r.bus.Publish(events.Event{Type: events.TypePeopleUpdated})
	return p, nil
}

// AddIn creates a named person on the given Querier. Creation and the face
// mutations that populate the person commit together, so a rolled-back
// transaction leaves no orphaned zero-face person behind. Does not publish;
// the caller announces the change after its transaction commits.
func (r *Registry) AddIn(ctx context.Context, q store.Querier, name string) (*store.Person, error) {
	p := &store.Person{
		ID:          uuid.New().String(),
		Name:        name,
		DisplayName: name,
		IsManual:    true,
	}
	if err := r.store.InsertPerson(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateAuto creates an unnamed person for an automatic cluster on the
// given Querier. The caller assigns member faces and recounts in the same
// transaction.
func (r *Registry) CreateAuto(ctx context.Context, q store.Querier, name string) (*store.Person, error) {
	p := &store.Person{
		ID:          uuid.New().String(),
		Name:        name,
		DisplayName: name,
	}
	if err := r.store.InsertPerson(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update renames a person or changes its display name or avatar.
func (r *Registry) Update(ctx context.Context, p *store.Person) error {
	if err := r.store.UpdatePerson(ctx, p); err != nil {
		return err
	}
	r.bus.Publish(events.Event{Type: events.TypePeopleUpdated})
	return nil
}

// Delete removes a person. Member faces are released back to the unnamed
// pool in the same transaction so no face is left pointing at a missing
// person.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.store.GetPerson(ctx, id); err != nil {
		return err
	}
	err := r.store.WithTx(ctx, func(q store.Querier) error {
		if _, err := q.ExecContext(ctx,
			"UPDATE faces SET person_id = NULL WHERE person_id = $1", id); err != nil {
			return fmt.Errorf("release faces: %w", err)
		}
		return r.store.DeletePerson(ctx, q, id)
	})
	if err != nil {
		return err
	}
	r.bus.Publish(events.Event{Type: events.TypePeopleUpdated})
	return nil
}

// Recount re-derives the cached face count for one person. Runs on the
// given Querier so membership change and recount commit together.
func (r *Registry) Recount(ctx context.Context, q store.Querier, id string) error {
	return r.store.RecountPerson(ctx, q, id)
}

// FindByName returns the person whose name normalizes equal to the given
// name, or nil if there is none.
func (r *Registry) FindByName(ctx context.Context, name string) (*store.Person, error) {
	want := NormalizeName(name)
	if want == "" {
		return nil, nil
	}
	persons, err := r.store.ListPersons(ctx)
	if err != nil {
		return nil, err
	}
	for i := range persons {
		if NormalizeName(persons[i].Name) == want || NormalizeName(persons[i].DisplayName) == want {
			return &persons[i], nil
		}
	}
	return nil, nil
}

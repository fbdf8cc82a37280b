package people

import (
	"context"
	"errors"
	"testing"

	"github.com/Adioame/PhotoMind-sub002/internal/events"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store, *events.Bus) {
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
	return NewRegistry(s, bus), s, bus
}

func TestAddAndGet(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.Add(ctx, "Alice")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !p.IsManual {
		t.Error("user-created person should be manual")
	}

	got, err := r.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Alice" || got.FaceCount != 0 {
		t.Errorf("unexpected person: %+v", got)
	}
}

func TestAddPublishesPeopleUpdated(t *testing.T) {
	r, _, bus := newTestRegistry(t)
	ch := bus.AddListener()

	if _, err := r.Add(context.Background(), "Bob"); err != nil {
		t.Fatalf("add: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != events.TypePeopleUpdated {
			t.Errorf("expected people_updated, got %s", ev.Type)
		}
	default:
		t.Error("expected a people_updated event")
	}
}

func TestDeleteReleasesFaces(t *testing.T) {
	r, s, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := s.UpsertPhoto(ctx, store.Photo{ID: "p1", FilePath: "/p1.jpg"}); err != nil {
		t.Fatalf("photo: %v", err)
	}
	p, err := r.Add(ctx, "Carol")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	faceID, err := s.InsertFace(ctx, &store.Face{PhotoID: "p1", PersonID: &p.ID})
	if err != nil {
		t.Fatalf("face: %v", err)
	}

	if err := r.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := r.Get(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected person gone, got %v", err)
	}
	f, err := s.GetFace(ctx, faceID)
	if err != nil {
		t.Fatalf("get face: %v", err)
	}
	if f.PersonID != nil {
		t.Error("face must be released to the unnamed pool on person delete")
	}
}

func TestDeleteMissingPerson(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if err := r.Delete(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByNameNormalizes(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.Add(ctx, "Jan Novák")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := r.FindByName(ctx, "jan-novak")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.ID != p.ID {
		t.Errorf("expected to find %s, got %+v", p.ID, got)
	}

	missing, err := r.FindByName(ctx, "someone else")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown name, got %+v", missing)
	}
}

// Person creation participates in the caller's transaction: a rollback
// must not leave an orphaned zero-face person behind.
func TestCreateRollsBackWithTransaction(t *testing.T) {
	r, s, _ := newTestRegistry(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q store.Querier) error {
		if _, err := r.CreateAuto(ctx, q, ""); err != nil {
			return err
		}
		if _, err := r.AddIn(ctx, q, "Rolled Back"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback error, got %v", err)
	}

	persons, err := r.GetAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(persons) != 0 {
		t.Fatalf("rolled-back transaction left %d persons behind", len(persons))
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const personColumns = `id, name, display_name, face_count, avatar_path, is_manual, created_at`

// InsertPerson stores a new person aggregate. A nil Querier runs outside
// any transaction; passing the Querier of a WithTx block makes the creation
// commit together with the face mutations that populate the person.
func (s *Store) InsertPerson(ctx context.Context, q Querier, p *Person) error {
	if q == nil {
		q = s.db
	}
	query := `
		INSERT INTO persons (id, name, display_name, face_count, avatar_path, is_manual)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := q.ExecContext(ctx, query,
		p.ID, p.Name, p.DisplayName, p.FaceCount, p.AvatarPath, p.IsManual); err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

// GetPerson retrieves a person by id.
func (s *Store) GetPerson(ctx context.Context, id string) (*Person, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+personColumns+" FROM persons WHERE id = $1", id)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("person %s: %w", id, ErrNotFound)
	}
	return p, err
}

// PersonExists reports whether a person row exists. Runs on the given
// Querier so validations can share a transaction.
func (s *Store) PersonExists(ctx context.Context, q Querier, id string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM persons WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check person exists: %w", err)
	}
	return exists, nil
}

// ListPersons returns all persons ordered by display name, then name.
func (s *Store) ListPersons(ctx context.Context) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+personColumns+" FROM persons ORDER BY display_name, name, id")
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	var persons []Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

// UpdatePerson updates name, display name and avatar path.
func (s *Store) UpdatePerson(ctx context.Context, p *Person) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE persons SET name = $1, display_name = $2, avatar_path = $3 WHERE id = $4",
		p.Name, p.DisplayName, p.AvatarPath, p.ID)
	if err != nil {
		return fmt.Errorf("update person: %w", err)
	}
	return requireRow(res, "person", p.ID)
}

// DeletePerson removes a person row. Runs on the given Querier so merges
// can delete the source inside the same transaction that repoints faces.
func (s *Store) DeletePerson(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM persons WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	return requireRow(res, "person", id)
}

// RecountPerson re-derives the cached face_count from face rows. This is
// the single write path for face_count; nothing else increments or
// decrements it.
func (s *Store) RecountPerson(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE persons
		SET face_count = (SELECT COUNT(*) FROM faces WHERE person_id = persons.id)
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("recount person: %w", err)
	}
	return requireRow(res, "person", id)
}

// RecountAllPersons re-derives face_count for every person.
func (s *Store) RecountAllPersons(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE persons
		SET face_count = (SELECT COUNT(*) FROM faces WHERE person_id = persons.id)
	`)
	if err != nil {
		return fmt.Errorf("recount persons: %w", err)
	}
	return nil
}

// DeleteEmptyPersons removes every person whose cached face_count is zero
// and returns the deleted ids.
func (s *Store) DeleteEmptyPersons(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM persons WHERE face_count = 0")
	if err != nil {
		return nil, fmt.Errorf("query empty persons: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan person id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate empty persons: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM persons WHERE face_count = 0"); err != nil {
		return nil, fmt.Errorf("delete empty persons: %w", err)
	}
	return ids, nil
}

func scanPerson(row rowScanner) (*Person, error) {
	var p Person
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.FaceCount, &p.AvatarPath, &p.IsManual, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan person: %w", err)
	}
	return &p, nil
}

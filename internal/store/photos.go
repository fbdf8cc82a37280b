package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertPhoto records a photo and its file path. Import and scanning are
// external concerns; the pipeline only needs the path for model calls.
func (s *Store) UpsertPhoto(ctx context.Context, p Photo) error {
	query := `
		INSERT INTO photos (id, file_path)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET file_path = EXCLUDED.file_path
	`
	if _, err := s.db.ExecContext(ctx, query, p.ID, p.FilePath); err != nil {
		return fmt.Errorf("upsert photo: %w", err)
	}
	return nil
}

// GetPhoto retrieves a photo by id.
func (s *Store) GetPhoto(ctx context.Context, id string) (*Photo, error) {
	var p Photo
	err := s.db.QueryRowContext(ctx,
		"SELECT id, file_path, imported_at FROM photos WHERE id = $1", id,
	).Scan(&p.ID, &p.FilePath, &p.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query photo: %w", err)
	}
	return &p, nil
}

// ListPhotoIDs returns all photo ids in import order.
func (s *Store) ListPhotoIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM photos ORDER BY imported_at, id")
	if err != nil {
		return nil, fmt.Errorf("query photo ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan photo id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo ids: %w", err)
	}
	return ids, nil
}

// ListUnscannedPhotoIDs returns ids of photos with no face rows at all.
// Detection marks even zero-face photos by inserting nothing, so this is a
// best-effort work queue for incremental scans.
func (s *Store) ListUnscannedPhotoIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT p.id FROM photos p
		WHERE NOT EXISTS (SELECT 1 FROM faces f WHERE f.photo_id = p.id)
		ORDER BY p.imported_at, p.id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query unscanned photo ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan photo id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo ids: %w", err)
	}
	return ids, nil
}

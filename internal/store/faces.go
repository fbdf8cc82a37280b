package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const faceColumns = `id, photo_id, x, y, w, h, confidence, embedding, embedding_dim,
	person_id, is_manual, landmarks, created_at`

// InsertFace stores a new detected face and returns its id. The embedding
// is absent at creation time; regeneration fills it later.
func (s *Store) InsertFace(ctx context.Context, f *Face) (int64, error) {
	landmarks, err := marshalLandmarks(f.Landmarks)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO faces (photo_id, x, y, w, h, confidence, embedding, embedding_dim, person_id, is_manual, landmarks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	args := []any{
		f.PhotoID, f.Box.X, f.Box.Y, f.Box.W, f.Box.H, f.Confidence,
		EncodeVector(f.Embedding), len(f.Embedding), f.PersonID, f.IsManual, landmarks,
	}

	if s.driver == DriverPostgres {
		var id int64
		if err := s.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert face: %w", err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert face: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert face id: %w", err)
	}
	return id, nil
}

// GetFace retrieves a face by id.
func (s *Store) GetFace(ctx context.Context, id int64) (*Face, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+faceColumns+" FROM faces WHERE id = $1", id)
	f, err := scanFace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("face %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListFacesByPhoto returns all faces detected in a photo.
func (s *Store) ListFacesByPhoto(ctx context.Context, photoID string) ([]Face, error) {
	return s.queryFaces(ctx, "SELECT "+faceColumns+" FROM faces WHERE photo_id = $1 ORDER BY id", photoID)
}

// ListFacesByPerson returns all faces assigned to a person.
func (s *Store) ListFacesByPerson(ctx context.Context, personID string) ([]Face, error) {
	return s.queryFaces(ctx, "SELECT "+faceColumns+" FROM faces WHERE person_id = $1 ORDER BY id", personID)
}

// ListEmbeddedFaces returns every face that has an embedding.
func (s *Store) ListEmbeddedFaces(ctx context.Context) ([]Face, error) {
	return s.queryFaces(ctx, "SELECT "+faceColumns+" FROM faces WHERE embedding IS NOT NULL ORDER BY id")
}

// ListUnassignedEmbeddedFaces returns faces that have an embedding but no
// person. These are the inputs to automatic matching.
func (s *Store) ListUnassignedEmbeddedFaces(ctx context.Context) ([]Face, error) {
	return s.queryFaces(ctx,
		"SELECT "+faceColumns+" FROM faces WHERE embedding IS NOT NULL AND person_id IS NULL ORDER BY id")
}

// ListFacesMissingEmbedding returns faces whose embedding is absent, in id
// order. This is the regeneration work queue.
func (s *Store) ListFacesMissingEmbedding(ctx context.Context) ([]Face, error) {
	return s.queryFaces(ctx, "SELECT "+faceColumns+" FROM faces WHERE embedding IS NULL ORDER BY id")
}

// ListAllFaces returns every face in id order.
func (s *Store) ListAllFaces(ctx context.Context) ([]Face, error) {
	return s.queryFaces(ctx, "SELECT "+faceColumns+" FROM faces ORDER BY id")
}

// UpdateFaceEmbedding overwrites a face's embedding vector. The dimension
// column is kept in sync with the blob so reads can validate it.
func (s *Store) UpdateFaceEmbedding(ctx context.Context, faceID int64, embedding []float32) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE faces SET embedding = $1, embedding_dim = $2 WHERE id = $3",
		EncodeVector(embedding), len(embedding), faceID)
	if err != nil {
		return fmt.Errorf("update face embedding: %w", err)
	}
	return requireRow(res, "face", faceID)
}

// SetFacePerson assigns or clears (nil personID) a face's person. It runs on
// the given Querier so callers can bundle it with a recount in one
// transaction.
func (s *Store) SetFacePerson(ctx context.Context, q Querier, faceID int64, personID *string, manual bool) error {
	res, err := q.ExecContext(ctx,
		"UPDATE faces SET person_id = $1, is_manual = $2 WHERE id = $3", personID, manual, faceID)
	if err != nil {
		return fmt.Errorf("set face person: %w", err)
	}
	return requireRow(res, "face", faceID)
}

// RepointFaces moves every face of sourceID to targetID. Runs on the given
// Querier so merges stay atomic.
func (s *Store) RepointFaces(ctx context.Context, q Querier, sourceID, targetID string) error {
	if _, err := q.ExecContext(ctx,
		"UPDATE faces SET person_id = $1 WHERE person_id = $2", targetID, sourceID); err != nil {
		return fmt.Errorf("repoint faces: %w", err)
	}
	return nil
}

// DeleteFace removes a face row.
func (s *Store) DeleteFace(ctx context.Context, faceID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM faces WHERE id = $1", faceID)
	if err != nil {
		return fmt.Errorf("delete face: %w", err)
	}
	return requireRow(res, "face", faceID)
}

// DeleteFacesByPhoto removes all faces detected in a photo and returns the
// deleted face ids so in-memory indexes can drop them.
func (s *Store) DeleteFacesByPhoto(ctx context.Context, photoID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM faces WHERE photo_id = $1", photoID)
	if err != nil {
		return nil, fmt.Errorf("query face ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan face id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face ids: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM faces WHERE photo_id = $1", photoID); err != nil {
		return nil, fmt.Errorf("delete faces: %w", err)
	}
	return ids, nil
}

// CountFaces returns the total number of face rows.
func (s *Store) CountFaces(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM faces").Scan(&count); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// CountFacesMissingEmbedding returns the number of faces awaiting an
// embedding.
func (s *Store) CountFacesMissingEmbedding(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM faces WHERE embedding IS NULL").Scan(&count); err != nil {
		return 0, fmt.Errorf("count faces missing embedding: %w", err)
	}
	return count, nil
}

func (s *Store) queryFaces(ctx context.Context, query string, args ...any) ([]Face, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	var faces []Face
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, err
		}
		faces = append(faces, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFace(row rowScanner) (*Face, error) {
	var f Face
	var blob []byte
	var dim int
	var personID sql.NullString
	var landmarks sql.NullString

	err := row.Scan(
		&f.ID, &f.PhotoID, &f.Box.X, &f.Box.Y, &f.Box.W, &f.Box.H, &f.Confidence,
		&blob, &dim, &personID, &f.IsManual, &landmarks, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan face: %w", err)
	}

	f.Embedding, err = DecodeVector(blob, dim)
	if err != nil {
		return nil, fmt.Errorf("face %d: %w", f.ID, err)
	}
	if personID.Valid {
		f.PersonID = &personID.String
	}
	if landmarks.Valid && landmarks.String != "" {
		if err := json.Unmarshal([]byte(landmarks.String), &f.Landmarks); err != nil {
			return nil, fmt.Errorf("face %d landmarks: %w", f.ID, err)
		}
	}
	return &f, nil
}

func marshalLandmarks(points []Point) (*string, error) {
	if len(points) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(points)
	if err != nil {
		return nil, fmt.Errorf("marshal landmarks: %w", err)
	}
	s := string(data)
	return &s, nil
}

func requireRow(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
	}
	return nil
}

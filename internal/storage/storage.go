// Package storage persists image metadata in Postgres. The unique index on
// content fingerprints is what makes concurrent dedup safe; the pipeline
// relies on InsertOrGet rather than any locking of its own.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/Muizzyranking/shopifyte-api/internal/models"
)

type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // for migrations
}

func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

const recordColumns = `id, category, filename, file_path, file_size, width, height,
	format, mime_type, file_hash, COALESCE(alt_text, ''), COALESCE(title, ''),
	COALESCE(description, ''), COALESCE(uploaded_by, '00000000-0000-0000-0000-000000000000'::uuid),
	view_count, created_at, updated_at`

// InsertOrGet inserts rec, or returns the already-persisted record when
// another upload with the same fingerprint won the race. inserted reports
// which branch was taken. The fallback re-fetch covers the window where the
// conflicting row was committed between our insert and our read.
func (s *Storage) InsertOrGet(ctx context.Context, rec *models.ImageRecord) (*models.ImageRecord, bool, error) {
	const op = "storage.InsertOrGet"

	var owner any
	if rec.UploadedBy != uuid.Nil {
		owner = rec.UploadedBy
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO images (id, category, filename, file_path, file_size, width, height,
			format, mime_type, file_hash, alt_text, title, description, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (file_hash) DO NOTHING
		RETURNING created_at, updated_at`,
		rec.ID, rec.Category, rec.StoredFilename, rec.StoragePath, rec.ByteSize,
		rec.Width, rec.Height, rec.Format, rec.MimeType, rec.ContentFingerprint,
		nullable(rec.AltText), nullable(rec.Title), nullable(rec.Description), owner)

	err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	existing, err := s.FindByFingerprint(ctx, rec.ContentFingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if existing == nil {
		return nil, false, fmt.Errorf("%s: lost insert race but no row found: %w",
			op, models.ErrDuplicateFingerprint)
	}
	return existing, false, nil
}

// FindByFingerprint returns (nil, nil) when no record carries fp.
func (s *Storage) FindByFingerprint(ctx context.Context, fp string) (*models.ImageRecord, error) {
	const op = "storage.FindByFingerprint"

	rec, err := s.scanOne(ctx, `SELECT `+recordColumns+` FROM images WHERE file_hash = $1`, fp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// FindByID fails with ErrNotFound when the record is absent.
func (s *Storage) FindByID(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error) {
	const op = "storage.FindByID"

	rec, err := s.scanOne(ctx, `SELECT `+recordColumns+` FROM images WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %s: %w", op, id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (s *Storage) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ImageRecord, error) {
	const op = "storage.ListByOwner"

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM images WHERE uploaded_by = $1 ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var records []models.ImageRecord
	for rows.Next() {
		var rec models.ImageRecord
		if err := scanRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return records, nil
}

func (s *Storage) UpdateMetadata(ctx context.Context, id uuid.UUID, upd models.MetadataUpdate) (*models.ImageRecord, error) {
	const op = "storage.UpdateMetadata"

	rec, err := s.scanOne(ctx,
		`UPDATE images SET
			alt_text = COALESCE($2, alt_text),
			title = COALESCE($3, title),
			description = COALESCE($4, description),
			updated_at = now()
		WHERE id = $1
		RETURNING `+recordColumns,
		id, upd.AltText, upd.Title, upd.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %s: %w", op, id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (s *Storage) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "storage.Delete"

	tag, err := s.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %s: %w", op, id, models.ErrNotFound)
	}
	return nil
}

func (s *Storage) IncrementViewCount(ctx context.Context, id uuid.UUID) error {
	const op = "storage.IncrementViewCount"

	_, err := s.pool.Exec(ctx, `UPDATE images SET view_count = view_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) scanOne(ctx context.Context, query string, args ...any) (*models.ImageRecord, error) {
	var rec models.ImageRecord
	if err := scanRecord(s.pool.QueryRow(ctx, query, args...), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, rec *models.ImageRecord) error {
	return row.Scan(
		&rec.ID, &rec.Category, &rec.StoredFilename, &rec.StoragePath, &rec.ByteSize,
		&rec.Width, &rec.Height, &rec.Format, &rec.MimeType, &rec.ContentFingerprint,
		&rec.AltText, &rec.Title, &rec.Description, &rec.UploadedBy,
		&rec.ViewCount, &rec.CreatedAt, &rec.UpdatedAt)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

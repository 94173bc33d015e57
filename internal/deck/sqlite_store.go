package deck

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/deckstore/pkg/models"
)

// SQLiteStore is a single-node durable backend for deployments without an
// object store. Documents and version snapshots are stored as JSON columns.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteStoreConfig configures the SQLite backend.
type SQLiteStoreConfig struct {
	// Path to the database file. Empty means in-memory.
	Path string
}

// NewSQLiteStore opens (and migrates) a SQLite-backed presentation store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS presentations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			revision INTEGER NOT NULL,
			slide_count INTEGER NOT NULL,
			doc TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS versions (
			version_id TEXT NOT NULL,
			presentation_id TEXT NOT NULL,
			created_by TEXT,
			change_summary TEXT,
			snapshot TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (presentation_id, version_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_presentation ON versions(presentation_id, version_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, p *models.Presentation) error {
	if p == nil || p.ID == "" {
		return ErrValidation
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal presentation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO presentations (id, title, revision, slide_count, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			revision = excluded.revision,
			slide_count = excluded.slide_count,
			doc = excluded.doc,
			updated_at = excluded.updated_at`,
		p.ID, p.Title, p.Revision, len(p.Slides), string(doc), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: sqlite save: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*models.Presentation, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM presentations WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite load: %v", ErrBackendUnavailable, err)
	}
	var p models.Presentation
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("unmarshal presentation %s: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.PresentationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, slide_count
		FROM presentations
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite list: %v", ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var out []models.PresentationSummary
	for rows.Next() {
		var sum models.PresentationSummary
		var createdAt time.Time
		if err := rows.Scan(&sum.ID, &sum.Title, &createdAt, &sum.SlideCount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.CreatedAt = createdAt
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sqlite list: %v", ErrBackendUnavailable, err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM presentations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: sqlite delete: %v", ErrBackendUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveVersion(ctx context.Context, v *models.Version) error {
	if v == nil || v.PresentationID == "" || v.VersionID == "" {
		return ErrValidation
	}
	snapshot, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal version: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO versions (version_id, presentation_id, created_by, change_summary, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.VersionID, v.PresentationID, v.CreatedBy, v.ChangeSummary, string(snapshot), v.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: sqlite save version: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) ListVersions(ctx context.Context, presentationID string) ([]models.VersionSummary, error) {
	// Version ids are sortable timestamp tokens, so id order is
	// chronological order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, created_by, change_summary, created_at
		FROM versions
		WHERE presentation_id = ?
		ORDER BY version_id DESC`, presentationID)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite list versions: %v", ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var out []models.VersionSummary
	for rows.Next() {
		var sum models.VersionSummary
		var createdBy, changeSummary sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&sum.VersionID, &createdBy, &changeSummary, &createdAt); err != nil {
			return nil, fmt.Errorf("scan version summary: %w", err)
		}
		sum.CreatedBy = createdBy.String
		sum.ChangeSummary = changeSummary.String
		sum.CreatedAt = createdAt
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sqlite list versions: %v", ErrBackendUnavailable, err)
	}
	return out, nil
}

func (s *SQLiteStore) LoadVersion(ctx context.Context, presentationID, versionID string) (*models.Version, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM versions
		WHERE presentation_id = ? AND version_id = ?`, presentationID, versionID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite load version: %v", ErrBackendUnavailable, err)
	}
	var v models.Version
	if err := json.Unmarshal([]byte(snapshot), &v); err != nil {
		return nil, fmt.Errorf("unmarshal version %s: %w", versionID, err)
	}
	return &v, nil
}

func (s *SQLiteStore) DeleteVersions(ctx context.Context, presentationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM versions WHERE presentation_id = ?`, presentationID); err != nil {
		return fmt.Errorf("%w: sqlite delete versions: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

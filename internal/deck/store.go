// Package deck implements tiered persistence for presentation documents:
// an in-memory cache, a durable primary backend, and a local-filesystem
// fallback, with an append-only version history per document.
package deck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/deckstore/pkg/models"
)

var (
	// ErrNotFound means the document, slide, or version is absent.
	ErrNotFound = errors.New("deck: not found")
	// ErrInvalidIndex means a slide index is out of bounds.
	ErrInvalidIndex = errors.New("deck: slide index out of range")
	// ErrVersionNotFound means the restore target does not belong to the document.
	ErrVersionNotFound = errors.New("deck: version not found")
	// ErrBackendUnavailable is a transient tier failure; the facade recovers
	// by falling back and only surfaces it when every tier fails.
	ErrBackendUnavailable = errors.New("deck: backend unavailable")
	// ErrConflict means a save carried a stale revision.
	ErrConflict = errors.New("deck: revision conflict")
	// ErrValidation means the document shape is malformed.
	ErrValidation = errors.New("deck: validation failed")
)

// Backend is a persistent storage tier for presentations and their versions.
type Backend interface {
	Save(ctx context.Context, p *models.Presentation) error
	Load(ctx context.Context, id string) (*models.Presentation, error)
	List(ctx context.Context) ([]models.PresentationSummary, error)
	Delete(ctx context.Context, id string) error

	SaveVersion(ctx context.Context, v *models.Version) error
	// ListVersions returns version summaries newest first.
	ListVersions(ctx context.Context, presentationID string) ([]models.VersionSummary, error)
	LoadVersion(ctx context.Context, presentationID, versionID string) (*models.Version, error)
	// DeleteVersions removes all version records for a presentation.
	DeleteVersions(ctx context.Context, presentationID string) error

	Close() error
}

// newVersionID builds a sortable version identifier: a UTC timestamp token
// plus a short random suffix, so lexicographic order matches chronological
// order even when two versions share a timestamp.
func newVersionID(now time.Time) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405.000000"), suffix)
}

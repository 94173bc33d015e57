package deck

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/deckstore/pkg/models"
)

func testDeck(id, title string) *models.Presentation {
	now := time.Now().UTC()
	return &models.Presentation{
		ID:        id,
		Title:     title,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
		Slides: []models.Slide{
			{SlideID: "s1", Layout: "title", Content: map[string]any{"t": "hi"}},
		},
	}
}

func testVersion(presentationID, versionID string, snapshot *models.Presentation) *models.Version {
	return &models.Version{
		VersionID:      versionID,
		PresentationID: presentationID,
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      "tester",
		Snapshot:       snapshot,
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	p := testDeck("p1", "Q4")
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Title != "Q4" || len(got.Slides) != 1 {
		t.Fatalf("unexpected document: %+v", got)
	}

	// Mutating the loaded copy must not affect the stored copy.
	got.Slides[0].Content["t"] = "mutated"
	again, _ := store.Load(ctx, "p1")
	if again.Slides[0].Content["t"] != "hi" {
		t.Fatalf("store handed out a shared reference")
	}

	summaries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 1 || summaries[0].SlideCount != 1 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	if err := store.Delete(ctx, "p1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryStoreVersions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p := testDeck("p1", "Q4")
	for _, vid := range []string{"20260301T100000.000000-aaaa", "20260301T110000.000000-bbbb"} {
		if err := store.SaveVersion(ctx, testVersion("p1", vid, p)); err != nil {
			t.Fatalf("SaveVersion(%s) error = %v", vid, err)
		}
	}

	summaries, err := store.ListVersions(ctx, "p1")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(summaries))
	}
	if summaries[0].VersionID != "20260301T110000.000000-bbbb" {
		t.Fatalf("expected newest first, got %s", summaries[0].VersionID)
	}

	v, err := store.LoadVersion(ctx, "p1", "20260301T100000.000000-aaaa")
	if err != nil {
		t.Fatalf("LoadVersion() error = %v", err)
	}
	if v.Snapshot == nil || v.Snapshot.Title != "Q4" {
		t.Fatalf("unexpected snapshot: %+v", v.Snapshot)
	}

	if _, err := store.LoadVersion(ctx, "p1", "nope"); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}

	if err := store.DeleteVersions(ctx, "p1"); err != nil {
		t.Fatalf("DeleteVersions() error = %v", err)
	}
	summaries, _ = store.ListVersions(ctx, "p1")
	if len(summaries) != 0 {
		t.Fatalf("expected no versions after DeleteVersions, got %d", len(summaries))
	}
}

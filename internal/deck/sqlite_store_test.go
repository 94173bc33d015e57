package deck

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteStoreConfig{Path: filepath.Join(t.TempDir(), "deckstore.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	p := testDeck("p1", "Q4")
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Title != "Q4" || got.Revision != 1 || got.Slides[0].Content["t"] != "hi" {
		t.Fatalf("unexpected document: %+v", got)
	}

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStoreUpsert(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	p := testDeck("p1", "Q4")
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	p.Title = "Q4 updated"
	p.Revision = 2
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := store.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Title != "Q4 updated" || got.Revision != 2 {
		t.Fatalf("upsert did not apply: %+v", got)
	}

	summaries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary after upsert, got %d", len(summaries))
	}
}

func TestSQLiteStoreDelete(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.Delete(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent row, got %v", err)
	}
	if err := store.Save(ctx, testDeck("p1", "Q4")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx, "p1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestSQLiteStoreVersions(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	p := testDeck("p1", "Q4")

	ids := []string{
		"20260301T100000.000000-aaaa",
		"20260301T110000.000000-bbbb",
		"20260301T120000.000000-cccc",
	}
	for _, vid := range ids {
		if err := store.SaveVersion(ctx, testVersion("p1", vid, p)); err != nil {
			t.Fatalf("SaveVersion(%s) error = %v", vid, err)
		}
	}

	summaries, err := store.ListVersions(ctx, "p1")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(summaries))
	}
	if summaries[0].VersionID != ids[2] || summaries[2].VersionID != ids[0] {
		t.Fatalf("expected newest first, got %+v", summaries)
	}

	v, err := store.LoadVersion(ctx, "p1", ids[0])
	if err != nil {
		t.Fatalf("LoadVersion() error = %v", err)
	}
	if v.Snapshot.Title != "Q4" || v.CreatedBy != "tester" {
		t.Fatalf("unexpected version: %+v", v)
	}

	if _, err := store.LoadVersion(ctx, "p1", "absent"); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}

	if err := store.DeleteVersions(ctx, "p1"); err != nil {
		t.Fatalf("DeleteVersions() error = %v", err)
	}
	summaries, _ = store.ListVersions(ctx, "p1")
	if len(summaries) != 0 {
		t.Fatalf("expected empty history after cascade, got %d", len(summaries))
	}
}

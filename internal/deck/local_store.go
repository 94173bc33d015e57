package deck

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/haasonsaas/deckstore/pkg/models"
)

// LocalStore is the filesystem fallback tier. One JSON file per document, one
// JSON index per document listing its versions' metadata in chronological
// order, and one JSON snapshot file per version. The index is the ordering
// authority; filenames are not relied on for sorting.
type LocalStore struct {
	mu      sync.Mutex
	baseDir string
}

type versionIndex struct {
	Version  int                     `json:"version"`
	Versions []models.VersionSummary `json:"versions"` // oldest first
}

// NewLocalStore creates a filesystem-backed store rooted at baseDir.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	for _, sub := range []string{"presentations", "versions"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) Save(_ context.Context, p *models.Presentation) error {
	if p == nil || !validKey(p.ID) {
		return ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.deckPath(p.ID), p)
}

func (s *LocalStore) Load(_ context.Context, id string) (*models.Presentation, error) {
	if !validKey(id) {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var p models.Presentation
	if err := readJSON(s.deckPath(id), &p); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read presentation %s: %w", id, err)
	}
	return &p, nil
}

func (s *LocalStore) List(_ context.Context) ([]models.PresentationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "presentations"))
	if err != nil {
		return nil, fmt.Errorf("read presentations directory: %w", err)
	}
	out := make([]models.PresentationSummary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var p models.Presentation
		if err := readJSON(filepath.Join(s.baseDir, "presentations", entry.Name()), &p); err != nil {
			// A torn or foreign file should not break listing.
			continue
		}
		out = append(out, p.Summary())
	}
	return out, nil
}

func (s *LocalStore) Delete(_ context.Context, id string) error {
	if !validKey(id) {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.deckPath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete presentation %s: %w", id, err)
	}
	return nil
}

func (s *LocalStore) SaveVersion(_ context.Context, v *models.Version) error {
	if v == nil || !validKey(v.PresentationID) || !validKey(v.VersionID) {
		return ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.versionDir(v.PresentationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create version directory: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, v.VersionID+".json"), v); err != nil {
		return err
	}

	idx, err := s.readIndexLocked(v.PresentationID)
	if err != nil {
		return err
	}
	idx.Versions = append(idx.Versions, v.Summary())
	return writeJSONAtomic(filepath.Join(dir, "index.json"), idx)
}

func (s *LocalStore) ListVersions(_ context.Context, presentationID string) ([]models.VersionSummary, error) {
	if !validKey(presentationID) {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndexLocked(presentationID)
	if err != nil {
		return nil, err
	}
	out := make([]models.VersionSummary, 0, len(idx.Versions))
	for i := len(idx.Versions) - 1; i >= 0; i-- { // newest first
		out = append(out, idx.Versions[i])
	}
	return out, nil
}

func (s *LocalStore) LoadVersion(_ context.Context, presentationID, versionID string) (*models.Version, error) {
	if !validKey(presentationID) || !validKey(versionID) {
		return nil, ErrVersionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var v models.Version
	path := filepath.Join(s.versionDir(presentationID), versionID+".json")
	if err := readJSON(path, &v); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("read version %s: %w", versionID, err)
	}
	return &v, nil
}

func (s *LocalStore) DeleteVersions(_ context.Context, presentationID string) error {
	if !validKey(presentationID) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.versionDir(presentationID)); err != nil {
		return fmt.Errorf("delete versions for %s: %w", presentationID, err)
	}
	return nil
}

func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) deckPath(id string) string {
	return filepath.Join(s.baseDir, "presentations", id+".json")
}

func (s *LocalStore) versionDir(presentationID string) string {
	return filepath.Join(s.baseDir, "versions", presentationID)
}

func (s *LocalStore) readIndexLocked(presentationID string) (*versionIndex, error) {
	idx := &versionIndex{Version: 1}
	path := filepath.Join(s.versionDir(presentationID), "index.json")
	if err := readJSON(path, idx); err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("read version index for %s: %w", presentationID, err)
	}
	return idx, nil
}

// validKey rejects ids that could escape the storage directory. Generated
// ids are UUIDs or timestamp tokens, so anything else is caller error.
func validKey(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSONAtomic writes to a temp file and renames it into place so readers
// never observe a torn write.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

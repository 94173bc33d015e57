package deck

import (
	"context"
	"sort"
	"sync"

	"github.com/haasonsaas/deckstore/pkg/models"
)

// MemoryStore is an in-memory backend for testing and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	decks    map[string]*models.Presentation
	versions map[string][]*models.Version // presentation id -> append order
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decks:    make(map[string]*models.Presentation),
		versions: make(map[string][]*models.Version),
	}
}

func (s *MemoryStore) Save(_ context.Context, p *models.Presentation) error {
	if p == nil || p.ID == "" {
		return ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decks[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*models.Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.decks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.PresentationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PresentationSummary, 0, len(s.decks))
	for _, p := range s.decks {
		out = append(out, p.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decks[id]; !ok {
		return ErrNotFound
	}
	delete(s.decks, id)
	return nil
}

func (s *MemoryStore) SaveVersion(_ context.Context, v *models.Version) error {
	if v == nil || v.PresentationID == "" || v.VersionID == "" {
		return ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.PresentationID] = append(s.versions[v.PresentationID], v.Clone())
	return nil
}

func (s *MemoryStore) ListVersions(_ context.Context, presentationID string) ([]models.VersionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.versions[presentationID]
	out := make([]models.VersionSummary, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- { // newest first
		out = append(out, records[i].Summary())
	}
	return out, nil
}

func (s *MemoryStore) LoadVersion(_ context.Context, presentationID, versionID string) (*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions[presentationID] {
		if v.VersionID == versionID {
			return v.Clone(), nil
		}
	}
	return nil, ErrVersionNotFound
}

func (s *MemoryStore) DeleteVersions(_ context.Context, presentationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, presentationID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

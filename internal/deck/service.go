package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/deckstore/internal/cache"
	"github.com/haasonsaas/deckstore/internal/observability"
	"github.com/haasonsaas/deckstore/internal/retry"
	"github.com/haasonsaas/deckstore/pkg/models"
)

const (
	tierDurable  = "durable"
	tierFallback = "fallback"
)

// Service is the storage facade. Per operation it decides which tier
// satisfies the call: cache first on reads, then the durable backend, then
// the filesystem fallback. Writes go through the version manager and are
// written through to the cache.
//
// Construct explicitly and pass by reference; there is no package-level
// instance.
type Service struct {
	durable  Backend // nil when the durable tier is disabled
	fallback Backend
	cache    *cache.Cache
	logger   *slog.Logger
	metrics  *observability.Metrics

	durableTimeout time.Duration
	retryCfg       retry.Config

	now func() time.Time
}

// Options configures a Service.
type Options struct {
	// Cache is optional; nil disables caching.
	Cache *cache.Cache
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional; nil disables metric collection.
	Metrics *observability.Metrics
	// DurableTimeout bounds every durable-tier call. Defaults to 5s.
	DurableTimeout time.Duration
	// Retry is the durable-tier retry policy. Zero value means two quick
	// attempts.
	Retry retry.Config
}

// NewService creates the storage facade. The fallback backend is required;
// the durable backend may be nil when the durable tier is disabled.
func NewService(durable, fallback Backend, opts Options) (*Service, error) {
	if fallback == nil {
		return nil, fmt.Errorf("fallback backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.DurableTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retryCfg := opts.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.Exponential(2, 50*time.Millisecond, 500*time.Millisecond)
	}
	return &Service{
		durable:        durable,
		fallback:       fallback,
		cache:          opts.Cache,
		logger:         logger,
		metrics:        opts.Metrics,
		durableTimeout: timeout,
		retryCfg:       retryCfg,
		now:            time.Now,
	}, nil
}

// Create assigns identity to a new presentation and persists it. Slide ids,
// element ids, and parent references are assigned where missing.
func (s *Service) Create(ctx context.Context, p *models.Presentation, createdBy string) (*models.Presentation, error) {
	if err := ValidateShape(p); err != nil {
		return nil, err
	}

	doc := p.Clone()
	now := s.now()
	doc.ID = uuid.NewString()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Revision = 1
	assignIdentifiers(doc)

	if _, err := s.persistDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.cacheSet(doc)
	s.logger.Info("presentation created",
		"id", doc.ID,
		"title", doc.Title,
		"slides", len(doc.Slides),
		"created_by", createdBy)
	return doc.Clone(), nil
}

// Save persists an updated presentation. The caller's revision must match
// the stored copy's revision, otherwise the save fails with ErrConflict.
func (s *Service) Save(ctx context.Context, p *models.Presentation) (*models.Presentation, error) {
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("%w: presentation id is required", ErrValidation)
	}
	if err := ValidateShape(p); err != nil {
		return nil, err
	}

	stored, err := s.loadTiered(ctx, p.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if stored != nil && stored.Revision != p.Revision {
		return nil, fmt.Errorf("%w: stored revision %d, caller revision %d",
			ErrConflict, stored.Revision, p.Revision)
	}

	doc := p.Clone()
	doc.Revision++
	doc.UpdatedAt = s.now()
	if stored != nil {
		doc.CreatedAt = stored.CreatedAt
	}

	if _, err := s.persistDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.cacheSet(doc)
	return doc.Clone(), nil
}

// Load returns the presentation for id: cache, then durable backend, then
// fallback. The durable copy is authoritative whenever it is reachable and
// holds the document. Every successful load refreshes the cache. Orphan
// elements are tolerated (readers skip them); they are only counted here.
func (s *Service) Load(ctx context.Context, id string) (*models.Presentation, error) {
	if s.cache != nil {
		if p, ok := s.cache.Get(id); ok {
			s.countCache("hit")
			return p, nil
		}
		s.countCache("miss")
	}

	p, tier, err := s.loadBackends(ctx, id)
	if err != nil {
		return nil, err
	}

	if orphans := CountOrphans(p); orphans > 0 {
		if s.metrics != nil {
			s.metrics.OrphansObserved.Add(float64(orphans))
		}
		s.logger.Debug("orphan elements tolerated on load", "id", id, "count", orphans)
	}

	if tier == tierDurable {
		// Opportunistic re-sync: a stale fallback copy left behind by a
		// degraded write converges on the next durable read.
		if err := s.fallback.Save(ctx, p); err != nil {
			s.logger.Warn("fallback re-sync failed", "id", id, "error", err)
		}
	}

	s.cacheSet(p)
	return p.Clone(), nil
}

// List returns summaries from the durable backend when reachable, otherwise
// from the fallback.
func (s *Service) List(ctx context.Context) ([]models.PresentationSummary, error) {
	if s.durable != nil {
		summaries, err := durableCall(s, ctx, "list", func(ctx context.Context) ([]models.PresentationSummary, error) {
			return s.durable.List(ctx)
		})
		if err == nil {
			return summaries, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
		s.degraded("list", err)
	}
	return s.fallback.List(ctx)
}

// Delete removes the presentation and its version history from every tier.
// Cache invalidation is mandatory; persistent-tier deletes are best-effort,
// but at least one tier must confirm the document existed.
func (s *Service) Delete(ctx context.Context, id string) error {
	existed := false

	if s.durable != nil {
		_, err := durableCall(s, ctx, "delete", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.durable.Delete(ctx, id)
		})
		switch {
		case err == nil:
			existed = true
		case errors.Is(err, ErrNotFound):
		default:
			s.degraded("delete", err)
		}
		if existed {
			if _, err := durableCall(s, ctx, "delete_versions", func(ctx context.Context) (struct{}, error) {
				return struct{}{}, s.durable.DeleteVersions(ctx, id)
			}); err != nil {
				s.logger.Warn("durable version delete failed", "id", id, "error", err)
			}
		}
	}

	switch err := s.fallback.Delete(ctx, id); {
	case err == nil:
		existed = true
	case errors.Is(err, ErrNotFound):
	default:
		s.logger.Warn("fallback delete failed", "id", id, "error", err)
	}
	if err := s.fallback.DeleteVersions(ctx, id); err != nil {
		s.logger.Warn("fallback version delete failed", "id", id, "error", err)
	}

	if s.cache != nil {
		s.cache.Invalidate(id)
		s.countCache("invalidation")
	}

	if !existed {
		return ErrNotFound
	}
	s.logger.Info("presentation deleted", "id", id)
	return nil
}

// UpdateMetadata applies the given fields (title, theme_config,
// derivative_elements) to the presentation. Absent fields are untouched. The
// mutation is versioned.
func (s *Service) UpdateMetadata(ctx context.Context, id string, fields map[string]any, createdBy, changeSummary string) (*models.Presentation, error) {
	return s.withVersioning(ctx, id, createdBy, changeSummary, func(p *models.Presentation) error {
		if title, ok := fields["title"].(string); ok {
			p.Title = title
		}
		if theme, ok := fields["theme_config"].(map[string]any); ok {
			p.ThemeConfig = theme
		}
		if derivative, ok := fields["derivative_elements"].(map[string]any); ok {
			p.DerivativeElements = derivative
		}
		return nil
	})
}

// UpdateSlide merges partialContent into the content of the slide at
// slideIndex. Only the keys present in partialContent change; everything
// else is untouched. The mutation is versioned. A concurrent writer's
// conflict is retried once with a fresh load.
func (s *Service) UpdateSlide(ctx context.Context, id string, slideIndex int, partialContent map[string]any, createdBy, changeSummary string) (*models.Slide, error) {
	mutate := func(p *models.Presentation) error {
		if slideIndex < 0 || slideIndex >= len(p.Slides) {
			return fmt.Errorf("%w: index %d, %d slides", ErrInvalidIndex, slideIndex, len(p.Slides))
		}
		slide := &p.Slides[slideIndex]
		if slide.Content == nil {
			slide.Content = make(map[string]any, len(partialContent))
		}
		for k, v := range partialContent {
			slide.Content[k] = v
		}
		return nil
	}

	doc, err := s.withVersioning(ctx, id, createdBy, changeSummary, mutate)
	if errors.Is(err, ErrConflict) {
		doc, err = s.withVersioning(ctx, id, createdBy, changeSummary, mutate)
	}
	if err != nil {
		return nil, err
	}
	return doc.Slides[slideIndex].Clone(), nil
}

// CleanupOrphans reconciles legacy slide ids and removes orphaned elements,
// persisting the result as a versioned mutation. Returns the removed element
// ids for caller-side logging.
func (s *Service) CleanupOrphans(ctx context.Context, id string) ([]string, error) {
	var removed []string
	_, err := s.withVersioning(ctx, id, "system", "orphan cleanup", func(p *models.Presentation) error {
		cleaned, removedIDs := CleanupOrphans(p)
		*p = *cleaned
		removed = removedIDs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.OrphansRemoved.Add(float64(len(removed)))
	}
	if len(removed) > 0 {
		s.logger.Info("orphan elements removed", "id", id, "removed", len(removed))
	}
	return removed, nil
}

// Close closes the configured backends.
func (s *Service) Close() error {
	var firstErr error
	if s.durable != nil {
		if err := s.durable.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.fallback.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// persistDocument writes the document to the durable tier when configured,
// degrading to the fallback tier on unavailability. Returns the tier that
// accepted the write.
func (s *Service) persistDocument(ctx context.Context, p *models.Presentation) (string, error) {
	if s.durable != nil {
		_, err := durableCall(s, ctx, "save", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.durable.Save(ctx, p)
		})
		if err == nil {
			return tierDurable, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return "", err
		}
		s.degraded("save", err)
	}
	if err := s.fallback.Save(ctx, p); err != nil {
		return "", fmt.Errorf("fallback save: %w", err)
	}
	return tierFallback, nil
}

// loadTiered loads from cache, durable, then fallback, without the cache
// refresh and re-sync side effects of Load.
func (s *Service) loadTiered(ctx context.Context, id string) (*models.Presentation, error) {
	if s.cache != nil {
		if p, ok := s.cache.Get(id); ok {
			s.countCache("hit")
			return p, nil
		}
		s.countCache("miss")
	}
	p, _, err := s.loadBackends(ctx, id)
	return p, err
}

// loadBackends tries the durable tier, then the fallback tier. A durable
// miss still falls through: the document may only exist in the fallback
// after a degraded write.
func (s *Service) loadBackends(ctx context.Context, id string) (*models.Presentation, string, error) {
	if s.durable != nil {
		p, err := durableCall(s, ctx, "load", func(ctx context.Context) (*models.Presentation, error) {
			return s.durable.Load(ctx, id)
		})
		if err == nil {
			return p, tierDurable, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) && !errors.Is(err, ErrNotFound) {
			return nil, "", err
		}
		if errors.Is(err, ErrBackendUnavailable) {
			s.degraded("load", err)
		}
	}
	p, err := s.fallback.Load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return p, tierFallback, nil
}

// durableCall bounds a durable-tier call with the configured timeout and
// retry policy. Caller errors are never retried; timeouts and transport
// failures surface as ErrBackendUnavailable.
func durableCall[T any](s *Service, ctx context.Context, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	value, result := retry.DoWithValue(ctx, s.retryCfg, func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.durableTimeout)
		defer cancel()
		v, err := fn(callCtx)
		if err != nil {
			if isCallerError(err) {
				return v, retry.Permanent(err)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return v, fmt.Errorf("%w: %s timed out after %s", ErrBackendUnavailable, operation, s.durableTimeout)
			}
			if !errors.Is(err, ErrBackendUnavailable) {
				err = fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, operation, err)
			}
		}
		return v, err
	})

	if s.metrics != nil {
		status := "success"
		if result.Err != nil {
			status = "error"
		}
		s.metrics.TierOperations.WithLabelValues(tierDurable, operation, status).Inc()
		s.metrics.TierOperationDuration.WithLabelValues(tierDurable, operation).Observe(time.Since(start).Seconds())
	}
	return value, result.Err
}

// isCallerError reports whether an error indicates caller error rather than
// infrastructure degradation. These always surface and are never retried.
func isCallerError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidIndex) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrValidation)
}

func (s *Service) degraded(operation string, err error) {
	s.logger.Warn("durable tier unavailable, using fallback",
		"operation", operation,
		"error", err)
	if s.metrics != nil {
		s.metrics.FallbackActivations.WithLabelValues(operation).Inc()
	}
}

func (s *Service) cacheSet(p *models.Presentation) {
	if s.cache != nil {
		s.cache.Set(p.ID, p)
	}
}

func (s *Service) countCache(event string) {
	if s.metrics != nil {
		s.metrics.CacheEvents.WithLabelValues(event).Inc()
	}
}

// assignIdentifiers gives slides and elements stable ids where missing and
// points parentless elements at their owning slide. Existing ids are never
// changed.
func assignIdentifiers(p *models.Presentation) {
	for i := range p.Slides {
		slide := &p.Slides[i]
		if slide.SlideID == "" {
			slide.SlideID = uuid.NewString()
		}
		for _, coll := range slide.ElementCollections() {
			for j := range *coll {
				el := &(*coll)[j]
				if el.ID == "" {
					el.ID = uuid.NewString()
				}
				if el.ParentSlideID == "" {
					el.ParentSlideID = slide.SlideID
				}
			}
		}
	}
}

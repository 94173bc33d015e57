package deck

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/deckstore/pkg/models"
)

// withVersioning wraps a state-changing operation so that the pre-mutation
// state is captured as a new version. The content write and the version
// write are one logical unit: the version record is only written after the
// new state persisted, and a failed version write rolls the content back to
// the snapshot.
func (s *Service) withVersioning(ctx context.Context, id, createdBy, changeSummary string, mutate func(*models.Presentation) error) (*models.Presentation, error) {
	current, err := s.loadTiered(ctx, id)
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	if err := ValidateShape(working); err != nil {
		return nil, err
	}

	version := &models.Version{
		VersionID:      newVersionID(s.now()),
		PresentationID: id,
		CreatedAt:      s.now(),
		CreatedBy:      createdBy,
		ChangeSummary:  changeSummary,
		Snapshot:       current.Clone(),
	}

	working.Revision = current.Revision
	saved, err := s.Save(ctx, working)
	if err != nil {
		return nil, err
	}

	tier, err := s.saveVersionTiered(ctx, version)
	if err != nil {
		// The version record never made it; put the old content back so the
		// operation stays atomic from the caller's perspective.
		rollback := version.Snapshot.Clone()
		rollback.Revision = saved.Revision
		if _, rbErr := s.Save(ctx, rollback); rbErr != nil {
			s.logger.Error("rollback after failed version write failed",
				"id", id, "error", rbErr)
		}
		return nil, fmt.Errorf("write version record: %w", err)
	}

	s.countVersion("mutation")
	s.logger.Info("version recorded",
		"id", id,
		"version_id", version.VersionID,
		"tier", tier,
		"created_by", createdBy)
	return saved, nil
}

// ListVersions returns the version history newest first. The document must
// exist in at least one tier.
func (s *Service) ListVersions(ctx context.Context, id string) ([]models.VersionSummary, error) {
	if _, err := s.loadTiered(ctx, id); err != nil {
		return nil, err
	}

	if s.durable != nil {
		summaries, err := durableCall(s, ctx, "list_versions", func(ctx context.Context) ([]models.VersionSummary, error) {
			return s.durable.ListVersions(ctx, id)
		})
		if err == nil && len(summaries) > 0 {
			return summaries, nil
		}
		if err != nil && !errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
		if err != nil {
			s.degraded("list_versions", err)
		}
	}
	return s.fallback.ListVersions(ctx, id)
}

// Restore makes the given version's snapshot the current state. With
// createBackup, the current (pre-restore) state is first captured as one
// more version, so the restore is itself undoable. History is never
// truncated: the restored-from version and everything after it remain.
func (s *Service) Restore(ctx context.Context, id, versionID string, createBackup bool) (*models.Presentation, error) {
	current, err := s.loadTiered(ctx, id)
	if err != nil {
		return nil, err
	}

	version, err := s.loadVersionTiered(ctx, id, versionID)
	if err != nil {
		return nil, err
	}
	if version.Snapshot == nil || version.PresentationID != id {
		return nil, ErrVersionNotFound
	}

	if createBackup {
		backup := &models.Version{
			VersionID:      newVersionID(s.now()),
			PresentationID: id,
			CreatedAt:      s.now(),
			CreatedBy:      "restore",
			ChangeSummary:  fmt.Sprintf("backup before restoring %s", versionID),
			Snapshot:       current.Clone(),
		}
		if _, err := s.saveVersionTiered(ctx, backup); err != nil {
			return nil, fmt.Errorf("write pre-restore backup: %w", err)
		}
		s.countVersion("pre_restore_backup")
	}

	restored := version.Snapshot.Clone()
	restored.ID = id
	restored.CreatedAt = current.CreatedAt
	restored.Revision = current.Revision // Save bumps from the live revision

	saved, err := s.Save(ctx, restored)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Restores.Inc()
	}
	s.logger.Info("presentation restored",
		"id", id,
		"version_id", versionID,
		"backup", createBackup)
	return saved, nil
}

// saveVersionTiered writes the version record to the durable tier, degrading
// to the fallback tier on unavailability. Returns the tier that accepted it.
func (s *Service) saveVersionTiered(ctx context.Context, v *models.Version) (string, error) {
	if s.durable != nil {
		_, err := durableCall(s, ctx, "save_version", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.durable.SaveVersion(ctx, v)
		})
		if err == nil {
			return tierDurable, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return "", err
		}
		s.degraded("save_version", err)
	}
	if err := s.fallback.SaveVersion(ctx, v); err != nil {
		return "", fmt.Errorf("fallback save version: %w", err)
	}
	return tierFallback, nil
}

// loadVersionTiered resolves a version from the durable tier, then the
// fallback tier. An absent version is ErrVersionNotFound regardless of tier.
func (s *Service) loadVersionTiered(ctx context.Context, presentationID, versionID string) (*models.Version, error) {
	if s.durable != nil {
		v, err := durableCall(s, ctx, "load_version", func(ctx context.Context) (*models.Version, error) {
			return s.durable.LoadVersion(ctx, presentationID, versionID)
		})
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) && !errors.Is(err, ErrVersionNotFound) {
			return nil, err
		}
		if errors.Is(err, ErrBackendUnavailable) {
			s.degraded("load_version", err)
		}
	}
	return s.fallback.LoadVersion(ctx, presentationID, versionID)
}

func (s *Service) countVersion(reason string) {
	if s.metrics != nil {
		s.metrics.VersionsCreated.WithLabelValues(reason).Inc()
	}
}

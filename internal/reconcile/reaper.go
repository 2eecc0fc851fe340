package reconcile

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// reapOrphans deletes embeddings whose source record no longer exists.
//
// Discovery is approximate: a single broad probe over the organization's
// embeddings, capped at the configured scan limit, so an orphan outside the
// probe's reach survives until a later run. Groups are deleted whole; an
// orphaned chunk set never loses only some of its chunks. Returns the number
// of embeddings removed.
func (e *Engine) reapOrphans(ctx context.Context, orgID string) (int, error) {
	if e.idx == nil {
		return 0, nil
	}

	grouped, err := e.locator.LocateAllForOrganization(ctx, orgID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for sourceID, group := range grouped {
		// A source id is only meaningful within its kind; split mixed
		// groups before checking existence.
		byKind := make(map[SourceType][]Embedding)
		for _, emb := range group {
			byKind[emb.Metadata.SourceType] = append(byKind[emb.Metadata.SourceType], emb)
		}
		for kind, kindGroup := range byKind {
			removed += e.reapGroup(ctx, orgID, kind, sourceID, kindGroup)
		}
	}
	return removed, nil
}

// reapGroup deletes one source record's embeddings if the record is gone.
// Returns the number of embeddings removed.
func (e *Engine) reapGroup(ctx context.Context, orgID string, kind SourceType, sourceID string, group []Embedding) int {
	collector, ok := e.byKind[kind]
	if !ok {
		// No collector for this kind in this deployment; leave it.
		return 0
	}

	_, err := collector.Get(ctx, orgID, sourceID)
	if err == nil {
		return 0
	}
	if !errors.Is(err, ErrNotFound) {
		// Source lookup failed for a reason other than absence.
		// Deleting on a transient error would destroy live data.
		e.logger.Warn("orphan check inconclusive",
			zap.String("organization_id", orgID),
			zap.String("source_type", string(kind)),
			zap.String("source_id", sourceID),
			zap.Error(err))
		return 0
	}

	ids := make([]string, len(group))
	for i, emb := range group {
		ids[i] = emb.ID
	}
	if err := e.idx.Delete(ctx, ids); err != nil {
		e.logger.Warn("orphan deletion failed",
			zap.String("organization_id", orgID),
			zap.String("source_id", sourceID),
			zap.Error(err))
		return 0
	}
	e.logger.Info("orphaned embeddings removed",
		zap.String("organization_id", orgID),
		zap.String("source_type", string(kind)),
		zap.String("source_id", sourceID),
		zap.Int("count", len(ids)))
	return len(ids)
}

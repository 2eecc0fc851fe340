package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trycompai/embedsync/internal/index"
	"github.com/trycompai/embedsync/internal/textprep"
)

// outcome classifies one record's sync result.
type outcome int

const (
	outcomeCreated outcome = iota
	outcomeUpdated
	outcomeSkipped
	outcomeFailed
)

// batchSizeFor returns the record batch size for a source kind. Documents
// carry the largest payloads and get the smallest batches.
func batchSizeFor(kind SourceType) int {
	switch kind {
	case SourceKnowledgeDocument:
		return 20
	case SourcePolicy:
		return 50
	default:
		return 100
	}
}

// runPhase reconciles every record of one source kind for an organization.
//
// Records are processed in fixed-size batches with bounded concurrency
// inside each batch; batch N+1 does not start until batch N has settled, to
// bound peak outstanding network calls. A single record's failure increments
// Failed and does not affect sibling records. A List failure aborts the
// whole sync.
func (e *Engine) runPhase(ctx context.Context, orgID string, collector Collector) (*Stats, error) {
	kind := collector.Kind()

	records, err := collector.List(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing %s records: %w", kind, err)
	}

	stats := &Stats{Total: len(records)}
	if e.idx == nil {
		// Index not configured: nothing to reconcile against.
		stats.Skipped = len(records)
		return stats, nil
	}

	var mu sync.Mutex
	batchSize := batchSizeFor(kind)

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}

		g := new(errgroup.Group)
		g.SetLimit(e.batchConcurrency)
		for _, rec := range records[start:end] {
			g.Go(func() error {
				result, lastID, err := e.syncRecord(ctx, orgID, kind, rec)
				mu.Lock()
				defer mu.Unlock()
				switch result {
				case outcomeCreated:
					stats.Created++
				case outcomeUpdated:
					stats.Updated++
				case outcomeSkipped:
					stats.Skipped++
				case outcomeFailed:
					stats.Failed++
					e.logger.Warn("record sync failed",
						zap.String("organization_id", orgID),
						zap.String("source_type", string(kind)),
						zap.String("source_id", rec.ID),
						zap.Error(err))
				}
				if lastID != "" {
					stats.LastUpsertedID = lastID
				}
				return nil
			})
		}
		// Errors are folded into stats per record; Wait only synchronizes.
		_ = g.Wait()
	}

	return stats, nil
}

// syncRecord reconciles one source record: detect staleness, delete the
// stale chunk set wholesale, then chunk, embed and upsert the new content.
func (e *Engine) syncRecord(ctx context.Context, orgID string, kind SourceType, rec SourceRecord) (outcome, string, error) {
	updatedAt := FormatTimestamp(rec.UpdatedAt)

	existing := e.locator.Locate(ctx, rec.ID, kind, orgID, rec.Label)
	if !NeedsUpdate(existing, updatedAt) {
		return outcomeSkipped, "", nil
	}

	// Stale chunk sets are deleted wholesale before new chunks are written,
	// never partially overwritten in place.
	if len(existing) > 0 {
		ids := make([]string, len(existing))
		for i, emb := range existing {
			ids[i] = emb.ID
		}
		e.deleteMany(ctx, ids)
	}

	text := strings.TrimSpace(rec.Text)
	if text == "" {
		return outcomeSkipped, "", nil
	}

	var chunks []string
	if kind.Chunked() {
		var err error
		chunks, err = textprep.Chunk(text, e.chunkOpts)
		if err != nil {
			return outcomeFailed, "", err
		}
	} else {
		chunks = []string{text}
	}

	items := make([]upsertItem, 0, len(chunks))
	for i, chunk := range chunks {
		items = append(items, upsertItem{
			id:   EmbeddingID(kind, rec.ID, i),
			text: chunk,
			metadata: Metadata{
				OrganizationID: orgID,
				SourceType:     kind,
				SourceID:       rec.ID,
				UpdatedAt:      updatedAt,
				Excerpt:        chunk,
				Label:          rec.Label,
			},
		})
	}

	lastID, err := e.upsertMany(ctx, items)
	if err != nil {
		return outcomeFailed, lastID, err
	}

	if len(existing) > 0 {
		return outcomeUpdated, lastID, nil
	}
	return outcomeCreated, lastID, nil
}

// upsertItem is one pending embedding write.
type upsertItem struct {
	id       string
	text     string
	metadata Metadata
}

// upsertMany embeds items in one batched call and writes them to the index.
// Items with blank text are filtered out. Returns the last written id.
func (e *Engine) upsertMany(ctx context.Context, items []upsertItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	if e.idx == nil {
		return "", ErrIndexNotConfigured
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.text
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return "", fmt.Errorf("embedding %d chunks: %w", len(items), err)
	}

	points := make([]index.Point, 0, len(items))
	var lastID string
	for i, item := range items {
		if len(vectors[i]) == 0 {
			// Blank text occupies its slot with a nil vector; skip it.
			continue
		}
		points = append(points, index.Point{
			ID:      item.id,
			Vector:  vectors[i],
			Payload: payloadFromMetadata(item.metadata),
		})
		lastID = item.id
	}
	if len(points) == 0 {
		return "", nil
	}

	if err := e.idx.Upsert(ctx, points); err != nil {
		return "", fmt.Errorf("upserting %d embeddings: %w", len(points), err)
	}
	return lastID, nil
}

// deleteMany removes embeddings by id, best-effort. Provider errors are
// logged and treated as "may not have existed".
func (e *Engine) deleteMany(ctx context.Context, ids []string) {
	if e.idx == nil || len(ids) == 0 {
		return
	}
	if err := e.idx.Delete(ctx, ids); err != nil {
		e.logger.Warn("embedding deletion failed",
			zap.Int("count", len(ids)),
			zap.Error(err))
	}
}

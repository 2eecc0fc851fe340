package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FindSimilar ranks the organization's stored embeddings against a free-text
// query. Results scoring below minScore are dropped; a zero minScore falls
// back to the engine's configured floor. An unconfigured index yields an
// empty result set, not an error.
func (e *Engine) FindSimilar(ctx context.Context, orgID, query string, topK int, minScore float32) ([]RankedResult, error) {
	if e.idx == nil {
		return nil, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if topK <= 0 {
		topK = 10
	}

	ctx, span := e.tracer.Start(ctx, "reconcile.find_similar",
		trace.WithAttributes(
			attribute.String("organization.id", orgID),
			attribute.Int("top_k", topK)))
	defer span.End()

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding search query: %w", err)
	}
	return e.rankedQuery(ctx, orgID, vector, topK, minScore)
}

// FindSimilarBatch answers several queries against one organization with a
// single embedding round trip. The result slice is positional: results[i]
// answers queries[i], and a blank query yields a nil slot. minScore applies
// to every query; zero falls back to the configured floor.
func (e *Engine) FindSimilarBatch(ctx context.Context, orgID string, queries []string, topK int, minScore float32) ([][]RankedResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	results := make([][]RankedResult, len(queries))
	if e.idx == nil {
		return results, nil
	}
	if topK <= 0 {
		topK = 10
	}

	ctx, span := e.tracer.Start(ctx, "reconcile.find_similar_batch",
		trace.WithAttributes(
			attribute.String("organization.id", orgID),
			attribute.Int("query_count", len(queries)),
			attribute.Int("top_k", topK)))
	defer span.End()

	vectors, err := e.embedder.EmbedBatch(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embedding %d search queries: %w", len(queries), err)
	}

	for i, vector := range vectors {
		if len(vector) == 0 {
			continue
		}
		ranked, err := e.rankedQuery(ctx, orgID, vector, topK, minScore)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		results[i] = ranked
	}
	return results, nil
}

// rankedQuery runs one vector query scoped to an organization and maps the
// hits into ranked results, strongest first.
func (e *Engine) rankedQuery(ctx context.Context, orgID string, vector []float32, topK int, minScore float32) ([]RankedResult, error) {
	if minScore == 0 {
		minScore = e.minScore
	}

	scored, err := e.idx.Query(ctx, vector, topK, map[string]string{payloadOrgKey: orgID})
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}

	results := make([]RankedResult, 0, len(scored))
	for _, hit := range scored {
		meta := metadataFromPayload(hit.Payload)
		// The provider filter is advisory; enforce tenancy exactly here.
		if meta.OrganizationID != orgID {
			continue
		}
		if hit.Score < minScore {
			continue
		}
		results = append(results, RankedResult{
			ID:         hit.ID,
			Score:      hit.Score,
			Content:    meta.Excerpt,
			SourceType: meta.SourceType,
			SourceID:   meta.SourceID,
			Label:      meta.Label,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/trycompai/embedsync/internal/embeddings"
	"github.com/trycompai/embedsync/internal/index"
)

// boilerplateProbes is a small fixed set of phrases likely to resemble
// arbitrary document text, used as last-resort probes when locating document
// chunks.
var boilerplateProbes = []string{
	"policy procedure compliance requirements",
	"this document describes",
	"terms and definitions scope purpose",
}

// bootstrapChunkLimit bounds how many already-found chunks are used to
// bootstrap discovery of further chunks of the same document.
const bootstrapChunkLimit = 3

// bootstrapProbePrefix bounds the chunk-content prefix used as a probe text.
const bootstrapProbePrefix = 400

// Locator discovers embeddings already stored for a source, best-effort.
//
// The index exposes only approximate nearest-neighbor search: there is no
// "list all vectors with metadata X" API, and a single probe vector is not
// guaranteed to surface every chunk of a source, because similarity to one
// probe text does not imply similarity to all chunks. The locator therefore
// issues several diversified probes and unions the exactly-filtered results.
//
// This remains an approximation: a chunk semantically distant from every
// probe can evade discovery for an unbounded number of sync cycles, and such
// a chunk may persist indefinitely as an undetected orphan. Removing the
// limitation requires an exact list/filter API from the index.
type Locator struct {
	idx      index.Client
	embedder embeddings.Provider
	logger   *zap.Logger

	// topK is the result limit for each discovery probe.
	topK int

	// orgScanTopK caps the broad per-organization probe. Bounded by the
	// index's maximum result size per query.
	orgScanTopK int
}

// NewLocator creates a Locator. idx may be nil (index not configured), in
// which case every lookup returns empty results.
func NewLocator(idx index.Client, embedder embeddings.Provider, logger *zap.Logger, topK, orgScanTopK int) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{
		idx:         idx,
		embedder:    embedder,
		logger:      logger.Named("locator"),
		topK:        topK,
		orgScanTopK: orgScanTopK,
	}
}

// Locate discovers all embeddings stored for (sourceID, kind, orgID),
// best-effort. It never returns an error: provider failures degrade to
// partial or empty results with a warning logged. label, when present, adds
// a document-name probe.
func (l *Locator) Locate(ctx context.Context, sourceID string, kind SourceType, orgID, label string) []Embedding {
	if l.idx == nil {
		return nil
	}

	found := make(map[string]Embedding)

	// Diversified identity probes: none of these texts is semantically
	// meaningful, but each lands in a different region of the space and the
	// union, exactly filtered, recovers most chunk sets.
	probes := []string{
		orgID,
		sourceID,
		orgID + " " + sourceID,
	}
	if kind == SourceKnowledgeDocument && label != "" {
		probes = append(probes, label)
	}

	for _, probe := range probes {
		l.probeInto(ctx, found, probe, sourceID, kind, orgID)
	}

	if kind == SourceKnowledgeDocument {
		l.bootstrapDocumentProbes(ctx, found, sourceID, orgID)
		for _, probe := range boilerplateProbes {
			l.probeInto(ctx, found, probe, sourceID, kind, orgID)
		}
	}

	result := make([]Embedding, 0, len(found))
	for _, emb := range found {
		result = append(result, emb)
	}
	return result
}

// probeInto runs one similarity probe and merges exactly-matching results
// into found. Each probe swallows its own provider error so the remaining
// probes still run.
func (l *Locator) probeInto(ctx context.Context, found map[string]Embedding, probeText, sourceID string, kind SourceType, orgID string) {
	vector, err := l.embedder.EmbedQuery(ctx, probeText)
	if err != nil {
		l.logger.Warn("probe embedding failed",
			zap.String("organization_id", orgID),
			zap.String("source_id", sourceID),
			zap.Error(err))
		return
	}

	results, err := l.idx.Query(ctx, vector, l.topK, map[string]string{payloadOrgKey: orgID})
	if err != nil {
		l.logger.Warn("probe query failed",
			zap.String("organization_id", orgID),
			zap.String("source_id", sourceID),
			zap.Error(err))
		return
	}

	for _, scored := range results {
		meta := metadataFromPayload(scored.Payload)
		// Exact-match post-filter. The approximate ranking is never
		// trusted for correctness.
		if meta.OrganizationID != orgID || meta.SourceType != kind || meta.SourceID != sourceID {
			continue
		}
		if scored.ID == "" {
			continue
		}
		found[scored.ID] = Embedding{ID: scored.ID, Metadata: meta}
	}
}

// bootstrapDocumentProbes re-probes using the content and stored label of the
// first few already-found chunks, bootstrapping discovery of additional,
// semantically distant chunks of the same document.
func (l *Locator) bootstrapDocumentProbes(ctx context.Context, found map[string]Embedding, sourceID, orgID string) {
	seeds := make([]string, 0, bootstrapChunkLimit)
	for id := range found {
		seeds = append(seeds, id)
		if len(seeds) == bootstrapChunkLimit {
			break
		}
	}
	if len(seeds) == 0 {
		return
	}

	records, err := l.idx.Fetch(ctx, seeds, false)
	if err != nil {
		l.logger.Warn("bootstrap fetch failed",
			zap.String("organization_id", orgID),
			zap.String("source_id", sourceID),
			zap.Error(err))
		return
	}

	for _, rec := range records {
		meta := metadataFromPayload(rec.Payload)
		if excerpt := truncateToRuneBoundary(meta.Excerpt, bootstrapProbePrefix); excerpt != "" {
			l.probeInto(ctx, found, excerpt, sourceID, SourceKnowledgeDocument, orgID)
		}
		if meta.Label != "" {
			l.probeInto(ctx, found, meta.Label, sourceID, SourceKnowledgeDocument, orgID)
		}
	}
}

// LocateAllForOrganization performs one broad probe over the organization's
// embeddings and groups the exactly-filtered results by source id. It is used
// only for orphan detection, not per-source completeness; the probe is capped
// at the configured scan limit.
func (l *Locator) LocateAllForOrganization(ctx context.Context, orgID string) (map[string][]Embedding, error) {
	if l.idx == nil {
		return nil, nil
	}

	vector, err := l.embedder.EmbedQuery(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("embedding organization probe: %w", err)
	}

	results, err := l.idx.Query(ctx, vector, l.orgScanTopK, map[string]string{payloadOrgKey: orgID})
	if err != nil {
		return nil, fmt.Errorf("organization scan query: %w", err)
	}

	grouped := make(map[string][]Embedding)
	for _, scored := range results {
		meta := metadataFromPayload(scored.Payload)
		if meta.OrganizationID != orgID || meta.SourceID == "" {
			continue
		}
		if !IsKnownSourceType(string(meta.SourceType)) {
			continue
		}
		grouped[meta.SourceID] = append(grouped[meta.SourceID], Embedding{ID: scored.ID, Metadata: meta})
	}
	return grouped, nil
}

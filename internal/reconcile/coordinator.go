package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/trycompai/embedsync/internal/embeddings"
	"github.com/trycompai/embedsync/internal/index"
	"github.com/trycompai/embedsync/internal/textprep"
)

const coordinatorTracerName = "embedsync.reconcile"

// Options configures an Engine.
type Options struct {
	// Collectors supply source records, in phase order. Phases run
	// sequentially; order determines which kinds are reconciled first.
	Collectors []Collector

	// Index is the vector index client. May be nil when no index is
	// configured, in which case syncs degrade to no-ops and searches
	// return empty results.
	Index index.Client

	// Embedder generates vectors for chunk text and search queries.
	Embedder embeddings.Provider

	ChunkOptions textprep.ChunkOptions

	// BatchConcurrency bounds concurrent record syncs within one batch.
	BatchConcurrency int

	// ProbeTopK is the per-probe result limit used when locating
	// existing embeddings.
	ProbeTopK int

	// OrgScanTopK bounds the organization-wide scan used by orphan
	// reaping.
	OrgScanTopK int

	VerifyMaxAttempts    int
	VerifyInitialBackoff time.Duration

	// MinScore is the default relevance floor for searches that do not
	// supply their own.
	MinScore float32

	Logger  *zap.Logger
	Metrics *Metrics
}

// Engine coordinates embedding reconciliation for organizations. It owns the
// phase runners, the orphan reaper, the consistency verifier and the search
// surface, and serializes concurrent syncs of the same organization.
type Engine struct {
	collectors []Collector
	byKind     map[SourceType]Collector

	idx      index.Client
	embedder embeddings.Provider
	locator  *Locator
	verifier *Verifier

	chunkOpts        textprep.ChunkOptions
	batchConcurrency int
	minScore         float32

	group   singleflight.Group
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewEngine constructs a reconciliation engine. A nil Options.Index is
// accepted and produces an engine whose write paths are no-ops.
func NewEngine(opts Options) (*Engine, error) {
	if len(opts.Collectors) == 0 {
		return nil, fmt.Errorf("at least one collector is required")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if err := opts.ChunkOptions.Validate(); err != nil {
		return nil, err
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 10
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	byKind := make(map[SourceType]Collector, len(opts.Collectors))
	for _, c := range opts.Collectors {
		if _, dup := byKind[c.Kind()]; dup {
			return nil, fmt.Errorf("duplicate collector for source type %q", c.Kind())
		}
		byKind[c.Kind()] = c
	}

	return &Engine{
		collectors:       opts.Collectors,
		byKind:           byKind,
		idx:              opts.Index,
		embedder:         opts.Embedder,
		locator:          NewLocator(opts.Index, opts.Embedder, opts.Logger, opts.ProbeTopK, opts.OrgScanTopK),
		verifier:         NewVerifier(opts.Index, opts.Logger, opts.VerifyMaxAttempts, opts.VerifyInitialBackoff),
		chunkOpts:        opts.ChunkOptions,
		batchConcurrency: opts.BatchConcurrency,
		minScore:         opts.MinScore,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		tracer:           otel.Tracer(coordinatorTracerName),
	}, nil
}

// SyncOrganization reconciles all embeddings for one organization.
//
// Concurrent calls for the same organization collapse into a single
// execution whose report is shared by every caller. Syncs for different
// organizations proceed independently.
func (e *Engine) SyncOrganization(ctx context.Context, orgID string) (*Report, error) {
	if orgID == "" {
		return nil, fmt.Errorf("organization id is required")
	}

	v, err, shared := e.group.Do(orgID, func() (any, error) {
		return e.doSync(ctx, orgID)
	})
	if err != nil {
		return nil, err
	}
	report := v.(*Report)
	if shared {
		e.logger.Debug("joined in-flight sync",
			zap.String("organization_id", orgID))
	}
	return report, nil
}

func (e *Engine) doSync(ctx context.Context, orgID string) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.sync_organization",
		trace.WithAttributes(attribute.String("organization.id", orgID)))
	defer span.End()

	start := time.Now()
	report := &Report{
		OrganizationID: orgID,
		Phases:         make(map[SourceType]*Stats, len(e.collectors)),
	}

	e.logger.Info("organization sync started",
		zap.String("organization_id", orgID),
		zap.Bool("index_configured", e.idx != nil))

	for _, collector := range e.collectors {
		kind := collector.Kind()
		stats, err := e.runPhase(ctx, orgID, collector)
		if err != nil {
			report.Duration = time.Since(start)
			e.recordSync(ctx, orgID, report, err)
			return nil, fmt.Errorf("sync phase %s: %w", kind, err)
		}
		report.Phases[kind] = stats
		report.Totals.add(*stats)
		e.logger.Info("sync phase complete",
			zap.String("organization_id", orgID),
			zap.String("source_type", string(kind)),
			zap.Int("created", stats.Created),
			zap.Int("updated", stats.Updated),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed))
	}

	removed, err := e.reapOrphans(ctx, orgID)
	if err != nil {
		// Reaping is best-effort; the sync itself succeeded.
		e.logger.Warn("orphan reaping failed",
			zap.String("organization_id", orgID),
			zap.Error(err))
	}
	report.OrphansRemoved = removed

	if report.Totals.LastUpsertedID != "" {
		verification := e.verifier.Verify(ctx, report.Totals.LastUpsertedID, orgID)
		report.Verification = &verification
	}

	report.Duration = time.Since(start)
	e.recordSync(ctx, orgID, report, nil)
	e.logger.Info("organization sync complete",
		zap.String("organization_id", orgID),
		zap.Int("created", report.Totals.Created),
		zap.Int("updated", report.Totals.Updated),
		zap.Int("skipped", report.Totals.Skipped),
		zap.Int("failed", report.Totals.Failed),
		zap.Int("orphans_removed", report.OrphansRemoved),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// SyncSingleRecord reconciles one source record on demand and returns the id
// of its first embedding. The record must still exist in its source table.
func (e *Engine) SyncSingleRecord(ctx context.Context, orgID string, kind SourceType, sourceID string) (string, error) {
	collector, ok := e.byKind[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, kind)
	}
	if e.idx == nil {
		return "", ErrIndexNotConfigured
	}

	ctx, span := e.tracer.Start(ctx, "reconcile.sync_single_record",
		trace.WithAttributes(
			attribute.String("organization.id", orgID),
			attribute.String("source.type", string(kind)),
			attribute.String("source.id", sourceID)))
	defer span.End()

	rec, err := collector.Get(ctx, orgID, sourceID)
	if err != nil {
		return "", err
	}

	if _, _, err := e.syncRecord(ctx, orgID, kind, *rec); err != nil {
		return "", fmt.Errorf("syncing %s %s: %w", kind, sourceID, err)
	}
	// A fresh-skip still reports the canonical first-chunk id: it is the
	// caller's handle to the stored set either way.
	return EmbeddingID(kind, sourceID, 0), nil
}

// DeleteSourceEmbeddings removes every embedding for one source record.
// Unknown or already-deleted records are not an error.
func (e *Engine) DeleteSourceEmbeddings(ctx context.Context, orgID string, kind SourceType, sourceID string) (int, error) {
	if !IsKnownSourceType(string(kind)) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSourceType, kind)
	}
	if e.idx == nil {
		return 0, nil
	}

	ctx, span := e.tracer.Start(ctx, "reconcile.delete_source_embeddings",
		trace.WithAttributes(
			attribute.String("organization.id", orgID),
			attribute.String("source.type", string(kind)),
			attribute.String("source.id", sourceID)))
	defer span.End()

	existing := e.locator.Locate(ctx, sourceID, kind, orgID, "")
	if len(existing) == 0 {
		return 0, nil
	}
	ids := make([]string, len(existing))
	for i, emb := range existing {
		ids[i] = emb.ID
	}
	if err := e.idx.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("deleting %d embeddings for %s %s: %w", len(ids), kind, sourceID, err)
	}
	return len(ids), nil
}

func (e *Engine) recordSync(ctx context.Context, orgID string, report *Report, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordSync(ctx, orgID, report, err)
}

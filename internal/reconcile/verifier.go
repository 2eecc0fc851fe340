package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trycompai/embedsync/internal/index"
)

// verifyQueryTopK is the neighborhood size checked for self-retrieval.
const verifyQueryTopK = 10

// VerificationResult reports one consistency-verification run.
type VerificationResult struct {
	Success     bool          `json:"success"`
	Attempts    int           `json:"attempts"`
	TotalWait   time.Duration `json:"total_wait"`
	EmbeddingID string        `json:"embedding_id"`
}

// Verifier confirms that a newly-written embedding is not just durably stored
// but searchable. The index is eventually consistent: a write can be fetched
// by id before it participates in nearest-neighbor search, so the verifier
// re-queries the index with the embedding's own vector and checks that the
// same id appears among the top results. Self-retrieval is the signal that
// the write is visible to search.
type Verifier struct {
	idx    index.Client
	logger *zap.Logger

	maxAttempts    int
	initialBackoff time.Duration
}

// NewVerifier creates a Verifier. idx may be nil (index not configured), in
// which case verification reports success without doing work.
func NewVerifier(idx index.Client, logger *zap.Logger, maxAttempts int, initialBackoff time.Duration) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		idx:            idx,
		logger:         logger.Named("verifier"),
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
	}
}

// Verify checks that embeddingID is stored and searchable, retrying with
// exponential backoff. Exhausting the retry budget is advisory: the caller
// logs it but does not fail the sync, since the data is durably written.
func (v *Verifier) Verify(ctx context.Context, embeddingID, orgID string) VerificationResult {
	result := VerificationResult{EmbeddingID: embeddingID}
	if v.idx == nil || embeddingID == "" {
		result.Success = true
		return result
	}

	backoff := v.initialBackoff
	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		result.Attempts = attempt

		if v.check(ctx, embeddingID, orgID) {
			result.Success = true
			return result
		}

		if attempt == v.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return result
		case <-time.After(backoff):
			result.TotalWait += backoff
			backoff *= 2
		}
	}

	v.logger.Warn("embedding not searchable within retry budget",
		zap.String("embedding_id", embeddingID),
		zap.String("organization_id", orgID),
		zap.Int("attempts", result.Attempts),
		zap.Duration("total_wait", result.TotalWait))
	return result
}

// check performs one fetch-then-self-query round.
func (v *Verifier) check(ctx context.Context, embeddingID, orgID string) bool {
	records, err := v.idx.Fetch(ctx, []string{embeddingID}, true)
	if err != nil {
		v.logger.Warn("verification fetch failed", zap.String("embedding_id", embeddingID), zap.Error(err))
		return false
	}
	if len(records) == 0 || len(records[0].Vector) == 0 {
		// Not yet stored, or vector not returned.
		return false
	}

	results, err := v.idx.Query(ctx, records[0].Vector, verifyQueryTopK, map[string]string{payloadOrgKey: orgID})
	if err != nil {
		v.logger.Warn("verification query failed", zap.String("embedding_id", embeddingID), zap.Error(err))
		return false
	}
	for _, scored := range results {
		if scored.ID == embeddingID {
			return true
		}
	}
	return false
}

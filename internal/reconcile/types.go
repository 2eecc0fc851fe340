// Package reconcile implements the embedding reconciliation engine: it keeps
// the remote vector index consistent with authoritative records in the
// relational store, per organization.
package reconcile

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// SourceType identifies the kind of authoritative record an embedding was
// derived from.
type SourceType string

// Known source types, in sync phase order.
const (
	SourcePolicy            SourceType = "policy"
	SourceContext           SourceType = "context"
	SourceManualAnswer      SourceType = "manual_answer"
	SourceKnowledgeDocument SourceType = "knowledge_base_document"
)

// KnownSourceTypes lists every source type the engine manages, in phase order.
func KnownSourceTypes() []SourceType {
	return []SourceType{SourcePolicy, SourceContext, SourceManualAnswer, SourceKnowledgeDocument}
}

// IsKnownSourceType reports whether s names a managed source type.
func IsKnownSourceType(s string) bool {
	switch SourceType(s) {
	case SourcePolicy, SourceContext, SourceManualAnswer, SourceKnowledgeDocument:
		return true
	}
	return false
}

// Chunked reports whether records of this type are split into multiple
// chunks. Manual answers are short single-record sources and get exactly one
// embedding with no chunk suffix.
func (t SourceType) Chunked() bool {
	return t != SourceManualAnswer
}

// EmbeddingID derives the stable embedding id for a chunk of a source record:
// {sourceType}_{sourceId}_chunk{n} for chunked kinds, {sourceType}_{sourceId}
// for single-record kinds. Chunk ids are contiguous from 0.
func EmbeddingID(kind SourceType, sourceID string, chunk int) string {
	if !kind.Chunked() {
		return fmt.Sprintf("%s_%s", kind, sourceID)
	}
	return fmt.Sprintf("%s_%s_chunk%d", kind, sourceID, chunk)
}

// timestampLayout is the single timestamp serialization used everywhere a
// timestamp is written to or compared against embedding metadata. Staleness
// detection compares these strings lexicographically, which is only sound
// for a fixed-precision, fixed-timezone layout.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the engine's canonical serialization.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// SourceRecord is one authoritative record as collected from the relational
// store, with its text already rendered.
type SourceRecord struct {
	ID             string
	OrganizationID string
	UpdatedAt      time.Time

	// Text is the record's renderable content. Records with empty text are
	// not embedded.
	Text string

	// Label is an optional human-readable name (document name, question
	// text) stored alongside embeddings to improve discoverability. Not
	// used for correctness.
	Label string
}

// Collector fetches current authoritative records of one source kind.
type Collector interface {
	// Kind returns the source type this collector serves.
	Kind() SourceType

	// List returns the organization's current records. A List failure is a
	// whole-phase failure and aborts the sync.
	List(ctx context.Context, orgID string) ([]SourceRecord, error)

	// Get returns one record by id, or ErrNotFound.
	Get(ctx context.Context, orgID, id string) (*SourceRecord, error)
}

// Metadata identifies and describes a stored embedding.
type Metadata struct {
	OrganizationID string
	SourceType     SourceType
	SourceID       string

	// UpdatedAt is the source record's last-modified timestamp, copied at
	// write time in the canonical serialization.
	UpdatedAt string

	// Excerpt is a bounded excerpt of the embedded chunk text.
	Excerpt string

	// Label mirrors SourceRecord.Label.
	Label string
}

// Embedding is a stored vector's identity and metadata as seen by the engine.
type Embedding struct {
	ID       string
	Metadata Metadata
}

// Payload keys used in the index.
const (
	payloadOrgKey       = "organization_id"
	payloadTypeKey      = "source_type"
	payloadSourceIDKey  = "source_id"
	payloadUpdatedAtKey = "updated_at"
	payloadContentKey   = "content"
	payloadLabelKey     = "label"
)

// excerptLimit bounds the chunk text stored in the payload.
const excerptLimit = 2000

// truncateToRuneBoundary cuts s to at most limit bytes without splitting a
// multi-byte rune. The index payload and embed request both require valid
// UTF-8.
func truncateToRuneBoundary(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// payloadFromMetadata renders metadata as an index payload.
func payloadFromMetadata(m Metadata) map[string]any {
	excerpt := truncateToRuneBoundary(m.Excerpt, excerptLimit)
	payload := map[string]any{
		payloadOrgKey:       m.OrganizationID,
		payloadTypeKey:      string(m.SourceType),
		payloadSourceIDKey:  m.SourceID,
		payloadUpdatedAtKey: m.UpdatedAt,
		payloadContentKey:   excerpt,
	}
	if m.Label != "" {
		payload[payloadLabelKey] = m.Label
	}
	return payload
}

// metadataFromPayload parses an index payload back into metadata. Missing
// keys yield zero values; callers post-filter on exact equality.
func metadataFromPayload(payload map[string]any) Metadata {
	return Metadata{
		OrganizationID: stringValue(payload, payloadOrgKey),
		SourceType:     SourceType(stringValue(payload, payloadTypeKey)),
		SourceID:       stringValue(payload, payloadSourceIDKey),
		UpdatedAt:      stringValue(payload, payloadUpdatedAtKey),
		Excerpt:        stringValue(payload, payloadContentKey),
		Label:          stringValue(payload, payloadLabelKey),
	}
}

func stringValue(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

// Stats accumulates per-phase sync outcomes.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`

	// LastUpsertedID is the id of the most recently written embedding,
	// used as the consistency-verification sample.
	LastUpsertedID string `json:"last_upserted_id,omitempty"`
}

// add merges other into s.
func (s *Stats) add(other Stats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Total += other.Total
	if other.LastUpsertedID != "" {
		s.LastUpsertedID = other.LastUpsertedID
	}
}

// Report is the outcome of one full organization sync.
type Report struct {
	OrganizationID string                `json:"organization_id"`
	Phases         map[SourceType]*Stats `json:"phases"`
	Totals         Stats                 `json:"totals"`
	OrphansRemoved int                   `json:"orphans_removed"`
	Verification   *VerificationResult   `json:"verification,omitempty"`
	Duration       time.Duration         `json:"duration"`
}

// RankedResult is one semantic-search hit returned to callers.
type RankedResult struct {
	ID         string     `json:"id"`
	Score      float32    `json:"score"`
	Content    string     `json:"content"`
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	Label      string     `json:"label,omitempty"`
}

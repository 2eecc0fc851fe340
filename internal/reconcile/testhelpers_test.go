package reconcile

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/trycompai/embedsync/internal/index"
	"github.com/trycompai/embedsync/internal/textprep"
)

const fakeVectorDims = 8

// fakeEmbedder produces deterministic unit vectors derived from the input
// text. Identical texts map to identical vectors, so self-retrieval and
// idempotence behave the way a real provider's do.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func embedText(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, fakeVectorDims)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		// Keep components positive so cosine scores stay non-negative.
		vec[i] = float32(seed%1000)/1000 + 0.001
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return embedText(text), nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = embedText(text)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		out[i] = embedText(text)
	}
	return out, nil
}

// fakeIndex is an in-memory vector index with exact payload filtering and
// cosine ranking. It counts writes so tests can assert on call volume.
type fakeIndex struct {
	mu       sync.Mutex
	points   map[string]index.Point
	upserts  int
	queries  int
	failAll  bool
	failNext int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: make(map[string]index.Point)}
}

func (f *fakeIndex) failing() error {
	if f.failAll {
		return fmt.Errorf("index unavailable")
	}
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("index unavailable")
	}
	return nil
}

func (f *fakeIndex) Upsert(ctx context.Context, points []index.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	f.upserts++
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]index.Scored, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return nil, err
	}
	f.queries++

	var hits []index.Scored
	for _, p := range f.points {
		if !payloadMatches(p.Payload, filter) {
			continue
		}
		hits = append(hits, index.Scored{
			ID:      p.ID,
			Score:   cosine(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeIndex) Fetch(ctx context.Context, ids []string, withVectors bool) ([]index.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return nil, err
	}
	var out []index.Record
	for _, id := range ids {
		p, ok := f.points[id]
		if !ok {
			continue
		}
		rec := index.Record{ID: p.ID, Payload: p.Payload}
		if withVectors {
			rec.Vector = p.Vector
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeIndex) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeIndex) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func (f *fakeIndex) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.points))
	for id := range f.points {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (f *fakeIndex) payload(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.points[id]
	if !ok {
		return nil
	}
	return p.Payload
}

func payloadMatches(payload map[string]any, filter map[string]string) bool {
	for k, want := range filter {
		got, ok := payload[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// fakeCollector serves source records from memory.
type fakeCollector struct {
	kind SourceType

	mu        sync.Mutex
	records   map[string]SourceRecord
	listErr   error
	listCalls int
	listDelay time.Duration
}

func newFakeCollector(kind SourceType, records ...SourceRecord) *fakeCollector {
	c := &fakeCollector{kind: kind, records: make(map[string]SourceRecord)}
	for _, rec := range records {
		c.records[rec.ID] = rec
	}
	return c
}

func (c *fakeCollector) Kind() SourceType { return c.kind }

func (c *fakeCollector) List(ctx context.Context, orgID string) ([]SourceRecord, error) {
	c.mu.Lock()
	c.listCalls++
	err := c.listErr
	delay := c.listDelay
	out := make([]SourceRecord, 0, len(c.records))
	for _, rec := range c.records {
		if rec.OrganizationID == orgID {
			out = append(out, rec)
		}
	}
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fakeCollector) Get(ctx context.Context, orgID, id string) (*SourceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok || rec.OrganizationID != orgID {
		return nil, fmt.Errorf("%s %s: %w", c.kind, id, ErrNotFound)
	}
	return &rec, nil
}

func (c *fakeCollector) put(rec SourceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.ID] = rec
}

func (c *fakeCollector) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, id)
}

func (c *fakeCollector) listCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listCalls
}

func newTestEngine(t *testing.T, idx index.Client, collectors ...Collector) *Engine {
	t.Helper()
	engine, err := NewEngine(Options{
		Collectors: collectors,
		Index:      idx,
		Embedder:   &fakeEmbedder{},
		ChunkOptions: textprep.ChunkOptions{
			SizeTokens:    100,
			OverlapTokens: 10,
		},
		BatchConcurrency:     4,
		ProbeTopK:            100,
		OrgScanTopK:          1000,
		VerifyMaxAttempts:    3,
		VerifyInitialBackoff: time.Millisecond,
		Logger:               zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parsing %q: %v", value, err)
	}
	return parsed
}

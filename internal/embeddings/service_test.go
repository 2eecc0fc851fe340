package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestServer serves a fixed-dimension embedding per input, echoing request
// order through the response index field.
func newTestServer(t *testing.T, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			*calls++
		}
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embedResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i), 1, 2}})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestNewServiceNotConfigured(t *testing.T) {
	_, err := NewService(Config{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEmbedQuery(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, Model: "test-model"}, zap.NewNop())
	require.NoError(t, err)

	vec, err := svc.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)

	_, err = svc.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDocuments(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	vecs, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(0), vecs[0][0])
	assert.Equal(t, float32(2), vecs[2][0])

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedBatchPreservesPositions(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	vecs, err := svc.EmbedBatch(context.Background(), []string{"", "alpha", "", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	assert.Nil(t, vecs[0], "blank input keeps its slot as a nil vector")
	assert.Nil(t, vecs[2])
	assert.NotEmpty(t, vecs[1])
	assert.NotEmpty(t, vecs[3])
}

func TestEmbedBatchAllBlank(t *testing.T) {
	calls := 0
	srv := newTestServer(t, &calls)
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	vecs, err := svc.EmbedBatch(context.Background(), []string{"", "  ", "\n"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Zero(t, calls, "no upstream call for all-blank input")
}

func TestEmbedDocumentsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

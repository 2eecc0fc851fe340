package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trycompai/embedsync/internal/index"
)

// seedEmbedding writes one embedding straight into the fake index.
func seedEmbedding(t *testing.T, idx *fakeIndex, orgID string, kind SourceType, sourceID string, chunk int, text, updatedAt, label string) string {
	t.Helper()
	id := EmbeddingID(kind, sourceID, chunk)
	err := idx.Upsert(context.Background(), []index.Point{{
		ID:     id,
		Vector: embedText(text),
		Payload: payloadFromMetadata(Metadata{
			OrganizationID: orgID,
			SourceType:     kind,
			SourceID:       sourceID,
			UpdatedAt:      updatedAt,
			Excerpt:        text,
			Label:          label,
		}),
	}})
	require.NoError(t, err)
	return id
}

func TestLocateFindsWholeChunkSet(t *testing.T) {
	idx := newFakeIndex()
	ts := "2026-03-01T10:00:00.000Z"

	want := map[string]bool{
		seedEmbedding(t, idx, testOrg, SourcePolicy, "p1", 0, "first chunk of the policy", ts, ""):  true,
		seedEmbedding(t, idx, testOrg, SourcePolicy, "p1", 1, "second chunk of the policy", ts, ""): true,
		seedEmbedding(t, idx, testOrg, SourcePolicy, "p1", 2, "third chunk of the policy", ts, ""):  true,
	}
	// Noise that exact filtering must exclude.
	seedEmbedding(t, idx, testOrg, SourcePolicy, "p2", 0, "a different policy", ts, "")
	seedEmbedding(t, idx, testOrg, SourceManualAnswer, "p1", 0, "same id, different kind", ts, "")
	seedEmbedding(t, idx, "org-other", SourcePolicy, "p9", 0, "other tenant's policy", ts, "")

	locator := NewLocator(idx, &fakeEmbedder{}, nil, 100, 1000)
	found := locator.Locate(context.Background(), "p1", SourcePolicy, testOrg, "")

	require.Len(t, found, len(want))
	for _, emb := range found {
		assert.True(t, want[emb.ID], "unexpected embedding %s", emb.ID)
		assert.Equal(t, ts, emb.Metadata.UpdatedAt)
	}
}

func TestLocateNilIndex(t *testing.T) {
	locator := NewLocator(nil, &fakeEmbedder{}, nil, 100, 1000)
	assert.Nil(t, locator.Locate(context.Background(), "p1", SourcePolicy, testOrg, ""))
}

func TestLocateDocumentWithLabel(t *testing.T) {
	idx := newFakeIndex()
	ts := "2026-03-01T10:00:00.000Z"
	id := seedEmbedding(t, idx, testOrg, SourceKnowledgeDocument, "d1", 0,
		"This document describes the incident response process.", ts, "IR Runbook")

	locator := NewLocator(idx, &fakeEmbedder{}, nil, 100, 1000)
	found := locator.Locate(context.Background(), "d1", SourceKnowledgeDocument, testOrg, "IR Runbook")

	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ID)
	assert.Equal(t, "IR Runbook", found[0].Metadata.Label)
}

func TestLocateSurvivesProbeFailures(t *testing.T) {
	idx := newFakeIndex()
	idx.failAll = true

	locator := NewLocator(idx, &fakeEmbedder{}, nil, 100, 1000)
	found := locator.Locate(context.Background(), "p1", SourcePolicy, testOrg, "")
	assert.Empty(t, found, "provider failures degrade to an empty result, not a panic or error")
}

func TestLocateAllForOrganization(t *testing.T) {
	idx := newFakeIndex()
	ts := "2026-03-01T10:00:00.000Z"

	seedEmbedding(t, idx, testOrg, SourcePolicy, "p1", 0, "policy chunk zero", ts, "")
	seedEmbedding(t, idx, testOrg, SourcePolicy, "p1", 1, "policy chunk one", ts, "")
	seedEmbedding(t, idx, testOrg, SourceManualAnswer, "m1", 0, "an answer", ts, "")
	seedEmbedding(t, idx, "org-other", SourcePolicy, "p9", 0, "other tenant", ts, "")

	// A point with an unrecognized source type must be ignored, not reaped.
	require.NoError(t, idx.Upsert(context.Background(), []index.Point{{
		ID:     "legacy_x_chunk0",
		Vector: embedText("legacy"),
		Payload: map[string]any{
			payloadOrgKey:      testOrg,
			payloadTypeKey:     "legacy",
			payloadSourceIDKey: "x",
		},
	}}))

	locator := NewLocator(idx, &fakeEmbedder{}, nil, 100, 1000)
	grouped, err := locator.LocateAllForOrganization(context.Background(), testOrg)
	require.NoError(t, err)

	require.Len(t, grouped, 2)
	assert.Len(t, grouped["p1"], 2)
	assert.Len(t, grouped["m1"], 1)
}

func TestLocateAllForOrganizationNilIndex(t *testing.T) {
	locator := NewLocator(nil, &fakeEmbedder{}, nil, 100, 1000)
	grouped, err := locator.LocateAllForOrganization(context.Background(), testOrg)
	require.NoError(t, err)
	assert.Nil(t, grouped)
}

package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/trycompai/embedsync/internal/reconcile"
)

func TestRenderQA(t *testing.T) {
	tests := []struct {
		name     string
		question string
		answer   string
		want     string
	}{
		{
			name:     "question and answer",
			question: "Is data encrypted at rest?",
			answer:   "Yes, with AES-256.",
			want:     "Question: Is data encrypted at rest?\nAnswer: Yes, with AES-256.",
		},
		{
			name:   "answer only",
			answer: "Standalone answer.",
			want:   "Standalone answer.",
		},
		{
			name:     "question only",
			question: "Unanswered question?",
			want:     "Unanswered question?",
		},
		{
			name:     "whitespace trimmed",
			question: "  Q  ",
			answer:   "\tA\n",
			want:     "Question: Q\nAnswer: A",
		},
		{
			name: "both empty",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderQA(tt.question, tt.answer))
		})
	}
}

func TestPolicyRecord(t *testing.T) {
	updated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	content := []byte(`[{"type":"doc","content":[
		{"type":"heading","content":[{"type":"text","text":"Scope"}]},
		{"type":"paragraph","content":[{"type":"text","text":"Applies to all staff."}]}
	]}]`)

	rec := policyRecord(Policy{
		ID:             "p1",
		OrganizationID: "org-1",
		Name:           "Acceptable Use",
		Content:        content,
		UpdatedAt:      updated,
	})

	assert.Equal(t, "p1", rec.ID)
	assert.Equal(t, "org-1", rec.OrganizationID)
	assert.Equal(t, updated, rec.UpdatedAt)
	assert.Equal(t, "Acceptable Use", rec.Label)
	assert.Contains(t, rec.Text, "Acceptable Use")
	assert.Contains(t, rec.Text, "Scope")
	assert.Contains(t, rec.Text, "Applies to all staff.")
}

func TestPolicyRecordMalformedContent(t *testing.T) {
	rec := policyRecord(Policy{
		ID:             "p1",
		OrganizationID: "org-1",
		Name:           "Broken Policy",
		Content:        []byte(`{not json`),
	})
	// Malformed content degrades to the name alone instead of failing.
	assert.Equal(t, "Broken Policy", rec.Text)
}

func TestPolicyRecordEmptyContent(t *testing.T) {
	rec := policyRecord(Policy{ID: "p1", OrganizationID: "org-1"})
	assert.Empty(t, rec.Text)
}

func TestContextRecordLabelsQuestion(t *testing.T) {
	rec := contextRecord(ContextEntry{
		ID:             "c1",
		OrganizationID: "org-1",
		Question:       "  Which regions host production data?  ",
		Answer:         "us-east-1 and eu-west-1.",
	})
	assert.Equal(t, "Which regions host production data?", rec.Label)
	assert.Contains(t, rec.Text, "Which regions host production data?")
}

func TestManualAnswerRecordLabelsQuestion(t *testing.T) {
	rec := manualAnswerRecord(ManualAnswer{
		ID:             "m1",
		OrganizationID: "org-1",
		Question:       "Is MFA enforced?",
		Answer:         "Yes, for all employees.",
	})
	assert.Equal(t, "Is MFA enforced?", rec.Label)

	rec = manualAnswerRecord(ManualAnswer{ID: "m2", Answer: "Answer without question."})
	assert.Empty(t, rec.Label)
}

func TestKnowledgeDocumentRecord(t *testing.T) {
	rec := knowledgeDocumentRecord(KnowledgeDocument{
		ID:             "d1",
		OrganizationID: "org-1",
		Name:           "IR Runbook",
		Content:        "Step one: triage the alert.",
	})
	assert.Equal(t, "IR Runbook", rec.Label)
	assert.Equal(t, "Step one: triage the alert.", rec.Text)
}

func TestNotFoundMapping(t *testing.T) {
	err := notFound(reconcile.SourcePolicy, "p1", gorm.ErrRecordNotFound)
	assert.ErrorIs(t, err, reconcile.ErrNotFound)

	err = notFound(reconcile.SourcePolicy, "p1", fmt.Errorf("connection reset"))
	assert.NotErrorIs(t, err, reconcile.ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/trycompai/embedsync/internal/reconcile"
	"github.com/trycompai/embedsync/internal/textprep"
)

// Collectors returns the store-backed collectors in sync phase order.
func (s *Store) Collectors() []reconcile.Collector {
	return []reconcile.Collector{
		&policyCollector{db: s.db},
		&contextCollector{db: s.db},
		&manualAnswerCollector{db: s.db},
		&knowledgeDocumentCollector{db: s.db},
	}
}

func notFound(kind reconcile.SourceType, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, reconcile.ErrNotFound)
	}
	return fmt.Errorf("loading %s %s: %w", kind, id, err)
}

// renderQA folds a question and answer pair into one embeddable text.
func renderQA(question, answer string) string {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" {
		return answer
	}
	if answer == "" {
		return question
	}
	return "Question: " + question + "\nAnswer: " + answer
}

type policyCollector struct {
	db *gorm.DB
}

func (c *policyCollector) Kind() reconcile.SourceType { return reconcile.SourcePolicy }

func (c *policyCollector) List(ctx context.Context, orgID string) ([]reconcile.SourceRecord, error) {
	var policies []Policy
	if err := c.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id").
		Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	out := make([]reconcile.SourceRecord, 0, len(policies))
	for _, p := range policies {
		out = append(out, policyRecord(p))
	}
	return out, nil
}

func (c *policyCollector) Get(ctx context.Context, orgID, id string) (*reconcile.SourceRecord, error) {
	var p Policy
	if err := c.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, id).
		First(&p).Error; err != nil {
		return nil, notFound(reconcile.SourcePolicy, id, err)
	}
	rec := policyRecord(p)
	return &rec, nil
}

func policyRecord(p Policy) reconcile.SourceRecord {
	text := renderPolicyContent(p.Content)
	if p.Name != "" {
		if text == "" {
			text = p.Name
		} else {
			text = p.Name + "\n" + text
		}
	}
	return reconcile.SourceRecord{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		UpdatedAt:      p.UpdatedAt,
		Text:           text,
		Label:          p.Name,
	}
}

// renderPolicyContent extracts plain text from the policy's structured
// document tree. Malformed content renders as empty rather than failing the
// whole record.
func renderPolicyContent(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	nodes, err := textprep.ParseContent(content)
	if err != nil {
		return ""
	}
	return textprep.ExtractText(nodes)
}

type contextCollector struct {
	db *gorm.DB
}

func (c *contextCollector) Kind() reconcile.SourceType { return reconcile.SourceContext }

func (c *contextCollector) List(ctx context.Context, orgID string) ([]reconcile.SourceRecord, error) {
	var entries []ContextEntry
	if err := c.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing context entries: %w", err)
	}
	out := make([]reconcile.SourceRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, contextRecord(e))
	}
	return out, nil
}

func (c *contextCollector) Get(ctx context.Context, orgID, id string) (*reconcile.SourceRecord, error) {
	var e ContextEntry
	if err := c.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, id).
		First(&e).Error; err != nil {
		return nil, notFound(reconcile.SourceContext, id, err)
	}
	rec := contextRecord(e)
	return &rec, nil
}

func contextRecord(e ContextEntry) reconcile.SourceRecord {
	return reconcile.SourceRecord{
		ID:             e.ID,
		OrganizationID: e.OrganizationID,
		UpdatedAt:      e.UpdatedAt,
		Text:           renderQA(e.Question, e.Answer),
		Label:          strings.TrimSpace(e.Question),
	}
}

type manualAnswerCollector struct {
	db *gorm.DB
}

func (c *manualAnswerCollector) Kind() reconcile.SourceType { return reconcile.SourceManualAnswer }

func (c *manualAnswerCollector) List(ctx context.Context, orgID string) ([]reconcile.SourceRecord, error) {
	var answers []ManualAnswer
	if err := c.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id").
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("listing manual answers: %w", err)
	}
	out := make([]reconcile.SourceRecord, 0, len(answers))
	for _, a := range answers {
		out = append(out, manualAnswerRecord(a))
	}
	return out, nil
}

func (c *manualAnswerCollector) Get(ctx context.Context, orgID, id string) (*reconcile.SourceRecord, error) {
	var a ManualAnswer
	if err := c.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, id).
		First(&a).Error; err != nil {
		return nil, notFound(reconcile.SourceManualAnswer, id, err)
	}
	rec := manualAnswerRecord(a)
	return &rec, nil
}

func manualAnswerRecord(a ManualAnswer) reconcile.SourceRecord {
	return reconcile.SourceRecord{
		ID:             a.ID,
		OrganizationID: a.OrganizationID,
		UpdatedAt:      a.UpdatedAt,
		Text:           renderQA(a.Question, a.Answer),
		Label:          strings.TrimSpace(a.Question),
	}
}

type knowledgeDocumentCollector struct {
	db *gorm.DB
}

func (c *knowledgeDocumentCollector) Kind() reconcile.SourceType {
	return reconcile.SourceKnowledgeDocument
}

func (c *knowledgeDocumentCollector) List(ctx context.Context, orgID string) ([]reconcile.SourceRecord, error) {
	var docs []KnowledgeDocument
	if err := c.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id").
		Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("listing knowledge base documents: %w", err)
	}
	out := make([]reconcile.SourceRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, knowledgeDocumentRecord(d))
	}
	return out, nil
}

func (c *knowledgeDocumentCollector) Get(ctx context.Context, orgID, id string) (*reconcile.SourceRecord, error) {
	var d KnowledgeDocument
	if err := c.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, id).
		First(&d).Error; err != nil {
		return nil, notFound(reconcile.SourceKnowledgeDocument, id, err)
	}
	rec := knowledgeDocumentRecord(d)
	return &rec, nil
}

func knowledgeDocumentRecord(d KnowledgeDocument) reconcile.SourceRecord {
	return reconcile.SourceRecord{
		ID:             d.ID,
		OrganizationID: d.OrganizationID,
		UpdatedAt:      d.UpdatedAt,
		Text:           d.Content,
		Label:          d.Name,
	}
}

package store

import "time"

// Policy is an organization policy whose body is stored as a structured
// document tree in jsonb.
type Policy struct {
	ID             string `gorm:"primaryKey"`
	OrganizationID string `gorm:"index:idx_policies_org;not null"`
	Name           string `gorm:"not null"`
	Status         string `gorm:"type:text;default:'draft'"`
	Content        []byte `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index"`
}

func (Policy) TableName() string { return "policies" }

// ContextEntry is a freeform question and answer pair describing the
// organization.
type ContextEntry struct {
	ID             string `gorm:"primaryKey"`
	OrganizationID string `gorm:"index:idx_context_org;not null"`
	Question       string `gorm:"type:text;not null"`
	Answer         string `gorm:"type:text;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index"`
}

func (ContextEntry) TableName() string { return "context_entries" }

// ManualAnswer is a curated answer to a recurring questionnaire question.
type ManualAnswer struct {
	ID             string `gorm:"primaryKey"`
	OrganizationID string `gorm:"index:idx_manual_answers_org;not null"`
	Question       string `gorm:"type:text;not null"`
	Answer         string `gorm:"type:text;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index"`
}

func (ManualAnswer) TableName() string { return "manual_answers" }

// KnowledgeDocument is an uploaded reference document with its text already
// extracted.
type KnowledgeDocument struct {
	ID             string `gorm:"primaryKey"`
	OrganizationID string `gorm:"index:idx_knowledge_docs_org;not null"`
	Name           string `gorm:"not null"`
	Content        string `gorm:"type:text"`
	SourceURL      string
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index"`
}

func (KnowledgeDocument) TableName() string { return "knowledge_base_documents" }

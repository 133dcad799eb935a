package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type LabelKind string

const (
	LabelKindTopic    LabelKind = "topic"
	LabelKindLanguage LabelKind = "language"
	LabelKindQType    LabelKind = "qtype"
	LabelKindCourse   LabelKind = "course"
)

// Label is a shared classification value. Display name is stored as received;
// uniqueness is enforced on (kind, lookup_key) where lookup_key is the
// canonical lower(trim(name)) form.
type Label struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	LookupKey string    `gorm:"column:lookup_key;not null;uniqueIndex:idx_label_kind_key" json:"-"`
	Kind      LabelKind `gorm:"column:kind;not null;uniqueIndex:idx_label_kind_key" json:"kind"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Label) TableName() string { return "label" }

// LabelLookupKey canonicalizes a display name for lookup.
func LabelLookupKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// QuestionLabel is the explicit join row so relations can be rebuilt
// atomically on metadata edits.
type QuestionLabel struct {
	QuestionID uuid.UUID `gorm:"type:uuid;primaryKey" json:"question_id"`
	LabelID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"label_id"`
}

func (QuestionLabel) TableName() string { return "question_labels" }

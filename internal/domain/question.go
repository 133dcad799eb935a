package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Question couples a relational record with a content-store directory.
// Exactly one of LocalPath/BlobPath is non-empty, matching the store backend.
type Question struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string    `gorm:"column:title;not null" json:"title"`
	IsAdaptive  bool      `gorm:"column:is_adaptive;not null;default:false" json:"isAdaptive"`
	AIGenerated bool      `gorm:"column:ai_generated;not null;default:false" json:"ai_generated"`
	QType       string    `gorm:"column:qtype" json:"qtype"`

	OwnerID *uuid.UUID `gorm:"type:uuid;index" json:"owner_id,omitempty"`
	Owner   *User      `gorm:"constraint:OnDelete:SET NULL;foreignKey:OwnerID;references:ID" json:"owner,omitempty"`

	LocalPath string `gorm:"column:local_path" json:"local_path,omitempty"`
	BlobPath  string `gorm:"column:blob_path" json:"blob_path,omitempty"`

	Labels []*Label `gorm:"many2many:question_labels;" json:"labels,omitempty"`

	// Generation warnings and trace summary.
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Question) TableName() string { return "question" }

// ContentPath returns whichever store path is set.
func (q *Question) ContentPath() string {
	if q == nil {
		return ""
	}
	if q.LocalPath != "" {
		return q.LocalPath
	}
	return q.BlobPath
}

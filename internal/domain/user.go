package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleAdmin     UserRole = "admin"
	UserRoleTeacher   UserRole = "teacher"
	UserRoleDeveloper UserRole = "developer"
	UserRoleStudent   UserRole = "student"
)

// User is created on first authenticated request; authentication itself is
// outside this repo.
type User struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalAuthID *string   `gorm:"column:external_auth_id;uniqueIndex" json:"external_auth_id,omitempty"`
	Email          *string   `gorm:"column:email;uniqueIndex" json:"email,omitempty"`
	Username       string    `gorm:"column:username" json:"username"`
	Role           UserRole  `gorm:"column:role;not null;default:'teacher'" json:"role"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "app_user" }

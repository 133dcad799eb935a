package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quizsmith/quizsmith-backend/internal/domain"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

type UserRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *domain.User) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.User, error)
	// GetOrCreateByExternalID backs "created on first authenticated request".
	GetOrCreateByExternalID(ctx context.Context, tx *gorm.DB, externalID string, seed domain.User) (*domain.User, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (r *userRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *userRepo) Create(ctx context.Context, tx *gorm.DB, row *domain.User) error {
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(row).Error
}

func (r *userRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.User, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out []*domain.User
	if err := r.conn(tx).WithContext(ctx).Where("id = ?", id).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *userRepo) GetOrCreateByExternalID(ctx context.Context, tx *gorm.DB, externalID string, seed domain.User) (*domain.User, error) {
	if externalID == "" {
		return nil, gorm.ErrInvalidValue
	}
	var out []*domain.User
	t := r.conn(tx).WithContext(ctx)
	if err := t.Where("external_auth_id = ?", externalID).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out[0], nil
	}

	row := seed
	row.ID = uuid.New()
	row.ExternalAuthID = &externalID
	if row.Role == "" {
		row.Role = domain.UserRoleTeacher
	}
	createErr := t.Create(&row).Error
	if createErr == nil {
		return &row, nil
	}
	if !isUniqueViolation(createErr) {
		return nil, createErr
	}
	if err := t.Where("external_auth_id = ?", externalID).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, createErr
	}
	return out[0], nil
}

package repos

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quizsmith/quizsmith-backend/internal/domain"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

type LabelRepo interface {
	// GetOrCreate resolves a label by its canonical lookup key, creating it on
	// first reference. Concurrent callers racing on the same name resolve to
	// the same row; the unique constraint on (kind, lookup_key) is the source
	// of truth and a unique violation is treated as "resolve on retry".
	GetOrCreate(ctx context.Context, tx *gorm.DB, kind domain.LabelKind, name string) (*domain.Label, error)
	GetByKindAndKey(ctx context.Context, tx *gorm.DB, kind domain.LabelKind, lookupKey string) (*domain.Label, error)
	ListByKind(ctx context.Context, tx *gorm.DB, kind domain.LabelKind) ([]*domain.Label, error)
}

type labelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLabelRepo(db *gorm.DB, baseLog *logger.Logger) LabelRepo {
	return &labelRepo{db: db, log: baseLog.With("repo", "LabelRepo")}
}

func (r *labelRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *labelRepo) GetByKindAndKey(ctx context.Context, tx *gorm.DB, kind domain.LabelKind, lookupKey string) (*domain.Label, error) {
	var out []*domain.Label
	err := r.conn(tx).WithContext(ctx).
		Where("kind = ? AND lookup_key = ?", kind, lookupKey).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *labelRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, kind domain.LabelKind, name string) (*domain.Label, error) {
	key := domain.LabelLookupKey(name)
	if key == "" {
		return nil, errors.New("label name is empty")
	}

	existing, err := r.GetByKindAndKey(ctx, tx, kind, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	row := &domain.Label{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(name),
		LookupKey: key,
		Kind:      kind,
	}
	createErr := r.conn(tx).WithContext(ctx).Create(row).Error
	if createErr == nil {
		return row, nil
	}
	if !isUniqueViolation(createErr) {
		return nil, createErr
	}

	// Lost the race; the winner's row is authoritative.
	existing, err = r.GetByKindAndKey(ctx, tx, kind, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, createErr
	}
	return existing, nil
}

func (r *labelRepo) ListByKind(ctx context.Context, tx *gorm.DB, kind domain.LabelKind) ([]*domain.Label, error) {
	var out []*domain.Label
	if err := r.conn(tx).WithContext(ctx).Where("kind = ?", kind).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique index") || strings.Contains(msg, "duplicate key")
}

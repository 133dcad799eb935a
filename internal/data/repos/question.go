package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quizsmith/quizsmith-backend/internal/domain"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

type QuestionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *domain.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Question, error)
	ListAll(ctx context.Context, tx *gorm.DB) ([]*domain.Question, error)
	Update(ctx context.Context, tx *gorm.DB, row *domain.Question) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	ReplaceLabels(ctx context.Context, tx *gorm.DB, questionID uuid.UUID, labelIDs []uuid.UUID) error
	LabelsFor(ctx context.Context, tx *gorm.DB, questionID uuid.UUID) ([]*domain.Label, error)
}

type questionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuestionRepo(db *gorm.DB, baseLog *logger.Logger) QuestionRepo {
	return &questionRepo{db: db, log: baseLog.With("repo", "QuestionRepo")}
}

func (r *questionRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *questionRepo) Create(ctx context.Context, tx *gorm.DB, row *domain.Question) error {
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(row).Error
}

func (r *questionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Question, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out []*domain.Question
	if err := r.conn(tx).WithContext(ctx).Where("id = ?", id).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *questionRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*domain.Question, error) {
	var out []*domain.Question
	if err := r.conn(tx).WithContext(ctx).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *questionRepo) Update(ctx context.Context, tx *gorm.DB, row *domain.Question) error {
	if row == nil {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Save(row).Error
}

func (r *questionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).
		Model(&domain.Question{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *questionRepo) FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	t := r.conn(tx).WithContext(ctx)
	if err := t.Where("question_id = ?", id).Delete(&domain.QuestionLabel{}).Error; err != nil {
		return err
	}
	return t.Unscoped().Where("id = ?", id).Delete(&domain.Question{}).Error
}

// ReplaceLabels rebuilds the join rows for one question in a single
// transaction so metadata edits never leave a partial relation set.
func (r *questionRepo) ReplaceLabels(ctx context.Context, tx *gorm.DB, questionID uuid.UUID, labelIDs []uuid.UUID) error {
	if questionID == uuid.Nil {
		return nil
	}
	run := func(t *gorm.DB) error {
		if err := t.Where("question_id = ?", questionID).Delete(&domain.QuestionLabel{}).Error; err != nil {
			return err
		}
		if len(labelIDs) == 0 {
			return nil
		}
		seen := map[uuid.UUID]bool{}
		rows := make([]*domain.QuestionLabel, 0, len(labelIDs))
		for _, lid := range labelIDs {
			if lid == uuid.Nil || seen[lid] {
				continue
			}
			seen[lid] = true
			rows = append(rows, &domain.QuestionLabel{QuestionID: questionID, LabelID: lid})
		}
		if len(rows) == 0 {
			return nil
		}
		return t.Create(&rows).Error
	}
	if tx != nil {
		return run(tx.WithContext(ctx))
	}
	return r.db.WithContext(ctx).Transaction(run)
}

func (r *questionRepo) LabelsFor(ctx context.Context, tx *gorm.DB, questionID uuid.UUID) ([]*domain.Label, error) {
	var out []*domain.Label
	if questionID == uuid.Nil {
		return out, nil
	}
	err := r.conn(tx).WithContext(ctx).
		Joins("JOIN question_labels ql ON ql.label_id = label.id").
		Where("ql.question_id = ?", questionID).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

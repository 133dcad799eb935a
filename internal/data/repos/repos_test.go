package repos

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/quizsmith/quizsmith-backend/internal/data/repos/testutil"
	"github.com/quizsmith/quizsmith-backend/internal/domain"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

func TestLabelGetOrCreateCanonicalizes(t *testing.T) {
	db := testutil.DB(t)
	labels := NewLabelRepo(db, logger.Nop())
	ctx := context.Background()

	first, err := labels.GetOrCreate(ctx, nil, domain.LabelKindTopic, "  Kinematics ")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.LookupKey != "kinematics" {
		t.Fatalf("unexpected lookup key: %q", first.LookupKey)
	}
	if first.Name != "Kinematics" {
		t.Fatalf("display name not trimmed: %q", first.Name)
	}

	second, err := labels.GetOrCreate(ctx, nil, domain.LabelKindTopic, "KINEMATICS")
	if err != nil {
		t.Fatalf("GetOrCreate second: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("case variants produced distinct rows: %s vs %s", first.ID, second.ID)
	}
}

func TestLabelSameNameDifferentKinds(t *testing.T) {
	db := testutil.DB(t)
	labels := NewLabelRepo(db, logger.Nop())
	ctx := context.Background()

	topic, err := labels.GetOrCreate(ctx, nil, domain.LabelKindTopic, "python")
	if err != nil {
		t.Fatalf("GetOrCreate topic: %v", err)
	}
	lang, err := labels.GetOrCreate(ctx, nil, domain.LabelKindLanguage, "python")
	if err != nil {
		t.Fatalf("GetOrCreate language: %v", err)
	}
	if topic.ID == lang.ID {
		t.Fatal("kinds must not share label rows")
	}
}

func TestLabelGetOrCreateRejectsBlankName(t *testing.T) {
	db := testutil.DB(t)
	labels := NewLabelRepo(db, logger.Nop())

	if _, err := labels.GetOrCreate(context.Background(), nil, domain.LabelKindTopic, "   "); err == nil {
		t.Fatal("blank name must not create a label")
	}
}

func TestReplaceLabelsRebuildsJoinRows(t *testing.T) {
	db := testutil.DB(t)
	log := logger.Nop()
	questions := NewQuestionRepo(db, log)
	labels := NewLabelRepo(db, log)
	ctx := context.Background()

	q := &domain.Question{Title: "Projectile range"}
	if err := questions.Create(ctx, nil, q); err != nil {
		t.Fatalf("Create question: %v", err)
	}
	old, _ := labels.GetOrCreate(ctx, nil, domain.LabelKindTopic, "kinematics")
	next, _ := labels.GetOrCreate(ctx, nil, domain.LabelKindTopic, "dynamics")

	if err := questions.ReplaceLabels(ctx, nil, q.ID, []uuid.UUID{old.ID}); err != nil {
		t.Fatalf("ReplaceLabels initial: %v", err)
	}
	// Duplicates and nil ids are dropped, not persisted.
	if err := questions.ReplaceLabels(ctx, nil, q.ID, []uuid.UUID{next.ID, next.ID, uuid.Nil}); err != nil {
		t.Fatalf("ReplaceLabels rebuild: %v", err)
	}

	got, err := questions.LabelsFor(ctx, nil, q.ID)
	if err != nil {
		t.Fatalf("LabelsFor: %v", err)
	}
	if len(got) != 1 || got[0].ID != next.ID {
		t.Fatalf("expected only the replacement label, got %d rows", len(got))
	}
}

func TestFullDeleteRemovesJoinRows(t *testing.T) {
	db := testutil.DB(t)
	log := logger.Nop()
	questions := NewQuestionRepo(db, log)
	labels := NewLabelRepo(db, log)
	ctx := context.Background()

	q := &domain.Question{Title: "Pendulum period"}
	if err := questions.Create(ctx, nil, q); err != nil {
		t.Fatalf("Create question: %v", err)
	}
	lbl, _ := labels.GetOrCreate(ctx, nil, domain.LabelKindTopic, "oscillations")
	if err := questions.ReplaceLabels(ctx, nil, q.ID, []uuid.UUID{lbl.ID}); err != nil {
		t.Fatalf("ReplaceLabels: %v", err)
	}

	if err := questions.FullDeleteByID(ctx, nil, q.ID); err != nil {
		t.Fatalf("FullDeleteByID: %v", err)
	}
	row, err := questions.GetByID(ctx, nil, q.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row != nil {
		t.Fatal("record survived full delete")
	}
	var joins int64
	if err := db.Model(&domain.QuestionLabel{}).Where("question_id = ?", q.ID).Count(&joins).Error; err != nil {
		t.Fatalf("count joins: %v", err)
	}
	if joins != 0 {
		t.Fatalf("%d join rows survived full delete", joins)
	}
}

func TestUserGetOrCreateByExternalID(t *testing.T) {
	db := testutil.DB(t)
	users := NewUserRepo(db, logger.Nop())
	ctx := context.Background()

	first, err := users.GetOrCreateByExternalID(ctx, nil, "auth0|abc123", domain.User{Username: "pat"})
	if err != nil {
		t.Fatalf("GetOrCreateByExternalID: %v", err)
	}
	if first.Role != domain.UserRoleTeacher {
		t.Fatalf("default role not applied: %q", first.Role)
	}

	second, err := users.GetOrCreateByExternalID(ctx, nil, "auth0|abc123", domain.User{Username: "someone-else"})
	if err != nil {
		t.Fatalf("second GetOrCreateByExternalID: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same external id resolved to distinct users: %s vs %s", first.ID, second.ID)
	}
	if second.Username != "pat" {
		t.Fatalf("existing row must win: %q", second.Username)
	}
}

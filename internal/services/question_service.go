// Package services owns the question lifecycle: creating records with their
// content directories, metadata edits, deletion, and store/database
// reconciliation.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/quizsmith/quizsmith-backend/internal/contentstore"
	"github.com/quizsmith/quizsmith-backend/internal/data/repos"
	"github.com/quizsmith/quizsmith-backend/internal/domain"
	"github.com/quizsmith/quizsmith-backend/internal/pkg/errs"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

const MetadataFilename = "metadata.json"

// QuestionData is the record side of a new question. Files carry the content
// side; the service composes metadata.json itself once the record exists.
type QuestionData struct {
	Title       string
	IsAdaptive  bool
	AIGenerated bool
	QType       string
	Topics      []string
	Courses     []string
	Languages   []string
	OwnerID     *uuid.UUID
	// Extra is persisted on the record's metadata column (warnings, trace).
	Extra map[string]any
}

type QuestionService struct {
	log       *logger.Logger
	db        *gorm.DB
	questions repos.QuestionRepo
	labels    repos.LabelRepo
	store     contentstore.Store
}

func NewQuestionService(log *logger.Logger, db *gorm.DB, questions repos.QuestionRepo, labels repos.LabelRepo, store contentstore.Store) (*QuestionService, error) {
	if log == nil || db == nil || questions == nil || labels == nil || store == nil {
		return nil, fmt.Errorf("question service: missing dependencies")
	}
	return &QuestionService{
		log:       log.With("service", "QuestionService"),
		db:        db,
		questions: questions,
		labels:    labels,
		store:     store,
	}, nil
}

// Create inserts the record, provisions its content directory, and writes the
// files plus metadata.json. Any failure after the insert compensates by
// removing both the directory and the record, so a question is either fully
// visible or absent.
func (s *QuestionService) Create(ctx context.Context, data QuestionData, files map[string][]byte) (*domain.Question, error) {
	row := &domain.Question{
		ID:          uuid.New(),
		Title:       data.Title,
		IsAdaptive:  data.IsAdaptive,
		AIGenerated: data.AIGenerated,
		QType:       data.QType,
		OwnerID:     data.OwnerID,
	}
	if row.Title == "" {
		row.Title = "Untitled question"
	}
	if len(data.Extra) > 0 {
		raw, err := json.Marshal(data.Extra)
		if err != nil {
			return nil, fmt.Errorf("encode question metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(raw)
	}

	if err := s.questions.Create(ctx, nil, row); err != nil {
		return nil, fmt.Errorf("insert question record: %w", err)
	}

	// Directory name stays unique even when sanitized titles collide.
	dirName := fmt.Sprintf("%s_%s", contentstore.SafeName(row.Title), row.ID.String()[:8])
	path, err := s.store.CreatePath(ctx, dirName)
	if err != nil {
		s.compensate(ctx, row.ID, "")
		return nil, err
	}

	if err := s.finishCreate(ctx, row, path, data, files); err != nil {
		s.compensate(ctx, row.ID, path)
		return nil, err
	}
	return row, nil
}

func (s *QuestionService) finishCreate(ctx context.Context, row *domain.Question, path string, data QuestionData, files map[string][]byte) error {
	updates := map[string]interface{}{}
	switch s.store.Backend() {
	case contentstore.BackendCloud:
		row.BlobPath = path
		updates["blob_path"] = path
	default:
		row.LocalPath = path
		updates["local_path"] = path
	}
	if err := s.questions.UpdateFields(ctx, nil, row.ID, updates); err != nil {
		return fmt.Errorf("set content path: %w", err)
	}

	labelIDs, err := s.resolveLabels(ctx, data)
	if err != nil {
		return err
	}
	if err := s.questions.ReplaceLabels(ctx, nil, row.ID, labelIDs); err != nil {
		return fmt.Errorf("attach labels: %w", err)
	}

	for _, name := range sortedFileNames(files) {
		if err := s.store.Save(ctx, path, name, files[name]); err != nil {
			return err
		}
	}

	// Reload so created_at/updated_at carry the stored values.
	stored, err := s.questions.GetByID(ctx, nil, row.ID)
	if err != nil {
		return fmt.Errorf("reload question record: %w", err)
	}
	if stored != nil {
		*row = *stored
	}
	meta := s.composeMetadata(row, data.Topics, data.Courses, data.Languages, nil)
	if err := s.store.Save(ctx, path, MetadataFilename, meta); err != nil {
		return err
	}
	return nil
}

func (s *QuestionService) compensate(ctx context.Context, id uuid.UUID, path string) {
	if path != "" {
		if err := s.store.DeleteTree(ctx, path); err != nil {
			s.log.Error("create rollback: purge content directory failed", "path", path, "error", err)
		}
	}
	if err := s.questions.FullDeleteByID(ctx, nil, id); err != nil {
		s.log.Error("create rollback: delete record failed", "question_id", id, "error", err)
	}
}

// Get returns the record with its labels attached, nil when absent.
func (s *QuestionService) Get(ctx context.Context, id uuid.UUID) (*domain.Question, error) {
	row, err := s.questions.GetByID(ctx, nil, id)
	if err != nil || row == nil {
		return row, err
	}
	labels, err := s.questions.LabelsFor(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	row.Labels = labels
	return row, nil
}

// ReadFile reads one file from the question's content directory.
func (s *QuestionService) ReadFile(ctx context.Context, id uuid.UUID, filename string) ([]byte, error) {
	row, err := s.questions.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if row == nil || row.ContentPath() == "" {
		return nil, nil
	}
	return s.store.Read(ctx, row.ContentPath(), filename)
}

// Delete removes the record and purges its content directory. A missing
// record is a no-op.
func (s *QuestionService) Delete(ctx context.Context, id uuid.UUID) error {
	row, err := s.questions.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	if err := s.questions.FullDeleteByID(ctx, nil, id); err != nil {
		return fmt.Errorf("delete question record: %w", err)
	}
	if path := row.ContentPath(); path != "" {
		if err := s.store.DeleteTree(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// MetadataEdits is a partial update; nil fields are left untouched.
type MetadataEdits struct {
	Title       *string
	IsAdaptive  *bool
	AIGenerated *bool
	QType       *string
	Topics      *[]string
	Courses     *[]string
	Languages   *[]string
}

// UpdateMetadata applies record edits and rebuilds label relations in one
// transaction, then rewrites metadata.json to match.
func (s *QuestionService) UpdateMetadata(ctx context.Context, id uuid.UUID, edits MetadataEdits) (*domain.Question, error) {
	row, err := s.questions.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("question %s: %w", id, errs.ErrNotFound)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{}
		if edits.Title != nil {
			updates["title"] = *edits.Title
		}
		if edits.IsAdaptive != nil {
			updates["is_adaptive"] = *edits.IsAdaptive
		}
		if edits.AIGenerated != nil {
			updates["ai_generated"] = *edits.AIGenerated
		}
		if edits.QType != nil {
			updates["qtype"] = *edits.QType
		}
		if err := s.questions.UpdateFields(ctx, tx, id, updates); err != nil {
			return err
		}

		current, err := s.questions.LabelsFor(ctx, tx, id)
		if err != nil {
			return err
		}
		desired := map[domain.LabelKind][]string{}
		for _, l := range current {
			desired[l.Kind] = append(desired[l.Kind], l.Name)
		}
		if edits.Topics != nil {
			desired[domain.LabelKindTopic] = *edits.Topics
		}
		if edits.Courses != nil {
			desired[domain.LabelKindCourse] = *edits.Courses
		}
		if edits.Languages != nil {
			desired[domain.LabelKindLanguage] = *edits.Languages
		}

		ids := []uuid.UUID{}
		for _, kind := range []domain.LabelKind{domain.LabelKindTopic, domain.LabelKindCourse, domain.LabelKindLanguage, domain.LabelKindQType} {
			for _, name := range desired[kind] {
				label, err := s.labels.GetOrCreate(ctx, tx, kind, name)
				if err != nil {
					return err
				}
				ids = append(ids, label.ID)
			}
		}
		return s.questions.ReplaceLabels(ctx, tx, id, ids)
	})
	if err != nil {
		return nil, err
	}

	row, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if path := row.ContentPath(); path != "" {
		if err := s.rewriteMetadataFile(ctx, row, path); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (s *QuestionService) resolveLabels(ctx context.Context, data QuestionData) ([]uuid.UUID, error) {
	type pair struct {
		kind  domain.LabelKind
		names []string
	}
	groups := []pair{
		{domain.LabelKindTopic, data.Topics},
		{domain.LabelKindCourse, data.Courses},
		{domain.LabelKindLanguage, data.Languages},
	}
	if data.QType != "" {
		groups = append(groups, pair{domain.LabelKindQType, []string{data.QType}})
	}
	ids := []uuid.UUID{}
	for _, g := range groups {
		for _, name := range g.names {
			if domain.LabelLookupKey(name) == "" {
				continue
			}
			label, err := s.labels.GetOrCreate(ctx, nil, g.kind, name)
			if err != nil {
				return nil, fmt.Errorf("resolve %s label %q: %w", g.kind, name, err)
			}
			ids = append(ids, label.ID)
		}
	}
	return ids, nil
}

// composeMetadata builds the metadata.json object from the record. extra
// preserves unknown keys from a previous metadata file; known keys always
// reflect the database.
func (s *QuestionService) composeMetadata(row *domain.Question, topics, courses, languages []string, extra map[string]any) map[string]any {
	meta := map[string]any{}
	for k, v := range extra {
		meta[k] = v
	}
	meta["id"] = row.ID.String()
	meta["title"] = row.Title
	meta["ai_generated"] = row.AIGenerated
	meta["isAdaptive"] = row.IsAdaptive
	meta["topics"] = emptyIfNil(topics)
	meta["languages"] = emptyIfNil(languages)
	if len(courses) > 0 {
		meta["courses"] = courses
	}
	meta["qtype"] = row.QType
	meta["created_at"] = row.CreatedAt.UTC().Format(time.RFC3339)
	meta["updated_at"] = row.UpdatedAt.UTC().Format(time.RFC3339)
	return meta
}

func (s *QuestionService) rewriteMetadataFile(ctx context.Context, row *domain.Question, path string) error {
	extra := map[string]any{}
	if raw, err := s.store.Read(ctx, path, MetadataFilename); err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &extra)
		for _, k := range knownMetadataKeys {
			delete(extra, k)
		}
	}
	topics, courses, languages := splitLabelNames(row.Labels)
	return s.store.Save(ctx, path, MetadataFilename, s.composeMetadata(row, topics, courses, languages, extra))
}

var knownMetadataKeys = []string{"id", "title", "ai_generated", "isAdaptive", "topics", "languages", "courses", "qtype", "created_at", "updated_at"}

func splitLabelNames(labels []*domain.Label) (topics, courses, languages []string) {
	for _, l := range labels {
		switch l.Kind {
		case domain.LabelKindTopic:
			topics = append(topics, l.Name)
		case domain.LabelKindCourse:
			courses = append(courses, l.Name)
		case domain.LabelKindLanguage:
			languages = append(languages, l.Name)
		}
	}
	return topics, courses, languages
}

func sortedFileNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

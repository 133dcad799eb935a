package services

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/quizsmith/quizsmith-backend/internal/contentstore"
	"github.com/quizsmith/quizsmith-backend/internal/domain"
	"github.com/quizsmith/quizsmith-backend/internal/observability"
)

// ReconcileReport summarizes one pass over the content store.
type ReconcileReport struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Orphaned int `json:"orphaned"`
}

const (
	reconcileCreated  = "created"
	reconcileUpdated  = "updated"
	reconcileSkipped  = "skipped"
	reconcileOrphaned = "orphaned"
)

// Reconcile walks every directory under the store base and brings its
// metadata.json in line with the database: directories whose id matches a
// record are attached (database values win), directories with a well-formed
// metadata file but no record are adopted as new records, and directories
// with a missing or unreadable metadata file are counted as orphans. Per-entry
// failures are logged as ConsistencyErrors and never abort the pass, so an
// immediately repeated run reports zero created and updated.
func (s *QuestionService) Reconcile(ctx context.Context) (ReconcileReport, error) {
	ctx, span := observability.Tracer().Start(ctx, "questions.reconcile")
	defer span.End()

	var report ReconcileReport

	dirs, err := s.store.ListDirs(ctx)
	if err != nil {
		return report, err
	}
	rows, err := s.questions.ListAll(ctx, nil)
	if err != nil {
		return report, err
	}
	byID := make(map[uuid.UUID]*domain.Question, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	for _, dir := range dirs {
		outcome := s.reconcileDir(ctx, dir, byID)
		observability.ObserveReconcileEntry(outcome)
		switch outcome {
		case reconcileCreated:
			report.Created++
		case reconcileUpdated:
			report.Updated++
		case reconcileSkipped:
			report.Skipped++
		default:
			report.Orphaned++
		}
	}
	s.log.Info("reconcile pass complete",
		"created", report.Created, "updated", report.Updated,
		"skipped", report.Skipped, "orphaned", report.Orphaned)
	return report, nil
}

func (s *QuestionService) reconcileDir(ctx context.Context, dir string, byID map[uuid.UUID]*domain.Question) string {
	raw, err := s.store.Read(ctx, dir, MetadataFilename)
	if err != nil {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "metadata read failed", Cause: err})
		return reconcileOrphaned
	}
	if len(raw) == 0 {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "metadata.json missing"})
		return reconcileOrphaned
	}
	meta := map[string]any{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "metadata.json unparseable", Cause: err})
		return reconcileOrphaned
	}
	idStr, _ := meta["id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "metadata.json has no valid id", Cause: err})
		return reconcileOrphaned
	}

	if row, ok := byID[id]; ok {
		return s.attachDir(ctx, dir, row, raw, meta)
	}
	return s.adoptDir(ctx, dir, id, meta)
}

// attachDir rewrites the directory's metadata from the record. Stored field
// values that disagree with the database are overwritten; the database wins.
func (s *QuestionService) attachDir(ctx context.Context, dir string, row *domain.Question, raw []byte, meta map[string]any) string {
	if row.ContentPath() == "" {
		if err := s.setContentPath(ctx, row, dir); err != nil {
			s.logConsistency(&ConsistencyError{Path: dir, Reason: "restore content path failed", Cause: err})
			return reconcileOrphaned
		}
		// Updates bump updated_at; reload so the rewritten metadata carries it.
		stored, err := s.questions.GetByID(ctx, nil, row.ID)
		if err != nil || stored == nil {
			s.logConsistency(&ConsistencyError{Path: dir, Reason: "reload record failed", Cause: err})
			return reconcileOrphaned
		}
		row = stored
	} else if row.ContentPath() != dir {
		s.log.Warn("record already points at a different directory",
			"question_id", row.ID, "record_path", row.ContentPath(), "dir", dir)
	}

	labels, err := s.questions.LabelsFor(ctx, nil, row.ID)
	if err != nil {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "load labels failed", Cause: err})
		return reconcileOrphaned
	}
	extra := map[string]any{}
	for k, v := range meta {
		extra[k] = v
	}
	for _, k := range knownMetadataKeys {
		delete(extra, k)
	}
	topics, courses, languages := splitLabelNames(labels)
	desired := s.composeMetadata(row, topics, courses, languages, extra)

	desiredRaw, err := json.Marshal(desired)
	if err != nil {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "encode metadata failed", Cause: err})
		return reconcileOrphaned
	}
	currentRaw, err := json.Marshal(meta)
	if err == nil && bytes.Equal(desiredRaw, currentRaw) {
		return reconcileSkipped
	}
	if err := s.store.Save(ctx, dir, MetadataFilename, desired); err != nil {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "rewrite metadata failed", Cause: err})
		return reconcileOrphaned
	}
	return reconcileUpdated
}

// adoptDir creates a record for a directory the database has never seen,
// keeping the directory's id so a second pass finds the match.
func (s *QuestionService) adoptDir(ctx context.Context, dir string, id uuid.UUID, meta map[string]any) string {
	row := &domain.Question{
		ID:          id,
		Title:       stringField(meta, "title"),
		IsAdaptive:  boolField(meta, "isAdaptive"),
		AIGenerated: boolField(meta, "ai_generated"),
		QType:       stringField(meta, "qtype"),
	}
	if row.Title == "" {
		row.Title = dir
	}
	switch s.store.Backend() {
	case contentstore.BackendCloud:
		row.BlobPath = dir
	default:
		row.LocalPath = dir
	}
	if err := s.questions.Create(ctx, nil, row); err != nil {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "adopt record failed", Cause: err})
		return reconcileOrphaned
	}

	data := QuestionData{
		QType:     row.QType,
		Topics:    sliceField(meta, "topics"),
		Courses:   sliceField(meta, "courses"),
		Languages: sliceField(meta, "languages"),
	}
	labelIDs, err := s.resolveLabels(ctx, data)
	if err == nil {
		err = s.questions.ReplaceLabels(ctx, nil, row.ID, labelIDs)
	}
	if err != nil {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "adopt labels failed", Cause: err})
	}

	stored, err := s.questions.GetByID(ctx, nil, row.ID)
	if err != nil || stored == nil {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "reload adopted record failed", Cause: err})
		return reconcileOrphaned
	}
	extra := map[string]any{}
	for k, v := range meta {
		extra[k] = v
	}
	for _, k := range knownMetadataKeys {
		delete(extra, k)
	}
	// Compose from the persisted labels, not the raw disk values: the rows
	// carry the canonical names, so the next pass compares equal and skips.
	topics, courses, languages := data.Topics, data.Courses, data.Languages
	if labels, labelErr := s.questions.LabelsFor(ctx, nil, row.ID); labelErr == nil {
		topics, courses, languages = splitLabelNames(labels)
	} else {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "load adopted labels failed", Cause: labelErr})
	}
	desired := s.composeMetadata(stored, topics, courses, languages, extra)
	if err := s.store.Save(ctx, dir, MetadataFilename, desired); err != nil {
		s.logConsistency(&ConsistencyError{Path: dir, Reason: "rewrite adopted metadata failed", Cause: err})
	}
	return reconcileCreated
}

func (s *QuestionService) setContentPath(ctx context.Context, row *domain.Question, dir string) error {
	updates := map[string]interface{}{}
	switch s.store.Backend() {
	case contentstore.BackendCloud:
		row.BlobPath = dir
		updates["blob_path"] = dir
	default:
		row.LocalPath = dir
		updates["local_path"] = dir
	}
	return s.questions.UpdateFields(ctx, nil, row.ID, updates)
}

func (s *QuestionService) logConsistency(err *ConsistencyError) {
	s.log.Warn("reconcile entry inconsistent", "path", err.Path, "reason", err.Reason, "error", err.Cause)
}

func stringField(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return v
}

func boolField(meta map[string]any, key string) bool {
	v, _ := meta[key].(bool)
	return v
}

func sliceField(meta map[string]any, key string) []string {
	raw, ok := meta[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

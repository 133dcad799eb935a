package gestalt

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
	"github.com/quizsmith/quizsmith-backend/internal/platform/openai"
	"github.com/quizsmith/quizsmith-backend/internal/platform/promptreg"
	"github.com/quizsmith/quizsmith-backend/internal/platform/qdrant"
	"github.com/quizsmith/quizsmith-backend/internal/retrieval"
)

// scriptedAI dispatches on schema name so concurrent stages stay
// deterministic.
type scriptedAI struct {
	mu      sync.Mutex
	calls   []string
	handler func(schemaName, user string) (map[string]any, error)
}

func (f *scriptedAI) record(label string) {
	f.mu.Lock()
	f.calls = append(f.calls, label)
	f.mu.Unlock()
}

func (f *scriptedAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1}
	}
	return out, nil
}

func (f *scriptedAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.record(schemaName)
	return f.handler(schemaName, user)
}

func (f *scriptedAI) GenerateJSONWithImages(ctx context.Context, system, user string, images []openai.ImageInput, schemaName string, schema map[string]any) (map[string]any, error) {
	f.record(schemaName)
	return f.handler(schemaName, user)
}

func (f *scriptedAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", fmt.Errorf("not used")
}

type stubRegistry struct{}

func (stubRegistry) Pull(ctx context.Context, name string) (promptreg.Template, error) {
	return promptreg.Template{
		Name:     name,
		Messages: []promptreg.Message{{Role: "system", Content: "[" + name + "] {examples} {input} {code} seed={seed}"}},
	}, nil
}

type stubRetriever struct{}

func (stubRetriever) SetFilter(pred retrieval.Filter) {}
func (stubRetriever) Sync(ctx context.Context) error  { return nil }
func (stubRetriever) Retrieve(ctx context.Context, query string, k int) ([]retrieval.Example, error) {
	return nil, nil
}
func (stubRetriever) FormatTemplate(ctx context.Context, query string, k int, base string) (string, error) {
	return strings.ReplaceAll(base, retrieval.ExamplesPlaceholder, "(no examples)"), nil
}

type stubCatalog struct{}

func (stubCatalog) Upsert(ctx context.Context, ns string, vs []qdrant.Vector) error { return nil }
func (stubCatalog) DeleteIDs(ctx context.Context, ns string, ids []string) error    { return nil }
func (stubCatalog) Query(ctx context.Context, ns string, q []float32, topK int, filter map[string]any) ([]qdrant.Match, error) {
	return []qdrant.Match{{ID: "t1", Score: 1, Payload: map[string]any{"kind": "topic", "name": "Kinematics"}}}, nil
}

func happyHandler(schemaName, user string) (map[string]any, error) {
	switch schemaName {
	case "question_html":
		return map[string]any{"html": "<div>question</div>"}, nil
	case "solution_html":
		return map[string]any{"html": "<div>solution</div>"}, nil
	case "server_script":
		return map[string]any{"code": "generate()"}, nil
	case "classify_turn":
		return map[string]any{
			"action": "final", "query": "",
			"courses": []any{"PHYS-101"}, "topics": []any{"Kinematics"},
		}, nil
	default:
		return nil, fmt.Errorf("unexpected schema %q", schemaName)
	}
}

func newTestGenerator(t *testing.T, handler func(string, string) (map[string]any, error)) (*Generator, *scriptedAI) {
	t.Helper()
	ai := &scriptedAI{handler: handler}
	gen, err := New(Deps{
		Log:       logger.Nop(),
		AI:        ai,
		Prompts:   stubRegistry{},
		Retriever: stubRetriever{},
		Catalog:   stubCatalog{},
	}, Config{CatalogNamespace: "catalog"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return gen, ai
}

func TestGenerateTextProducesFullArtifact(t *testing.T) {
	gen, _ := newTestGenerator(t, happyHandler)

	arts, err := gen.GenerateText(context.Background(), "A car travels at 20 m/s and brakes to rest over 50 m.", Options{Adaptive: true})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if len(arts) != 1 {
		t.Fatalf("expected one artifact, got %d", len(arts))
	}
	art := arts[0]

	for _, name := range []string{FileQuestionHTML, FileSolutionHTML, FileServerJS, FileServerPY} {
		if len(art.Files[name]) == 0 {
			t.Fatalf("missing file %s: %v", name, keys(art.Files))
		}
	}
	if len(art.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", art.Warnings)
	}
	if len(art.Metadata.Topics) == 0 || art.Metadata.Topics[0] != "Kinematics" {
		t.Fatalf("classification not merged: %+v", art.Metadata)
	}
	if !reflect.DeepEqual(art.Metadata.Languages, []string{"javascript", "python"}) {
		t.Fatalf("languages not derived from files: %v", art.Metadata.Languages)
	}
}

func TestGenerateTextNonEssentialFailureWarns(t *testing.T) {
	gen, _ := newTestGenerator(t, func(schemaName, user string) (map[string]any, error) {
		if schemaName == "solution_html" {
			return nil, fmt.Errorf("model unavailable")
		}
		return happyHandler(schemaName, user)
	})

	arts, err := gen.GenerateText(context.Background(), "question text", Options{})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	art := arts[0]
	if _, present := art.Files[FileSolutionHTML]; present {
		t.Fatalf("failed stage must not contribute a file")
	}
	if len(art.Warnings) == 0 {
		t.Fatalf("expected a warning for the failed solution stage")
	}
	if art.Warnings[0].Stage == "" || art.Warnings[0].Message == "" {
		t.Fatalf("warning payload incomplete: %+v", art.Warnings[0])
	}
}

func TestGenerateTextBothScriptsFailingFailsArtifact(t *testing.T) {
	gen, _ := newTestGenerator(t, func(schemaName, user string) (map[string]any, error) {
		if schemaName == "server_script" {
			return nil, fmt.Errorf("model refused")
		}
		return happyHandler(schemaName, user)
	})

	if _, err := gen.GenerateText(context.Background(), "question text", Options{}); err == nil {
		t.Fatalf("artifact must fail when every server script fails")
	}
}

func TestGenerateTextQuestionFailureFailsArtifact(t *testing.T) {
	gen, _ := newTestGenerator(t, func(schemaName, user string) (map[string]any, error) {
		if schemaName == "question_html" {
			return nil, fmt.Errorf("model refused")
		}
		return happyHandler(schemaName, user)
	})

	if _, err := gen.GenerateText(context.Background(), "question text", Options{}); err == nil {
		t.Fatalf("question-html failure must fail the artifact")
	}
}

func TestGenerateTextIdempotentForSameSeed(t *testing.T) {
	gen, _ := newTestGenerator(t, happyHandler)

	first, err := gen.GenerateText(context.Background(), "same input", Options{Seed: 42})
	if err != nil {
		t.Fatalf("first GenerateText: %v", err)
	}
	second, err := gen.GenerateText(context.Background(), "same input", Options{Seed: 42})
	if err != nil {
		t.Fatalf("second GenerateText: %v", err)
	}
	if !reflect.DeepEqual(first[0].Files, second[0].Files) {
		t.Fatalf("same input and seed must yield equal files")
	}
}

func TestGenerateImagesFansOut(t *testing.T) {
	gen, _ := newTestGenerator(t, func(schemaName, user string) (map[string]any, error) {
		if schemaName == "extracted_questions" {
			return map[string]any{"questions": []any{
				map[string]any{"title": "Q1", "body": "first problem", "adaptive": false,
					"topics": []any{"circuits"}, "languages": []any{}, "qtype": "numeric"},
				map[string]any{"title": "Q2", "body": "second problem", "adaptive": true,
					"topics": []any{}, "languages": []any{}, "qtype": "numeric"},
			}}, nil
		}
		return happyHandler(schemaName, user)
	})

	arts, err := gen.GenerateImages(context.Background(), ImagesInput{Images: [][]byte{{1, 2, 3}}}, Options{})
	if err != nil {
		t.Fatalf("GenerateImages: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("expected two artifacts, got %d", len(arts))
	}
	titles := map[string]bool{}
	for _, a := range arts {
		titles[a.Metadata.Title] = true
		if len(a.Files[FileQuestionHTML]) == 0 {
			t.Fatalf("artifact %q missing question html", a.Metadata.Title)
		}
	}
	if !titles["Q1"] || !titles["Q2"] {
		t.Fatalf("extracted titles lost: %v", titles)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

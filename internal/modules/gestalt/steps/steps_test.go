package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/quizsmith/quizsmith-backend/internal/platform/openai"
	"github.com/quizsmith/quizsmith-backend/internal/platform/promptreg"
	"github.com/quizsmith/quizsmith-backend/internal/platform/qdrant"
	"github.com/quizsmith/quizsmith-backend/internal/retrieval"
)

type fakeAI struct {
	responses []map[string]any
	calls     []string
	err       error
}

func (f *fakeAI) next(label string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, label)
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("fakeAI exhausted")
	}
	out := f.responses[0]
	f.responses = f.responses[1:]
	return out, nil
}

func (f *fakeAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1}
	}
	return out, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return f.next(schemaName + "|" + user)
}

func (f *fakeAI) GenerateJSONWithImages(ctx context.Context, system, user string, images []openai.ImageInput, schemaName string, schema map[string]any) (map[string]any, error) {
	return f.next(fmt.Sprintf("%s|images=%d", schemaName, len(images)))
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", fmt.Errorf("not used")
}

type fakeRegistry struct{}

func (fakeRegistry) Pull(ctx context.Context, name string) (promptreg.Template, error) {
	return promptreg.Template{
		Name: name,
		Messages: []promptreg.Message{
			{Role: "system", Content: "[" + name + "] {examples} input={input} code={code}"},
		},
	}, nil
}

type fakeRetriever struct {
	filter   retrieval.Filter
	examples []retrieval.Example
	err      error
	// failures makes the first N FormatTemplate calls fail with err.
	failures int
	calls    int
}

func (f *fakeRetriever) SetFilter(pred retrieval.Filter) { f.filter = pred }

func (f *fakeRetriever) Sync(ctx context.Context) error { return nil }

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int) ([]retrieval.Example, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.examples, nil
}

func (f *fakeRetriever) FormatTemplate(ctx context.Context, query string, k int, base string) (string, error) {
	f.calls++
	if f.err != nil && (f.failures == 0 || f.calls <= f.failures) {
		return "", f.err
	}
	var b strings.Builder
	for _, ex := range f.examples {
		fmt.Fprintf(&b, "%s => %s", ex.Key, ex.Target)
	}
	return strings.ReplaceAll(base, retrieval.ExamplesPlaceholder, b.String()), nil
}

type fakeCatalog struct {
	matches []qdrant.Match
}

func (f *fakeCatalog) Upsert(ctx context.Context, ns string, vs []qdrant.Vector) error { return nil }
func (f *fakeCatalog) DeleteIDs(ctx context.Context, ns string, ids []string) error    { return nil }
func (f *fakeCatalog) Query(ctx context.Context, ns string, q []float32, topK int, filter map[string]any) ([]qdrant.Match, error) {
	return f.matches, nil
}

func TestRunQuestionHTML(t *testing.T) {
	ai := &fakeAI{responses: []map[string]any{{"html": "<div>Q</div>"}}}
	deps := QuestionHTMLDeps{
		Log: testLogger(), AI: ai, Prompts: fakeRegistry{},
		Retriever: &fakeRetriever{examples: []retrieval.Example{{Key: "k", Target: "t"}}},
	}

	out, err := RunQuestionHTML(context.Background(), deps, QuestionHTMLInput{Text: "find a", Adaptive: true})
	if err != nil {
		t.Fatalf("RunQuestionHTML: %v", err)
	}
	if out.HTML != "<div>Q</div>" {
		t.Fatalf("unexpected html: %q", out.HTML)
	}
	if !strings.Contains(ai.calls[0], "k => t") {
		t.Fatalf("example not inlined into prompt: %q", ai.calls[0])
	}
}

func TestRunQuestionHTMLEmptyOutputFails(t *testing.T) {
	ai := &fakeAI{responses: []map[string]any{{"html": "   "}}}
	deps := QuestionHTMLDeps{Log: testLogger(), AI: ai, Prompts: fakeRegistry{}, Retriever: &fakeRetriever{}}

	_, err := RunQuestionHTML(context.Background(), deps, QuestionHTMLInput{Text: "q"})
	var genError *GenerationError
	if !errors.As(err, &genError) || genError.Kind != GenerationKindSchema {
		t.Fatalf("expected schema GenerationError, got %v", err)
	}
}

func TestRunSolutionHTMLRequiresQuestion(t *testing.T) {
	deps := SolutionHTMLDeps{Log: testLogger(), AI: &fakeAI{}, Prompts: fakeRegistry{}}
	_, err := RunSolutionHTML(context.Background(), deps, SolutionHTMLInput{Text: "q"})
	var genError *GenerationError
	if !errors.As(err, &genError) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestRunServerScriptNodeSequence(t *testing.T) {
	ai := &fakeAI{responses: []map[string]any{
		{"code": "base()"},
		{"code": "base(); seed(7)"},
		{"code": "base(); seed(7); test()"},
	}}
	deps := ServerScriptDeps{Log: testLogger(), AI: ai, Prompts: fakeRegistry{}, Retriever: &fakeRetriever{}}

	out, err := RunServerScript(context.Background(), deps, ServerScriptInput{
		Text:           "find a",
		Language:       "javascript",
		TestParameters: map[string]any{"v0": 20},
	})
	if err != nil {
		t.Fatalf("RunServerScript: %v", err)
	}
	want := []string{nodeGenerateBase, nodeInjectPredefined, nodeInjectTests}
	if len(out.Trace) != len(want) {
		t.Fatalf("unexpected trace: %v", out.Trace)
	}
	for i := range want {
		if out.Trace[i] != want[i] {
			t.Fatalf("trace[%d] = %q, want %q", i, out.Trace[i], want[i])
		}
	}
	if out.Code != "base(); seed(7); test()" {
		t.Fatalf("unexpected final code: %q", out.Code)
	}
	// inject_predefined_values must see the base code.
	if !strings.Contains(ai.calls[1], "code=base()") {
		t.Fatalf("second call missing prior code: %q", ai.calls[1])
	}
}

func TestRunServerScriptSkipsTestsWithoutParams(t *testing.T) {
	ai := &fakeAI{responses: []map[string]any{
		{"code": "base()"},
		{"code": "base(); seed(7)"},
	}}
	deps := ServerScriptDeps{Log: testLogger(), AI: ai, Prompts: fakeRegistry{}, Retriever: &fakeRetriever{}}

	out, err := RunServerScript(context.Background(), deps, ServerScriptInput{Text: "q", Language: "python"})
	if err != nil {
		t.Fatalf("RunServerScript: %v", err)
	}
	if len(out.Trace) != 2 {
		t.Fatalf("inject_tests should be skipped: %v", out.Trace)
	}
}

func TestRunServerScriptUnknownLanguage(t *testing.T) {
	deps := ServerScriptDeps{Log: testLogger(), AI: &fakeAI{}, Prompts: fakeRegistry{}, Retriever: &fakeRetriever{}}
	_, err := RunServerScript(context.Background(), deps, ServerScriptInput{Text: "q", Language: "ruby"})
	if err == nil {
		t.Fatalf("unknown language must fail")
	}
}

func TestRunClassifyToolLoop(t *testing.T) {
	ai := &fakeAI{responses: []map[string]any{
		{"action": "retrieve", "query": "mechanics", "courses": []any{}, "topics": []any{}},
		{"action": "final", "query": "", "courses": []any{"PHYS-101"}, "topics": []any{"Kinematics", "kinematics"}},
	}}
	deps := ClassifyDeps{
		Log: testLogger(), AI: ai, Prompts: fakeRegistry{},
		Embedder: ai,
		Catalog: &fakeCatalog{matches: []qdrant.Match{
			{ID: "c1", Score: 0.9, Payload: map[string]any{"kind": "topic", "name": "Kinematics"}},
		}},
		CatalogNamespace: "catalog",
	}

	out, err := RunClassify(context.Background(), deps, ClassifyInput{Text: "a car brakes to rest"})
	if err != nil {
		t.Fatalf("RunClassify: %v", err)
	}
	if len(out.Courses) != 1 || out.Courses[0] != "PHYS-101" {
		t.Fatalf("unexpected courses: %v", out.Courses)
	}
	if len(out.Topics) != 1 {
		t.Fatalf("topics should be case-insensitively deduped: %v", out.Topics)
	}
	if len(out.Trace) != 2 || !strings.HasPrefix(out.Trace[0], "retrieve:") {
		t.Fatalf("unexpected trace: %v", out.Trace)
	}
	// The second model turn must see the catalog results.
	if !strings.Contains(ai.calls[1], "Kinematics") {
		t.Fatalf("catalog results not fed back: %q", ai.calls[1])
	}
}

func TestRunClassifyToolBudgetExceeded(t *testing.T) {
	turn := map[string]any{"action": "retrieve", "query": "q", "courses": []any{}, "topics": []any{}}
	responses := make([]map[string]any, 0, 8)
	for i := 0; i < 8; i++ {
		responses = append(responses, turn)
	}
	ai := &fakeAI{responses: responses}
	deps := ClassifyDeps{
		Log: testLogger(), AI: ai, Prompts: fakeRegistry{},
		Embedder: ai, Catalog: &fakeCatalog{},
	}

	_, err := RunClassify(context.Background(), deps, ClassifyInput{Text: "q", MaxToolCalls: 2})
	var genError *GenerationError
	if !errors.As(err, &genError) {
		t.Fatalf("expected GenerationError after budget, got %v", err)
	}
}

func TestRunExtractImages(t *testing.T) {
	ai := &fakeAI{responses: []map[string]any{{
		"questions": []any{
			map[string]any{
				"title": "", "body": "Ohm's law question", "adaptive": true,
				"topics": []any{"circuits"}, "languages": []any{"javascript"}, "qtype": "numeric",
			},
			map[string]any{
				"title": "Blank", "body": "   ", "adaptive": false,
				"topics": []any{}, "languages": []any{}, "qtype": "numeric",
			},
		},
	}}}
	deps := ExtractDeps{Log: testLogger(), AI: ai, Prompts: fakeRegistry{}}

	got, err := RunExtract(context.Background(), deps, ExtractInput{Images: [][]byte{{0x89, 0x50}}})
	if err != nil {
		t.Fatalf("RunExtract: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("blank-body question should be dropped: %+v", got)
	}
	if got[0].Title == "" {
		t.Fatalf("title should be derived from body")
	}
	if !strings.Contains(ai.calls[0], "images=1") {
		t.Fatalf("image blocks not assembled: %q", ai.calls[0])
	}
}

func TestRunQuestionHTMLRetriesIndexFailureOnce(t *testing.T) {
	ai := &fakeAI{responses: []map[string]any{{"html": "<div>Q</div>"}}}
	ret := &fakeRetriever{
		err:      &retrieval.RetrievalError{Op: "index_query", Cause: fmt.Errorf("connection refused")},
		failures: 1,
		examples: []retrieval.Example{{Key: "k", Target: "t"}},
	}
	deps := QuestionHTMLDeps{Log: testLogger(), AI: ai, Prompts: fakeRegistry{}, Retriever: ret}

	out, err := RunQuestionHTML(context.Background(), deps, QuestionHTMLInput{Text: "find a"})
	if err != nil {
		t.Fatalf("one index hiccup must be absorbed: %v", err)
	}
	if out.HTML != "<div>Q</div>" {
		t.Fatalf("unexpected html: %q", out.HTML)
	}
	if ret.calls != 2 {
		t.Fatalf("expected exactly one retry, saw %d calls", ret.calls)
	}
}

func TestRunQuestionHTMLPersistentIndexFailure(t *testing.T) {
	ret := &fakeRetriever{
		err: &retrieval.RetrievalError{Op: "index_query", Cause: fmt.Errorf("connection refused")},
	}
	deps := QuestionHTMLDeps{Log: testLogger(), AI: &fakeAI{}, Prompts: fakeRegistry{}, Retriever: ret}

	_, err := RunQuestionHTML(context.Background(), deps, QuestionHTMLInput{Text: "find a"})
	var genError *GenerationError
	if !errors.As(err, &genError) || genError.Kind != GenerationKindRetrieval {
		t.Fatalf("expected retrieval generation error, got %v", err)
	}
	if ret.calls != 2 {
		t.Fatalf("expected one retry before giving up, saw %d calls", ret.calls)
	}
}

package promptreg

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

func TestExtractFlat(t *testing.T) {
	tmpl := Template{
		Name: "question-html",
		Messages: []Message{
			{Role: "system", Content: "Generate HTML for: {input}"},
			{Role: "user", Content: "{input}"},
		},
	}
	flat, err := ExtractFlat(tmpl)
	if err != nil {
		t.Fatalf("ExtractFlat: %v", err)
	}
	if flat != "Generate HTML for: {input}" {
		t.Fatalf("unexpected flat template: %q", flat)
	}
}

func TestExtractFlatShapeErrors(t *testing.T) {
	cases := []Template{
		{Name: "empty"},
		{Name: "blank-body", Messages: []Message{{Role: "system", Content: "   "}}},
	}
	for _, tmpl := range cases {
		_, err := ExtractFlat(tmpl)
		var shapeErr *PromptShapeError
		if !errors.As(err, &shapeErr) {
			t.Fatalf("template %q: expected PromptShapeError, got %v", tmpl.Name, err)
		}
	}
}

func TestPullCachesRemoteTemplate(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/api/prompts/solution-html" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(Template{
			Name:     "solution-html",
			Version:  2,
			Messages: []Message{{Role: "system", Content: "Explain the solution."}},
		})
	}))
	defer srv.Close()

	reg, err := New(logger.Nop(), Config{RegistryURL: srv.URL}, NewMemoryCache())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tmpl, err := reg.Pull(ctx, "solution-html")
		if err != nil {
			t.Fatalf("Pull: %v", err)
		}
		if tmpl.Version != 2 {
			t.Fatalf("unexpected template: %+v", tmpl)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one registry hit, got %d", hits.Load())
	}
}

func TestPullUnknownPrompt(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	reg, err := New(logger.Nop(), Config{RegistryURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := reg.Pull(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown prompt")
	}
}

func TestManifestTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "prompts.yaml")
	content := `prompts:
  question-html:
    version: 1
    template: "local override"
  classify:
    messages:
      - role: system
        content: "Classify the question."
`
	if err := os.WriteFile(manifest, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("remote registry should not be consulted")
	}))
	defer srv.Close()

	reg, err := New(logger.Nop(), Config{RegistryURL: srv.URL, ManifestPath: manifest}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tmpl, err := reg.Pull(context.Background(), "question-html")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	flat, err := ExtractFlat(tmpl)
	if err != nil {
		t.Fatalf("ExtractFlat: %v", err)
	}
	if flat != "local override" {
		t.Fatalf("manifest not honored: %q", flat)
	}
}

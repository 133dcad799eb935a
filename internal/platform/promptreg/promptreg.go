// Package promptreg resolves named prompt templates from a remote registry,
// with an optional local YAML manifest for air-gapped development. Pulled
// templates are immutable and cached.
package promptreg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quizsmith/quizsmith-backend/internal/pkg/errs"
	"github.com/quizsmith/quizsmith-backend/internal/platform/ctxutil"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

// Message is one chat-style message in a prompt template.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Template is a named, versioned prompt. Callers must not mutate it after
// Pull.
type Template struct {
	Name     string    `json:"name"`
	Version  int       `json:"version"`
	Messages []Message `json:"messages"`
}

// PromptShapeError reports a template that cannot yield a flat string.
type PromptShapeError struct {
	Name   string
	Reason string
}

func (e *PromptShapeError) Error() string {
	if e == nil {
		return "prompt has invalid shape"
	}
	return fmt.Sprintf("prompt %q has invalid shape: %s", e.Name, e.Reason)
}

// ExtractFlat returns the first message's body as a flat template string.
func ExtractFlat(t Template) (string, error) {
	if len(t.Messages) == 0 {
		return "", &PromptShapeError{Name: t.Name, Reason: "no messages"}
	}
	body := strings.TrimSpace(t.Messages[0].Content)
	if body == "" {
		return "", &PromptShapeError{Name: t.Name, Reason: "first message has no prompt body"}
	}
	return t.Messages[0].Content, nil
}

// Registry resolves prompt templates by name.
type Registry interface {
	Pull(ctx context.Context, name string) (Template, error)
}

type Config struct {
	RegistryURL  string
	ManifestPath string
	Timeout      time.Duration
}

type registry struct {
	log      *logger.Logger
	baseURL  string
	http     *http.Client
	cache    Cache
	manifest map[string]Template
}

// New builds a Registry. The manifest (when configured) is loaded once at
// construction and consulted before the remote registry; the remote registry
// is optional when a manifest covers every prompt in use.
func New(log *logger.Logger, cfg Config, cache Cache) (Registry, error) {
	if strings.TrimSpace(cfg.RegistryURL) == "" && strings.TrimSpace(cfg.ManifestPath) == "" {
		return nil, fmt.Errorf("prompt registry requires PROMPT_REGISTRY_URL or PROMPT_MANIFEST_PATH")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache()
	}

	r := &registry{
		log:     log.With("service", "PromptRegistry"),
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.RegistryURL), "/"),
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
	}
	if strings.TrimSpace(cfg.ManifestPath) != "" {
		manifest, err := loadManifest(cfg.ManifestPath)
		if err != nil {
			return nil, err
		}
		r.manifest = manifest
		r.log.Info("prompt manifest loaded", "path", cfg.ManifestPath, "prompts", len(manifest))
	}
	return r, nil
}

func (r *registry) Pull(ctx context.Context, name string) (Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Template{}, fmt.Errorf("prompt name: %w", errs.ErrInvalidArgument)
	}

	if t, ok := r.manifest[name]; ok {
		return t, nil
	}
	if cached, ok := r.cache.Get(ctx, name); ok {
		return cached, nil
	}
	if r.baseURL == "" {
		return Template{}, fmt.Errorf("prompt %q not in manifest and no registry URL configured", name)
	}

	t, err := r.fetch(ctx, name)
	if err != nil {
		return Template{}, err
	}
	r.cache.Set(ctx, name, t)
	return t, nil
}

func (r *registry) fetch(ctx context.Context, name string) (Template, error) {
	url := r.baseURL + "/api/prompts/" + name
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, url, nil)
	if err != nil {
		return Template{}, fmt.Errorf("build prompt request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return Template{}, fmt.Errorf("pull prompt %q: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Template{}, fmt.Errorf("read prompt %q response: %w", name, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return Template{}, fmt.Errorf("prompt %q: %w", name, errs.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Template{}, fmt.Errorf("pull prompt %q: registry status=%d", name, resp.StatusCode)
	}

	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return Template{}, fmt.Errorf("decode prompt %q: %w", name, err)
	}
	if t.Name == "" {
		t.Name = name
	}
	return t, nil
}

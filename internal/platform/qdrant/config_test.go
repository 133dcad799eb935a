package qdrant

import (
	"errors"
	"testing"
)

func TestResolveConfigFromEnv(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_COLLECTION", "questions")
	t.Setenv("QDRANT_VECTOR_DIM", "1536")
	t.Setenv("QDRANT_NAMESPACE_PREFIX", "")

	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv: %v", err)
	}
	if cfg.NamespacePrefix != "qs" {
		t.Fatalf("expected default namespace prefix, got %q", cfg.NamespacePrefix)
	}
	if cfg.VectorDim != 1536 {
		t.Fatalf("unexpected dim: %d", cfg.VectorDim)
	}
}

func TestResolveConfigMissingURL(t *testing.T) {
	t.Setenv("QDRANT_URL", "")
	t.Setenv("QDRANT_COLLECTION", "questions")
	t.Setenv("QDRANT_VECTOR_DIM", "8")

	_, err := ResolveConfigFromEnv()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ConfigErrorMissingURL {
		t.Fatalf("expected missing URL error, got %v", err)
	}
}

func TestResolveConfigInvalidDim(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_COLLECTION", "questions")
	t.Setenv("QDRANT_VECTOR_DIM", "not-a-number")

	_, err := ResolveConfigFromEnv()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ConfigErrorInvalidVectorDim {
		t.Fatalf("expected invalid dim error, got %v", err)
	}
}

func TestValidateConfigRejectsRelativeURL(t *testing.T) {
	err := ValidateConfig(Config{URL: "qdrant:6333", Collection: "q", VectorDim: 8}, true)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ConfigErrorInvalidURL {
		t.Fatalf("expected invalid URL error, got %v", err)
	}
}

package app

import (
	"fmt"
	"time"

	"github.com/quizsmith/quizsmith-backend/internal/platform/envutil"
)

const (
	ModeTesting    = "testing"
	ModeDev        = "dev"
	ModeProduction = "production"

	StorageLocal = "local"
	StorageCloud = "cloud"
)

// ConfigError reports a rejected environment value.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid configuration"
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Reason)
}

// Config is the closed configuration record for the whole application. It is
// resolved once at startup; nothing reads the environment after FromEnv.
type Config struct {
	Mode           string
	LogMode        string
	StorageBackend string

	GCSBucketName      string
	GCSCredentialsFile string
	LocalStorageDir    string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	FastModel        string
	BaseModel        string
	LongContextModel string
	EmbedModel       string

	QdrantURL                string
	QdrantExamplesCollection string
	QdrantCatalogCollection  string
	QdrantVectorDim          int

	ExampleCorpusPath string

	PromptRegistryURL  string
	PromptManifestPath string
	RedisAddr          string

	SandboxTimeout   time.Duration
	StageTimeout     time.Duration
	GenerationBudget time.Duration

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresName     string
	SQLitePath       string
}

// FromEnv resolves and validates the configuration from the environment.
func FromEnv() (Config, error) {
	cfg := Config{
		Mode:           envutil.Str("APP_MODE", ModeDev),
		LogMode:        envutil.Str("LOG_MODE", ""),
		StorageBackend: envutil.Str("STORAGE_BACKEND", StorageLocal),

		GCSBucketName:      envutil.Str("GCS_BUCKET_NAME", ""),
		GCSCredentialsFile: envutil.Str("GOOGLE_APPLICATION_CREDENTIALS", ""),
		LocalStorageDir:    envutil.Str("LOCAL_STORAGE_DIR", "data/questions"),

		OpenAIAPIKey:     envutil.Str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    envutil.Str("OPENAI_BASE_URL", ""),
		FastModel:        envutil.Str("OPENAI_FAST_MODEL", "gpt-4o-mini"),
		BaseModel:        envutil.Str("OPENAI_BASE_MODEL", "gpt-4o"),
		LongContextModel: envutil.Str("OPENAI_LONG_CONTEXT_MODEL", ""),
		EmbedModel:       envutil.Str("OPENAI_EMBED_MODEL", "text-embedding-3-small"),

		QdrantURL:                envutil.Str("QDRANT_URL", ""),
		QdrantExamplesCollection: envutil.Str("QDRANT_EXAMPLES_COLLECTION", "question_examples"),
		QdrantCatalogCollection:  envutil.Str("QDRANT_CATALOG_COLLECTION", "label_catalog"),
		QdrantVectorDim:          envutil.Int("QDRANT_VECTOR_DIM", 1536),

		ExampleCorpusPath: envutil.Str("EXAMPLE_CORPUS_PATH", ""),

		PromptRegistryURL:  envutil.Str("PROMPT_REGISTRY_URL", ""),
		PromptManifestPath: envutil.Str("PROMPT_MANIFEST_PATH", ""),
		RedisAddr:          envutil.Str("REDIS_ADDR", ""),

		SandboxTimeout:   envutil.Dur("SANDBOX_TIMEOUT", 30*time.Second),
		StageTimeout:     envutil.Dur("STAGE_TIMEOUT", 2*time.Minute),
		GenerationBudget: envutil.Dur("GENERATION_BUDGET", 10*time.Minute),

		PostgresHost:     envutil.Str("POSTGRES_HOST", "localhost"),
		PostgresPort:     envutil.Str("POSTGRES_PORT", "5432"),
		PostgresUser:     envutil.Str("POSTGRES_USER", ""),
		PostgresPassword: envutil.Str("POSTGRES_PASSWORD", ""),
		PostgresName:     envutil.Str("POSTGRES_NAME", ""),
		SQLitePath:       envutil.Str("SQLITE_PATH", "file::memory:?cache=shared"),
	}
	if cfg.LogMode == "" {
		if cfg.Mode == ModeProduction {
			cfg.LogMode = "production"
		} else {
			cfg.LogMode = "dev"
		}
	}
	if cfg.LongContextModel == "" {
		cfg.LongContextModel = cfg.BaseModel
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Mode {
	case ModeTesting, ModeDev, ModeProduction:
	default:
		return &ConfigError{Key: "APP_MODE", Reason: fmt.Sprintf("%q is not one of testing, dev, production", c.Mode)}
	}
	switch c.StorageBackend {
	case StorageLocal:
		if c.LocalStorageDir == "" {
			return &ConfigError{Key: "LOCAL_STORAGE_DIR", Reason: "required for the local backend"}
		}
	case StorageCloud:
		if c.GCSBucketName == "" {
			return &ConfigError{Key: "GCS_BUCKET_NAME", Reason: "required for the cloud backend"}
		}
	default:
		return &ConfigError{Key: "STORAGE_BACKEND", Reason: fmt.Sprintf("%q is not one of local, cloud", c.StorageBackend)}
	}
	if c.Mode != ModeTesting {
		if c.PostgresUser == "" || c.PostgresName == "" {
			return &ConfigError{Key: "POSTGRES_USER/POSTGRES_NAME", Reason: "required outside testing mode"}
		}
	}
	return nil
}

// validateGeneration checks the knobs the generation stack needs on top of
// the core set.
func (c Config) validateGeneration() error {
	if c.OpenAIAPIKey == "" {
		return &ConfigError{Key: "OPENAI_API_KEY", Reason: "required for generation"}
	}
	if c.QdrantURL == "" {
		return &ConfigError{Key: "QDRANT_URL", Reason: "required for generation"}
	}
	if c.ExampleCorpusPath == "" {
		return &ConfigError{Key: "EXAMPLE_CORPUS_PATH", Reason: "required for generation"}
	}
	if c.PromptRegistryURL == "" && c.PromptManifestPath == "" {
		return &ConfigError{Key: "PROMPT_REGISTRY_URL", Reason: "a prompt registry URL or manifest path is required for generation"}
	}
	return nil
}

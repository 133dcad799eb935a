// Package app assembles the application from its closed configuration:
// logger, database, content store, and question service at the core, with the
// generation stack (model client, vector stores, prompt registry, retriever,
// generator) layered on for the commands that need it.
package app

import (
	"context"
	"fmt"

	"github.com/quizsmith/quizsmith-backend/internal/contentstore"
	"github.com/quizsmith/quizsmith-backend/internal/data/db"
	"github.com/quizsmith/quizsmith-backend/internal/data/repos"
	"github.com/quizsmith/quizsmith-backend/internal/modules/gestalt"
	"github.com/quizsmith/quizsmith-backend/internal/observability"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
	"github.com/quizsmith/quizsmith-backend/internal/platform/openai"
	"github.com/quizsmith/quizsmith-backend/internal/platform/pdfrender"
	"github.com/quizsmith/quizsmith-backend/internal/platform/promptreg"
	"github.com/quizsmith/quizsmith-backend/internal/platform/qdrant"
	"github.com/quizsmith/quizsmith-backend/internal/retrieval"
	"github.com/quizsmith/quizsmith-backend/internal/sandbox"
	"github.com/quizsmith/quizsmith-backend/internal/services"
)

// Example corpus columns and index namespaces.
const (
	corpusInputColumn  = "question"
	corpusTargetColumn = "output"

	examplesNamespace = "examples"
	catalogNamespace  = "catalog"
)

type App struct {
	Cfg Config
	Log *logger.Logger

	DB        *db.Service
	Store     contentstore.Store
	Questions *services.QuestionService
	Users     repos.UserRepo
	Sandbox   sandbox.Runner

	// Generation stack, nil until WithGeneration.
	AI        openai.Client
	Prompts   promptreg.Registry
	Retriever retrieval.Retriever
	Examples  qdrant.VectorStore
	Catalog   qdrant.VectorStore
	Generator *gestalt.Generator

	otelShutdown func(context.Context) error
}

// Close flushes tracing. Safe to call once at process exit.
func (a *App) Close(ctx context.Context) error {
	if a.otelShutdown == nil {
		return nil
	}
	return a.otelShutdown(ctx)
}

// New wires the core: everything reconcile, run-script, and migrate need.
func New(ctx context.Context, cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "quizsmith",
		Environment: cfg.Mode,
	})

	dbService, err := db.New(log, db.Config{
		Mode:             cfg.Mode,
		PostgresHost:     cfg.PostgresHost,
		PostgresPort:     cfg.PostgresPort,
		PostgresUser:     cfg.PostgresUser,
		PostgresPassword: cfg.PostgresPassword,
		PostgresName:     cfg.PostgresName,
		SQLitePath:       cfg.SQLitePath,
	})
	if err != nil {
		return nil, err
	}

	var store contentstore.Store
	switch cfg.StorageBackend {
	case StorageCloud:
		store, err = contentstore.NewGCS(ctx, log, contentstore.GCSConfig{
			Bucket:          cfg.GCSBucketName,
			CredentialsFile: cfg.GCSCredentialsFile,
		})
	default:
		store, err = contentstore.NewLocal(log, cfg.LocalStorageDir)
	}
	if err != nil {
		return nil, err
	}

	questions, err := services.NewQuestionService(log, dbService.DB(),
		repos.NewQuestionRepo(dbService.DB(), log),
		repos.NewLabelRepo(dbService.DB(), log),
		store)
	if err != nil {
		return nil, err
	}

	return &App{
		Cfg:       cfg,
		Log:       log,
		DB:        dbService,
		Store:     store,
		Questions: questions,
		Users:     repos.NewUserRepo(dbService.DB(), log),
		Sandbox:   sandbox.New(log, sandbox.Config{DefaultTimeout: cfg.SandboxTimeout}),

		otelShutdown: otelShutdown,
	}, nil
}

// WithGeneration wires the model client, vector stores, prompt registry,
// retriever, and generator on top of the core.
func (a *App) WithGeneration(ctx context.Context) error {
	if err := a.Cfg.validateGeneration(); err != nil {
		return err
	}

	base, err := openai.New(a.Log, openai.Config{
		APIKey:     a.Cfg.OpenAIAPIKey,
		BaseURL:    a.Cfg.OpenAIBaseURL,
		Model:      a.Cfg.BaseModel,
		EmbedModel: a.Cfg.EmbedModel,
	})
	if err != nil {
		return err
	}
	a.AI = base

	a.Examples, err = qdrant.NewVectorStore(a.Log, qdrant.Config{
		URL:        a.Cfg.QdrantURL,
		Collection: a.Cfg.QdrantExamplesCollection,
		VectorDim:  a.Cfg.QdrantVectorDim,
	})
	if err != nil {
		return err
	}
	a.Catalog, err = qdrant.NewVectorStore(a.Log, qdrant.Config{
		URL:        a.Cfg.QdrantURL,
		Collection: a.Cfg.QdrantCatalogCollection,
		VectorDim:  a.Cfg.QdrantVectorDim,
	})
	if err != nil {
		return err
	}

	var cache promptreg.Cache
	if a.Cfg.RedisAddr != "" {
		cache, err = promptreg.NewRedisCache(a.Log, a.Cfg.RedisAddr, 0)
		if err != nil {
			// A dead cache never blocks generation.
			a.Log.Warn("prompt cache unavailable, falling back to memory", "addr", a.Cfg.RedisAddr, "error", err)
			cache = promptreg.NewMemoryCache()
		}
	}
	a.Prompts, err = promptreg.New(a.Log, promptreg.Config{
		RegistryURL:  a.Cfg.PromptRegistryURL,
		ManifestPath: a.Cfg.PromptManifestPath,
	}, cache)
	if err != nil {
		return err
	}

	a.Retriever, err = retrieval.New(a.Log, retrieval.Config{
		CorpusPath:   a.Cfg.ExampleCorpusPath,
		InputColumn:  corpusInputColumn,
		TargetColumn: corpusTargetColumn,
		Namespace:    examplesNamespace,
	}, base, a.Examples)
	if err != nil {
		return err
	}

	a.Generator, err = gestalt.New(gestalt.Deps{
		Log:       a.Log,
		AI:        base,
		FastAI:    openai.WithModel(base, a.Cfg.FastModel),
		LongAI:    openai.WithModel(base, a.Cfg.LongContextModel),
		Prompts:   a.Prompts,
		Retriever: a.Retriever,
		Catalog:   a.Catalog,
		Renderer:  pdfrender.New(a.Log),
	}, gestalt.Config{
		StageTimeout:     a.Cfg.StageTimeout,
		Budget:           a.Cfg.GenerationBudget,
		CatalogNamespace: catalogNamespace,
	})
	return err
}

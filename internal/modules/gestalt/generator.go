// Package gestalt composes the stage graphs into complete question artifacts.
// Within one artifact the stages form a small DAG: question-html feeds
// solution-html and both server scripts; classification runs independently.
package gestalt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/quizsmith/quizsmith-backend/internal/modules/gestalt/steps"
	"github.com/quizsmith/quizsmith-backend/internal/observability"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
	"github.com/quizsmith/quizsmith-backend/internal/platform/openai"
	"github.com/quizsmith/quizsmith-backend/internal/platform/pdfrender"
	"github.com/quizsmith/quizsmith-backend/internal/platform/promptreg"
	"github.com/quizsmith/quizsmith-backend/internal/platform/qdrant"
	"github.com/quizsmith/quizsmith-backend/internal/retrieval"
)

type Config struct {
	// StageTimeout bounds each model-backed stage; Budget bounds one whole
	// generation including fan-out.
	StageTimeout time.Duration
	Budget       time.Duration
	// MaxConcurrentArtifacts bounds extraction fan-out. 0 means unbounded.
	MaxConcurrentArtifacts int

	CatalogNamespace string
	PDFZoom          float64
	PDFMaxPages      int
}

type Deps struct {
	Log       *logger.Logger
	AI        openai.Client
	Prompts   promptreg.Registry
	Retriever retrieval.Retriever
	Catalog   qdrant.VectorStore
	Renderer  pdfrender.Renderer

	// FastAI serves the classification loop and LongAI the page extraction
	// call; both default to AI when nil.
	FastAI openai.Client
	LongAI openai.Client
}

// Options tunes one generation request.
type Options struct {
	Title    string
	Adaptive bool
	Seed     int64
	// TestParameters gate the server-script inject_tests node.
	TestParameters map[string]any
}

type Generator struct {
	log  *logger.Logger
	deps Deps
	cfg  Config
}

func New(deps Deps, cfg Config) (*Generator, error) {
	if deps.Log == nil || deps.AI == nil || deps.Prompts == nil || deps.Retriever == nil {
		return nil, fmt.Errorf("gestalt generator: missing dependencies")
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 10 * time.Minute
	}
	if cfg.PDFZoom <= 0 {
		cfg.PDFZoom = 2.0
	}
	if deps.FastAI == nil {
		deps.FastAI = deps.AI
	}
	if deps.LongAI == nil {
		deps.LongAI = deps.AI
	}
	return &Generator{log: deps.Log.With("service", "GestaltGenerator"), deps: deps, cfg: cfg}, nil
}

// GenerateText produces one artifact from a natural-language prompt.
func (g *Generator) GenerateText(ctx context.Context, text string, opts Options) ([]Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Budget)
	defer cancel()

	art, err := g.generateOne(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	return []Artifact{art}, nil
}

// ImagesInput is the extraction source: loose image bytes and/or one PDF.
type ImagesInput struct {
	Images  [][]byte
	PDFPath string
}

// GenerateImages extracts N questions from the pages and fans out one
// artifact per question, bounded by the configured semaphore. Artifacts whose
// essential stages fail are dropped with a logged error; the call fails only
// when extraction itself fails or every artifact fails.
func (g *Generator) GenerateImages(ctx context.Context, in ImagesInput, opts Options) ([]Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Budget)
	defer cancel()

	questions, err := steps.RunExtract(ctx, steps.ExtractDeps{
		Log: g.log, AI: g.deps.LongAI, Prompts: g.deps.Prompts, Renderer: g.deps.Renderer,
	}, steps.ExtractInput{
		Images:   in.Images,
		PDFPath:  in.PDFPath,
		Zoom:     g.cfg.PDFZoom,
		MaxPages: g.cfg.PDFMaxPages,
	})
	if err != nil {
		return nil, err
	}

	var sem *semaphore.Weighted
	if g.cfg.MaxConcurrentArtifacts > 0 {
		sem = semaphore.NewWeighted(int64(g.cfg.MaxConcurrentArtifacts))
	}

	var (
		mu        sync.Mutex
		artifacts []Artifact
		failures  []error
	)
	var wg sync.WaitGroup
	for i, q := range questions {
		wg.Add(1)
		go func(idx int, q steps.ExtractedQuestion) {
			defer wg.Done()
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					mu.Lock()
					failures = append(failures, fmt.Errorf("artifact %d: %w", idx, err))
					mu.Unlock()
					return
				}
				defer sem.Release(1)
			}
			perOpts := opts
			perOpts.Title = q.Title
			perOpts.Adaptive = q.Adaptive
			perOpts.Seed = opts.Seed + int64(idx)
			art, err := g.generateOne(ctx, q.Body, perOpts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				g.log.Error("artifact generation failed", "index", idx, "error", err)
				failures = append(failures, fmt.Errorf("artifact %d: %w", idx, err))
				return
			}
			// Extraction already classified coarse labels; merge them in.
			art.Metadata.Topics = mergeLabels(art.Metadata.Topics, q.Topics)
			art.Metadata.Languages = mergeLabels(art.Metadata.Languages, q.Languages)
			if art.Metadata.QType == "" {
				art.Metadata.QType = q.QType
			}
			artifacts = append(artifacts, art)
		}(i, q)
	}
	wg.Wait()

	if len(artifacts) == 0 && len(failures) > 0 {
		return nil, errors.Join(failures...)
	}
	return artifacts, nil
}

// generateOne runs the per-artifact DAG.
func (g *Generator) generateOne(ctx context.Context, text string, opts Options) (Artifact, error) {
	ctx, span := observability.Tracer().Start(ctx, "gestalt.artifact")
	defer span.End()

	art := Artifact{
		Metadata: Metadata{
			Title:       strings.TrimSpace(opts.Title),
			IsAdaptive:  opts.Adaptive,
			AIGenerated: true,
		},
		Files: map[string][]byte{},
		Trace: map[string]any{},
	}
	if art.Metadata.Title == "" {
		art.Metadata.Title = defaultTitle(text)
	}

	// question-html first: everything except classification hangs off it.
	qOut, err := g.runQuestionHTML(ctx, text, opts)
	if err != nil {
		return Artifact{}, err
	}
	art.Files[FileQuestionHTML] = []byte(qOut.HTML)

	type stageResult struct {
		file    string
		stage   string
		content []byte
		trace   any
		err     error
	}
	results := make(chan stageResult, 4)

	grp, grpCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		out, err := g.runSolutionHTML(grpCtx, text, qOut.HTML, opts)
		results <- stageResult{file: FileSolutionHTML, stage: steps.StageSolutionHTML, content: []byte(out.HTML), err: err}
		return nil
	})
	grp.Go(func() error {
		out, err := g.runServerScript(grpCtx, text, qOut.HTML, "javascript", opts)
		results <- stageResult{file: FileServerJS, stage: "server_script:javascript", content: []byte(out.Code), trace: out.Trace, err: err}
		return nil
	})
	grp.Go(func() error {
		out, err := g.runServerScript(grpCtx, text, qOut.HTML, "python", opts)
		results <- stageResult{file: FileServerPY, stage: "server_script:python", content: []byte(out.Code), trace: out.Trace, err: err}
		return nil
	})
	grp.Go(func() error {
		out, err := g.runClassify(grpCtx, text)
		if err != nil {
			results <- stageResult{stage: steps.StageClassify, err: err}
			return nil
		}
		results <- stageResult{stage: steps.StageClassify, trace: out}
		return nil
	})

	_ = grp.Wait()
	close(results)

	scriptErrs := []error{}
	for res := range results {
		if res.err != nil {
			failure := failureFor(res.stage, res.err)
			switch res.file {
			case FileServerJS, FileServerPY:
				scriptErrs = append(scriptErrs, res.err)
				art.Warnings = append(art.Warnings, failure)
			default:
				art.Warnings = append(art.Warnings, failure)
			}
			continue
		}
		switch res.stage {
		case steps.StageClassify:
			if out, ok := res.trace.(steps.ClassifyOutput); ok {
				art.Metadata.Courses = out.Courses
				art.Metadata.Topics = out.Topics
				art.Trace[steps.StageClassify] = out.Trace
			}
		default:
			if len(res.content) > 0 {
				art.Files[res.file] = res.content
			}
			if res.trace != nil {
				art.Trace[res.stage] = res.trace
			}
		}
	}

	// Essential: question-html (checked above) and at least one server script.
	if len(scriptErrs) == 2 {
		return Artifact{}, fmt.Errorf("both server scripts failed: %w", errors.Join(scriptErrs...))
	}
	art.Metadata.Languages = languagesFromFiles(art.Files)
	if art.Metadata.QType == "" {
		art.Metadata.QType = "numeric"
	}
	return art, nil
}

func (g *Generator) runQuestionHTML(ctx context.Context, text string, opts Options) (steps.QuestionHTMLOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StageTimeout)
	defer cancel()
	return steps.RunQuestionHTML(ctx, steps.QuestionHTMLDeps{
		Log: g.log, AI: g.deps.AI, Prompts: g.deps.Prompts, Retriever: g.deps.Retriever,
	}, steps.QuestionHTMLInput{Text: text, Adaptive: opts.Adaptive, Seed: opts.Seed})
}

func (g *Generator) runSolutionHTML(ctx context.Context, text, questionHTML string, opts Options) (steps.SolutionHTMLOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StageTimeout)
	defer cancel()
	return steps.RunSolutionHTML(ctx, steps.SolutionHTMLDeps{
		Log: g.log, AI: g.deps.AI, Prompts: g.deps.Prompts,
	}, steps.SolutionHTMLInput{Text: text, QuestionHTML: questionHTML, Seed: opts.Seed})
}

func (g *Generator) runServerScript(ctx context.Context, text, questionHTML, language string, opts Options) (steps.ServerScriptOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StageTimeout)
	defer cancel()
	return steps.RunServerScript(ctx, steps.ServerScriptDeps{
		Log: g.log, AI: g.deps.AI, Prompts: g.deps.Prompts, Retriever: g.deps.Retriever,
	}, steps.ServerScriptInput{
		Text:           text,
		QuestionHTML:   questionHTML,
		Language:       language,
		Adaptive:       opts.Adaptive,
		Seed:           opts.Seed,
		TestParameters: opts.TestParameters,
	})
}

func (g *Generator) runClassify(ctx context.Context, text string) (steps.ClassifyOutput, error) {
	if g.deps.Catalog == nil {
		return steps.ClassifyOutput{}, &steps.GenerationError{
			Stage: steps.StageClassify, Kind: steps.GenerationKindRetrieval,
			Message: "no catalog index configured",
		}
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StageTimeout)
	defer cancel()
	return steps.RunClassify(ctx, steps.ClassifyDeps{
		Log: g.log, AI: g.deps.FastAI, Prompts: g.deps.Prompts,
		Embedder: g.deps.AI, Catalog: g.deps.Catalog,
		CatalogNamespace: g.cfg.CatalogNamespace,
	}, steps.ClassifyInput{Text: text})
}

func failureFor(stage string, err error) StageFailure {
	var genError *steps.GenerationError
	if errors.As(err, &genError) {
		return StageFailure{Stage: genError.Stage, Kind: genError.Kind, Message: genError.Message}
	}
	return StageFailure{Stage: stage, Kind: "error", Message: err.Error()}
}

func languagesFromFiles(files map[string][]byte) []string {
	out := []string{}
	if _, ok := files[FileServerJS]; ok {
		out = append(out, "javascript")
	}
	if _, ok := files[FileServerPY]; ok {
		out = append(out, "python")
	}
	return out
}

func mergeLabels(a, b []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func defaultTitle(text string) string {
	fields := strings.Fields(text)
	if len(fields) > 8 {
		fields = fields[:8]
	}
	title := strings.Join(fields, " ")
	if title == "" {
		title = "Untitled question"
	}
	return title
}

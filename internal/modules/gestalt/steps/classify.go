package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quizsmith/quizsmith-backend/internal/observability"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
	"github.com/quizsmith/quizsmith-backend/internal/platform/openai"
	"github.com/quizsmith/quizsmith-backend/internal/platform/promptreg"
	"github.com/quizsmith/quizsmith-backend/internal/platform/qdrant"
)

const StageClassify = "classify"

const (
	defaultMaxToolCalls   = 5
	defaultClassifyBudget = 2 * time.Minute
	catalogTopK           = 5
)

type ClassifyDeps struct {
	Log      *logger.Logger
	AI       openai.Client
	Prompts  promptreg.Registry
	Embedder interface {
		Embed(ctx context.Context, inputs []string) ([][]float32, error)
	}
	Catalog qdrant.VectorStore
	// CatalogNamespace selects the course/topic catalog within the index.
	CatalogNamespace string
}

type ClassifyInput struct {
	Text         string
	MaxToolCalls int
	Budget       time.Duration
}

type ClassifyOutput struct {
	Courses []string
	Topics  []string
	// Trace records each turn: "retrieve:<query>" or "final".
	Trace []string
}

type classifyTurn struct {
	Action  string   `json:"action"`
	Query   string   `json:"query"`
	Courses []string `json:"courses"`
	Topics  []string `json:"topics"`
}

// RunClassify drives the bounded tool loop: each turn the model either asks
// for a catalog retrieval or declares the final label set.
func RunClassify(ctx context.Context, deps ClassifyDeps, in ClassifyInput) (ClassifyOutput, error) {
	out := ClassifyOutput{}
	if strings.TrimSpace(in.Text) == "" {
		return out, genErr(StageClassify, GenerationKindPrompt, "empty question text", nil)
	}
	maxCalls := in.MaxToolCalls
	if maxCalls <= 0 {
		maxCalls = defaultMaxToolCalls
	}
	budget := in.Budget
	if budget <= 0 {
		budget = defaultClassifyBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	system, err := pullFlat(ctx, StageClassify, deps.Prompts, PromptClassify)
	if err != nil {
		return out, err
	}

	var transcript strings.Builder
	fmt.Fprintf(&transcript, "Question:\n%s\n", in.Text)

	toolCalls := 0
	for turn := 0; turn <= maxCalls; turn++ {
		if err := ctx.Err(); err != nil {
			observability.ObserveStage(StageClassify, "timeout")
			return out, genErr(StageClassify, GenerationKindModel, "classification budget exhausted", err)
		}

		user := transcript.String()
		if toolCalls >= maxCalls {
			user += "\nTool budget exhausted. You must answer with action=\"final\".\n"
		}
		obj, err := deps.AI.GenerateJSON(ctx, system, user, "classify_turn", classifyTurnSchema())
		if err != nil {
			observability.ObserveStage(StageClassify, "error")
			return out, genErr(StageClassify, GenerationKindModel, "model call failed", err)
		}
		var decoded classifyTurn
		if err := decodeModelObject(StageClassify, obj, &decoded); err != nil {
			observability.ObserveStage(StageClassify, "invalid")
			return out, err
		}

		switch decoded.Action {
		case "final":
			out.Courses = dedupeTrimmed(decoded.Courses)
			out.Topics = dedupeTrimmed(decoded.Topics)
			out.Trace = append(out.Trace, "final")
			observability.ObserveStage(StageClassify, "ok")
			return out, nil
		case "retrieve":
			if toolCalls >= maxCalls {
				observability.ObserveStage(StageClassify, "invalid")
				return out, genErr(StageClassify, GenerationKindModel,
					fmt.Sprintf("model exceeded tool budget of %d retrievals", maxCalls), nil)
			}
			toolCalls++
			out.Trace = append(out.Trace, "retrieve:"+decoded.Query)
			hits, err := retrieveCatalog(ctx, deps, decoded.Query)
			if err != nil {
				observability.ObserveStage(StageClassify, "error")
				return out, genErr(StageClassify, GenerationKindRetrieval, "catalog retrieval failed", err)
			}
			fmt.Fprintf(&transcript, "\nCatalog results for %q:\n%s\n", decoded.Query, hits)
		default:
			observability.ObserveStage(StageClassify, "invalid")
			e := genErr(StageClassify, GenerationKindSchema,
				fmt.Sprintf("unknown action %q", decoded.Action), nil)
			e.Diagnostics = map[string]any{"raw": toJSON(obj)}
			return out, e
		}
	}

	observability.ObserveStage(StageClassify, "invalid")
	return out, genErr(StageClassify, GenerationKindModel, "model never declared a final label set", nil)
}

func retrieveCatalog(ctx context.Context, deps ClassifyDeps, query string) (string, error) {
	vecs, err := deps.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return "", err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return "", fmt.Errorf("empty embedding for catalog query")
	}
	matches, err := deps.Catalog.Query(ctx, deps.CatalogNamespace, vecs[0], catalogTopK, nil)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "(no catalog entries matched)", nil
	}
	var b strings.Builder
	for _, m := range matches {
		kind := stringFromAny(m.Payload["kind"])
		name := stringFromAny(m.Payload["name"])
		if name == "" {
			name = m.ID
		}
		fmt.Fprintf(&b, "- [%s] %s\n", kind, name)
	}
	return b.String(), nil
}

func dedupeTrimmed(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
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

package steps

import (
	"context"
	"strings"

	"github.com/quizsmith/quizsmith-backend/internal/observability"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
	"github.com/quizsmith/quizsmith-backend/internal/platform/openai"
	"github.com/quizsmith/quizsmith-backend/internal/platform/promptreg"
)

const StageSolutionHTML = "solution_html"

type SolutionHTMLDeps struct {
	Log     *logger.Logger
	AI      openai.Client
	Prompts promptreg.Registry
}

type SolutionHTMLInput struct {
	Text         string
	QuestionHTML string
	Seed         int64
}

type SolutionHTMLOutput struct {
	HTML string
}

// RunSolutionHTML writes the worked-solution guide from the original text and
// the already-rendered question panel.
func RunSolutionHTML(ctx context.Context, deps SolutionHTMLDeps, in SolutionHTMLInput) (SolutionHTMLOutput, error) {
	out := SolutionHTMLOutput{}
	if strings.TrimSpace(in.QuestionHTML) == "" {
		return out, genErr(StageSolutionHTML, GenerationKindPrompt, "missing question html", nil)
	}

	base, err := pullFlat(ctx, StageSolutionHTML, deps.Prompts, PromptSolutionHTML)
	if err != nil {
		return out, err
	}
	user := fillPlaceholders(base, map[string]string{
		"input":         in.Text,
		"question_html": in.QuestionHTML,
		"seed":          int64String(in.Seed),
	})

	obj, err := deps.AI.GenerateJSON(ctx,
		"You write worked solution guides as clean HTML.",
		user, "solution_html", htmlSchema())
	if err != nil {
		observability.ObserveStage(StageSolutionHTML, "error")
		return out, genErr(StageSolutionHTML, GenerationKindModel, "model call failed", err)
	}

	var decoded struct {
		HTML string `json:"html"`
	}
	if err := decodeModelObject(StageSolutionHTML, obj, &decoded); err != nil {
		observability.ObserveStage(StageSolutionHTML, "invalid")
		return out, err
	}
	if strings.TrimSpace(decoded.HTML) == "" {
		observability.ObserveStage(StageSolutionHTML, "invalid")
		e := genErr(StageSolutionHTML, GenerationKindSchema, "model returned empty html", nil)
		e.Diagnostics = map[string]any{"raw": toJSON(obj)}
		return out, e
	}

	observability.ObserveStage(StageSolutionHTML, "ok")
	out.HTML = decoded.HTML
	return out, nil
}

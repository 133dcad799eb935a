package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/quizsmith/quizsmith-backend/internal/observability"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
	"github.com/quizsmith/quizsmith-backend/internal/platform/openai"
	"github.com/quizsmith/quizsmith-backend/internal/platform/promptreg"
	"github.com/quizsmith/quizsmith-backend/internal/retrieval"
)

const StageQuestionHTML = "question_html"

type QuestionHTMLDeps struct {
	Log       *logger.Logger
	AI        openai.Client
	Prompts   promptreg.Registry
	Retriever retrieval.Retriever
}

type QuestionHTMLInput struct {
	Text     string
	Adaptive bool
	Seed     int64
}

type QuestionHTMLOutput struct {
	HTML string
}

// RunQuestionHTML renders the question panel: one retrieved example filtered
// on the adaptive flag, one structured model call.
func RunQuestionHTML(ctx context.Context, deps QuestionHTMLDeps, in QuestionHTMLInput) (QuestionHTMLOutput, error) {
	out := QuestionHTMLOutput{}
	if strings.TrimSpace(in.Text) == "" {
		return out, genErr(StageQuestionHTML, GenerationKindPrompt, "empty question text", nil)
	}

	base, err := pullFlat(ctx, StageQuestionHTML, deps.Prompts, PromptQuestionHTML)
	if err != nil {
		return out, err
	}

	deps.Retriever.SetFilter(func(meta map[string]any) bool {
		return stringFromAny(meta["adaptive"]) == fmt.Sprintf("%t", in.Adaptive)
	})
	withExamples, err := formatWithRetry(ctx, deps.Retriever, in.Text, 1, base)
	if err != nil {
		return out, genErr(StageQuestionHTML, GenerationKindRetrieval, "example retrieval failed", err)
	}

	user := fillPlaceholders(withExamples, map[string]string{
		"input":    in.Text,
		"adaptive": fmt.Sprintf("%t", in.Adaptive),
		"seed":     fmt.Sprintf("%d", in.Seed),
	})

	obj, err := deps.AI.GenerateJSON(ctx,
		"You author HTML question panels for engineering courses.",
		user, "question_html", htmlSchema())
	if err != nil {
		observability.ObserveStage(StageQuestionHTML, "error")
		return out, genErr(StageQuestionHTML, GenerationKindModel, "model call failed", err)
	}

	var decoded struct {
		HTML string `json:"html"`
	}
	if err := decodeModelObject(StageQuestionHTML, obj, &decoded); err != nil {
		observability.ObserveStage(StageQuestionHTML, "invalid")
		return out, err
	}
	if strings.TrimSpace(decoded.HTML) == "" {
		observability.ObserveStage(StageQuestionHTML, "invalid")
		e := genErr(StageQuestionHTML, GenerationKindSchema, "model returned empty html", nil)
		e.Diagnostics = map[string]any{"raw": toJSON(obj)}
		return out, e
	}

	observability.ObserveStage(StageQuestionHTML, "ok")
	out.HTML = decoded.HTML
	return out, nil
}

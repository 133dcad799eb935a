package steps

import (
	"context"

	"github.com/quizsmith/quizsmith-backend/internal/platform/promptreg"
)

// Registry prompt names used by the stages.
const (
	PromptQuestionHTML       = "question-html"
	PromptSolutionHTML       = "solution-html"
	PromptServerScriptBase   = "server-script-base"
	PromptServerScriptValues = "server-script-values"
	PromptServerScriptTests  = "server-script-tests"
	PromptClassify           = "classify"
	PromptExtract            = "extract"
)

func pullFlat(ctx context.Context, stage string, reg promptreg.Registry, name string) (string, error) {
	tmpl, err := reg.Pull(ctx, name)
	if err != nil {
		return "", genErr(stage, GenerationKindPrompt, "pull prompt "+name+" failed", err)
	}
	flat, err := promptreg.ExtractFlat(tmpl)
	if err != nil {
		return "", genErr(stage, GenerationKindPrompt, "prompt "+name+" has no flat body", err)
	}
	return flat, nil
}

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
	"github.com/quizsmith/quizsmith-backend/internal/sandbox"
)

const StageServerScript = "server_script"

// serverScriptNode names mirror the state machine: start → generate_base →
// inject_predefined_values → [guard] inject_tests → end.
const (
	nodeGenerateBase     = "generate_base"
	nodeInjectPredefined = "inject_predefined_values"
	nodeInjectTests      = "inject_tests"
)

type ServerScriptDeps struct {
	Log       *logger.Logger
	AI        openai.Client
	Prompts   promptreg.Registry
	Retriever retrieval.Retriever
}

type ServerScriptInput struct {
	Text         string
	QuestionHTML string
	Language     string // sandbox.LanguageJavaScript or sandbox.LanguagePython
	Adaptive     bool
	Seed         int64
	// TestParameters, when present, gate the inject_tests node.
	TestParameters map[string]any
}

// ServerScriptState is the stage-local state threaded through the nodes.
type ServerScriptState struct {
	Input ServerScriptInput
	Code  string
	Trace []string
}

type ServerScriptOutput struct {
	Code  string
	Trace []string
}

func stageNameFor(language string) string {
	return StageServerScript + ":" + strings.ToLower(strings.TrimSpace(language))
}

// RunServerScript drives the server-script state machine for one language.
func RunServerScript(ctx context.Context, deps ServerScriptDeps, in ServerScriptInput) (ServerScriptOutput, error) {
	stage := stageNameFor(in.Language)
	switch strings.ToLower(strings.TrimSpace(in.Language)) {
	case sandbox.LanguageJavaScript, sandbox.LanguagePython:
	default:
		return ServerScriptOutput{}, genErr(stage, GenerationKindPrompt,
			fmt.Sprintf("unsupported script language %q", in.Language), nil)
	}

	state := &ServerScriptState{Input: in}
	nodes := []func(context.Context, ServerScriptDeps, *ServerScriptState) error{
		runGenerateBase,
		runInjectPredefined,
	}
	if len(in.TestParameters) > 0 {
		nodes = append(nodes, runInjectTests)
	}

	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			observability.ObserveStage(stage, "cancelled")
			return ServerScriptOutput{}, genErr(stage, GenerationKindModel, "stage cancelled", err)
		}
		if err := node(ctx, deps, state); err != nil {
			observability.ObserveStage(stage, "error")
			return ServerScriptOutput{}, err
		}
	}

	observability.ObserveStage(stage, "ok")
	return ServerScriptOutput{Code: state.Code, Trace: state.Trace}, nil
}

func runGenerateBase(ctx context.Context, deps ServerScriptDeps, state *ServerScriptState) error {
	in := state.Input
	stage := stageNameFor(in.Language)

	base, err := pullFlat(ctx, stage, deps.Prompts, PromptServerScriptBase)
	if err != nil {
		return err
	}

	deps.Retriever.SetFilter(func(meta map[string]any) bool {
		return stringFromAny(meta["adaptive"]) == fmt.Sprintf("%t", in.Adaptive)
	})
	withExamples, err := formatWithRetry(ctx, deps.Retriever, in.Text, 1, base)
	if err != nil {
		return genErr(stage, GenerationKindRetrieval, "example retrieval failed", err)
	}

	user := fillPlaceholders(withExamples, map[string]string{
		"input":         in.Text,
		"question_html": in.QuestionHTML,
		"language":      in.Language,
		"seed":          int64String(in.Seed),
	})
	code, err := callForCode(ctx, deps.AI, stage, nodeGenerateBase, user)
	if err != nil {
		return err
	}
	state.Code = code
	state.Trace = append(state.Trace, nodeGenerateBase)
	return nil
}

func runInjectPredefined(ctx context.Context, deps ServerScriptDeps, state *ServerScriptState) error {
	in := state.Input
	stage := stageNameFor(in.Language)

	base, err := pullFlat(ctx, stage, deps.Prompts, PromptServerScriptValues)
	if err != nil {
		return err
	}
	user := fillPlaceholders(base, map[string]string{
		"input":    in.Text,
		"code":     state.Code,
		"language": in.Language,
		"seed":     int64String(in.Seed),
	})
	code, err := callForCode(ctx, deps.AI, stage, nodeInjectPredefined, user)
	if err != nil {
		return err
	}
	state.Code = code
	state.Trace = append(state.Trace, nodeInjectPredefined)
	return nil
}

func runInjectTests(ctx context.Context, deps ServerScriptDeps, state *ServerScriptState) error {
	in := state.Input
	stage := stageNameFor(in.Language)

	base, err := pullFlat(ctx, stage, deps.Prompts, PromptServerScriptTests)
	if err != nil {
		return err
	}
	user := fillPlaceholders(base, map[string]string{
		"input":           in.Text,
		"code":            state.Code,
		"language":        in.Language,
		"test_parameters": toJSON(in.TestParameters),
	})
	code, err := callForCode(ctx, deps.AI, stage, nodeInjectTests, user)
	if err != nil {
		return err
	}
	state.Code = code
	state.Trace = append(state.Trace, nodeInjectTests)
	return nil
}

func callForCode(ctx context.Context, ai openai.Client, stage, node, user string) (string, error) {
	obj, err := ai.GenerateJSON(ctx,
		"You write server-side quiz generator scripts. Return only the complete script.",
		user, "server_script", codeSchema())
	if err != nil {
		return "", genErr(stage, GenerationKindModel, node+" model call failed", err)
	}
	var decoded struct {
		Code string `json:"code"`
	}
	if err := decodeModelObject(stage, obj, &decoded); err != nil {
		return "", err
	}
	if strings.TrimSpace(decoded.Code) == "" {
		e := genErr(stage, GenerationKindSchema, node+" returned empty code", nil)
		e.Diagnostics = map[string]any{"raw": toJSON(obj)}
		return "", e
	}
	return decoded.Code, nil
}

// Package steps holds the stage state machines of the question-generation
// pipeline. Each stage is a small explicit DAG over a stage-local state;
// every model call uses a strict structured-output schema.
package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/quizsmith/quizsmith-backend/internal/retrieval"
)

// GenerationError reports a stage whose model output failed structured
// validation, or whose prompt/retrieval collaborators failed. Stages do not
// retry; retry policy belongs to the caller.
type GenerationError struct {
	Stage       string
	Kind        string
	Message     string
	Diagnostics map[string]any
	Cause       error
}

const (
	GenerationKindPrompt    = "prompt"
	GenerationKindRetrieval = "retrieval"
	GenerationKindModel     = "model"
	GenerationKindSchema    = "schema"
)

func (e *GenerationError) Error() string {
	if e == nil {
		return "generation failed"
	}
	return fmt.Sprintf("stage %s failed (kind=%s): %s", e.Stage, e.Kind, e.Message)
}

func (e *GenerationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func genErr(stage, kind, msg string, cause error) *GenerationError {
	return &GenerationError{Stage: stage, Kind: kind, Message: msg, Cause: cause}
}

// fillPlaceholders substitutes {name} slots in a flat template. Unknown slots
// are left untouched so later fills can claim them.
func fillPlaceholders(template string, values map[string]string) string {
	out := template
	for k, v := range values {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

func stringFromAny(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func stringSliceFromAny(v any) []string {
	if v == nil {
		return nil
	}
	if ss, ok := v.([]string); ok {
		out := make([]string, 0, len(ss))
		for _, s := range ss {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	arr, ok := v.([]any)
	if !ok {
		s := stringFromAny(v)
		if s == "" {
			return nil
		}
		return []string{s}
	}
	out := make([]string, 0, len(arr))
	for _, x := range arr {
		s := stringFromAny(x)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func boolFromAny(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	default:
		return false
	}
}

func int64String(v int64) string {
	return fmt.Sprintf("%d", v)
}

func toJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// decodeModelObject round-trips a structured-output map into a typed struct
// and reports schema mismatches as GenerationError.
func decodeModelObject(stage string, obj map[string]any, out any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return genErr(stage, GenerationKindSchema, "model output not serializable", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		e := genErr(stage, GenerationKindSchema, "model output failed schema decode", err)
		e.Diagnostics = map[string]any{"raw": string(raw)}
		return e
	}
	return nil
}

// Strict structured-output schemas shared by the stages.

func htmlSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"html"},
		"properties": map[string]any{
			"html": map[string]any{"type": "string"},
		},
	}
}

func codeSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"code"},
		"properties": map[string]any{
			"code": map[string]any{"type": "string"},
		},
	}
}

func classifyTurnSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"action", "query", "courses", "topics"},
		"properties": map[string]any{
			"action": map[string]any{"type": "string", "enum": []string{"retrieve", "final"}},
			"query":  map[string]any{"type": "string"},
			"courses": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"topics": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
}

func extractSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"questions"},
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"title", "body", "adaptive", "topics", "languages", "qtype"},
					"properties": map[string]any{
						"title":    map[string]any{"type": "string"},
						"body":     map[string]any{"type": "string"},
						"adaptive": map[string]any{"type": "boolean"},
						"topics": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"languages": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"qtype": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

// formatWithRetry inlines examples into base, retrying once when the index
// hiccuped. Config and filter errors pass straight through.
func formatWithRetry(ctx context.Context, r retrieval.Retriever, query string, k int, base string) (string, error) {
	out, err := r.FormatTemplate(ctx, query, k, base)
	if err == nil {
		return out, nil
	}
	var retErr *retrieval.RetrievalError
	if !errors.As(err, &retErr) || retErr.Op == "apply_filter" || ctx.Err() != nil {
		return "", err
	}
	return r.FormatTemplate(ctx, query, k, base)
}

package steps

import (
	"context"
	"encoding/base64"
	"os"
	"strings"

	"github.com/quizsmith/quizsmith-backend/internal/observability"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
	"github.com/quizsmith/quizsmith-backend/internal/platform/openai"
	"github.com/quizsmith/quizsmith-backend/internal/platform/pdfrender"
	"github.com/quizsmith/quizsmith-backend/internal/platform/promptreg"
)

const StageExtract = "extract"

type ExtractDeps struct {
	Log      *logger.Logger
	AI       openai.Client
	Prompts  promptreg.Registry
	Renderer pdfrender.Renderer
}

type ExtractInput struct {
	// Images are raw PNG/JPEG bytes, one per source image.
	Images [][]byte
	// PDFPath, when set, is rasterized one page per image.
	PDFPath string
	Zoom    float64
	// MaxPages caps PDF rasterization; 0 means all pages.
	MaxPages int
}

// ExtractedQuestion is one problem statement lifted from the source pages.
type ExtractedQuestion struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Adaptive  bool     `json:"adaptive"`
	Topics    []string `json:"topics"`
	Languages []string `json:"languages"`
	QType     string   `json:"qtype"`
}

// RunExtract assembles one multi-part message (prompt text followed by one
// image block per page) and asks for the structured question list.
func RunExtract(ctx context.Context, deps ExtractDeps, in ExtractInput) ([]ExtractedQuestion, error) {
	pages := make([][]byte, 0, len(in.Images))
	pages = append(pages, in.Images...)

	if strings.TrimSpace(in.PDFPath) != "" {
		raw, err := os.ReadFile(in.PDFPath)
		if err != nil {
			return nil, genErr(StageExtract, GenerationKindPrompt, "read pdf failed", err)
		}
		rendered, err := deps.Renderer.RenderPages(ctx, raw, in.Zoom, in.MaxPages)
		if err != nil {
			return nil, genErr(StageExtract, GenerationKindPrompt, "rasterize pdf failed", err)
		}
		pages = append(pages, rendered...)
	}
	if len(pages) == 0 {
		return nil, genErr(StageExtract, GenerationKindPrompt, "no pages to extract from", nil)
	}

	prompt, err := pullFlat(ctx, StageExtract, deps.Prompts, PromptExtract)
	if err != nil {
		return nil, err
	}

	images := make([]openai.ImageInput, 0, len(pages))
	for _, page := range pages {
		images = append(images, openai.ImageInput{
			ImageURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(page),
			Detail:   "high",
		})
	}

	obj, err := deps.AI.GenerateJSONWithImages(ctx,
		"You read problem sets from scanned pages.",
		prompt, images, "extracted_questions", extractSchema())
	if err != nil {
		observability.ObserveStage(StageExtract, "error")
		return nil, genErr(StageExtract, GenerationKindModel, "model call failed", err)
	}

	var decoded struct {
		Questions []ExtractedQuestion `json:"questions"`
	}
	if err := decodeModelObject(StageExtract, obj, &decoded); err != nil {
		observability.ObserveStage(StageExtract, "invalid")
		return nil, err
	}

	out := make([]ExtractedQuestion, 0, len(decoded.Questions))
	for _, q := range decoded.Questions {
		if strings.TrimSpace(q.Body) == "" {
			continue
		}
		if strings.TrimSpace(q.Title) == "" {
			q.Title = firstWords(q.Body, 8)
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		observability.ObserveStage(StageExtract, "invalid")
		e := genErr(StageExtract, GenerationKindSchema, "no questions extracted", nil)
		e.Diagnostics = map[string]any{"raw": toJSON(obj)}
		return nil, e
	}

	observability.ObserveStage(StageExtract, "ok")
	return out, nil
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

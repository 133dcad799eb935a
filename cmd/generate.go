package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quizsmith/quizsmith-backend/internal/app"
	"github.com/quizsmith/quizsmith-backend/internal/domain"
	"github.com/quizsmith/quizsmith-backend/internal/modules/gestalt"
	"github.com/quizsmith/quizsmith-backend/internal/services"
)

var (
	generateText     string
	generatePDF      string
	generateImages   []string
	generateTitle    string
	generateAdaptive bool
	generateSeed     int64
	generateOwner    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate questions from a text prompt, images, or a PDF",
	RunE: func(cmd *cobra.Command, args []string) error {
		if generateText == "" && generatePDF == "" && len(generateImages) == 0 {
			return fmt.Errorf("one of --text, --pdf, or --image is required")
		}

		cfg, err := app.FromEnv()
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())
		if err := a.WithGeneration(cmd.Context()); err != nil {
			return err
		}

		opts := gestalt.Options{
			Title:    generateTitle,
			Adaptive: generateAdaptive,
			Seed:     generateSeed,
		}
		var artifacts []gestalt.Artifact
		if generateText != "" {
			artifacts, err = a.Generator.GenerateText(cmd.Context(), generateText, opts)
		} else {
			images := make([][]byte, 0, len(generateImages))
			for _, path := range generateImages {
				raw, readErr := readImage(path)
				if readErr != nil {
					return readErr
				}
				images = append(images, raw)
			}
			artifacts, err = a.Generator.GenerateImages(cmd.Context(), gestalt.ImagesInput{
				Images:  images,
				PDFPath: generatePDF,
			}, opts)
		}
		if err != nil {
			return err
		}

		var ownerID *uuid.UUID
		if generateOwner != "" {
			owner, err := a.Users.GetOrCreateByExternalID(cmd.Context(), nil, generateOwner,
				domain.User{Username: generateOwner})
			if err != nil {
				return err
			}
			ownerID = &owner.ID
		}

		for _, art := range artifacts {
			data := questionDataFor(art)
			data.OwnerID = ownerID
			row, err := a.Questions.Create(cmd.Context(), data, art.Files)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s  %q\n", row.ID, row.Title)
			for _, w := range art.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "  warning: stage %s: %s\n", w.Stage, w.Message)
			}
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateText, "text", "", "natural-language question description")
	generateCmd.Flags().StringVar(&generatePDF, "pdf", "", "path to a PDF to extract questions from")
	generateCmd.Flags().StringArrayVar(&generateImages, "image", nil, "path to a page image (repeatable)")
	generateCmd.Flags().StringVar(&generateTitle, "title", "", "question title override")
	generateCmd.Flags().BoolVar(&generateAdaptive, "adaptive", false, "generate an adaptive question")
	generateCmd.Flags().Int64Var(&generateSeed, "seed", 0, "generation seed")
	generateCmd.Flags().StringVar(&generateOwner, "owner", "", "owner external id; created on first use")
}

func questionDataFor(art gestalt.Artifact) services.QuestionData {
	data := services.QuestionData{
		Title:       art.Metadata.Title,
		IsAdaptive:  art.Metadata.IsAdaptive,
		AIGenerated: art.Metadata.AIGenerated,
		QType:       art.Metadata.QType,
		Topics:      art.Metadata.Topics,
		Courses:     art.Metadata.Courses,
		Languages:   art.Metadata.Languages,
	}
	extra := map[string]any{}
	if len(art.Warnings) > 0 {
		extra["warnings"] = art.Warnings
	}
	if len(art.Trace) > 0 {
		extra["trace"] = art.Trace
	}
	if len(extra) > 0 {
		data.Extra = extra
	}
	return data
}

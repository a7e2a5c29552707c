package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/promptline/promptline/internal/generation"
	"github.com/promptline/promptline/internal/types"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate <id>",
	Short: "Refine a prompt's description into a structured prompt with AI",
	Long: `Send the prompt's description (or title, when it has none) to an AI provider
and store the structured result as the prompt's generated prompt.

Very short content is skipped. The prompt shows as generating while the
provider works and returns to todo afterwards, with or without a result.

Example:
  promptline generate 3f2a --provider gemini --knowledge kb-1,kb-2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")
		knowledge, _ := cmd.Flags().GetStringSlice("knowledge")

		return withApp(cmd.Context(), func(a *app) error {
			p, err := resolvePrompt(a, args[0])
			if err != nil {
				return err
			}
			return runGenerate(cmd, a, p, types.Provider(provider), model, knowledge)
		})
	},
}

func init() {
	generateCmd.Flags().String("provider", "", "AI provider: claude, gemini or openai (default from config)")
	generateCmd.Flags().String("model", "", "Model override")
	generateCmd.Flags().StringSlice("knowledge", nil, "Knowledge item ids to include as context")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, a *app, p *types.Prompt, provider types.Provider, model string, knowledge []string) error {
	content := p.Title
	if p.Description != nil && *p.Description != "" {
		content = *p.Description
	}

	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("%s Generating prompt for %s...\n", gray("→"), p.ID)

	resp, err := a.pipeline.Generate(cmd.Context(), generation.Request{
		PromptID:     p.ID,
		Content:      content,
		KnowledgeIDs: knowledge,
		Provider:     provider,
		Model:        model,
	})
	if err != nil {
		return err
	}
	switch resp.Outcome {
	case generation.OutcomeSkipped:
		fmt.Printf("%s Content too short to refine; nothing sent\n", gray("→"))
	case generation.OutcomeGenerated:
		if resp.Prompt != nil && resp.Prompt.GeneratedPrompt != nil {
			fmt.Printf("\n%s\n", *resp.Prompt.GeneratedPrompt)
		}
	}
	return nil
}

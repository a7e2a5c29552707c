package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/promptline/promptline/internal/types"
	"github.com/spf13/cobra"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage workspace knowledge used as generation context",
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a knowledge item",
	Long: `Add a knowledge item to the workspace. Pass its id to 'promptline generate
--knowledge' to include it as context.

Example:
  promptline knowledge add "Stack" -c "Go 1.25, SQLite, htmx" --tags backend,frontend
  promptline knowledge add "Conventions" -f CONTRIBUTING.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, _ := cmd.Flags().GetString("content")
		file, _ := cmd.Flags().GetString("file")
		category, _ := cmd.Flags().GetString("category")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			content = string(data)
		}
		if content == "" {
			return &types.ValidationError{Field: "content", Message: "pass --content or --file"}
		}

		return withApp(cmd.Context(), func(a *app) error {
			item := &types.KnowledgeItem{
				WorkspaceID: a.cfg.Workspace,
				Title:       args[0],
				Content:     content,
				Category:    category,
				Tags:        tags,
			}
			if err := a.db.AddKnowledgeItem(cmd.Context(), item); err != nil {
				return err
			}
			fmt.Printf("%s Added knowledge item %s\n", color.New(color.FgGreen).Sprint("✓"), item.ID)
			return nil
		})
	},
}

func init() {
	knowledgeAddCmd.Flags().StringP("content", "c", "", "Item content")
	knowledgeAddCmd.Flags().StringP("file", "f", "", "Read content from a file")
	knowledgeAddCmd.Flags().String("category", "", "Category")
	knowledgeAddCmd.Flags().StringSlice("tags", nil, "Tags")
	knowledgeCmd.AddCommand(knowledgeAddCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

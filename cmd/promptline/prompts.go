package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/promptline/promptline/internal/store"
	"github.com/promptline/promptline/internal/types"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a prompt",
	Long: `Create a prompt in the current workspace.

With --generate the description is refined by the default AI provider right
after the prompt is saved.

Example:
  promptline create "Add dark mode" -d "toggle in settings, persist per user" -p 1 --generate`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetInt("priority")
		status, _ := cmd.Flags().GetString("status")
		product, _ := cmd.Flags().GetString("product")
		epic, _ := cmd.Flags().GetString("epic")
		generate, _ := cmd.Flags().GetBool("generate")

		return withApp(cmd.Context(), func(a *app) error {
			p, err := a.store.Create(cmd.Context(), store.CreateInput{
				Title:       args[0],
				Description: description,
				ProductID:   types.StringPtr(product),
				EpicID:      types.StringPtr(epic),
				Priority:    priority,
				Status:      types.Status(status),
			})
			if err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Created %s\n", green("✓"), p.ID)

			if generate {
				return runGenerate(cmd, a, p, "", "", nil)
			}
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts in the workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, _ := cmd.Flags().GetStringSlice("status")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(cmd.Context(), func(a *app) error {
			var prompts []*types.Prompt
			if len(statuses) == 0 {
				prompts = a.store.List()
			} else {
				for _, s := range statuses {
					status := types.Status(s)
					if !status.IsValid() {
						return &types.ValidationError{Field: types.FieldStatus, Message: fmt.Sprintf("invalid status: %s", s)}
					}
					prompts = append(prompts, a.store.ListByStatus(status)...)
				}
			}

			if asJSON {
				return printJSON(os.Stdout, prompts)
			}
			if len(prompts) == 0 {
				fmt.Println(color.New(color.FgHiBlack).Sprint("No prompts"))
				return nil
			}
			now := time.Now()
			for _, p := range prompts {
				fmt.Println(formatPromptLine(p, now))
			}
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd.Context(), func(a *app) error {
			p, err := resolvePrompt(a, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, p)
			}
			printPrompt(os.Stdout, p)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Move a prompt to todo, in_progress or done",
	Long: `Change a prompt's status. The change is applied immediately and saved once
no other change has arrived for the configured quiet period.

Only todo, in_progress and done can be set by hand; the agent statuses are
owned by dispatch and reconciliation.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			p, err := resolvePrompt(a, args[0])
			if err != nil {
				return err
			}
			status := types.Status(args[1])
			if err := a.store.UpdateStatus(cmd.Context(), p.ID, status); err != nil {
				return err
			}
			fmt.Printf("%s %s -> %s\n", color.New(color.FgGreen).Sprint("✓"), p.ID, statusColor(status).Sprint(status))
			return nil
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Edit a prompt's title, description or priority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates := types.Updates{}
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			updates[types.FieldTitle] = title
		}
		if cmd.Flags().Changed("description") {
			description, _ := cmd.Flags().GetString("description")
			updates[types.FieldDescription] = description
		}
		if cmd.Flags().Changed("priority") {
			priority, _ := cmd.Flags().GetInt("priority")
			updates[types.FieldPriority] = priority
		}
		if len(updates) == 0 {
			return fmt.Errorf("nothing to update: pass --title, --description or --priority")
		}

		return withApp(cmd.Context(), func(a *app) error {
			p, err := resolvePrompt(a, args[0])
			if err != nil {
				return err
			}
			if err := a.store.UpdateFields(cmd.Context(), p.ID, updates); err != nil {
				return err
			}
			fmt.Printf("%s Updated %s\n", color.New(color.FgGreen).Sprint("✓"), p.ID)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			p, err := resolvePrompt(a, args[0])
			if err != nil {
				return err
			}
			if err := a.store.Delete(cmd.Context(), p.ID); err != nil {
				return err
			}
			fmt.Printf("%s Deleted %s\n", color.New(color.FgGreen).Sprint("✓"), p.ID)
			return nil
		})
	},
}

var duplicateCmd = &cobra.Command{
	Use:   "duplicate <id>",
	Short: "Copy a prompt into a new todo prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			p, err := resolvePrompt(a, args[0])
			if err != nil {
				return err
			}
			copied, err := a.store.Duplicate(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s Created %s (%s)\n", color.New(color.FgGreen).Sprint("✓"), copied.ID, copied.Title)
			return nil
		})
	},
}

func init() {
	createCmd.Flags().StringP("description", "d", "", "Prompt description (the raw idea)")
	createCmd.Flags().IntP("priority", "p", types.DefaultPriority, "Priority: 1 urgent, 2 high, 3 medium, 4 low")
	createCmd.Flags().String("status", string(types.StatusTodo), "Initial status: todo, in_progress or done")
	createCmd.Flags().String("product", "", "Product id")
	createCmd.Flags().String("epic", "", "Epic id")
	createCmd.Flags().Bool("generate", false, "Refine the description with AI after creating")

	listCmd.Flags().StringSlice("status", nil, "Only show these statuses")
	listCmd.Flags().Bool("json", false, "Output JSON")
	showCmd.Flags().Bool("json", false, "Output JSON")

	updateCmd.Flags().String("title", "", "New title")
	updateCmd.Flags().StringP("description", "d", "", "New description")
	updateCmd.Flags().IntP("priority", "p", types.DefaultPriority, "New priority")

	rootCmd.AddCommand(createCmd, listCmd, showCmd, statusCmd, updateCmd, deleteCmd, duplicateCmd)
}

// resolvePrompt finds a prompt by id or unique id prefix
func resolvePrompt(a *app, ref string) (*types.Prompt, error) {
	ref = strings.TrimSpace(ref)
	if p, ok := a.store.Get(ref); ok {
		return p, nil
	}
	var matches []*types.Prompt
	for _, p := range a.store.List() {
		if strings.HasPrefix(p.ID, ref) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("prompt %s: %w", ref, types.ErrNotFound)
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("prompt id %q is ambiguous (%d matches)", ref, len(matches))
}

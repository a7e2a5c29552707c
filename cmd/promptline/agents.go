package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/promptline/promptline/internal/dispatch"
	"github.com/promptline/promptline/internal/types"
	"github.com/spf13/cobra"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <id>",
	Short: "Send a prompt to a coding agent",
	Long: `Start a coding agent on the prompt. The generated prompt is sent when the
prompt has one, otherwise its description.

Repository, ref and model default to the agents section of the config.

Example:
  promptline dispatch 3f2a --provider cursor --repo https://github.com/acme/app --auto-pr
  promptline dispatch 3f2a --provider claude --workdir services/api --commit-message "feat: api"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		repo, _ := cmd.Flags().GetString("repo")
		ref, _ := cmd.Flags().GetString("ref")
		model, _ := cmd.Flags().GetString("model")
		autoPR, _ := cmd.Flags().GetBool("auto-pr")
		branch, _ := cmd.Flags().GetString("branch")
		workdirs, _ := cmd.Flags().GetStringSlice("workdir")
		commitMessage, _ := cmd.Flags().GetString("commit-message")

		return withApp(cmd.Context(), func(a *app) error {
			p, err := resolvePrompt(a, args[0])
			if err != nil {
				return err
			}

			defaults := a.cfg.Agent(types.Provider(provider))
			if repo == "" {
				repo = defaults.Repository
			}
			if ref == "" {
				ref = defaults.Ref
			}
			if model == "" {
				model = defaults.Model
			}

			var dc dispatch.Config
			switch types.Provider(provider) {
			case types.ProviderCursor:
				dc = dispatch.CursorDispatch{Repository: repo, Ref: ref, Model: model, AutoCreatePR: autoPR, BranchName: branch}
			case types.ProviderClaude:
				dc = dispatch.ClaudeDispatch{
					Repository:         repo,
					Branch:             ref,
					Model:              model,
					CreatePR:           autoPR,
					WorkingDirectories: workdirs,
					CommitMessage:      commitMessage,
				}
			default:
				return &types.ValidationError{Field: "provider", Message: fmt.Sprintf("%q is not an agent provider (cursor or claude)", provider)}
			}

			updated, err := a.dispatcher.Dispatch(cmd.Context(), p.ID, dc)
			if err != nil {
				return err
			}
			if updated.AgentURL != nil {
				fmt.Printf("  Agent: %s\n", *updated.AgentURL)
			}
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel the agent working on a prompt",
	Long: `Cancel the prompt's agent and move the prompt back to todo. The prompt is
reset locally even if the provider cannot be reached.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		byAgent, _ := cmd.Flags().GetBool("agent")
		return withApp(cmd.Context(), func(a *app) error {
			if byAgent {
				_, err := a.dispatcher.Cancel(cmd.Context(), args[0])
				return err
			}
			p, err := resolvePrompt(a, args[0])
			if err != nil {
				return err
			}
			_, err = a.dispatcher.CancelPrompt(cmd.Context(), p.ID)
			return err
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <agent-id> <status>",
	Short: "Apply an agent status by hand, as a webhook would",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		branch, _ := cmd.Flags().GetString("branch")
		prURL, _ := cmd.Flags().GetString("pr-url")
		errMsg, _ := cmd.Flags().GetString("error")

		push := dispatch.Push{
			Provider:       types.Provider(provider),
			AgentID:        args[0],
			Status:         args[1],
			Branch:         branch,
			PullRequestURL: prURL,
			Error:          errMsg,
			Timestamp:      time.Now(),
		}
		if cmd.Flags().Changed("pr-number") {
			n, _ := cmd.Flags().GetInt("pr-number")
			push.PullRequestNumber = &n
		}

		return withApp(cmd.Context(), func(a *app) error {
			res, err := a.dispatcher.Reconcile(cmd.Context(), push)
			if err != nil {
				return err
			}
			printReconcile(res)
			return nil
		})
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll [id]",
	Short: "Fetch agent status from the provider and reconcile",
	Long: `Without an id, every prompt whose agent is still running is polled.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if len(args) == 1 {
				p, err := resolvePrompt(a, args[0])
				if err != nil {
					return err
				}
				res, err := a.dispatcher.PollOnce(cmd.Context(), p.ID)
				if err != nil {
					return err
				}
				printReconcile(res)
				return nil
			}

			poller := dispatch.NewPoller(a.dispatcher, a.db, dispatch.PollerConfig{
				Rate:   a.cfg.Agents.PollRate,
				Logger: a.logger,
			})
			n, err := poller.PollAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s Polled %d agent(s)\n", color.New(color.FgGreen).Sprint("✓"), n)
			return nil
		})
	},
}

var statusesCmd = &cobra.Command{
	Use:   "statuses",
	Short: "Show how raw agent statuses map to prompt statuses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			table := a.dispatcher.StatusMap()
			gray := color.New(color.FgHiBlack).SprintFunc()
			for _, provider := range []types.Provider{types.ProviderCursor, types.ProviderClaude} {
				fmt.Printf("\n%s\n", color.New(color.FgCyan, color.Bold).Sprint(provider))
				for _, raw := range table.Vocabulary(provider) {
					m, _ := table.Lookup(provider, raw)
					flags := ""
					if m.Terminal {
						flags = " terminal"
					}
					if m.Failed {
						flags += " failed"
					}
					fmt.Printf("  %-20s -> %s%s\n", raw, statusColor(m.Status).Sprint(m.Status), gray(flags))
				}
			}
			fmt.Println()
			return nil
		})
	},
}

func init() {
	dispatchCmd.Flags().String("provider", string(types.ProviderCursor), "Agent provider: cursor or claude")
	dispatchCmd.Flags().String("repo", "", "GitHub repository URL (https://github.com/<owner>/<repo>)")
	dispatchCmd.Flags().String("ref", "", "Git ref to start from")
	dispatchCmd.Flags().String("model", "", "Agent model")
	dispatchCmd.Flags().Bool("auto-pr", false, "Open a pull request when the agent finishes")
	dispatchCmd.Flags().String("branch", "", "Branch name for the agent's work (cursor)")
	dispatchCmd.Flags().StringSlice("workdir", nil, "Working directories (claude)")
	dispatchCmd.Flags().String("commit-message", "", "Commit message (claude)")

	cancelCmd.Flags().Bool("agent", false, "Treat the argument as an agent id")

	reconcileCmd.Flags().String("provider", "", "Agent provider hint")
	reconcileCmd.Flags().String("branch", "", "Agent branch")
	reconcileCmd.Flags().String("pr-url", "", "Pull request URL")
	reconcileCmd.Flags().Int("pr-number", 0, "Pull request number")
	reconcileCmd.Flags().String("error", "", "Error reported by the agent")

	rootCmd.AddCommand(dispatchCmd, cancelCmd, reconcileCmd, pollCmd, statusesCmd)
}

func printReconcile(res *dispatch.ReconcileResult) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	if res.Duplicate {
		fmt.Printf("%s Already applied\n", gray("→"))
		return
	}
	if !res.Applied {
		fmt.Printf("%s Recorded; %s stays %s\n", gray("→"), res.Prompt.ID, statusColor(res.Prompt.Status).Sprint(res.Prompt.Status))
		return
	}
	fmt.Printf("%s %s is %s\n", color.New(color.FgGreen).Sprint("✓"), res.Prompt.ID, statusColor(res.Prompt.Status).Sprint(res.Prompt.Status))
}

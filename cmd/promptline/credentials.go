package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/promptline/promptline/internal/agent"
	"github.com/promptline/promptline/internal/types"
	"github.com/spf13/cobra"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage agent provider API keys",
	Long: `Agent API keys are stored in the database. When none is stored the
CURSOR_API_KEY or CLAUDE_AGENT_API_KEY environment variable is used.`,
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set <provider> [api-key]",
	Short: "Store an API key (read from stdin when omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := agentProvider(args[0])
		if err != nil {
			return err
		}
		var key string
		if len(args) == 2 {
			key = args[1]
		} else {
			fmt.Fprintf(os.Stderr, "API key for %s: ", provider)
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			key = line
		}
		key = strings.TrimSpace(key)

		return withApp(cmd.Context(), func(a *app) error {
			if err := a.db.SetCredential(cmd.Context(), provider, key); err != nil {
				return err
			}
			fmt.Printf("%s Stored %s API key\n", color.New(color.FgGreen).Sprint("✓"), provider)
			return nil
		})
	},
}

var credentialsCheckCmd = &cobra.Command{
	Use:   "check <provider>",
	Short: "Verify the API key against the provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := agentProvider(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			client, err := a.dispatcher.Client(cmd.Context(), provider)
			if err != nil {
				return err
			}
			if err := client.ValidateCredential(cmd.Context()); err != nil {
				title, detail := agent.Guidance(provider, agent.ClassOf(err))
				red := color.New(color.FgRed).SprintFunc()
				fmt.Printf("%s %s\n  %s\n", red("✗"), title, detail)
				return err
			}
			fmt.Printf("%s %s API key is valid\n", color.New(color.FgGreen).Sprint("✓"), provider)
			return nil
		})
	},
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete <provider>",
	Short: "Remove a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := agentProvider(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.db.DeleteCredential(cmd.Context(), provider); err != nil {
				return err
			}
			fmt.Printf("%s Removed %s API key\n", color.New(color.FgGreen).Sprint("✓"), provider)
			return nil
		})
	},
}

func init() {
	credentialsCmd.AddCommand(credentialsSetCmd, credentialsCheckCmd, credentialsDeleteCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func agentProvider(name string) (types.Provider, error) {
	provider := types.Provider(strings.ToLower(strings.TrimSpace(name)))
	if !provider.IsAgentProvider() {
		return "", &types.ValidationError{Field: "provider", Message: fmt.Sprintf("%q is not an agent provider (cursor or claude)", name)}
	}
	return provider, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show a prompt's audit trail, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(cmd.Context(), func(a *app) error {
			p, err := resolvePrompt(a, args[0])
			if err != nil {
				return err
			}
			events, err := a.db.GetPromptEvents(cmd.Context(), p.ID, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, events)
			}
			if len(events) == 0 {
				fmt.Println(color.New(color.FgHiBlack).Sprint("No events"))
				return nil
			}
			for _, ev := range events {
				fmt.Println(formatEvent(ev))
			}
			return nil
		})
	},
}

func init() {
	eventsCmd.Flags().IntP("limit", "n", 20, "Maximum events to show")
	eventsCmd.Flags().Bool("json", false, "Output JSON")
	rootCmd.AddCommand(eventsCmd)
}

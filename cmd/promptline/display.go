package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/promptline/promptline/internal/types"
)

// statusColor returns the color for each prompt status
func statusColor(s types.Status) *color.Color {
	switch s {
	case types.StatusTodo:
		return color.New(color.FgWhite)
	case types.StatusGenerating:
		return color.New(color.FgMagenta)
	case types.StatusInProgress:
		return color.New(color.FgYellow)
	case types.StatusSendingToAgent, types.StatusSentToAgent:
		return color.New(color.FgCyan)
	case types.StatusDone:
		return color.New(color.FgGreen)
	}
	return color.New(color.FgHiBlack)
}

func priorityLabel(p int) string {
	switch p {
	case types.PriorityUrgent:
		return "urgent"
	case types.PriorityHigh:
		return "high"
	case types.PriorityMedium:
		return "medium"
	case types.PriorityLow:
		return "low"
	}
	return fmt.Sprintf("P%d", p)
}

// formatPromptLine renders one prompt as a single list row
func formatPromptLine(p *types.Prompt, now time.Time) string {
	gray := color.New(color.FgHiBlack).SprintFunc()
	line := fmt.Sprintf("%s  %s  %-6s  %s  %s",
		gray(p.ID),
		statusColor(p.Status).Sprintf("%-16s", p.Status),
		priorityLabel(p.Priority),
		truncateString(p.Title, 60),
		gray(formatAge(now.Sub(p.UpdatedAt))))
	if p.AgentStatus != nil {
		line += gray(fmt.Sprintf("  [agent %s]", *p.AgentStatus))
	}
	return line
}

// printPrompt renders every populated field of a prompt
func printPrompt(w io.Writer, p *types.Prompt) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan(p.Title))
	fmt.Fprintf(w, "  ID:       %s\n", p.ID)
	fmt.Fprintf(w, "  Status:   %s\n", statusColor(p.Status).Sprint(p.Status))
	fmt.Fprintf(w, "  Priority: %s\n", priorityLabel(p.Priority))
	fmt.Fprintf(w, "  Updated:  %s\n", p.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	optional := []struct {
		label string
		value *string
	}{
		{"Product", p.ProductID},
		{"Epic", p.EpicID},
		{"Agent", p.AgentID},
		{"Agent status", p.AgentStatus},
		{"Branch", p.AgentBranchName},
		{"Agent URL", p.AgentURL},
		{"Pull request", p.PullRequestURL},
	}
	for _, o := range optional {
		if o.value != nil && *o.value != "" {
			fmt.Fprintf(w, "  %s: %s\n", o.label, *o.value)
		}
	}
	if p.Description != nil && *p.Description != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", gray("Description"), *p.Description)
	}
	if p.GeneratedPrompt != nil && *p.GeneratedPrompt != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", gray("Generated prompt"), *p.GeneratedPrompt)
	}
	if p.WorkflowMetadata.LastError != "" {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(w, "\n%s %s\n", red("Last error:"), p.WorkflowMetadata.LastError)
	}
	if n := len(p.WorkflowMetadata.Episodes); n > 0 {
		fmt.Fprintf(w, "\n%s %d\n", gray("Dispatch episodes:"), n)
	}
	fmt.Fprintln(w)
}

// formatEvent renders an audit trail entry
func formatEvent(ev *types.PromptEvent) string {
	gray := color.New(color.FgHiBlack).SprintFunc()
	magenta := color.New(color.FgMagenta).SprintFunc()

	change := ""
	switch {
	case ev.EventType == types.EventStatusChanged && ev.OldValue != nil && ev.NewValue != nil:
		change = fmt.Sprintf("%s -> %s", *ev.OldValue, *ev.NewValue)
	case ev.NewValue != nil:
		change = truncateString(*ev.NewValue, 60)
	}
	return fmt.Sprintf("[%s] %s %s %s",
		ev.CreatedAt.Local().Format("15:04:05"),
		magenta(ev.EventType),
		gray(ev.Actor),
		change)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncateString truncates a string to maxLen runes, adding "..." if truncated
func truncateString(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// formatAge formats a duration as a human-readable age
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/promptline/promptline/internal/config"
	"github.com/promptline/promptline/internal/storage"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [workspace]",
	Short: "Initialize promptline in the current directory",
	Long: `Initialize promptline by creating a .promptline/ directory with a database
and a promptline.yaml config file.

If no workspace is given, the current directory name is used.

Example:
  cd ~/myproject
  promptline init              # workspace "myproject"
  promptline init acme         # workspace "acme"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		workspace := filepath.Base(cwd)
		if len(args) > 0 {
			workspace = args[0]
		}

		if err := os.MkdirAll(filepath.Join(cwd, storage.DataDir), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", storage.DataDir, err)
		}
		path := dbPath
		if path == "" {
			path = filepath.Join(cwd, storage.DefaultPath)
		}

		// Opening the database creates the schema
		db, err := storage.NewStorage(cmd.Context(), &storage.Config{Path: path, Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		_ = db.Close()

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		initial := config.DefaultConfig()
		initial.Workspace = workspace
		cfgPath := filepath.Join(cwd, config.FileName)
		switch err := config.Write(cfgPath, initial); {
		case err == nil:
			fmt.Printf("\n%s Wrote %s\n", green("✓"), cyan(cfgPath))
		case errors.Is(err, os.ErrExist):
			fmt.Printf("\n%s Kept existing %s\n", gray("→"), cyan(cfgPath))
		default:
			return err
		}

		fmt.Printf("%s Initialized promptline\n\n", green("✓"))
		fmt.Printf("  Database:  %s\n", cyan(path))
		fmt.Printf("  Workspace: %s\n", cyan(workspace))
		fmt.Println()
		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("promptline credentials set cursor <api-key>"))
		fmt.Printf("  %s\n", gray("promptline create \"My first idea\" -d \"...\""))
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

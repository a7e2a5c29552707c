package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/promptline/promptline/internal/dispatch"
	"github.com/promptline/promptline/internal/store"
	"github.com/promptline/promptline/internal/webhook"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive agent webhooks and poll running agents",
	Long: `Run the promptline daemon. It serves POST /webhooks/{cursor,claude} for agent
status pushes and polls every running agent on the configured interval, so
prompts follow their agents even when webhooks cannot reach this machine.

Stop with Ctrl-C; pending writes are flushed before exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		noPoll, _ := cmd.Flags().GetBool("no-poll")
		if addr != "" {
			cfg.Webhook.Addr = addr
		}
		return withApp(cmd.Context(), func(a *app) error {
			return serve(cmd.Context(), a, !noPoll)
		})
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Webhook listen address (default from config)")
	serveCmd.Flags().Bool("no-poll", false, "Disable agent polling")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, a *app, poll bool) error {
	unsubscribe := a.store.Subscribe(func(ev store.Event) {
		fields := []zap.Field{zap.String("kind", string(ev.Kind)), zap.String("prompt_id", ev.PromptID)}
		if ev.Prompt != nil {
			fields = append(fields, zap.String("status", string(ev.Prompt.Status)))
		}
		a.logger.Debug("store event", fields...)
	})
	defer unsubscribe()

	srv := webhook.New(a.dispatcher, webhook.Options{
		Secret: a.cfg.Webhook.Secret,
		Logger: a.logger,
	})
	if err := srv.Listen(a.cfg.Webhook.Addr); err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("%s promptline serving workspace %s\n", green("●"), cyan(a.cfg.Workspace))
	fmt.Printf("  Webhooks: %s\n", cyan(fmt.Sprintf("http://%s/webhooks/{cursor,claude}", srv.Addr())))
	fmt.Printf("  Advertised: %s\n", cyan(a.cfg.WebhookBaseURL()))
	if a.cfg.Webhook.Secret == "" {
		fmt.Printf("  %s\n", color.New(color.FgYellow).Sprint("Webhook signatures are not verified (no secret configured)"))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if poll {
		poller := dispatch.NewPoller(a.dispatcher, a.db, dispatch.PollerConfig{
			Interval: a.cfg.Agents.PollInterval,
			Rate:     a.cfg.Agents.PollRate,
			Logger:   a.logger,
		})
		g.Go(func() error {
			if err := poller.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	fmt.Printf("%s Shutting down\n", color.New(color.FgHiBlack).Sprint("→"))
	return err
}

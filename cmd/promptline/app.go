package main

import (
	"context"
	"fmt"
	"os"

	"github.com/promptline/promptline/internal/agent"
	"github.com/promptline/promptline/internal/config"
	"github.com/promptline/promptline/internal/dispatch"
	"github.com/promptline/promptline/internal/generation"
	"github.com/promptline/promptline/internal/notify"
	"github.com/promptline/promptline/internal/storage"
	"github.com/promptline/promptline/internal/store"
	"github.com/promptline/promptline/internal/transform"
	"go.uber.org/zap"
)

// app holds the wired collaborators one command needs
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         storage.Storage
	stores     *store.Registry
	store      *store.Store
	notifier   notify.Notifier
	transforms *transform.Set
	pipeline   *generation.Pipeline
	dispatcher *dispatch.Dispatcher
}

// openApp opens the database and wires the stores, the generation pipeline
// and the dispatcher. ctx bounds the stores' change-feed goroutines.
func openApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	path, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	db, err := storage.NewStorage(ctx, &storage.Config{Path: path, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	statusMap := agent.NewStatusMap()
	if err := statusMap.Merge(cfg.StatusMap); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("status_map: %w", err)
	}

	notifier := notify.Multi{notify.NewLogNotifier(logger), notify.NewConsoleNotifier(os.Stdout)}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		notifier: notifier,
	}
	a.stores = store.NewRegistry(ctx, db, store.Config{
		QuietPeriod: cfg.Batcher.QuietPeriod,
		MaxParallel: cfg.Batcher.MaxParallel,
		Actor:       actor(),
		Logger:      logger,
		Notifier:    notifier,
	})
	a.store, err = a.stores.Get(ctx, cfg.Workspace)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load workspace %s: %w", cfg.Workspace, err)
	}

	a.transforms = transform.BuildSet(ctx, cfg.TransformConfigs(), cfg.Guard(), logger)
	a.pipeline = generation.New(generation.Config{
		Stores:          a.stores,
		Knowledge:       db,
		Transformers:    a.transforms,
		Notifier:        notifier,
		Logger:          logger,
		Threshold:       cfg.Generation.Threshold,
		Timeout:         cfg.Generation.Timeout,
		DefaultProvider: cfg.Generation.DefaultProvider,
		DefaultModel:    cfg.Generation.DefaultModel,
	})
	a.dispatcher = dispatch.New(dispatch.Options{
		Stores:         a.stores,
		Credentials:    db,
		Deliveries:     db,
		Generations:    a.pipeline,
		Factories:      agent.Factories(cfg.AgentBaseURLs()),
		StatusMap:      statusMap,
		WebhookBaseURL: cfg.WebhookBaseURL(),
		WebhookSecret:  cfg.Webhook.Secret,
		Notifier:       notifier,
		Logger:         logger,
	})
	return a, nil
}

// Close flushes pending writes and closes the database
func (a *app) Close(ctx context.Context) error {
	err := a.stores.Close(context.WithoutCancel(ctx))
	if cerr := a.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// withApp runs fn against a freshly opened app and closes it afterwards
func withApp(ctx context.Context, fn func(a *app) error) (err error) {
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("failed to flush changes: %w", cerr)
		}
	}()
	return fn(a)
}

// actor names the user in the audit trail
func actor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "promptline"
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"ratiowatch/internal/config"
	"ratiowatch/internal/database"
	"ratiowatch/internal/derivation"
	"ratiowatch/internal/feed"
	"ratiowatch/internal/model"
	"ratiowatch/internal/normalizer"
	"ratiowatch/internal/pipeline"
	"ratiowatch/internal/sink"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := config.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := derivation.NewEngine(cfg.Derivation)
	if err != nil {
		logger.Error("Invalid derivation settings", "error", err)
		os.Exit(1)
	}

	sinks := []sink.Sink{sink.NewLogSink(logger)}
	if cfg.Database.Enabled {
		repo, err := database.NewPostgresRepository(ctx, cfg.Database.DSN())
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer repo.Close()

		if err := repo.Migrate(ctx); err != nil {
			logger.Error("Failed to migrate database", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, sink.NewRepositorySink(repo, cfg.Database.RunID))
	}

	client, err := feed.NewClient(cfg.Feed, logger)
	if err != nil {
		logger.Error("Failed to create feed", "error", err)
		os.Exit(1)
	}

	p := pipeline.New(logger, normalizer.New(), engine, sink.Fanout(sinks...))
	batches := make(chan []model.Observation, cfg.Feed.BufferSize)

	logger.Info("Starting ratiowatch",
		"feed", client.Name(),
		"policy", cfg.Derivation.Bounds.Policy,
		"database", cfg.Database.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(batches)
		return client.Stream(gctx, batches)
	})
	g.Go(func() error {
		return p.Run(gctx, batches)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Stopped with error", "error", err)
		os.Exit(1)
	}

	stats := p.Stats()
	logger.Info("Shut down cleanly",
		"accepted", stats.Accepted,
		"rejected", stats.Rejected,
		"rows", stats.Derived,
		"alerts", stats.Alerts,
	)
}

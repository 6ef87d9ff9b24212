package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lychevd/ETL/internal/config"
	"github.com/lychevd/ETL/internal/domain"
	"github.com/lychevd/ETL/internal/platform/env"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", env.String("ETL_PIPELINE_FILE", ""), "path to the pipeline document")
	flag.Parse()
	if *configPath == "" {
		logger.Error("no pipeline document, set -config or ETL_PIPELINE_FILE")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Error("pipeline document unreadable", "error", err)
		os.Exit(2)
	}
	doc, err := config.ParsePipeline(raw)
	if err != nil {
		logger.Error("invalid pipeline document", "error", err, "path", *configPath)
		os.Exit(2)
	}

	manager, cleanup, err := config.Build(ctx, doc, config.Deps{Logger: logger})
	if err != nil {
		logger.Error("pipeline init failed", "error", err, "pipeline", doc.Pipeline.Name)
		if domain.KindOf(err) == domain.KindConfig {
			os.Exit(2)
		}
		os.Exit(1)
	}

	result := manager.Execute(ctx)
	// Exit skips deferred calls, so release connections explicitly.
	cleanup()
	os.Exit(result.ExitCode())
}

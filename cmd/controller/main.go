package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	httpserver "example.com/unitbrain/internal/http"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := httpserver.NewServer(httpserver.ConfigFromEnv(), logger)
	if err != nil {
		logger.Error("failed to init server", "error", err)
		os.Exit(1)
	}
	defer server.Close()

	if err := server.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// Package main provides the smoke-mcp binary: the smoke test as an MCP tool
// over stdio.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/triflow-ai/smoke/pkg/app"
	"github.com/triflow-ai/smoke/pkg/config"
	"github.com/triflow-ai/smoke/pkg/logging"
	"github.com/triflow-ai/smoke/pkg/serve"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("SMOKE_CONFIG"))
	if err != nil {
		return err
	}
	a, err := app.New(cfg, app.Options{Logger: logging.New(cfg.LogLevel)})
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.MCPServer(version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve.New(s, serve.Options{Logger: a.Logger}).ServeStdio(ctx)
}

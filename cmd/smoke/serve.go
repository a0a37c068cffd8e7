package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/triflow-ai/smoke/pkg/app"
	"github.com/triflow-ai/smoke/pkg/config"
	"github.com/triflow-ai/smoke/pkg/serve"
)

var (
	serveTransport string
	serveAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Publish the smoke test as an MCP tool",
	Long: `Publish the smoke test as an MCP tool over stdio, SSE or streamable HTTP.

The HTTP transports share one listener: /sse and /sse/message for SSE, /mcp
for streamable HTTP, plus /metrics and /healthz.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp(app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	transport := firstNonEmpty(serveTransport, a.Config.Server.Transport)
	addr := firstNonEmpty(serveAddr, a.Config.Server.Addr)

	s, err := a.MCPServer(version)
	if err != nil {
		return err
	}
	host := serve.New(s, serve.Options{
		Addr:            addr,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		Metrics:         a.Metrics.Handler(),
		Logger:          a.Logger,
	})

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch transport {
	case config.TransportStdio:
		return host.ServeStdio(ctx)
	default:
		return host.ServeHTTP(ctx)
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "stdio, sse or http (default: config server.transport)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address for sse/http (default: config server.addr)")
}

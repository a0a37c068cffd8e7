// Package serve hosts the MCP server over stdio or HTTP.
//
// Over HTTP the routes are:
//
//	/sse, /sse/message   MCP SSE transport
//	/mcp                 MCP streamable HTTP transport
//	/metrics             Prometheus metrics
//	/healthz             liveness
//
// Everything else is 404.
package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
)

// Route paths.
const (
	SSEPath     = "/sse"
	MessagePath = "/sse/message"
	MCPPath     = "/mcp"
	MetricsPath = "/metrics"
	HealthPath  = "/healthz"
)

// Options configures a Host.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	// Metrics serves /metrics; nil leaves the route unregistered.
	Metrics http.Handler
	Logger  *slog.Logger

	// Stdin and Stdout default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer
}

// Host serves one MCP server.
type Host struct {
	mcp  *server.MCPServer
	opts Options
	log  *slog.Logger
}

// New creates a host for s.
func New(s *server.MCPServer, opts Options) *Host {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return &Host{mcp: s, opts: opts, log: opts.Logger}
}

// ServeStdio reads newline-delimited JSON-RPC messages from Stdin and writes
// responses to Stdout until ctx is done or Stdin is closed.
func (h *Host) ServeStdio(ctx context.Context) error {
	stdio := server.NewStdioServer(h.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(h.log.Handler(), slog.LevelError))
	h.log.Info("serving MCP over stdio")
	err := stdio.Listen(ctx, h.opts.Stdin, h.opts.Stdout)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Router builds the HTTP routes.
func (h *Host) Router() http.Handler {
	sse := server.NewSSEServer(h.mcp,
		server.WithSSEEndpoint(SSEPath),
		server.WithMessageEndpoint(MessagePath),
	)
	streamable := server.NewStreamableHTTPServer(h.mcp,
		server.WithEndpointPath(MCPPath),
	)

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLog())

	r.GET(SSEPath, gin.WrapH(sse.SSEHandler()))
	r.POST(MessagePath, gin.WrapH(sse.MessageHandler()))
	r.Any(MCPPath, gin.WrapH(streamable))
	if h.opts.Metrics != nil {
		r.GET(MetricsPath, gin.WrapH(h.opts.Metrics))
	}
	r.GET(HealthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not found")
	})
	return r
}

func (h *Host) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// ServeHTTP listens on Addr until ctx is done, then shuts down gracefully.
func (h *Host) ServeHTTP(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.opts.Addr, err)
	}
	return h.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (h *Host) Serve(ctx context.Context, ln net.Listener) error {
	// Streams (SSE, streamable GET) end when shutdown begins.
	base, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	srv := &http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(h.log.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		h.log.Info("serving MCP over http", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.ShutdownTimeout)
	defer cancel()
	h.log.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Package app wires configuration into a runnable engine and MCP server.
package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/triflow-ai/smoke/pkg/browser"
	"github.com/triflow-ai/smoke/pkg/browser/cdp"
	"github.com/triflow-ai/smoke/pkg/browser/pw"
	"github.com/triflow-ai/smoke/pkg/config"
	"github.com/triflow-ai/smoke/pkg/engine"
	"github.com/triflow-ai/smoke/pkg/evidence"
	smokemcp "github.com/triflow-ai/smoke/pkg/mcp"
	"github.com/triflow-ai/smoke/pkg/metrics"
	"github.com/triflow-ai/smoke/pkg/report"
)

// Options overrides parts of the wiring.
type Options struct {
	// Provider replaces the configured browser driver.
	Provider browser.Provider
	Logger   *slog.Logger
}

// App holds the process-wide components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Provider browser.Provider
	Engine   *engine.Engine
	Store    *evidence.Store

	stop func() error
}

// New builds the engine for cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	a := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.NewRecorder(),
		stop:    func() error { return nil },
	}
	if cfg.Artifacts.Dir != "" {
		a.Store = evidence.NewStore(cfg.Artifacts.Dir)
	}

	a.Provider = opts.Provider
	if a.Provider == nil {
		p, stop, err := NewProvider(cfg.Browser, log)
		if err != nil {
			return nil, err
		}
		a.Provider, a.stop = p, stop
	}

	e, err := a.NewEngine(a.Provider, nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = e
	return a, nil
}

// NewProvider selects the browser driver.
func NewProvider(cfg config.BrowserConfig, log *slog.Logger) (browser.Provider, func() error, error) {
	switch cfg.Driver {
	case config.DriverPlaywright, "":
		p := pw.NewProvider(pw.Options{
			WSEndpoint:  cfg.Endpoint,
			CDPEndpoint: cfg.CDPEndpoint,
			Headless:    cfg.Headless,
			Install:     cfg.Install,
			Logger:      log,
		})
		return p, p.Stop, nil
	case config.DriverChromedp:
		remote := cfg.Endpoint
		if remote == "" {
			remote = cfg.CDPEndpoint
		}
		return cdp.NewProvider(cdp.Options{RemoteURL: remote, Headless: cfg.Headless}), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

// NewEngine builds an engine over provider using the app's settings. Without
// an artifact store, traces go to traceOut when it is non-nil.
func (a *App) NewEngine(provider browser.Provider, traceOut io.Writer) (*engine.Engine, error) {
	pred, err := engine.CompilePredicate(a.Config.Verify.Predicate)
	if err != nil {
		return nil, fmt.Errorf("verify.predicate: %w", err)
	}
	ec := engine.Config{
		Timeouts:     a.Config.EngineTimeouts(),
		Predicate:    pred,
		Logger:       a.Logger,
		Observer:     a.Metrics,
		SigningKey:   []byte(a.Config.Trace.SigningKey),
		SigningKeyID: a.Config.Trace.SigningKeyID,
	}
	if a.Store != nil {
		ec.Artifacts = a.Store
	} else if traceOut != nil {
		ec.TraceOutput = traceOut
	}
	return engine.New(provider, ec), nil
}

// ReportOptions derives the reporter settings.
func (a *App) ReportOptions() report.Options {
	return report.Options{AttachSuccessScreenshot: a.Config.Artifacts.AttachSuccessScreenshot}
}

// MCPServer builds an MCP server publishing the smoke tool.
func (a *App) MCPServer(version string) (*server.MCPServer, error) {
	h, err := smokemcp.NewHandler(a.Engine, smokemcp.HandlerOptions{
		Report:  a.ReportOptions(),
		Logger:  a.Logger,
		BaseURL: a.Config.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return smokemcp.NewServer(version, smokemcp.NewRegistry(), h, a.Logger)
}

// Close stops the browser driver, if one was started.
func (a *App) Close() error {
	return a.stop()
}

// Package mcp publishes the smoke test as an MCP tool.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/triflow-ai/smoke/pkg/engine"
	"github.com/triflow-ai/smoke/pkg/report"
	"github.com/triflow-ai/smoke/pkg/schema"
)

// Runner executes one scenario. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, in engine.Input) *engine.Outcome
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Report report.Options
	Logger *slog.Logger

	// BaseURL is used when a call omits baseUrl. Empty leaves
	// engine.DefaultBaseURL in charge.
	BaseURL string
}

// Handler serves tools/call for the smoke test tool.
type Handler struct {
	runner    Runner
	validator *schema.Validator
	opts      report.Options
	baseURL   string
	log       *slog.Logger
}

// NewHandler creates a handler around runner.
func NewHandler(runner Runner, opts HandlerOptions) (*Handler, error) {
	v, err := schema.NewInputValidator()
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{runner: runner, validator: v, opts: opts.Report, baseURL: opts.BaseURL, log: log}, nil
}

// Handle validates the arguments, runs the scenario and reports the outcome.
// Every failure is carried in the result; the returned error is always nil.
func (h *Handler) Handle(ctx context.Context, req mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
	in, errs := h.validator.DecodeArguments(req.GetArguments())
	if errs != nil {
		msg := "invalid arguments: " + schema.Join(errs)
		h.log.Warn("rejected tool call", "tool", ToolName, "error", msg)
		return report.Finalize(&engine.Outcome{OK: false, Kind: engine.KindUnclassified, Error: msg}, h.opts), nil
	}

	if in.BaseURL == "" {
		in.BaseURL = h.baseURL
	}

	defer func() {
		if p := recover(); p != nil {
			h.log.Error("tool call panicked", "tool", ToolName, "panic", p)
			result = report.Finalize(&engine.Outcome{
				OK:    false,
				Kind:  engine.KindUnclassified,
				Error: fmt.Sprintf("panic: %v", p),
			}, h.opts)
			err = nil
		}
	}()

	out := h.runner.Run(ctx, in)
	return report.Finalize(out, h.opts), nil
}

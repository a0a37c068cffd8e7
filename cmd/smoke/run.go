package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/triflow-ai/smoke/pkg/app"
	"github.com/triflow-ai/smoke/pkg/engine"
	"github.com/triflow-ai/smoke/pkg/report"
)

var (
	runBaseURL  string
	runEmail    string
	runPassword string
	runFormat   string
)

var errRunFailed = errors.New("smoke test failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the smoke test once against a live deployment",
	Long: `Run the smoke test once against a live deployment.

Credentials come from --email/--password or SMOKE_EMAIL/SMOKE_PASSWORD.
The base URL defaults to the configured base_url.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := checkFormat(runFormat); err != nil {
		return err
	}
	a, err := loadApp(app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	in := engine.Input{
		BaseURL:  firstNonEmpty(runBaseURL, a.Config.BaseURL),
		Email:    firstNonEmpty(runEmail, os.Getenv("SMOKE_EMAIL")),
		Password: firstNonEmpty(runPassword, os.Getenv("SMOKE_PASSWORD")),
	}

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := a.Engine.Run(ctx, in)
	if err := writeOutcome(cmd.OutOrStdout(), out, runFormat); err != nil {
		return err
	}
	if !out.OK {
		return errRunFailed
	}
	return nil
}

func checkFormat(format string) error {
	switch format {
	case "text", "json", "markdown":
		return nil
	default:
		return fmt.Errorf("unknown --format %q (want text, json or markdown)", format)
	}
}

// writeOutcome prints out in the chosen format. json prints the tool payload.
func writeOutcome(w io.Writer, out *engine.Outcome, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report.NewPayload(out))
	case "markdown":
		return report.RenderMarkdown(w, out, 100)
	default:
		return report.Render(w, out)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	runCmd.Flags().StringVar(&runBaseURL, "base-url", "", "Origin of the deployment under test (default: config base_url)")
	runCmd.Flags().StringVar(&runEmail, "email", "", "Login email (default: $SMOKE_EMAIL)")
	runCmd.Flags().StringVar(&runPassword, "password", "", "Login password (default: $SMOKE_PASSWORD)")
	runCmd.Flags().StringVar(&runFormat, "format", "text", "Output format: text, json or markdown")
}

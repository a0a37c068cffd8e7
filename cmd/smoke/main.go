package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/triflow-ai/smoke/pkg/app"
	"github.com/triflow-ai/smoke/pkg/config"
	"github.com/triflow-ai/smoke/pkg/logging"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	loadDotEnv(".env") // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file and sets any variables that aren't already
// set in the environment. Lines are KEY=VALUE (or KEY="VALUE"). Comments (#)
// and blanks are skipped.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, val)
		}
	}
}

const (
	glyphOK   = "✓"
	glyphFail = "✗"
	glyphWarn = "⚠"
)

var rootCmd = &cobra.Command{
	Use:           "smoke",
	Short:         "triflow end-to-end smoke test",
	Long:          "smoke drives a real browser through login, opportunity creation and hypothesis verification on triflow, and publishes the same run as an MCP tool.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// loadApp reads configuration and builds the app. opts may override the
// browser provider.
func loadApp(opts app.Options) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(level)
	}
	return app.New(cfg, opts)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "smoke %s (commit %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (SMOKE_* env vars override it)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn or error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/triflow-ai/smoke/pkg/app"
	"github.com/triflow-ai/smoke/pkg/engine"
	"github.com/triflow-ai/smoke/pkg/replay"
)

var (
	replayFormat string
	replayTrace  string
)

var replayCmd = &cobra.Command{
	Use:   "replay [scenario.yaml]",
	Short: "Run the smoke test offline against a scripted browser",
	Long: `Run the real workflow engine against a scripted page described by a
replay scenario. When the scenario has an expect block, the command fails on
any mismatch.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	if err := checkFormat(replayFormat); err != nil {
		return err
	}
	s, err := replay.LoadScenario(args[0])
	if err != nil {
		return err
	}

	a, err := loadApp(app.Options{Provider: replay.NewProvider(s)})
	if err != nil {
		return err
	}
	defer a.Close()

	e := a.Engine
	if replayTrace != "" {
		f, err := os.Create(replayTrace)
		if err != nil {
			return fmt.Errorf("create trace: %w", err)
		}
		defer f.Close()
		e, err = a.NewEngine(a.Provider, f)
		if err != nil {
			return err
		}
	}

	out := e.Run(runContext(cmd), engine.Input{
		BaseURL:  s.Input.BaseURL,
		Email:    s.Input.Email,
		Password: s.Input.Password,
	})
	if err := writeOutcome(cmd.OutOrStdout(), out, replayFormat); err != nil {
		return err
	}

	if s.Expect == nil {
		if !out.OK {
			return errRunFailed
		}
		return nil
	}
	mismatches := s.Expect.Check(replay.Observed{
		OK:            out.OK,
		Kind:          string(out.Kind),
		Error:         out.Error,
		OpportunityID: out.OpportunityID,
		Steps:         out.Steps,
	})
	if len(mismatches) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %d expectation(s) not met\n", glyphFail, s.Name, len(mismatches))
		for _, m := range mismatches {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", m)
		}
		return fmt.Errorf("scenario %s: %s", s.Name, strings.Join(mismatches, "; "))
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: outcome matches expectation\n", glyphOK, s.Name)
	return nil
}

func init() {
	replayCmd.Flags().StringVar(&replayFormat, "format", "text", "Output format: text, json or markdown")
	replayCmd.Flags().StringVar(&replayTrace, "trace", "", "Write the JSONL trace to this file")
}

package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/triflow-ai/smoke/pkg/config"
	"github.com/triflow-ai/smoke/pkg/engine"
	"github.com/triflow-ai/smoke/pkg/evidence"
)

var (
	artifactsFormat string

	errArtifactsChanged = errors.New("run artifacts changed since the run finished")
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts <run-id>",
	Short: "Show a stored run and check its artifact digests",
	Long: `Print the stored outcome of a run from artifacts.dir, then re-hash every
artifact listed in its manifest. The command fails when any file was changed
or removed after the run finished.`,
	Args: cobra.ExactArgs(1),
	RunE: runArtifacts,
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	if err := checkFormat(artifactsFormat); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Artifacts.Dir == "" {
		return errors.New("artifacts.dir is not configured (set SMOKE_ARTIFACTS_DIR)")
	}
	store := evidence.NewStore(cfg.Artifacts.Dir)
	runID := args[0]

	var out engine.Outcome
	if err := store.LoadResult(runID, &out); err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if err := writeOutcome(w, &out, artifactsFormat); err != nil {
		return err
	}

	m, err := store.LoadManifest(runID)
	if err != nil {
		return err
	}
	changed := evidence.Check(m)
	for _, a := range m.Artifacts {
		glyph := glyphOK
		if slices.Contains(changed, a.Kind) {
			glyph = glyphFail
		}
		digest := a.SHA256
		if len(digest) > 12 {
			digest = digest[:12]
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %-10s %s  %7d  %s\n", glyph, a.Kind, digest, a.Size, a.Path)
	}
	if len(changed) > 0 {
		return fmt.Errorf("%w: %s", errArtifactsChanged, strings.Join(changed, ", "))
	}
	return nil
}

func init() {
	artifactsCmd.Flags().StringVar(&artifactsFormat, "format", "text", "Output format: text, json or markdown")
	rootCmd.AddCommand(artifactsCmd)
}

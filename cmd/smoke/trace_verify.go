package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/triflow-ai/smoke/pkg/trace"
)

var (
	errChainBroken  = errors.New("trace chain broken")
	errBadSignature = errors.New("trace signature invalid")
)

var traceVerifyCmd = &cobra.Command{
	Use:   "verify <trace.jsonl>",
	Short: "Check a run trace's hash chain and signature, then summarize the run",
	Long:  "verify recomputes the hash chain of a run trace and checks its signature against SMOKE_TRACE_SIGNING_KEY. An intact trace is summarized: run id, outcome and recorded steps.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

// traceSummary is what a verified trace says about its run.
type traceSummary struct {
	runID  string
	status string
	kind   string
	errMsg string
	steps  []string
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read trace: %w", err)
	}
	res, err := trace.Verify(bytes.NewReader(data), []byte(os.Getenv("SMOKE_TRACE_SIGNING_KEY")))
	if err != nil {
		return err
	}
	if !res.Valid {
		fmt.Fprintf(w, "%s chain broken at event %d of %d\n", glyphFail, res.BrokenAt, res.EventCount)
		if res.Error != "" {
			fmt.Fprintf(w, "  %s\n", res.Error)
		}
		return errChainBroken
	}

	sum, err := summarizeTrace(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "run %s\n", orUnknown(sum.runID))
	fmt.Fprintf(w, "%s chain intact (%d events)\n", glyphOK, res.EventCount)
	if err := writeSignature(w, res); err != nil {
		return err
	}

	switch {
	case sum.status == "":
		fmt.Fprintf(w, "%s run did not complete\n", glyphWarn)
	case sum.kind != "":
		fmt.Fprintf(w, "outcome %s (%s): %s\n", sum.status, sum.kind, sum.errMsg)
	default:
		fmt.Fprintf(w, "outcome %s\n", sum.status)
	}
	for i, step := range sum.steps {
		fmt.Fprintf(w, "  %2d. %s\n", i+1, step)
	}
	return nil
}

func writeSignature(w io.Writer, res *trace.VerifyResult) error {
	key := orUnknown(res.SigningKeyID)
	switch {
	case res.ChainHash == "":
		fmt.Fprintf(w, "%s no run_complete event, nothing signed\n", glyphWarn)
	case res.SignatureOK:
		fmt.Fprintf(w, "%s signed by key %q\n", glyphOK, key)
	case res.SignatureNoKey:
		fmt.Fprintf(w, "%s signed by key %q; set SMOKE_TRACE_SIGNING_KEY to check it\n", glyphWarn, key)
	case res.SigningKeyID != "":
		fmt.Fprintf(w, "%s signature does not match key %q\n", glyphFail, key)
		return errBadSignature
	default:
		fmt.Fprintln(w, "  unsigned")
	}
	return nil
}

func summarizeTrace(data []byte) (*traceSummary, error) {
	events, err := trace.ReadEvents(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	steps, err := trace.ReadSteps(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	sum := &traceSummary{steps: steps}
	for _, evt := range events {
		if sum.runID == "" {
			sum.runID = evt.RunID
		}
		switch evt.Type {
		case trace.EventOutcome:
			sum.kind, _ = evt.Data["kind"].(string)
			sum.errMsg, _ = evt.Data["error"].(string)
		case trace.EventRunComplete:
			sum.status, _ = evt.Data["status"].(string)
		}
	}
	return sum, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect run traces",
	}
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}

package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	events, err := ReadEvents(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	return events
}

func TestWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "test-run-1")

	require.NoError(t, tw.EmitStageEnter("logging_in"))

	var evt Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &evt), "raw: %s", buf.String())
	assert.Equal(t, EventStageEnter, evt.Type)
	assert.Equal(t, "test-run-1", evt.RunID)
	assert.Equal(t, 1, evt.Seq)
	assert.Equal(t, "logging_in", evt.Data["stage"])
}

func TestWriter_NilIsNoop(t *testing.T) {
	var tw *Writer
	assert.NoError(t, tw.EmitStep(0, "Open login"))
	assert.NoError(t, tw.EmitRunComplete("succeeded", time.Second))
	assert.Equal(t, "", tw.RunID())
	assert.Equal(t, "x", tw.RedactSecrets("x"))
}

func TestWriter_MultipleEvents_JSONL(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitStageEnter("logging_in")
	tw.EmitStep(0, "Open login")
	tw.EmitWait("#email", "satisfied", 20*time.Second)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	events := decodeLines(t, &buf)
	for i, evt := range events {
		assert.Equal(t, i+1, evt.Seq)
	}
	assert.Equal(t, EventWait, events[2].Type)
	assert.Equal(t, "20s", events[2].Data["timeout"])
}

func TestWriter_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.SetSecrets("hunter2", "")

	tw.EmitOutcome(false, "unclassified", "fill failed for value hunter2", nil)

	assert.NotContains(t, buf.String(), "hunter2")
	events := decodeLines(t, &buf)
	require.Len(t, events, 1)
	assert.Equal(t, "fill failed for value <REDACTED>", events[0].Data["error"])
}

func TestWriter_ShortSecretKeepsStepLabels(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.SetSecrets("o")

	tw.EmitStep(0, "Open login")
	tw.EmitStep(1, "Submit login")
	tw.EmitVariance("transient_ui_variance", "reload timed out")

	steps, err := ReadSteps(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{"Open login", "Submit login"}, steps)

	events := decodeLines(t, &buf)
	require.Len(t, events, 3)
	assert.NotContains(t, events[2].Data["detail"], "o")
}

func TestWriter_HashChaining(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitStageEnter("logging_in")
	tw.EmitStep(0, "Open login")
	tw.EmitStep(1, "Submit login")

	events := decodeLines(t, &buf)
	require.Len(t, events, 3)
	assert.Equal(t, strings.Repeat("0", 64), events[0].PrevHash)
	for i, evt := range events {
		assert.Len(t, evt.PrevHash, 64, "event %d", i)
	}
	assert.NotEqual(t, events[0].PrevHash, events[1].PrevHash)
	assert.NotEqual(t, events[1].PrevHash, events[2].PrevHash)
}

func TestWriter_RunComplete_ChainHash(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitStep(0, "Open login")
	tw.EmitRunComplete("succeeded", time.Second)

	events := decodeLines(t, &buf)
	last := events[len(events)-1]
	chainHash, ok := last.Data["chain_hash"].(string)
	require.True(t, ok)
	assert.Len(t, chainHash, 64)
	assert.Equal(t, last.PrevHash, chainHash)
	assert.NotContains(t, last.Data, "signature")
}

func TestVerify_ValidChain(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.SetSigningKey("k1", []byte("secret-key"))

	tw.EmitRunStart("triflow.smoketest", map[string]any{"email": "a@b.com"})
	tw.EmitStep(0, "Open login")
	tw.EmitOutcome(true, "", "", nil)
	tw.EmitRunComplete("succeeded", time.Second)

	res, err := Verify(bytes.NewReader(buf.Bytes()), []byte("secret-key"))
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, 4, res.EventCount)
	assert.Equal(t, -1, res.BrokenAt)
	assert.True(t, res.SignatureOK)
	assert.Equal(t, "k1", res.SigningKeyID)

	res, err = Verify(bytes.NewReader(buf.Bytes()), []byte("other-key"))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.SignatureOK)

	res, err = Verify(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)
	assert.True(t, res.SignatureNoKey)
}

func TestVerify_TamperedEvent(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitStep(0, "Open login")
	tw.EmitStep(1, "Submit login")
	tw.EmitStep(2, "Login complete")

	tampered := strings.Replace(buf.String(), "Submit login", "Skipped login", 1)

	res, err := Verify(strings.NewReader(tampered), nil)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 3, res.BrokenAt)
	assert.Contains(t, res.Error, "prev_hash mismatch")
}

func TestVerify_DroppedEvent(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitStep(0, "Open login")
	tw.EmitStep(1, "Submit login")
	tw.EmitStep(2, "Login complete")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	dropped := lines[0] + "\n" + lines[2] + "\n"

	res, err := Verify(strings.NewReader(dropped), nil)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "out of order")
}

func TestReadSteps_ReconstructsLabels(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	steps := NewSteps(tw)

	tw.EmitStageEnter("logging_in")
	steps.Record("Open login")
	tw.EmitWait("#email", "satisfied", time.Second)
	steps.Record("Submit login")
	steps.Record("Login complete")

	labels, err := ReadSteps(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, steps.Snapshot(), labels)
}

// Package trace implements the smoke run's append-only audit trail: the ordered
// step labels returned to callers and the hash-chained JSONL event stream written
// alongside each run.
package trace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// EventType enumerates all trace event types.
type EventType string

const (
	EventRunStart    EventType = "run_start"
	EventRunComplete EventType = "run_complete"
	EventStageEnter  EventType = "stage_enter"
	EventStageExit   EventType = "stage_exit"
	EventStep        EventType = "step"
	EventWait        EventType = "wait"
	EventFallback    EventType = "fallback"
	EventVariance    EventType = "variance"
	EventBranch      EventType = "branch"
	EventOutcome     EventType = "outcome"
)

// genesisHash is the prev_hash of the first event in a stream.
var genesisHash = strings.Repeat("0", 64)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Seq       int            `json:"seq"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
	PrevHash  string         `json:"prev_hash"`
}

// Writer writes trace events to an append-only JSONL stream.
// A nil *Writer is valid and discards everything.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	runID    string
	seq      int
	prevHash string
	secrets  []string
	keyID    string
	key      []byte
	now      func() time.Time
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:        w,
		runID:    runID,
		prevHash: genesisHash,
		now:      time.Now,
	}
}

// RunID returns the run the writer is bound to.
func (tw *Writer) RunID() string {
	if tw == nil {
		return ""
	}
	return tw.runID
}

// SetSecrets registers literal values (credentials) that must never reach the stream.
func (tw *Writer) SetSecrets(values ...string) {
	if tw == nil {
		return
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	for _, v := range values {
		if v != "" {
			tw.secrets = append(tw.secrets, v)
		}
	}
}

// SetSigningKey enables an HMAC-SHA256 signature over the chain hash in run_complete.
func (tw *Writer) SetSigningKey(keyID string, key []byte) {
	if tw == nil {
		return
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.keyID = keyID
	tw.key = key
}

// RedactSecrets replaces registered secret values in s with "<REDACTED>".
func (tw *Writer) RedactSecrets(s string) string {
	if tw == nil {
		return s
	}
	for _, secret := range tw.secrets {
		s = strings.ReplaceAll(s, secret, "<REDACTED>")
	}
	return s
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.emitLocked(eventType, data)
}

func (tw *Writer) emitLocked(eventType EventType, data map[string]any) error {
	tw.seq++
	evt := Event{
		Seq:       tw.seq,
		Type:      eventType,
		Timestamp: tw.now().UTC(),
		RunID:     tw.runID,
		Data:      tw.redact(eventType, data),
		PrevHash:  tw.prevHash,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal trace event: %w", err)
	}
	sum := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(sum[:])

	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	return nil
}

// redact masks secrets in string values. Step labels are fixed text and stay
// verbatim so ReadSteps reproduces the returned step list.
func (tw *Writer) redact(eventType EventType, data map[string]any) map[string]any {
	if len(tw.secrets) == 0 || data == nil {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok && !(eventType == EventStep && k == "label") {
			v = tw.RedactSecrets(s)
		}
		out[k] = v
	}
	return out
}

// EmitRunStart emits a run_start event with the scenario inputs.
func (tw *Writer) EmitRunStart(scenario string, inputs map[string]any) error {
	data := map[string]any{"scenario": scenario}
	if inputs != nil {
		data["inputs"] = inputs
	}
	return tw.Emit(EventRunStart, data)
}

// EmitStageEnter emits a stage_enter event.
func (tw *Writer) EmitStageEnter(stage string) error {
	return tw.Emit(EventStageEnter, map[string]any{"stage": stage})
}

// EmitStageExit emits a stage_exit event.
func (tw *Writer) EmitStageExit(stage string, duration time.Duration, errMsg string) error {
	data := map[string]any{
		"stage":    stage,
		"duration": duration.String(),
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	return tw.Emit(EventStageExit, data)
}

// EmitStep emits a step event mirroring one recorded label.
func (tw *Writer) EmitStep(index int, label string) error {
	return tw.Emit(EventStep, map[string]any{
		"index": index,
		"label": label,
	})
}

// EmitWait emits the result of a bounded wait.
func (tw *Writer) EmitWait(target, result string, timeout time.Duration) error {
	return tw.Emit(EventWait, map[string]any{
		"target":  target,
		"result":  result,
		"timeout": timeout.String(),
	})
}

// EmitFallback emits a fallback event: a tolerated timeout answered by an explicit action.
func (tw *Writer) EmitFallback(stage, reason, action string) error {
	return tw.Emit(EventFallback, map[string]any{
		"stage":  stage,
		"reason": reason,
		"action": action,
	})
}

// EmitVariance emits a non-fatal UI variance note.
func (tw *Writer) EmitVariance(kind, detail string) error {
	return tw.Emit(EventVariance, map[string]any{
		"kind":   kind,
		"detail": detail,
	})
}

// EmitBranch emits the branch taken at a conditional point.
func (tw *Writer) EmitBranch(point, taken string) error {
	return tw.Emit(EventBranch, map[string]any{
		"point": point,
		"taken": taken,
	})
}

// EmitOutcome emits the run's terminal outcome.
func (tw *Writer) EmitOutcome(ok bool, kind, errMsg string, meta map[string]any) error {
	data := map[string]any{"ok": ok}
	if kind != "" {
		data["kind"] = kind
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	if meta != nil {
		data["meta"] = meta
	}
	return tw.Emit(EventOutcome, data)
}

// EmitRunComplete emits run_complete carrying the chain hash of every prior
// event and, when a signing key is set, its HMAC signature.
func (tw *Writer) EmitRunComplete(status string, duration time.Duration) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data := map[string]any{
		"status":     status,
		"duration":   duration.String(),
		"chain_hash": tw.prevHash,
	}
	if len(tw.key) > 0 {
		data["signature"] = sign(tw.key, tw.prevHash)
		if tw.keyID != "" {
			data["signing_key_id"] = tw.keyID
		}
	}
	return tw.emitLocked(EventRunComplete, data)
}

func sign(key []byte, chainHash string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(chainHash))
	return hex.EncodeToString(mac.Sum(nil))
}

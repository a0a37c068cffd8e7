package trace

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// VerifyResult is the outcome of verifying a trace stream.
type VerifyResult struct {
	EventCount     int
	Valid          bool
	BrokenAt       int // -1 if no break
	SignatureOK    bool
	SignatureNoKey bool // signature present but no key to verify
	SigningKeyID   string
	ChainHash      string
	Error          string
}

// VerifyFile verifies the hash chain and optional signature of a trace file.
func VerifyFile(path string, key []byte) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f, key)
}

// Verify checks sequence order, hash chain integrity and the optional HMAC signature.
func Verify(r io.Reader, key []byte) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	expectedPrevHash := genesisHash
	count := 0
	var lastEvent Event

	broken := func(msg string) *VerifyResult {
		return &VerifyResult{EventCount: count, Valid: false, BrokenAt: count, Error: msg}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return broken(fmt.Sprintf("event %d: invalid JSON: %v", count, err)), nil
		}
		if evt.Seq != count {
			return broken(fmt.Sprintf("event %d: seq %d out of order", count, evt.Seq)), nil
		}
		if evt.PrevHash != expectedPrevHash {
			return broken(fmt.Sprintf("event %d: prev_hash mismatch (expected %s…, got %s…)", count, short(expectedPrevHash), short(evt.PrevHash))), nil
		}

		h := sha256.Sum256(line)
		expectedPrevHash = hex.EncodeToString(h[:])
		lastEvent = evt
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	result := &VerifyResult{
		EventCount: count,
		Valid:      true,
		BrokenAt:   -1,
	}

	if lastEvent.Type == EventRunComplete && lastEvent.Data != nil {
		if chainHash, ok := lastEvent.Data["chain_hash"].(string); ok {
			result.ChainHash = chainHash
			if chainHash != lastEvent.PrevHash {
				result.Valid = false
				result.BrokenAt = count
				result.Error = "run_complete chain_hash does not match prev_hash"
				return result, nil
			}
		}
		if sig, ok := lastEvent.Data["signature"].(string); ok {
			result.SigningKeyID, _ = lastEvent.Data["signing_key_id"].(string)
			if len(key) == 0 {
				result.SignatureNoKey = true
			} else if result.ChainHash != "" {
				result.SignatureOK = hmac.Equal([]byte(sig), []byte(sign(key, result.ChainHash)))
			}
		}
	}

	return result, nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

// ReadEvents decodes every event of a JSONL trace stream in order.
func ReadEvents(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var events []Event
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, fmt.Errorf("event %d: %w", len(events)+1, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return events, nil
}

// ReadSteps reconstructs the step labels recorded in a JSONL trace stream,
// ordered by their recorded index.
func ReadSteps(r io.Reader) ([]string, error) {
	events, err := ReadEvents(r)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		index int
		label string
	}
	var steps []indexed
	for _, evt := range events {
		if evt.Type != EventStep {
			continue
		}
		label, _ := evt.Data["label"].(string)
		idx, _ := evt.Data["index"].(float64)
		steps = append(steps, indexed{index: int(idx), label: label})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].index < steps[j].index })

	labels := make([]string, len(steps))
	for i, s := range steps {
		labels[i] = s.label
	}
	return labels, nil
}

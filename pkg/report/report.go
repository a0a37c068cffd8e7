// Package report turns an engine outcome into the tool response: one JSON
// text part and, for failures that captured one, a PNG image part.
package report

import (
	"encoding/base64"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/triflow-ai/smoke/pkg/engine"
)

// Payload is the JSON object carried in the text part.
type Payload struct {
	OK            bool     `json:"ok"`
	Steps         []string `json:"steps"`
	OpportunityID string   `json:"opportunityId,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Options adjusts what Finalize attaches.
type Options struct {
	// AttachSuccessScreenshot adds the verification screenshot to
	// successful responses as well.
	AttachSuccessScreenshot bool
}

const noOutcome = "run produced no outcome"

// NewPayload projects an outcome onto the response shape. A nil outcome is
// reported as a failure.
func NewPayload(out *engine.Outcome) Payload {
	if out == nil {
		return Payload{OK: false, Steps: []string{}, Error: noOutcome}
	}
	steps := out.Steps
	if steps == nil {
		steps = []string{}
	}
	p := Payload{OK: out.OK, Steps: steps, OpportunityID: out.OpportunityID}
	if !out.OK {
		p.Error = out.Error
		if p.Error == "" {
			p.Error = "run failed"
		}
	}
	return p
}

// Finalize builds the tool result. It never fails: marshaling a Payload
// cannot error.
func Finalize(out *engine.Outcome, opts Options) *mcp.CallToolResult {
	p := NewPayload(out)
	data, _ := json.Marshal(p)

	result := &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: !p.OK,
	}
	if out == nil || len(out.Screenshot) == 0 {
		return result
	}
	if !p.OK || opts.AttachSuccessScreenshot {
		result.Content = append(result.Content,
			mcp.NewImageContent(base64.StdEncoding.EncodeToString(out.Screenshot), "image/png"))
	}
	return result
}

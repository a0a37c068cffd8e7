// Package replay provides a scripted browser for deterministic offline runs
// of the smoke engine. A scenario describes where clicks land, which
// elements are missing or visible, what the verification counts are and
// which operations fail, so the real engine can run without a browser.
package replay

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is the top-level replay scenario document.
type Scenario struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Input seeds `smoke replay`; tests usually build their own.
	Input Input `yaml:"input,omitempty" json:"input,omitempty"`

	// Landings maps a locator to the URLs successive clicks on it land on.
	// Relative URLs resolve against the current page. A click with no
	// landing left stays on the current URL.
	Landings map[string][]string `yaml:"landings,omitempty" json:"landings,omitempty"`

	// Missing lists locators that never appear for WaitFor.
	Missing []string `yaml:"missing,omitempty" json:"missing,omitempty"`

	// Visible lists locators IsVisible reports as visible. Everything else
	// is hidden.
	Visible []string `yaml:"visible,omitempty" json:"visible,omitempty"`

	// Buttons lists accessible names of buttons on the page. A role=button
	// locator is visible when its name matches one of them the way a
	// browser driver matches role names.
	Buttons []string `yaml:"buttons,omitempty" json:"buttons,omitempty"`

	// Counts maps a locator to the number of matching elements.
	Counts map[string]int `yaml:"counts,omitempty" json:"counts,omitempty"`

	// Responses maps a locator to the network responses a click on it triggers.
	Responses map[string][]Response `yaml:"responses,omitempty" json:"responses,omitempty"`

	// ReloadTimeout makes every Reload report a timeout.
	ReloadTimeout bool `yaml:"reload_timeout,omitempty" json:"reload_timeout,omitempty"`

	// Errors injects failures keyed by "op" or "op:target", e.g.
	// "click:#email", "navigate:/dashboard", "close", "acquire".
	Errors map[string]string `yaml:"errors,omitempty" json:"errors,omitempty"`

	// Panics is like Errors but panics with the value instead.
	Panics map[string]string `yaml:"panics,omitempty" json:"panics,omitempty"`

	Expect *Expectation `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// Input mirrors the engine's scenario input.
type Input struct {
	BaseURL  string `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	Email    string `yaml:"email,omitempty" json:"email,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Response is a canned network response.
type Response struct {
	Method string `yaml:"method" json:"method"`
	URL    string `yaml:"url" json:"url"`
}

// Expectation is the outcome a scenario asserts.
type Expectation struct {
	OK            *bool    `yaml:"ok,omitempty" json:"ok,omitempty"`
	Kind          string   `yaml:"kind,omitempty" json:"kind,omitempty"`
	ErrorContains string   `yaml:"error_contains,omitempty" json:"error_contains,omitempty"`
	OpportunityID string   `yaml:"opportunity_id,omitempty" json:"opportunity_id,omitempty"`
	Steps         []string `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// Observed is what a run actually produced, as compared by Check.
type Observed struct {
	OK            bool
	Kind          string
	Error         string
	OpportunityID string
	Steps         []string
}

// Check lists every way got differs from the expectation. A nil
// expectation accepts anything.
func (e *Expectation) Check(got Observed) []string {
	if e == nil {
		return nil
	}
	var diffs []string
	if e.OK != nil && *e.OK != got.OK {
		diffs = append(diffs, fmt.Sprintf("ok: want %t, got %t", *e.OK, got.OK))
	}
	if e.Kind != "" && e.Kind != got.Kind {
		diffs = append(diffs, fmt.Sprintf("kind: want %q, got %q", e.Kind, got.Kind))
	}
	if e.ErrorContains != "" && !strings.Contains(got.Error, e.ErrorContains) {
		diffs = append(diffs, fmt.Sprintf("error: want substring %q, got %q", e.ErrorContains, got.Error))
	}
	if e.OpportunityID != "" && e.OpportunityID != got.OpportunityID {
		diffs = append(diffs, fmt.Sprintf("opportunityId: want %q, got %q", e.OpportunityID, got.OpportunityID))
	}
	if e.Steps != nil && !slices.Equal(e.Steps, got.Steps) {
		diffs = append(diffs, fmt.Sprintf("steps: want %q, got %q", e.Steps, got.Steps))
	}
	return diffs
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario must have a name")
	}
	return &s, nil
}

package engine

import (
	"errors"
	"time"
)

// State is a workflow stage or one of the two terminal states.
type State string

const (
	StateLoggingIn                  State = "logging_in"
	StateSubmittingCreate           State = "submitting_create"
	StateAwaitingDerivedPage        State = "awaiting_derived_page"
	StateReconcilingSecondaryAction State = "reconciling_secondary_action"
	StateVerifyingResult            State = "verifying_result"
	StateSucceeded                  State = "succeeded"
	StateFailed                     State = "failed"
)

// Kind classifies why a run failed, or a non-fatal variance.
type Kind string

const (
	KindElementNotFound     Kind = "element_not_found"
	KindNavigationMismatch  Kind = "navigation_mismatch"
	KindMissingIdentifier   Kind = "missing_identifier"
	KindVerificationFailed  Kind = "verification_failed"
	KindTransientUIVariance Kind = "transient_ui_variance"
	KindUnclassified        Kind = "unclassified"
)

// StageError is a classified, fatal stage failure. Diagnose marks failures
// that get a screenshot attached.
type StageError struct {
	Kind     Kind
	Stage    State
	Message  string
	Diagnose bool
	Err      error
}

func (e *StageError) Error() string {
	return e.Message
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, or KindUnclassified.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnclassified
}

// Verification holds the counts observed in the verifying stage.
type Verification struct {
	Rows  int `json:"rows"`
	Cards int `json:"cards"`
}

// Outcome is the single result of one run: either a success carrying the
// opportunity id, or a failure carrying an error and possibly a screenshot.
type Outcome struct {
	RunID          string        `json:"runId"`
	OK             bool          `json:"ok"`
	Steps          []string      `json:"steps"`
	OpportunityID  string        `json:"opportunityId,omitempty"`
	Error          string        `json:"error,omitempty"`
	Kind           Kind          `json:"kind,omitempty"`
	State          State         `json:"state"`
	FailedStage    State         `json:"failedStage,omitempty"`
	Verification   *Verification `json:"verification,omitempty"`
	ScreenshotPath string        `json:"screenshotPath,omitempty"`
	ManifestPath   string        `json:"manifestPath,omitempty"`
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`

	// Screenshot is the full-page PNG captured for diagnosis, if any.
	Screenshot []byte `json:"-"`
}

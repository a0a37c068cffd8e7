// Package engine implements the smoke scenario's sequential workflow: log in,
// create an opportunity, wait for the derived analysis page, reconcile the
// hypothesis affordance and verify derived state.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/triflow-ai/smoke/pkg/browser"
	"github.com/triflow-ai/smoke/pkg/trace"
)

// ScenarioName identifies this workflow in traces and artifacts.
const ScenarioName = "triflow.smoketest"

// Timeouts bounds each class of browser operation. Every wait carries its own
// bound; there is no run-wide deadline beyond the caller's context.
type Timeouts struct {
	Element    time.Duration // required element presence (fatal)
	Login      time.Duration // dashboard redirect after login (tolerated)
	Analysis   time.Duration // analysis page after create (tolerated)
	Response   time.Duration // create-hypothesis network response (tolerated)
	Reload     time.Duration // reload after creating a hypothesis (tolerated)
	Navigation time.Duration // explicit navigations
	Action     time.Duration // fill and click
}

// DefaultTimeouts returns the 20s/30s/60s tiers the flow was tuned against.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Element:    20 * time.Second,
		Login:      30 * time.Second,
		Analysis:   60 * time.Second,
		Response:   60 * time.Second,
		Reload:     30 * time.Second,
		Navigation: 30 * time.Second,
		Action:     30 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.Element, d.Element)
	fill(&t.Login, d.Login)
	fill(&t.Analysis, d.Analysis)
	fill(&t.Response, d.Response)
	fill(&t.Reload, d.Reload)
	fill(&t.Navigation, d.Navigation)
	fill(&t.Action, d.Action)
	return t
}

// Observer receives run metrics. pkg/metrics provides the Prometheus one.
type Observer interface {
	ObserveRun(ok bool, kind string, duration time.Duration)
	ObserveStage(stage string, duration time.Duration)
	ObserveFallback(stage string)
	ObserveVariance(kind string)
}

// ArtifactStore persists per-run artifacts. pkg/evidence provides the file one.
type ArtifactStore interface {
	OpenTrace(runID string) (io.WriteCloser, error)
	SaveScreenshot(runID string, png []byte) (string, error)
	SaveResult(runID string, v any) (string, error)
	// Seal records digests of the run's artifacts once the trace is closed
	// and returns the manifest path.
	Seal(runID string) (string, error)
}

// Config configures an Engine. Zero values fall back to defaults.
type Config struct {
	Timeouts  Timeouts
	Predicate *Predicate
	Logger    *slog.Logger
	Observer  Observer
	Artifacts ArtifactStore

	// TraceOutput receives the JSONL trace when Artifacts is nil.
	TraceOutput  io.Writer
	SigningKey   []byte
	SigningKeyID string

	NewRunID func() string
	NewToken func() string
}

// Engine runs the smoke scenario against sessions from a browser.Provider.
// An Engine is safe to reuse; each Run owns its own session and trace.
type Engine struct {
	provider browser.Provider
	cfg      Config
	log      *slog.Logger
	obs      Observer
}

// New creates an engine.
func New(provider browser.Provider, cfg Config) *Engine {
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.Predicate == nil {
		cfg.Predicate = MustCompilePredicate(DefaultPredicate)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = uuid.NewString
	}
	if cfg.NewToken == nil {
		cfg.NewToken = randomToken
	}
	obs := cfg.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	return &Engine{
		provider: provider,
		cfg:      cfg,
		log:      cfg.Logger,
		obs:      obs,
	}
}

// Run executes one scenario and always returns an outcome; failures of any
// kind, panics included, are converted into a failure outcome.
func (e *Engine) Run(ctx context.Context, in Input) (out *Outcome) {
	runID := e.cfg.NewRunID()
	started := time.Now()
	log := e.log.With("run_id", runID)

	tw, closeTrace := e.openTrace(runID, log)
	tw.SetSecrets(in.Password)
	if len(e.cfg.SigningKey) > 0 {
		tw.SetSigningKey(e.cfg.SigningKeyID, e.cfg.SigningKey)
	}

	r := &run{
		e:     e,
		id:    runID,
		steps: trace.NewSteps(tw),
		tw:         tw,
		closeTrace: closeTrace,
		log:        log,
		state:      StateLoggingIn,
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic during run", "panic", p, "stage", r.state)
			out = r.failure(ctx, &StageError{
				Kind:    KindUnclassified,
				Stage:   r.state,
				Message: fmt.Sprintf("panic: %v", p),
			})
		}
		out.RunID = runID
		out.StartedAt = started
		out.Duration = time.Since(started)
		e.finish(r, out)
	}()

	normalized, err := in.Normalize()
	tw.EmitRunStart(ScenarioName, map[string]any{
		"baseUrl": normalized.BaseURL,
		"email":   normalized.Email,
	})
	if err != nil {
		log.Warn("invalid scenario input", "error", err)
		return r.failure(ctx, &StageError{
			Kind:    KindUnclassified,
			Stage:   StateLoggingIn,
			Message: "invalid input: " + err.Error(),
			Err:     err,
		})
	}
	r.in = normalized
	log.Info("smoke run started", "base_url", normalized.BaseURL)

	sess, err := e.provider.Acquire(ctx)
	if err != nil {
		log.Error("acquire browser session", "error", err)
		return r.failure(ctx, err)
	}
	defer e.release(sess, log)

	return r.execute(ctx, sess)
}

func (e *Engine) openTrace(runID string, log *slog.Logger) (*trace.Writer, func()) {
	if e.cfg.Artifacts != nil {
		w, err := e.cfg.Artifacts.OpenTrace(runID)
		if err != nil {
			log.Warn("open trace artifact", "error", err)
			return nil, func() {}
		}
		return trace.NewWriter(w, runID), func() {
			if err := w.Close(); err != nil {
				log.Warn("close trace artifact", "error", err)
			}
		}
	}
	if e.cfg.TraceOutput != nil {
		return trace.NewWriter(e.cfg.TraceOutput, runID), func() {}
	}
	return nil, func() {}
}

// release closes the session. Its failure is logged and never changes the outcome.
func (e *Engine) release(sess browser.Session, log *slog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn("browser close panicked", "panic", p)
		}
	}()
	if err := sess.Close(); err != nil {
		log.Warn("browser close failed", "error", err)
	}
}

func (e *Engine) finish(r *run, out *Outcome) {
	status := string(out.State)
	r.tw.EmitOutcome(out.OK, string(out.Kind), out.Error, map[string]any{
		"opportunity_id": out.OpportunityID,
		"steps":          len(out.Steps),
	})

	if store := e.cfg.Artifacts; store != nil {
		if len(out.Screenshot) > 0 {
			path, err := store.SaveScreenshot(r.id, out.Screenshot)
			if err != nil {
				r.log.Warn("save screenshot artifact", "error", err)
			} else {
				out.ScreenshotPath = path
			}
		}
		if _, err := store.SaveResult(r.id, out); err != nil {
			r.log.Warn("save result artifact", "error", err)
		}
	}

	r.tw.EmitRunComplete(status, out.Duration)
	r.closeTrace()

	if store := e.cfg.Artifacts; store != nil {
		path, err := store.Seal(r.id)
		if err != nil {
			r.log.Warn("seal run artifacts", "error", err)
		} else {
			out.ManifestPath = path
		}
	}
	e.obs.ObserveRun(out.OK, string(out.Kind), out.Duration)

	if out.OK {
		r.log.Info("smoke run succeeded", "opportunity_id", out.OpportunityID, "duration", out.Duration)
	} else {
		r.log.Warn("smoke run failed", "kind", out.Kind, "stage", out.FailedStage, "error", out.Error, "duration", out.Duration)
	}
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

type noopObserver struct{}

func (noopObserver) ObserveRun(bool, string, time.Duration) {}
func (noopObserver) ObserveStage(string, time.Duration) {}
func (noopObserver) ObserveFallback(string) {}
func (noopObserver) ObserveVariance(string) {}

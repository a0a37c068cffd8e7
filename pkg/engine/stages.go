package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"github.com/triflow-ai/smoke/pkg/browser"
	"github.com/triflow-ai/smoke/pkg/trace"
)

// run is the state of one Engine.Run invocation.
type run struct {
	e          *Engine
	id         string
	in         Input
	page       browser.Page
	steps      *trace.Steps
	tw         *trace.Writer
	closeTrace func()
	log        *slog.Logger
	state      State

	opportunityID string
	screenshot    []byte
	verification  *Verification
}

type stage struct {
	state State
	run   func(context.Context) error
}

func (r *run) pipeline() []stage {
	return []stage{
		{StateLoggingIn, r.login},
		{StateSubmittingCreate, r.submitCreate},
		{StateAwaitingDerivedPage, r.awaitDerivedPage},
		{StateReconcilingSecondaryAction, r.reconcileSecondaryAction},
		{StateVerifyingResult, r.verifyResult},
	}
}

func (r *run) execute(ctx context.Context, sess browser.Session) *Outcome {
	page, err := sess.NewPage(ctx)
	if err != nil {
		return r.failure(ctx, fmt.Errorf("open page: %w", err))
	}
	r.page = page

	for _, st := range r.pipeline() {
		r.enter(st.state)
		start := time.Now()
		err := st.run(ctx)
		elapsed := time.Since(start)

		r.e.obs.ObserveStage(string(st.state), elapsed)
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		r.tw.EmitStageExit(string(st.state), elapsed, errMsg)
		if err != nil {
			return r.failure(ctx, err)
		}
	}

	r.enter(StateSucceeded)
	return &Outcome{
		OK:            true,
		Steps:         r.steps.Snapshot(),
		OpportunityID: r.opportunityID,
		State:         StateSucceeded,
		Verification:  r.verification,
		Screenshot:    r.screenshot,
	}
}

func (r *run) enter(s State) {
	r.state = s
	r.tw.EmitStageEnter(string(s))
	r.log.Debug("stage", "state", s)
}

// failure converts err into the failed outcome. Only diagnosed stage errors
// get a screenshot; the unclassified path leaves the page alone.
func (r *run) failure(ctx context.Context, err error) *Outcome {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Kind: KindUnclassified, Stage: r.state, Message: err.Error(), Err: err}
	}
	stageAtFailure := r.state
	if se.Stage != "" {
		stageAtFailure = se.Stage
	}

	out := &Outcome{
		OK:            false,
		Steps:         r.steps.Snapshot(),
		OpportunityID: r.opportunityID,
		Error:         se.Message,
		Kind:          se.Kind,
		FailedStage:   stageAtFailure,
		Verification:  r.verification,
	}

	if se.Diagnose {
		shot := r.screenshot
		if shot == nil && r.page != nil {
			captured, err := r.page.Screenshot(ctx)
			if err != nil {
				r.log.Warn("failure screenshot", "error", err)
			}
			shot = captured
		}
		out.Screenshot = shot
	}

	r.enter(StateFailed)
	out.State = StateFailed
	return out
}

func (r *run) url(path string) string {
	return r.in.BaseURL + path
}

// require waits for a required element; a timeout is fatal.
func (r *run) require(ctx context.Context, loc browser.Locator) error {
	timeout := r.e.cfg.Timeouts.Element
	res, err := r.page.WaitFor(ctx, loc, timeout)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", loc, err)
	}
	r.tw.EmitWait(loc.String(), res.String(), timeout)
	if res == browser.TimedOut {
		return &StageError{
			Kind:    KindElementNotFound,
			Stage:   r.state,
			Message: fmt.Sprintf("element %s did not appear within %s", loc, timeout),
		}
	}
	return nil
}

func (r *run) waitURL(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (browser.WaitResult, error) {
	res, err := r.page.WaitForURL(ctx, pattern, timeout)
	if err != nil {
		return res, err
	}
	r.tw.EmitWait("url ~ "+pattern.String(), res.String(), timeout)
	return res, nil
}

func (r *run) navigate(ctx context.Context, target string) error {
	if err := r.page.Navigate(ctx, target, r.e.cfg.Timeouts.Navigation); err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}
	return nil
}

func (r *run) fill(ctx context.Context, loc browser.Locator, value string) error {
	if err := r.page.Fill(ctx, loc, value, r.e.cfg.Timeouts.Action); err != nil {
		return fmt.Errorf("fill %s: %w", loc, err)
	}
	return nil
}

func (r *run) click(ctx context.Context, loc browser.Locator) error {
	if err := r.page.Click(ctx, loc, r.e.cfg.Timeouts.Action); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

// variance records a non-fatal UI variance. It never appears in the step labels.
func (r *run) variance(kind, detail string) {
	r.tw.EmitVariance(kind, detail)
	r.e.obs.ObserveVariance(kind)
	r.log.Info("ui variance", "kind", kind, "detail", detail, "stage", r.state)
}

func (r *run) login(ctx context.Context) error {
	r.steps.Record(StepOpenLogin)
	if err := r.navigate(ctx, r.url(loginPath)); err != nil {
		return err
	}
	if err := r.require(ctx, emailInput); err != nil {
		return err
	}
	if err := r.fill(ctx, emailInput, r.in.Email); err != nil {
		return err
	}
	if err := r.fill(ctx, passwordInput, r.in.Password); err != nil {
		return err
	}

	r.steps.Record(StepSubmitLogin)
	if err := r.click(ctx, submitButton); err != nil {
		return err
	}

	res, err := r.waitURL(ctx, dashboardURL, r.e.cfg.Timeouts.Login)
	if err != nil {
		return fmt.Errorf("wait for dashboard: %w", err)
	}
	if res == browser.TimedOut {
		// Some identity flows redirect asynchronously; go there directly.
		target := r.url(dashboardPath)
		r.tw.EmitFallback(string(r.state), "dashboard redirect not observed", "navigate "+target)
		r.e.obs.ObserveFallback(string(r.state))
		r.log.Info("login redirect timed out, navigating to dashboard", "url", target)
		if err := r.navigate(ctx, target); err != nil {
			return err
		}
	}

	r.steps.Record(StepLoginComplete)
	return nil
}

func (r *run) submitCreate(ctx context.Context) error {
	r.steps.Record(StepOpenCreate)
	if err := r.navigate(ctx, r.url(createPath)); err != nil {
		return err
	}
	if err := r.require(ctx, nameInput); err != nil {
		return err
	}
	if err := r.fill(ctx, nameInput, opportunityNamePrefix+r.e.cfg.NewToken()); err != nil {
		return err
	}
	if err := r.fill(ctx, problemInput, problemStatement); err != nil {
		return err
	}

	r.steps.Record(StepSubmitAnalyze)
	return r.click(ctx, submitButton)
}

// awaitDerivedPage waits for the analysis page, then checks where the page
// actually is: a timeout alone is not a failure, landing elsewhere is.
func (r *run) awaitDerivedPage(ctx context.Context) error {
	res, waitErr := r.waitURL(ctx, analysisURL, r.e.cfg.Timeouts.Analysis)

	current, err := r.page.URL(ctx)
	if err != nil {
		return fmt.Errorf("read current url: %w", err)
	}
	switch {
	case waitErr != nil:
		r.variance(string(KindTransientUIVariance), "analysis wait failed: "+waitErr.Error())
		r.log.Info("analysis wait failed, probing current url", "url", current, "error", waitErr)
	case res == browser.TimedOut:
		r.log.Info("analysis wait timed out, probing current url", "url", current)
	}
	if !analysisURL.MatchString(current) {
		return &StageError{
			Kind:     KindNavigationMismatch,
			Stage:    r.state,
			Message:  NavigationMismatchPrefix + current,
			Diagnose: true,
		}
	}
	r.steps.Record(StepReachedAnalysis)

	id := queryParam(current, idParam)
	if id == "" {
		return &StageError{
			Kind:     KindMissingIdentifier,
			Stage:    r.state,
			Message:  MissingIdentifierMessage,
			Diagnose: true,
		}
	}
	r.opportunityID = id
	return nil
}

func (r *run) reconcileSecondaryAction(ctx context.Context) error {
	target := r.url(hypothesesPath) + "?" + idParam + "=" + url.QueryEscape(r.opportunityID)
	r.steps.Record(StepOpenHypotheses)
	if err := r.navigate(ctx, target); err != nil {
		return err
	}

	for _, a := range affordances {
		visible, err := r.page.IsVisible(ctx, a.locator)
		if err != nil {
			r.log.Debug("visibility probe failed", "locator", a.locator.String(), "error", err)
			visible = false
		}
		if !visible {
			continue
		}

		r.tw.EmitBranch("hypothesis_affordance", a.locator.String())
		r.steps.Record(a.label)
		if err := r.click(ctx, a.locator); err != nil {
			return err
		}
		r.confirmCreation(ctx)
		return nil
	}

	r.tw.EmitBranch("hypothesis_affordance", "none")
	r.steps.Record(StepNoAddButton)
	r.variance(string(KindTransientUIVariance), "no add affordance visible; assuming existing hypotheses")
	return nil
}

// confirmCreation waits for the create request and reloads. Neither step can
// fail the run.
func (r *run) confirmCreation(ctx context.Context) {
	t := r.e.cfg.Timeouts

	res, err := r.page.WaitForResponse(ctx, createHypothesisRequest, t.Response)
	switch {
	case err != nil:
		r.variance(string(KindTransientUIVariance), "create response wait failed: "+err.Error())
	case res == browser.TimedOut:
		r.tw.EmitWait(createHypothesisRequest.String(), res.String(), t.Response)
		r.variance(string(KindTransientUIVariance), "create response not observed within "+t.Response.String())
	default:
		r.tw.EmitWait(createHypothesisRequest.String(), res.String(), t.Response)
	}

	res, err = r.page.Reload(ctx, t.Reload)
	switch {
	case err != nil:
		r.variance(string(KindTransientUIVariance), "reload failed: "+err.Error())
	case res == browser.TimedOut:
		r.variance(string(KindTransientUIVariance), "reload did not finish within "+t.Reload.String())
	}
}

func (r *run) verifyResult(ctx context.Context) error {
	r.steps.Record(StepVerify)

	rows, err := r.page.Count(ctx, hypothesisRows)
	if err != nil {
		return fmt.Errorf("count %s: %w", hypothesisRows, err)
	}
	cards, err := r.page.Count(ctx, hypothesisCards)
	if err != nil {
		return fmt.Errorf("count %s: %w", hypothesisCards, err)
	}
	r.verification = &Verification{Rows: rows, Cards: cards}

	shot, err := r.page.Screenshot(ctx)
	if err != nil {
		r.variance(string(KindTransientUIVariance), "verification screenshot failed: "+err.Error())
	} else {
		r.screenshot = shot
	}

	ok, err := r.e.cfg.Predicate.Eval(rows, cards)
	if err != nil {
		return err
	}
	if !ok {
		return &StageError{
			Kind:     KindVerificationFailed,
			Stage:    r.state,
			Message:  fmt.Sprintf("No hypotheses visible (rows=%d, cards=%d)", rows, cards),
			Diagnose: true,
		}
	}
	return nil
}

func queryParam(raw, name string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get(name)
}

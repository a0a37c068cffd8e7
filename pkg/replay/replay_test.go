package replay

import (
	"bytes"
	"context"
	"image/png"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/smoke/pkg/browser"
)

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: sample
landings:
  'button[type="submit"]':
    - /dashboard
missing: ['#email']
visible: ['role=button[name="Add Hypothesis"]']
counts:
  table tbody tr: 3
errors:
  close: boom
expect:
  ok: true
  steps: [a, b]
`))
	require.NoError(t, err)
	assert.Equal(t, "sample", s.Name)
	assert.Equal(t, []string{"/dashboard"}, s.Landings[`button[type="submit"]`])
	assert.Equal(t, 3, s.Counts["table tbody tr"])
	assert.Equal(t, "boom", s.Errors["close"])
	require.NotNil(t, s.Expect)
	assert.True(t, *s.Expect.OK)
	assert.Equal(t, []string{"a", "b"}, s.Expect.Steps)
}

func TestParseScenarioRejectsUnnamed(t *testing.T) {
	_, err := ParseScenario([]byte(`counts: {x: 1}`))
	assert.Error(t, err)
}

func TestParseScenarioInvalidYAML(t *testing.T) {
	_, err := ParseScenario([]byte(`{{{invalid`))
	assert.Error(t, err)
}

func TestLoadScenarioTestdata(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err, path)
		assert.NotNil(t, s.Expect, "%s has no expectation", path)
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func newTestPage(t *testing.T, s *Scenario) (*Provider, *Page) {
	t.Helper()
	p := NewProvider(s)
	sess, err := p.Acquire(context.Background())
	require.NoError(t, err)
	_, err = sess.NewPage(context.Background())
	require.NoError(t, err)
	return p, p.Page()
}

func TestPageClickLandsInOrder(t *testing.T) {
	submit := browser.CSS(`button[type="submit"]`)
	_, page := newTestPage(t, &Scenario{
		Name: "landings",
		Landings: map[string][]string{
			submit.String(): {"/dashboard", "/next?id=1"},
		},
	})
	ctx := context.Background()

	require.NoError(t, page.Navigate(ctx, "https://example.test/login", time.Second))
	require.NoError(t, page.Click(ctx, submit, time.Second))
	u, err := page.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/dashboard", u)

	res, err := page.WaitForURL(ctx, regexp.MustCompile(`/dashboard$`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, browser.Satisfied, res)

	require.NoError(t, page.Click(ctx, submit, time.Second))
	u, _ = page.URL(ctx)
	assert.Equal(t, "https://example.test/next?id=1", u)

	// Landings exhausted: the page stays put.
	require.NoError(t, page.Click(ctx, submit, time.Second))
	u, _ = page.URL(ctx)
	assert.Equal(t, "https://example.test/next?id=1", u)

	res, err = page.WaitForURL(ctx, regexp.MustCompile(`/dashboard$`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, browser.TimedOut, res)
}

func TestPageMissingAndVisible(t *testing.T) {
	email := browser.CSS("#email")
	add := browser.Role(browser.RoleButton, "Add Hypothesis")
	_, page := newTestPage(t, &Scenario{
		Name:    "elements",
		Missing: []string{email.String()},
		Visible: []string{add.String()},
	})
	ctx := context.Background()

	res, err := page.WaitFor(ctx, email, time.Second)
	require.NoError(t, err)
	assert.Equal(t, browser.TimedOut, res)
	assert.Error(t, page.Fill(ctx, email, "a@b.com", time.Second))

	visible, err := page.IsVisible(ctx, add)
	require.NoError(t, err)
	assert.True(t, visible)

	visible, err = page.IsVisible(ctx, browser.Role(browser.RoleButton, "Add First Hypothesis"))
	require.NoError(t, err)
	assert.False(t, visible)
}

func TestPageResponsesFollowClicks(t *testing.T) {
	add := browser.Role(browser.RoleButton, "Add Hypothesis")
	match := browser.ResponseMatch{Method: "POST", URLContains: "/api/opportunities/"}
	_, page := newTestPage(t, &Scenario{
		Name: "responses",
		Responses: map[string][]Response{
			add.String(): {{Method: "POST", URL: "https://example.test/api/opportunities/1/hypotheses"}},
		},
	})
	ctx := context.Background()

	res, err := page.WaitForResponse(ctx, match, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, browser.TimedOut, res, "nothing clicked yet")

	require.NoError(t, page.Click(ctx, add, time.Second))
	res, err = page.WaitForResponse(ctx, match, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, browser.Satisfied, res)

	res, err = page.WaitForResponse(ctx, match, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, browser.TimedOut, res, "a response is consumed once")
}

func TestPageInjectedErrors(t *testing.T) {
	_, page := newTestPage(t, &Scenario{
		Name: "errors",
		Errors: map[string]string{
			"navigate:/dashboard": "net::ERR_CONNECTION_RESET",
			"count":               "target closed",
		},
	})
	ctx := context.Background()

	assert.NoError(t, page.Navigate(ctx, "https://example.test/login", time.Second))
	err := page.Navigate(ctx, "https://example.test/dashboard", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_CONNECTION_RESET")

	_, err = page.Count(ctx, browser.CSS("table tbody tr"))
	assert.ErrorContains(t, err, "target closed")

	assert.Equal(t, []string{"https://example.test/login", "https://example.test/dashboard"}, page.Targets("navigate"))
}

func TestPageInjectedPanic(t *testing.T) {
	_, page := newTestPage(t, &Scenario{
		Name:   "panics",
		Panics: map[string]string{"reload": "renderer crashed"},
	})
	assert.PanicsWithValue(t, "renderer crashed", func() {
		_, _ = page.Reload(context.Background(), time.Second)
	})
}

func TestPageReloadTimeout(t *testing.T) {
	_, page := newTestPage(t, &Scenario{Name: "reload", ReloadTimeout: true})
	res, err := page.Reload(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, browser.TimedOut, res)
}

func TestPageScreenshotIsPNG(t *testing.T) {
	_, page := newTestPage(t, &Scenario{Name: "shot"})
	shot, err := page.Screenshot(context.Background())
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(shot))
	assert.NoError(t, err)
}

func TestPageCanceledContext(t *testing.T) {
	_, page := newTestPage(t, &Scenario{Name: "cancel"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := page.WaitFor(ctx, browser.CSS("#email"), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProviderCountsSessions(t *testing.T) {
	p := NewProvider(&Scenario{Name: "close", Errors: map[string]string{"close": "already closed"}})
	sess, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Acquired())
	assert.Error(t, sess.Close())
	assert.Equal(t, 1, p.Closed())
}

func TestProviderAcquireError(t *testing.T) {
	p := NewProvider(&Scenario{Name: "acquire", Errors: map[string]string{"acquire": "no browser"}})
	_, err := p.Acquire(context.Background())
	assert.ErrorContains(t, err, "no browser")
	assert.Nil(t, p.Page())
}

func TestExpectationCheck(t *testing.T) {
	ok := true
	e := &Expectation{OK: &ok, Kind: "", Steps: []string{"a"}, OpportunityID: "1"}
	assert.Empty(t, e.Check(Observed{OK: true, Steps: []string{"a"}, OpportunityID: "1"}))

	diffs := e.Check(Observed{OK: false, Steps: []string{"a", "b"}})
	assert.Len(t, diffs, 3)

	var none *Expectation
	assert.Empty(t, none.Check(Observed{}))
}

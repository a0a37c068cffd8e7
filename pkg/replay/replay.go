package replay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/url"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/triflow-ai/smoke/pkg/browser"
)

// Call is one operation issued against a scripted page or session.
type Call struct {
	Op     string
	Target string
}

// Provider implements browser.Provider over a scenario. Every acquired
// session shares the scenario but gets its own page state.
type Provider struct {
	scenario *Scenario

	mu       sync.Mutex
	pages    []*Page
	acquired int
	closed   int
}

// NewProvider creates a provider that replays s.
func NewProvider(s *Scenario) *Provider {
	return &Provider{scenario: s}
}

// Acquire implements browser.Provider.
func (p *Provider) Acquire(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := inject(p.scenario, "acquire", ""); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.acquired++
	p.mu.Unlock()
	return &session{p: p}, nil
}

// Page returns the most recently opened page, or nil.
func (p *Provider) Page() *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) == 0 {
		return nil
	}
	return p.pages[len(p.pages)-1]
}

// Acquired reports how many sessions were handed out.
func (p *Provider) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

// Closed reports how many sessions were closed, including failed closes.
func (p *Provider) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type session struct {
	p *Provider
}

func (s *session) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := inject(s.p.scenario, "new_page", ""); err != nil {
		return nil, err
	}
	page := newPage(s.p.scenario)
	s.p.mu.Lock()
	s.p.pages = append(s.p.pages, page)
	s.p.mu.Unlock()
	return page, nil
}

func (s *session) Close() error {
	s.p.mu.Lock()
	s.p.closed++
	s.p.mu.Unlock()
	return inject(s.p.scenario, "close", "")
}

// Page is a scripted browser.Page. Waits never block: a condition that
// does not hold when asked reports TimedOut straight away.
type Page struct {
	s *Scenario

	mu        sync.Mutex
	current   *url.URL
	landed    map[string]int
	filled    map[string]string
	calls     []Call
	responses *browser.ResponseLog
}

func newPage(s *Scenario) *Page {
	return &Page{
		s:         s,
		current:   &url.URL{Scheme: "about", Opaque: "blank"},
		landed:    make(map[string]int),
		filled:    make(map[string]string),
		responses: browser.NewResponseLog(),
	}
}

// Calls returns every operation issued so far, in order.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// Targets returns the targets of every call of the given op, in order.
func (p *Page) Targets(op string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if c.Op == op {
			out = append(out, c.Target)
		}
	}
	return out
}

// Filled returns the last value filled into the locator.
func (p *Page) Filled(loc browser.Locator) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled[loc.String()]
}

func (p *Page) begin(ctx context.Context, op, target, key string) error {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Op: op, Target: target})
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return inject(p.s, op, key)
}

func (p *Page) Navigate(ctx context.Context, target string, _ time.Duration) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := p.begin(ctx, "navigate", target, u.Path); err != nil {
		return err
	}
	p.mu.Lock()
	p.current = p.current.ResolveReference(u)
	p.mu.Unlock()
	return nil
}

func (p *Page) WaitFor(ctx context.Context, loc browser.Locator, _ time.Duration) (browser.WaitResult, error) {
	key := loc.String()
	if err := p.begin(ctx, "wait_for", key, key); err != nil {
		return browser.TimedOut, err
	}
	if p.missing(key) {
		return browser.TimedOut, nil
	}
	return browser.Satisfied, nil
}

func (p *Page) Fill(ctx context.Context, loc browser.Locator, value string, _ time.Duration) error {
	key := loc.String()
	if err := p.begin(ctx, "fill", key, key); err != nil {
		return err
	}
	if p.missing(key) {
		return fmt.Errorf("fill %s: element not found", key)
	}
	p.mu.Lock()
	p.filled[key] = value
	p.mu.Unlock()
	return nil
}

func (p *Page) Click(ctx context.Context, loc browser.Locator, _ time.Duration) error {
	key := loc.String()
	if err := p.begin(ctx, "click", key, key); err != nil {
		return err
	}
	if p.missing(key) {
		return fmt.Errorf("click %s: element not found", key)
	}

	p.responses.Arm()
	p.mu.Lock()
	if landings := p.s.Landings[key]; p.landed[key] < len(landings) {
		next := landings[p.landed[key]]
		p.landed[key]++
		u, err := url.Parse(next)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("click %s: bad landing %q: %w", key, next, err)
		}
		p.current = p.current.ResolveReference(u)
	}
	p.mu.Unlock()

	for _, r := range p.s.Responses[key] {
		p.responses.Add(r.Method, r.URL)
	}
	return nil
}

func (p *Page) WaitForURL(ctx context.Context, pattern *regexp.Regexp, _ time.Duration) (browser.WaitResult, error) {
	key := pattern.String()
	if err := p.begin(ctx, "wait_for_url", key, key); err != nil {
		return browser.TimedOut, err
	}
	p.mu.Lock()
	current := p.current.String()
	p.mu.Unlock()
	if pattern.MatchString(current) {
		return browser.Satisfied, nil
	}
	return browser.TimedOut, nil
}

func (p *Page) WaitForResponse(ctx context.Context, match browser.ResponseMatch, _ time.Duration) (browser.WaitResult, error) {
	key := match.String()
	if err := p.begin(ctx, "wait_for_response", key, key); err != nil {
		return browser.TimedOut, err
	}
	// Scripted responses are journaled synchronously by Click, so a zero
	// timeout is a poll.
	return p.responses.Wait(ctx, match, 0)
}

func (p *Page) Reload(ctx context.Context, _ time.Duration) (browser.WaitResult, error) {
	if err := p.begin(ctx, "reload", "", ""); err != nil {
		return browser.TimedOut, err
	}
	if p.s.ReloadTimeout {
		return browser.TimedOut, nil
	}
	return browser.Satisfied, nil
}

func (p *Page) IsVisible(ctx context.Context, loc browser.Locator) (bool, error) {
	key := loc.String()
	if err := p.begin(ctx, "is_visible", key, key); err != nil {
		return false, err
	}
	if slices.Contains(p.s.Visible, key) {
		return true, nil
	}
	if loc.Role == browser.RoleButton {
		return slices.ContainsFunc(p.s.Buttons, loc.MatchesName), nil
	}
	return false, nil
}

func (p *Page) Count(ctx context.Context, loc browser.Locator) (int, error) {
	key := loc.String()
	if err := p.begin(ctx, "count", key, key); err != nil {
		return 0, err
	}
	return p.s.Counts[key], nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.begin(ctx, "screenshot", "", ""); err != nil {
		return nil, err
	}
	return placeholderPNG()
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.begin(ctx, "url", "", ""); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.String(), nil
}

func (p *Page) missing(key string) bool {
	return slices.Contains(p.s.Missing, key)
}

// inject applies the scenario's scripted panics and errors for op, trying
// "op:target" before "op".
func inject(s *Scenario, op, target string) error {
	keys := []string{op}
	if target != "" {
		keys = []string{op + ":" + target, op}
	}
	for _, k := range keys {
		if msg, ok := s.Panics[k]; ok {
			panic(msg)
		}
	}
	for _, k := range keys {
		if msg, ok := s.Errors[k]; ok {
			return fmt.Errorf("replay: %s", msg)
		}
	}
	return nil
}

// placeholderPNG renders a 1x1 image so callers get a decodable screenshot.
func placeholderPNG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

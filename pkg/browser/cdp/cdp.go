// Package cdp implements the browser contracts on chromedp, for hosts that
// expose a Chrome DevTools endpoint instead of a playwright server.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/triflow-ai/smoke/pkg/browser"
)

const pollInterval = 100 * time.Millisecond

// Options selects the allocator. A RemoteURL ("ws://host:9222") attaches to a
// running browser; otherwise a local Chrome is executed.
type Options struct {
	RemoteURL string
	Headless  bool
}

// Provider allocates one browser per session.
type Provider struct {
	opts Options
}

// NewProvider creates a chromedp provider.
func NewProvider(opts Options) *Provider {
	return &Provider{opts: opts}
}

// Acquire implements browser.Provider. The allocator outlives ctx; it is
// torn down by Session.Close.
func (p *Provider) Acquire(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if p.opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), p.opts.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", p.opts.Headless),
			chromedp.WindowSize(1280, 720),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	}
	return &session{allocCtx: allocCtx, allocCancel: allocCancel}, nil
}

type session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

func (s *session) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(s.allocCtx)
	s.tabCtx, s.tabCancel = tabCtx, tabCancel

	p := &Page{ctx: tabCtx, responses: browser.NewResponseLog(), methods: make(map[network.RequestID]string)}
	chromedp.ListenTarget(tabCtx, p.onEvent)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		return nil, fmt.Errorf("start tab: %w", err)
	}
	return p, nil
}

func (s *session) Close() error {
	var err error
	if s.tabCtx != nil {
		err = chromedp.Cancel(s.tabCtx)
		s.tabCancel()
	}
	s.allocCancel()
	return err
}

// Page adapts a chromedp tab.
type Page struct {
	ctx       context.Context
	responses *browser.ResponseLog

	mu      sync.Mutex
	methods map[network.RequestID]string
}

func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.mu.Lock()
		p.methods[e.RequestID] = e.Request.Method
		p.mu.Unlock()
	case *network.EventResponseReceived:
		p.mu.Lock()
		method := p.methods[e.RequestID]
		delete(p.methods, e.RequestID)
		p.mu.Unlock()
		p.responses.Add(method, e.Response.URL)
	}
}

// op derives a tab context bounded by timeout and canceled with the caller.
func (p *Page) op(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(p.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// waitResult classifies err from an operation run under op: the op's own
// deadline is a timeout, the caller's cancellation is an error.
func waitResult(ctx, opCtx context.Context, err error) (browser.WaitResult, error) {
	switch {
	case err == nil:
		return browser.Satisfied, nil
	case ctx.Err() != nil:
		return browser.TimedOut, ctx.Err()
	case errors.Is(opCtx.Err(), context.DeadlineExceeded):
		return browser.TimedOut, nil
	default:
		return browser.TimedOut, err
	}
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	opCtx, cancel := p.op(ctx, timeout)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.Navigate(url))
}

func (p *Page) WaitFor(ctx context.Context, loc browser.Locator, timeout time.Duration) (browser.WaitResult, error) {
	opCtx, cancel := p.op(ctx, timeout)
	defer cancel()
	if !loc.IsRole() {
		return waitResult(ctx, opCtx, chromedp.Run(opCtx, chromedp.WaitVisible(loc.CSS, chromedp.ByQuery)))
	}
	return waitResult(ctx, opCtx, p.poll(opCtx, func() (bool, error) {
		return p.evalBool(opCtx, roleScript(loc, "visible"))
	}))
}

func (p *Page) Fill(ctx context.Context, loc browser.Locator, value string, timeout time.Duration) error {
	if loc.IsRole() {
		return fmt.Errorf("fill %s: role locators are not fillable", loc)
	}
	opCtx, cancel := p.op(ctx, timeout)
	defer cancel()
	return chromedp.Run(opCtx,
		chromedp.WaitVisible(loc.CSS, chromedp.ByQuery),
		chromedp.Clear(loc.CSS, chromedp.ByQuery),
		chromedp.SendKeys(loc.CSS, value, chromedp.ByQuery),
	)
}

func (p *Page) Click(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	opCtx, cancel := p.op(ctx, timeout)
	defer cancel()
	p.responses.Arm()
	if !loc.IsRole() {
		return chromedp.Run(opCtx, chromedp.Click(loc.CSS, chromedp.ByQuery))
	}
	clicked, err := p.evalBool(opCtx, roleScript(loc, "click"))
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("click %s: no visible element", loc)
	}
	return nil
}

func (p *Page) WaitForURL(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (browser.WaitResult, error) {
	opCtx, cancel := p.op(ctx, timeout)
	defer cancel()
	return waitResult(ctx, opCtx, p.poll(opCtx, func() (bool, error) {
		var current string
		if err := chromedp.Run(opCtx, chromedp.Location(&current)); err != nil {
			return false, err
		}
		return pattern.MatchString(current), nil
	}))
}

func (p *Page) WaitForResponse(ctx context.Context, match browser.ResponseMatch, timeout time.Duration) (browser.WaitResult, error) {
	return p.responses.Wait(ctx, match, timeout)
}

func (p *Page) Reload(ctx context.Context, timeout time.Duration) (browser.WaitResult, error) {
	opCtx, cancel := p.op(ctx, timeout)
	defer cancel()
	return waitResult(ctx, opCtx, chromedp.Run(opCtx, chromedp.Reload()))
}

func (p *Page) IsVisible(ctx context.Context, loc browser.Locator) (bool, error) {
	opCtx, cancel := p.op(ctx, 5*time.Second)
	defer cancel()
	if !loc.IsRole() {
		return p.evalBool(opCtx, cssScript(loc.CSS, "visible"))
	}
	return p.evalBool(opCtx, roleScript(loc, "visible"))
}

func (p *Page) Count(ctx context.Context, loc browser.Locator) (int, error) {
	opCtx, cancel := p.op(ctx, 5*time.Second)
	defer cancel()
	script := cssScript(loc.CSS, "count")
	if loc.IsRole() {
		script = roleScript(loc, "count")
	}
	var n int
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &n)); err != nil {
		return 0, fmt.Errorf("count %s: %w", loc, err)
	}
	return n, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := p.op(ctx, 30*time.Second)
	defer cancel()
	var buf []byte
	// Quality 100 captures PNG.
	if err := chromedp.Run(opCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	opCtx, cancel := p.op(ctx, 5*time.Second)
	defer cancel()
	var current string
	if err := chromedp.Run(opCtx, chromedp.Location(&current)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return current, nil
}

func (p *Page) evalBool(ctx context.Context, script string) (bool, error) {
	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

// poll calls cond until it holds or ctx ends. Errors from cond end the poll.
func (p *Page) poll(ctx context.Context, cond func() (bool, error)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok, err := cond()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// implicitRoles maps the ARIA roles the engine uses to the elements that
// carry them implicitly.
var implicitRoles = map[string]string{
	browser.RoleButton:  `button, input[type="button"], input[type="submit"], [role="button"]`,
	browser.RoleHeading: `h1, h2, h3, h4, h5, h6, [role="heading"]`,
}

const elementsJS = `(function(sel, name, pattern, flags, mode) {
  const re = pattern ? new RegExp(pattern, flags) : null;
  const visible = (el) => {
    const style = window.getComputedStyle(el);
    return style.visibility !== 'hidden' && style.display !== 'none' && el.getClientRects().length > 0;
  };
  const accessibleName = (el) => (el.getAttribute('aria-label') || el.innerText || el.value || '').trim();
  const all = Array.from(document.querySelectorAll(sel)).filter((el) => {
    if (re) return re.test(accessibleName(el));
    if (name) return accessibleName(el).toLowerCase().includes(name.toLowerCase());
    return true;
  });
  if (mode === 'count') return all.length;
  const shown = all.filter(visible);
  if (mode === 'click') {
    if (shown.length === 0) return false;
    shown[0].scrollIntoView({block: 'center'});
    shown[0].click();
    return true;
  }
  return shown.length > 0;
})(%s, %s, %s, %s, %s)`

func roleScript(loc browser.Locator, mode string) string {
	sel, ok := implicitRoles[loc.Role]
	if !ok {
		sel = fmt.Sprintf(`[role=%q]`, loc.Role)
	}
	var pattern, flags string
	if loc.NamePattern != nil {
		pattern, flags = browser.JSPattern(loc.NamePattern)
	}
	return script(sel, loc.Name, pattern, flags, mode)
}

func cssScript(sel, mode string) string {
	return script(sel, "", "", "", mode)
}

func script(sel, name, pattern, flags, mode string) string {
	return fmt.Sprintf(elementsJS, jsString(sel), jsString(name), jsString(pattern), jsString(flags), jsString(mode))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

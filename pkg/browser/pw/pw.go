// Package pw implements the browser contracts on playwright-go.
package pw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/triflow-ai/smoke/pkg/browser"
)

// Options selects how sessions are provisioned. WSEndpoint connects to a
// playwright browser server, CDPEndpoint attaches to a running Chromium,
// and neither launches a local browser.
type Options struct {
	WSEndpoint  string
	CDPEndpoint string
	Headless    bool
	// Install downloads the driver and Chromium before first use.
	Install bool
	Logger  *slog.Logger
}

// Provider launches or connects a Chromium per acquired session.
type Provider struct {
	opts Options
	log  *slog.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewProvider creates a playwright provider. The driver starts lazily on
// the first Acquire.
func NewProvider(opts Options) *Provider {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Provider{opts: opts, log: log}
}

func (p *Provider) driver() (*playwright.Playwright, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pw != nil {
		return p.pw, nil
	}
	runOpts := &playwright.RunOptions{Browsers: []string{"chromium"}}
	if p.opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	p.pw = pw
	return pw, nil
}

// Acquire implements browser.Provider.
func (p *Provider) Acquire(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := p.driver()
	if err != nil {
		return nil, err
	}

	var b playwright.Browser
	switch {
	case p.opts.WSEndpoint != "":
		p.log.Debug("connecting to browser server", "endpoint", p.opts.WSEndpoint)
		b, err = pw.Chromium.Connect(p.opts.WSEndpoint)
	case p.opts.CDPEndpoint != "":
		p.log.Debug("connecting over cdp", "endpoint", p.opts.CDPEndpoint)
		b, err = pw.Chromium.ConnectOverCDP(p.opts.CDPEndpoint)
	default:
		b, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(p.opts.Headless),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("acquire chromium: %w", err)
	}
	return &session{browser: b}, nil
}

// Stop shuts the playwright driver down.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pw == nil {
		return nil
	}
	err := p.pw.Stop()
	p.pw = nil
	return err
}

type session struct {
	browser playwright.Browser
	bctx    playwright.BrowserContext
}

func (s *session) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx, err := s.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1280, Height: 720},
	})
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	s.bctx = bctx
	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}

	p := &Page{page: page, responses: browser.NewResponseLog()}
	page.OnResponse(func(r playwright.Response) {
		p.responses.Add(r.Request().Method(), r.URL())
	})
	return p, nil
}

func (s *session) Close() error {
	var errs []error
	if s.bctx != nil {
		errs = append(errs, s.bctx.Close())
	}
	errs = append(errs, s.browser.Close())
	return errors.Join(errs...)
}

// Page adapts a playwright page.
type Page struct {
	page      playwright.Page
	responses *browser.ResponseLog
}

// millis converts timeout to playwright milliseconds, shortened to the
// context deadline when that comes first.
func millis(ctx context.Context, timeout time.Duration) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	return playwright.Float(float64(timeout.Milliseconds())), nil
}

// waitResult maps a playwright timeout to TimedOut and passes any other
// error through.
func waitResult(err error) (browser.WaitResult, error) {
	switch {
	case err == nil:
		return browser.Satisfied, nil
	case errors.Is(err, playwright.ErrTimeout):
		return browser.TimedOut, nil
	default:
		return browser.TimedOut, err
	}
}

func (p *Page) locate(loc browser.Locator) playwright.Locator {
	if !loc.IsRole() {
		return p.page.Locator(loc.CSS)
	}
	opts := playwright.PageGetByRoleOptions{}
	switch {
	case loc.NamePattern != nil:
		opts.Name = loc.NamePattern
	case loc.Name != "":
		opts.Name = loc.Name
	}
	return p.page.GetByRole(playwright.AriaRole(loc.Role), opts)
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	ms, err := millis(ctx, timeout)
	if err != nil {
		return err
	}
	_, err = p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   ms,
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	return err
}

func (p *Page) WaitFor(ctx context.Context, loc browser.Locator, timeout time.Duration) (browser.WaitResult, error) {
	ms, err := millis(ctx, timeout)
	if err != nil {
		return browser.TimedOut, err
	}
	return waitResult(p.locate(loc).WaitFor(playwright.LocatorWaitForOptions{Timeout: ms}))
}

func (p *Page) Fill(ctx context.Context, loc browser.Locator, value string, timeout time.Duration) error {
	ms, err := millis(ctx, timeout)
	if err != nil {
		return err
	}
	return p.locate(loc).Fill(value, playwright.LocatorFillOptions{Timeout: ms})
}

// Click arms the response journal first so WaitForResponse sees responses
// the click triggers.
func (p *Page) Click(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	ms, err := millis(ctx, timeout)
	if err != nil {
		return err
	}
	p.responses.Arm()
	return p.locate(loc).Click(playwright.LocatorClickOptions{Timeout: ms})
}

func (p *Page) WaitForURL(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (browser.WaitResult, error) {
	ms, err := millis(ctx, timeout)
	if err != nil {
		return browser.TimedOut, err
	}
	return waitResult(p.page.WaitForURL(pattern, playwright.PageWaitForURLOptions{Timeout: ms}))
}

func (p *Page) WaitForResponse(ctx context.Context, match browser.ResponseMatch, timeout time.Duration) (browser.WaitResult, error) {
	return p.responses.Wait(ctx, match, timeout)
}

func (p *Page) Reload(ctx context.Context, timeout time.Duration) (browser.WaitResult, error) {
	ms, err := millis(ctx, timeout)
	if err != nil {
		return browser.TimedOut, err
	}
	_, err = p.page.Reload(playwright.PageReloadOptions{
		Timeout:   ms,
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	return waitResult(err)
}

func (p *Page) IsVisible(ctx context.Context, loc browser.Locator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.locate(loc).IsVisible()
}

func (p *Page) Count(ctx context.Context, loc browser.Locator) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.locate(loc).Count()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	})
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.URL(), nil
}

// Package browser defines the page-control and session-provisioning contracts the
// smoke engine drives. Adapters live in the pw (playwright) and cdp (chromedp)
// subpackages; pkg/replay provides a scripted implementation.
package browser

import (
	"context"
	"regexp"
	"time"
)

// WaitResult is the non-error outcome of a bounded wait.
type WaitResult int

const (
	// Satisfied means the awaited condition held before the deadline.
	Satisfied WaitResult = iota
	// TimedOut means the deadline passed first.
	TimedOut
)

func (r WaitResult) String() string {
	switch r {
	case Satisfied:
		return "satisfied"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Page is one live, controllable browser page.
//
// Wait-style methods report timeouts through WaitResult and reserve the error
// return for everything else (closed target, protocol failure, bad selector).
// Action methods (Navigate, Fill, Click) return an error on any failure.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitFor(ctx context.Context, loc Locator, timeout time.Duration) (WaitResult, error)
	Fill(ctx context.Context, loc Locator, value string, timeout time.Duration) error
	Click(ctx context.Context, loc Locator, timeout time.Duration) error
	WaitForURL(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (WaitResult, error)
	WaitForResponse(ctx context.Context, match ResponseMatch, timeout time.Duration) (WaitResult, error)
	Reload(ctx context.Context, timeout time.Duration) (WaitResult, error)
	IsVisible(ctx context.Context, loc Locator) (bool, error)
	Count(ctx context.Context, loc Locator) (int, error)
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
}

// Session is an acquired browser instance. Close releases it.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Provider acquires browser sessions.
type Provider interface {
	Acquire(ctx context.Context) (Session, error)
}

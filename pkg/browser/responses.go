package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ResponseMatch selects network responses by request method and URL substring.
// Empty fields match anything.
type ResponseMatch struct {
	Method      string
	URLContains string
}

// Matches reports whether a response to the given request satisfies the match.
func (m ResponseMatch) Matches(method, url string) bool {
	if m.Method != "" && !strings.EqualFold(m.Method, method) {
		return false
	}
	return strings.Contains(url, m.URLContains)
}

func (m ResponseMatch) String() string {
	method := m.Method
	if method == "" {
		method = "*"
	}
	return fmt.Sprintf("%s *%s*", method, m.URLContains)
}

type response struct {
	method string
	url    string
}

// ResponseLog journals network responses observed by an adapter so that a
// wait issued after an action still sees responses the action triggered.
// Arm marks the point from which Wait considers responses.
type ResponseLog struct {
	mu     sync.Mutex
	seen   []response
	cursor int
	notify chan struct{}
}

// NewResponseLog creates an empty journal.
func NewResponseLog() *ResponseLog {
	return &ResponseLog{notify: make(chan struct{})}
}

// Arm discards everything observed so far from future waits.
func (l *ResponseLog) Arm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cursor = len(l.seen)
}

// Add records one observed response and wakes pending waits.
func (l *ResponseLog) Add(method, url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, response{method: method, url: url})
	close(l.notify)
	l.notify = make(chan struct{})
}

// Wait blocks until a response matching m arrives after the armed cursor,
// the timeout elapses, or ctx is done. A consumed match advances the cursor.
func (l *ResponseLog) Wait(ctx context.Context, m ResponseMatch, timeout time.Duration) (WaitResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		for i := l.cursor; i < len(l.seen); i++ {
			if m.Matches(l.seen[i].method, l.seen[i].url) {
				l.cursor = i + 1
				l.mu.Unlock()
				return Satisfied, nil
			}
		}
		ch := l.notify
		l.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return TimedOut, nil
		case <-ctx.Done():
			return TimedOut, ctx.Err()
		}
	}
}

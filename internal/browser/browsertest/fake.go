// Package browsertest provides a scriptable in-memory scrape.Page.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// Page serves canned HTML and records every call made against it.
type Page struct {
	mu sync.Mutex

	// Landing, when set, is where Navigate ends up instead of the requested URL.
	Landing string
	// Pages is served by HTML. Advance moves to the next entry.
	Pages   []string
	Cookies map[string]string
	// OnClick runs after a click is recorded.
	OnClick func(p *Page, selector string) error
	// OnWait decides the outcome of WaitUntil. Nil means the predicate holds.
	OnWait func(ctx context.Context, predicate string) error

	url    string
	index  int
	calls  []string
	closed int
}

var _ scrape.Session = (*Page)(nil)

func (p *Page) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

// Calls returns the recorded call log.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// SetURL changes the current location.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

// Advance switches HTML to the next page.
func (p *Page) Advance() {
	p.mu.Lock()
	if p.index < len(p.Pages)-1 {
		p.index++
	}
	p.mu.Unlock()
}

// CloseCount reports how many times Close ran.
func (p *Page) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.record("navigate:" + url)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	if p.Landing != "" {
		p.url = p.Landing
	}
	return nil
}

func (p *Page) Location(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.record("type:" + selector)
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.record("click:" + selector)
	if p.OnClick != nil {
		return p.OnClick(p, selector)
	}
	return nil
}

func (p *Page) Pause(ctx context.Context, _, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.record("pause")
	return nil
}

func (p *Page) WaitURLLeaves(ctx context.Context, pattern string, timeout time.Duration) error {
	loc, err := p.Location(ctx)
	if err != nil {
		return err
	}
	p.record("wait-url")
	if strings.Contains(loc, pattern) {
		return fmt.Errorf("url still contains %q after %s: %w", pattern, timeout, scrape.ErrWaitTimeout)
	}
	return nil
}

func (p *Page) WaitUntil(ctx context.Context, predicate string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.record("wait")
	if p.OnWait != nil {
		return p.OnWait(ctx, predicate)
	}
	return nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Pages) == 0 {
		return "<html><body></body></html>", nil
	}
	return p.Pages[p.index], nil
}

func (p *Page) Cookie(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.Cookies[name]
	return v, ok && v != "", nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

// Browser hands out Page on every Acquire.
type Browser struct {
	Page *Page
	Err  error

	mu       sync.Mutex
	acquired int
}

func (b *Browser) Acquire(ctx context.Context) (scrape.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.acquired++
	b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	return b.Page, nil
}

// Acquired reports how many sessions were requested.
func (b *Browser) Acquired() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquired
}

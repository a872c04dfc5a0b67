// Package browser drives a stealth Chrome session through chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/metrics"
	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

const (
	defaultLocale       = "en-US"
	defaultTimezone     = "Asia/Kuala_Lumpur"
	defaultPollInterval = 250 * time.Millisecond
)

// Config tunes the launched browser.
type Config struct {
	Headless     bool
	ExecPath     string
	NoSandbox    bool
	Locale       string
	Timezone     string
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Locale == "" {
		c.Locale = defaultLocale
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// Launcher starts one isolated browser per Acquire.
type Launcher struct {
	cfg    Config
	pacer  *Pacer
	logger *zap.Logger
}

// NewLauncher builds a Launcher. A nil pacer gets a randomly seeded one.
func NewLauncher(cfg Config, pacer *Pacer, logger *zap.Logger) *Launcher {
	if pacer == nil {
		pacer = NewPacer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg.withDefaults(), pacer: pacer, logger: logger}
}

// Acquire launches a browser bound to ctx. Cancelling ctx tears the browser down.
func (l *Launcher) Acquire(ctx context.Context) (scrape.Session, error) {
	fp := pickFingerprint(l.pacer)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(l.cfg, fp)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(tabCtx, l.setupActions(fp)...); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	metrics.IncActiveSessions()
	l.logger.Debug("browser session started",
		zap.String("user_agent", fp.UserAgent),
		zap.Int("width", fp.Width),
		zap.Int("height", fp.Height),
		zap.Bool("headless", l.cfg.Headless),
	)
	return &Session{
		ctx:         tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		pacer:       l.pacer,
		poll:        l.cfg.PollInterval,
		logger:      l.logger,
	}, nil
}

func (l *Launcher) setupActions(fp Fingerprint) []chromedp.Action {
	return []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
				return fmt.Errorf("inject stealth script: %w", err)
			}
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network: %w", err)
			}
			if err := emulation.SetUserAgentOverride(fp.UserAgent).
				WithAcceptLanguage(l.cfg.Locale + ",en").
				Do(ctx); err != nil {
				return fmt.Errorf("override user agent: %w", err)
			}
			if err := emulation.SetTimezoneOverride(l.cfg.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("override timezone: %w", err)
			}
			if err := emulation.SetLocaleOverride().WithLocale(l.cfg.Locale).Do(ctx); err != nil {
				return fmt.Errorf("override locale: %w", err)
			}
			return nil
		}),
		chromedp.EmulateViewport(int64(fp.Width), int64(fp.Height)),
	}
}

// Session is one browser tab. It is not safe for concurrent use.
type Session struct {
	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	pacer       *Pacer
	poll        time.Duration
	logger      *zap.Logger
	closeOnce   sync.Once
}

// run executes actions on the tab, aborting when the caller's ctx ends.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (s *Session) Type(ctx context.Context, selector, text string) error {
	focus := func(ctx context.Context) error {
		return s.run(ctx, chromedp.Click(selector, queryOption(selector), chromedp.NodeVisible))
	}
	key := func(ctx context.Context, ch string) error {
		return s.run(ctx, chromedp.KeyEvent(ch))
	}
	if err := s.pacer.Type(ctx, focus, key, text); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	click := func(ctx context.Context) error {
		return s.run(ctx, chromedp.Click(selector, queryOption(selector), chromedp.NodeVisible))
	}
	if err := s.pacer.Click(ctx, click); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (s *Session) Pause(ctx context.Context, min, max time.Duration) error {
	return s.pacer.Delay(ctx, min, max)
}

// WaitURLLeaves polls the location until it no longer contains pattern.
func (s *Session) WaitURLLeaves(ctx context.Context, pattern string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		loc, err := s.Location(waitCtx)
		if err == nil && !strings.Contains(loc, pattern) {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("url still contains %q after %s: %w", pattern, timeout, scrape.ErrWaitTimeout)
		case <-ticker.C:
		}
	}
}

// WaitUntil polls a JS predicate until it is truthy.
func (s *Session) WaitUntil(ctx context.Context, predicate string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var ok bool
	err := s.run(waitCtx, chromedp.Poll(predicate, &ok, chromedp.WithPollingInterval(s.poll)))
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case waitCtx.Err() != nil:
		return fmt.Errorf("condition not met after %s: %w", timeout, scrape.ErrWaitTimeout)
	default:
		return fmt.Errorf("poll condition: %w", err)
	}
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// Cookie looks up a cookie visible to the current page.
func (s *Session) Cookie(ctx context.Context, name string) (string, bool, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return "", false, fmt.Errorf("read cookies: %w", err)
	}
	for _, c := range cookies {
		if c.Name == name && c.Value != "" {
			return c.Value, true, nil
		}
	}
	return "", false, nil
}

// Close shuts the browser down. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if cerr := chromedp.Cancel(s.ctx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("close browser: %w", cerr)
		}
		s.tabCancel()
		s.allocCancel()
		metrics.DecActiveSessions()
		s.logger.Debug("browser session closed")
	})
	return err
}

func queryOption(selector string) chromedp.QueryOption {
	if strings.HasPrefix(selector, "/") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

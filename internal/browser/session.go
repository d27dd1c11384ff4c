// Package browser drives a running Chrome profile over the DevTools protocol.
package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Options configures a Session.
type Options struct {
	// StartURL is opened in fresh tabs.
	StartURL string
	// ReuseHost selects an already open tab whose URL contains it. Empty
	// always opens a new tab.
	ReuseHost string
	// EvidenceDir receives screenshots. Default: prints.
	EvidenceDir string
	// NavigateTimeout bounds page loads. Default: 60s.
	NavigateTimeout time.Duration
	// ClearCookiesOnReset drops cookies when a clean tab is requested.
	ClearCookiesOnReset bool
}

func (o Options) withDefaults() Options {
	if o.EvidenceDir == "" {
		o.EvidenceDir = "prints"
	}
	if o.NavigateTimeout <= 0 {
		o.NavigateTimeout = 60 * time.Second
	}
	return o
}

// Session is a connection to one profile's browser. The active tab can be
// replaced by Reset; all page operations run against the current tab.
type Session struct {
	opts Options

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu        sync.Mutex
	tabCtx    context.Context
	tabCancel context.CancelFunc

	nowFunc func() time.Time
}

// Connect attaches to the browser at wsURL. It reuses a matching open tab
// when Options.ReuseHost is set, otherwise opens StartURL in a new tab.
// The connection outlives ctx; release it with Close.
func Connect(ctx context.Context, wsURL string, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	base := context.WithoutCancel(ctx)
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(base, wsURL, chromedp.NoModifyURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		nowFunc:       time.Now,
	}

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		s.Close()
		return nil, eris.Wrapf(err, "browser: list targets at %s", wsURL)
	}

	if id, ok := pickTab(targets, opts.ReuseHost); ok {
		zap.L().Debug("browser: reusing open tab", zap.String("target", string(id)))
		s.tabCtx, s.tabCancel = chromedp.NewContext(browserCtx, chromedp.WithTargetID(id))
		if err := s.run(ctx, chromedp.Evaluate(`window.stop()`, nil)); err != nil {
			zap.L().Debug("browser: stop loading on reused tab", zap.Error(err))
		}
		return s, nil
	}

	if err := s.openTab(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// pickTab returns the first page target whose URL contains host.
func pickTab(targets []*target.Info, host string) (target.ID, bool) {
	if host == "" {
		return "", false
	}
	for _, t := range targets {
		if t.Type == "page" && strings.Contains(t.URL, host) {
			return t.TargetID, true
		}
	}
	return "", false
}

func (s *Session) openTab(ctx context.Context) error {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	s.mu.Lock()
	s.tabCtx, s.tabCancel = tabCtx, tabCancel
	s.mu.Unlock()

	if s.opts.StartURL == "" {
		return s.run(ctx)
	}
	return s.Navigate(ctx, s.opts.StartURL)
}

func (s *Session) tab() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabCtx
}

// run executes actions on the current tab, bounded by ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tab())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "browser: action cancelled")
		}
		return err
	}
	return nil
}

// Refresh reloads the current page.
func (s *Session) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NavigateTimeout)
	defer cancel()
	if err := s.run(ctx, chromedp.Reload(), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return eris.Wrap(err, "browser: reload")
	}
	return nil
}

// Reset closes the current tab and opens StartURL in a clean one.
func (s *Session) Reset(ctx context.Context) error {
	if s.opts.ClearCookiesOnReset {
		if err := s.run(ctx, network.ClearBrowserCookies()); err != nil {
			zap.L().Warn("browser: clear cookies", zap.Error(err))
		}
	}

	s.mu.Lock()
	old := s.tabCancel
	s.mu.Unlock()
	if old != nil {
		old()
	}
	return eris.Wrap(s.openTab(ctx), "browser: open clean tab")
}

// Close detaches from the browser. It does not stop the profile.
func (s *Session) Close() {
	s.mu.Lock()
	if s.tabCancel != nil {
		s.tabCancel()
	}
	s.mu.Unlock()
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

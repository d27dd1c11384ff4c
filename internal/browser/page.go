package browser

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rotisserie/eris"
)

// Page is the set of page operations site extractors use. Selectors are CSS
// queries. Visible and Text never wait; WaitVisible polls up to timeout.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Visible(ctx context.Context, sel string) (bool, error)
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) (bool, error)
	Text(ctx context.Context, sel string) (string, error)
	Fill(ctx context.Context, sel, value string) error
	Press(ctx context.Context, sel, key string) error
	Click(ctx context.Context, sel string) error
}

var _ Page = (*Session)(nil)

// Keys accepted by Press.
const (
	KeyEnter = kb.Enter
	KeyTab   = kb.Tab
)

// Navigate opens url and waits for the body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NavigateTimeout)
	defer cancel()
	if err := s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return eris.Wrapf(err, "browser: navigate %s", url)
	}
	return nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", eris.Wrap(err, "browser: title")
	}
	return title, nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &html)); err != nil {
		return "", eris.Wrap(err, "browser: html")
	}
	return html, nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, chromedp.Location(&u)); err != nil {
		return "", eris.Wrap(err, "browser: location")
	}
	return u, nil
}

func (s *Session) Visible(ctx context.Context, sel string) (bool, error) {
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(visibleJS(sel), &ok)); err != nil {
		return false, eris.Wrapf(err, "browser: visible %s", sel)
	}
	return ok, nil
}

func (s *Session) WaitVisible(ctx context.Context, sel string, timeout time.Duration) (bool, error) {
	deadline := s.nowFunc().Add(timeout)
	for {
		ok, err := s.Visible(ctx, sel)
		if err != nil || ok {
			return ok, err
		}
		if !s.nowFunc().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, eris.Wrapf(ctx.Err(), "browser: wait visible %s", sel)
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (s *Session) Text(ctx context.Context, sel string) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Evaluate(textJS(sel), &text)); err != nil {
		return "", eris.Wrapf(err, "browser: text %s", sel)
	}
	return text, nil
}

// Fill clears the field and types value into it.
func (s *Session) Fill(ctx context.Context, sel, value string) error {
	err := s.run(ctx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
	if err != nil {
		return eris.Wrapf(err, "browser: fill %s", sel)
	}
	return nil
}

func (s *Session) Press(ctx context.Context, sel, key string) error {
	if err := s.run(ctx, chromedp.SendKeys(sel, key, chromedp.ByQuery)); err != nil {
		return eris.Wrapf(err, "browser: press in %s", sel)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, sel string) error {
	if err := s.run(ctx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return eris.Wrapf(err, "browser: click %s", sel)
	}
	return nil
}

func quote(sel string) string {
	b, _ := json.Marshal(sel)
	return string(b)
}

// visibleJS reports whether the first match of sel has a rendered box.
func visibleJS(sel string) string {
	return `(() => {
  const el = document.querySelector(` + quote(sel) + `);
  if (!el) return false;
  const s = window.getComputedStyle(el);
  if (s.visibility === "hidden" || s.display === "none") return false;
  const r = el.getBoundingClientRect();
  return r.width > 0 && r.height > 0;
})()`
}

func textJS(sel string) string {
	return `(() => {
  const el = document.querySelector(` + quote(sel) + `);
  return el ? (el.textContent || "") : "";
})()`
}

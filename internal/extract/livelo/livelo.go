// Package livelo reads the points balance from the Livelo site.
package livelo

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/browser"
	"github.com/sells-group/balance-cli/internal/extract"
)

// Name identifies the extractor in logs and config.
const Name = "livelo"

// ValidTitles are page titles that are never treated as blocks, since the
// home page embeds the defense vendor's scripts.
var ValidTitles = []string{"livelo", "programa de pontos", "troque seus pontos", "clube livelo"}

// Selectors locate the elements the extractor uses.
type Selectors struct {
	Balance     string
	Username    string
	Password    string
	LoginButton string
	CodeInput   string
	ResetPrompt string
}

// DefaultSelectors match the production site.
func DefaultSelectors() Selectors {
	return Selectors{
		Balance:     ".l-header__user-profile-balance",
		Username:    "#username",
		Password:    "#password",
		LoginButton: "#l-header__button_login",
		CodeInput:   "input[autocomplete='one-time-code'], input[name='otp'], #code",
		ResetPrompt: "#kc-update-password, form[action*='UPDATE_PASSWORD']",
	}
}

// Option configures the Extractor.
type Option func(*Extractor)

// WithSelectors overrides the page selectors.
func WithSelectors(s Selectors) Option {
	return func(e *Extractor) { e.sel = s }
}

// WithSettle sets the wait after submitting credentials or a code.
func WithSettle(d time.Duration) Option {
	return func(e *Extractor) { e.settle = d }
}

// WithValidTitles replaces the page titles that are never treated as a
// block page. An empty list keeps the defaults.
func WithValidTitles(titles ...string) Option {
	return func(e *Extractor) {
		if len(titles) > 0 {
			e.detector = extract.BlockDetector{ValidTitles: titles}
		}
	}
}

// WithBalanceWait sets how long to wait for the balance element.
func WithBalanceWait(d time.Duration) Option {
	return func(e *Extractor) { e.balanceWait = d }
}

// Extractor implements extract.Extractor and extract.CodeSubmitter over a
// browser.Page.
type Extractor struct {
	sel         Selectors
	detector    extract.BlockDetector
	settle      time.Duration
	balanceWait time.Duration
	formWait    time.Duration
	typePause   time.Duration
}

var (
	_ extract.Extractor     = (*Extractor)(nil)
	_ extract.CodeSubmitter = (*Extractor)(nil)
)

// New creates an Extractor with production defaults.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		sel:         DefaultSelectors(),
		detector:    extract.BlockDetector{ValidTitles: ValidTitles},
		settle:      10 * time.Second,
		balanceWait: 3 * time.Second,
		formWait:    10 * time.Second,
		typePause:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) Name() string { return Name }

func page(sess extract.Session) (browser.Page, error) {
	p, ok := sess.(browser.Page)
	if !ok {
		return nil, eris.Errorf("livelo: session %T does not support page operations", sess)
	}
	return p, nil
}

// CheckSession reads the header balance, which is only rendered for a
// logged-in user.
func (e *Extractor) CheckSession(ctx context.Context, sess extract.Session) (extract.Check, error) {
	p, err := page(sess)
	if err != nil {
		return extract.Check{}, err
	}
	return e.readBalance(ctx, p)
}

// Extract reads the balance after login.
func (e *Extractor) Extract(ctx context.Context, sess extract.Session) (extract.Check, error) {
	p, err := page(sess)
	if err != nil {
		return extract.Check{}, err
	}
	return e.readBalance(ctx, p)
}

func (e *Extractor) readBalance(ctx context.Context, p browser.Page) (extract.Check, error) {
	blocked, err := e.blocked(ctx, p)
	if err != nil {
		return extract.Check{}, err
	}
	if blocked {
		return extract.Blocked(), nil
	}

	ok, err := p.WaitVisible(ctx, e.sel.Balance, e.balanceWait)
	if err != nil {
		return extract.Check{}, err
	}
	if !ok {
		return extract.NotPresent(), nil
	}
	text, err := p.Text(ctx, e.sel.Balance)
	if err != nil {
		return extract.Check{}, err
	}
	if v, ok := extract.ParseBalance(text); ok {
		return extract.Found(v), nil
	}
	return extract.NotPresent(), nil
}

// Login opens the login form if needed, submits credentials and classifies
// the resulting page.
func (e *Extractor) Login(ctx context.Context, sess extract.Session, creds extract.Credentials) (extract.LoginStatus, error) {
	p, err := page(sess)
	if err != nil {
		return extract.LoginAuthFailed, err
	}

	formVisible, err := p.Visible(ctx, e.sel.Username)
	if err != nil {
		return extract.LoginAuthFailed, err
	}
	if !formVisible {
		if btn, _ := p.Visible(ctx, e.sel.LoginButton); btn {
			if err := p.Click(ctx, e.sel.LoginButton); err != nil {
				return extract.LoginAuthFailed, err
			}
		}
		formVisible, err = p.WaitVisible(ctx, e.sel.Username, e.formWait)
		if err != nil {
			return extract.LoginAuthFailed, err
		}
	}
	if !formVisible {
		if blocked, err := e.blocked(ctx, p); err == nil && blocked {
			return extract.LoginBlocked, nil
		}
		return extract.LoginAuthFailed, eris.New("livelo: login form not found")
	}

	zap.L().Debug("livelo: filling credentials", zap.String("username", creds.Username))
	if err := p.Fill(ctx, e.sel.Username, creds.Username); err != nil {
		return extract.LoginAuthFailed, err
	}
	if err := pause(ctx, e.typePause); err != nil {
		return extract.LoginAuthFailed, err
	}
	if err := p.Fill(ctx, e.sel.Password, creds.Password.Reveal()); err != nil {
		return extract.LoginAuthFailed, err
	}
	if err := pause(ctx, e.typePause); err != nil {
		return extract.LoginAuthFailed, err
	}
	if err := p.Press(ctx, e.sel.Password, browser.KeyEnter); err != nil {
		return extract.LoginAuthFailed, err
	}
	return e.classify(ctx, p)
}

// SubmitCode types the two-factor code and classifies the resulting page.
func (e *Extractor) SubmitCode(ctx context.Context, sess extract.Session, code string) (extract.LoginStatus, error) {
	p, err := page(sess)
	if err != nil {
		return extract.LoginAuthFailed, err
	}
	if err := p.Fill(ctx, e.sel.CodeInput, code); err != nil {
		return extract.LoginAuthFailed, err
	}
	if err := p.Press(ctx, e.sel.CodeInput, browser.KeyEnter); err != nil {
		return extract.LoginAuthFailed, err
	}
	return e.classify(ctx, p)
}

// classify waits for the post-submit page to settle and maps it to a status.
// Order matters: a block page may still show the form.
func (e *Extractor) classify(ctx context.Context, p browser.Page) (extract.LoginStatus, error) {
	if err := pause(ctx, e.settle); err != nil {
		return extract.LoginAuthFailed, err
	}

	blocked, err := e.blocked(ctx, p)
	if err != nil {
		return extract.LoginAuthFailed, err
	}
	if blocked {
		return extract.LoginBlocked, nil
	}

	checks := []struct {
		sel    string
		status extract.LoginStatus
	}{
		{e.sel.ResetPrompt, extract.LoginResetRequired},
		{e.sel.CodeInput, extract.LoginCodeRequired},
		{e.sel.Username, extract.LoginAuthFailed},
	}
	for _, c := range checks {
		if c.sel == "" {
			continue
		}
		ok, err := p.Visible(ctx, c.sel)
		if err != nil {
			return extract.LoginAuthFailed, err
		}
		if ok {
			return c.status, nil
		}
	}
	return extract.LoginOK, nil
}

func (e *Extractor) blocked(ctx context.Context, p browser.Page) (bool, error) {
	title, err := p.Title(ctx)
	if err != nil {
		return false, err
	}
	html, err := p.HTML(ctx)
	if err != nil {
		return false, err
	}
	blocked, kind := e.detector.Detect(title, html)
	if blocked {
		zap.L().Warn("livelo: defense block detected",
			zap.String("title", title),
			zap.String("type", string(kind)),
		)
	}
	return blocked, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

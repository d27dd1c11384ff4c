// Package profile starts and stops isolated browser profiles.
package profile

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/browser"
	"github.com/sells-group/balance-cli/internal/extract"
	"github.com/sells-group/balance-cli/pkg/adspower"
)

// ErrStartFailed is returned when a profile could not be started or
// connected to.
var ErrStartFailed = eris.New("profile: start failed")

// Controller opens and closes the browsing session for a profile. Every
// successful Start must be paired with exactly one Stop.
type Controller interface {
	Start(ctx context.Context, ref string) (extract.Session, error)
	Stop(ctx context.Context, ref string) error
}

// Namer is implemented by controllers that can resolve a display name for a
// profile, used in logs and spreadsheet rows.
type Namer interface {
	ProfileName(ctx context.Context, ref string) string
}

// Connector attaches a Session to a launched browser.
type Connector func(ctx context.Context, wsURL string) (*browser.Session, error)

// AdsPower controls profiles through the AdsPower local API.
type AdsPower struct {
	api     adspower.Client
	connect Connector

	mu       sync.Mutex
	sessions map[string]*browser.Session
}

var (
	_ Controller = (*AdsPower)(nil)
	_ Namer      = (*AdsPower)(nil)
)

// NewAdsPower creates a controller. opts configure the browser sessions it
// opens.
func NewAdsPower(api adspower.Client, opts browser.Options) *AdsPower {
	return &AdsPower{
		api: api,
		connect: func(ctx context.Context, wsURL string) (*browser.Session, error) {
			return browser.Connect(ctx, wsURL, opts)
		},
		sessions: make(map[string]*browser.Session),
	}
}

// WithConnector replaces how sessions attach to a launched browser.
func (a *AdsPower) WithConnector(c Connector) *AdsPower {
	a.connect = c
	return a
}

// Start launches the profile and attaches a session to it. A profile whose
// browser launched but could not be attached to is stopped again.
func (a *AdsPower) Start(ctx context.Context, ref string) (extract.Session, error) {
	wsURL, err := a.api.StartBrowser(ctx, ref)
	if err != nil {
		return nil, eris.Wrapf(ErrStartFailed, "profile: start %s: %v", ref, err)
	}

	sess, err := a.connect(ctx, wsURL)
	if err != nil {
		if stopErr := a.api.StopBrowser(context.WithoutCancel(ctx), ref); stopErr != nil {
			zap.L().Warn("profile: stop after failed connect", zap.String("profile", ref), zap.Error(stopErr))
		}
		return nil, eris.Wrapf(ErrStartFailed, "profile: connect %s: %v", ref, err)
	}

	a.mu.Lock()
	a.sessions[ref] = sess
	a.mu.Unlock()
	return sess, nil
}

// Stop detaches the session and closes the profile's browser.
func (a *AdsPower) Stop(ctx context.Context, ref string) error {
	a.mu.Lock()
	sess := a.sessions[ref]
	delete(a.sessions, ref)
	a.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	return eris.Wrapf(a.api.StopBrowser(ctx, ref), "profile: stop %s", ref)
}

// ProfileName returns the AdsPower display name, or ref when it cannot be
// resolved.
func (a *AdsPower) ProfileName(ctx context.Context, ref string) string {
	name, err := a.api.ProfileName(ctx, ref)
	if err != nil || name == "" {
		zap.L().Debug("profile: name not resolved", zap.String("profile", ref), zap.Error(err))
		return ref
	}
	return name
}

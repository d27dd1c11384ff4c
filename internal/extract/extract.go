// Package extract drives a site Extractor through the session-check, login,
// block-detection and two-factor states of a single account attempt.
package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/balance-cli/internal/model"
)

// ErrCodeTimeout is returned by a CodeProvider when no code arrived in time.
var ErrCodeTimeout = eris.New("extract: timed out waiting for two-factor code")

// Session is a browsing session bound to one profile. It is owned by a single
// job for its lifetime.
type Session interface {
	// Refresh reloads the current page.
	Refresh(ctx context.Context) error
	// Reset discards the current tab and opens a clean one.
	Reset(ctx context.Context) error
	// Snapshot captures diagnostic evidence and returns a reference to it.
	Snapshot(ctx context.Context, name string) (string, error)
}

// CheckStatus is the outcome of a cheap balance check.
type CheckStatus int

const (
	CheckNotPresent CheckStatus = iota
	CheckValue
	CheckBlocked
)

func (s CheckStatus) String() string {
	switch s {
	case CheckNotPresent:
		return "not_present"
	case CheckValue:
		return "value"
	case CheckBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Check is returned by CheckSession and Extract. Value is only meaningful
// when Status is CheckValue.
type Check struct {
	Status CheckStatus
	Value  int64
}

// Found returns a Check carrying v.
func Found(v int64) Check { return Check{Status: CheckValue, Value: v} }

// NotPresent returns an empty Check.
func NotPresent() Check { return Check{Status: CheckNotPresent} }

// Blocked returns a Check signalling a defense-system block.
func Blocked() Check { return Check{Status: CheckBlocked} }

// LoginStatus is the outcome of submitting credentials or a code.
type LoginStatus int

const (
	LoginOK LoginStatus = iota
	LoginAuthFailed
	LoginResetRequired
	LoginBlocked
	LoginCodeRequired
)

func (s LoginStatus) String() string {
	switch s {
	case LoginOK:
		return "ok"
	case LoginAuthFailed:
		return "auth_failed"
	case LoginResetRequired:
		return "reset_required"
	case LoginBlocked:
		return "blocked"
	case LoginCodeRequired:
		return "code_required"
	default:
		return "unknown"
	}
}

// Credentials are passed to Extractor.Login.
type Credentials struct {
	Username string
	Password model.Secret
}

// Extractor implements the site-specific page logic. Every call must report
// one of the typed statuses; a returned error is treated as an unexpected
// collaborator failure.
type Extractor interface {
	Name() string
	CheckSession(ctx context.Context, sess Session) (Check, error)
	Login(ctx context.Context, sess Session, creds Credentials) (LoginStatus, error)
	Extract(ctx context.Context, sess Session) (Check, error)
}

// CodeSubmitter is implemented by extractors for sites that may prompt for a
// two-factor code after Login returns LoginCodeRequired.
type CodeSubmitter interface {
	SubmitCode(ctx context.Context, sess Session, code string) (LoginStatus, error)
}

// CodeProvider supplies pending two-factor codes. WaitForCode returns
// ErrCodeTimeout (possibly wrapped) when nothing arrives before timeout.
type CodeProvider interface {
	WaitForCode(ctx context.Context, accountID string, since time.Time, timeout time.Duration) (string, error)
}

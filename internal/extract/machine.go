package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/model"
)

// State is a step of the per-attempt state machine.
type State int

const (
	StateSessionCheck State = iota
	StateForceRefresh
	StateLoginRequired
	StateAuthenticating
	StateTwoFactorPending
	StateExtracting
	StateBlockDetected
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateSessionCheck:
		return "session_check"
	case StateForceRefresh:
		return "force_refresh"
	case StateLoginRequired:
		return "login_required"
	case StateAuthenticating:
		return "authenticating"
	case StateTwoFactorPending:
		return "two_factor_pending"
	case StateExtracting:
		return "extracting"
	case StateBlockDetected:
		return "block_detected"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Config controls the state machine.
type Config struct {
	// MaxAttempts bounds the clean-tab restarts after a block. Default: 2.
	MaxAttempts int
	// CallTimeout bounds every individual Extractor and Session call.
	// Default: 90s.
	CallTimeout time.Duration
	// BlockBackoff is the pause before restarting on a clean tab. Default: 5s.
	BlockBackoff time.Duration
	// CodeTimeout bounds the wait for a two-factor code. Default: 120s.
	CodeTimeout time.Duration
	// CaptureEvidence requests a Snapshot on terminal failures.
	CaptureEvidence bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     2,
		CallTimeout:     90 * time.Second,
		BlockBackoff:    5 * time.Second,
		CodeTimeout:     120 * time.Second,
		CaptureEvidence: true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.BlockBackoff < 0 {
		c.BlockBackoff = 0
	}
	if c.CodeTimeout <= 0 {
		c.CodeTimeout = d.CodeTimeout
	}
	return c
}

// Machine runs one Extractor invocation per account attempt. A Machine holds
// no per-run state and may be shared across concurrent jobs.
type Machine struct {
	extractor Extractor
	codes     CodeProvider
	cfg       Config

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewMachine creates a Machine. codes may be nil for sites without a
// two-factor step.
func NewMachine(extractor Extractor, codes CodeProvider, cfg Config) *Machine {
	return &Machine{
		extractor: extractor,
		codes:     codes,
		cfg:       cfg.withDefaults(),
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// Run drives the session through the state machine and returns exactly one
// classified outcome. It never panics on collaborator errors.
func (m *Machine) Run(ctx context.Context, sess Session, acct model.Account) model.JobOutcome {
	log := zap.L().With(
		zap.String("account", acct.Username),
		zap.String("extractor", m.extractor.Name()),
	)

	var out model.JobOutcome
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			log.Warn("extract: block detected, restarting on a clean tab",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", m.cfg.BlockBackoff),
			)
			if err := m.sleepFunc(ctx, m.cfg.BlockBackoff); err != nil {
				out = model.Failure(acct, model.FailureUnknown, "cancelled before retry: "+err.Error())
				break
			}
			if err := m.call(ctx, sess.Reset); err != nil {
				// out still holds the block from the previous attempt.
				log.Warn("extract: clean tab reset failed", zap.Error(err))
				out.Detail += "; reset session: " + err.Error()
				break
			}
		}

		var trace []State
		out, trace = m.attempt(ctx, sess, acct, log)
		log.Debug("extract: attempt finished",
			zap.Int("attempt", attempt),
			zap.String("trace", traceString(trace)),
			zap.String("result", string(out.Result)),
			zap.String("kind", string(out.FailureKind)),
		)
		if out.FailureKind != model.FailureBlockDetected {
			break
		}
	}

	if !out.Succeeded() && m.cfg.CaptureEvidence {
		out.EvidenceRef = m.capture(ctx, sess, acct, out.FailureKind, log)
	}
	return out
}

// attempt runs the states once, from SessionCheck to a terminal outcome.
func (m *Machine) attempt(ctx context.Context, sess Session, acct model.Account, log *zap.Logger) (model.JobOutcome, []State) {
	state := StateSessionCheck
	trace := make([]State, 0, 8)
	var codeSince time.Time

	for {
		trace = append(trace, state)

		switch state {
		case StateSessionCheck, StateForceRefresh:
			if state == StateForceRefresh {
				if err := m.call(ctx, sess.Refresh); err != nil {
					log.Warn("extract: refresh failed, checking anyway", zap.Error(err))
				}
			}
			chk, err := m.check(ctx, sess, m.extractor.CheckSession)
			if err != nil {
				return m.unknown(acct, state, err), trace
			}
			switch chk.Status {
			case CheckValue:
				log.Info("extract: balance read without login",
					zap.String("state", state.String()),
					zap.Int64("value", chk.Value),
				)
				return model.Success(acct, chk.Value), append(trace, StateTerminal)
			case CheckBlocked:
				state = StateBlockDetected
			default:
				if state == StateSessionCheck {
					state = StateForceRefresh
				} else {
					state = StateLoginRequired
				}
			}

		case StateLoginRequired:
			log.Info("extract: balance not visible, logging in")
			state = StateAuthenticating

		case StateAuthenticating:
			codeSince = m.nowFunc()
			var status LoginStatus
			err := m.call(ctx, func(ctx context.Context) error {
				var err error
				status, err = m.extractor.Login(ctx, sess, Credentials{Username: acct.Username, Password: acct.Password})
				return err
			})
			if err != nil {
				return m.unknown(acct, state, err), trace
			}
			next, out, done := m.afterLogin(acct, status, "login")
			if done {
				return out, append(trace, StateTerminal)
			}
			state = next

		case StateTwoFactorPending:
			next, out, done := m.twoFactor(ctx, sess, acct, codeSince, log)
			if done {
				return out, append(trace, StateTerminal)
			}
			state = next

		case StateExtracting:
			chk, err := m.check(ctx, sess, m.extractor.Extract)
			if err != nil {
				return m.unknown(acct, state, err), trace
			}
			switch chk.Status {
			case CheckValue:
				log.Info("extract: balance read after login", zap.Int64("value", chk.Value))
				return model.Success(acct, chk.Value), append(trace, StateTerminal)
			case CheckBlocked:
				state = StateBlockDetected
			default:
				return model.Failure(acct, model.FailureExtractionNotFound,
					"balance not found after successful login"), append(trace, StateTerminal)
			}

		case StateBlockDetected:
			return model.Failure(acct, model.FailureBlockDetected,
				fmt.Sprintf("defense block after %s", prevState(trace))), append(trace, StateTerminal)

		default:
			return model.Failure(acct, model.FailureUnknown, "invalid state "+state.String()), trace
		}
	}
}

// afterLogin maps a login or code submission status to the next state.
func (m *Machine) afterLogin(acct model.Account, status LoginStatus, step string) (State, model.JobOutcome, bool) {
	switch status {
	case LoginOK:
		return StateExtracting, model.JobOutcome{}, false
	case LoginBlocked:
		return StateBlockDetected, model.JobOutcome{}, false
	case LoginCodeRequired:
		if step == "code" {
			return StateTerminal, model.Failure(acct, model.FailureAuthFailed, "two-factor code rejected"), true
		}
		return StateTwoFactorPending, model.JobOutcome{}, false
	case LoginAuthFailed:
		return StateTerminal, model.Failure(acct, model.FailureAuthFailed, step+" rejected credentials"), true
	case LoginResetRequired:
		return StateTerminal, model.Failure(acct, model.FailureResetRequired, "site requires a password reset"), true
	default:
		return StateTerminal, model.Failure(acct, model.FailureUnknown, fmt.Sprintf("unexpected %s status %d", step, status)), true
	}
}

func (m *Machine) twoFactor(ctx context.Context, sess Session, acct model.Account, since time.Time, log *zap.Logger) (State, model.JobOutcome, bool) {
	submitter, ok := m.extractor.(CodeSubmitter)
	if !ok || m.codes == nil {
		return StateTerminal, model.Failure(acct, model.FailureUnknown,
			"site asked for a two-factor code but no code provider is configured"), true
	}

	log.Info("extract: waiting for two-factor code", zap.Duration("timeout", m.cfg.CodeTimeout))
	code, err := m.codes.WaitForCode(ctx, acct.Key(), since, m.cfg.CodeTimeout)
	if errors.Is(err, ErrCodeTimeout) {
		return StateTerminal, model.Failure(acct, model.FailureTimeoutWaitingForCode,
			fmt.Sprintf("no code received within %s", m.cfg.CodeTimeout)), true
	}
	if err != nil {
		return StateTerminal, m.unknown(acct, StateTwoFactorPending, err), true
	}

	var status LoginStatus
	err = m.call(ctx, func(ctx context.Context) error {
		var err error
		status, err = submitter.SubmitCode(ctx, sess, code)
		return err
	})
	if err != nil {
		return StateTerminal, m.unknown(acct, StateTwoFactorPending, err), true
	}
	return m.afterLogin(acct, status, "code")
}

func (m *Machine) check(ctx context.Context, sess Session, fn func(context.Context, Session) (Check, error)) (Check, error) {
	var chk Check
	err := m.call(ctx, func(ctx context.Context) error {
		var err error
		chk, err = fn(ctx, sess)
		return err
	})
	return chk, err
}

// call runs fn under the per-call timeout.
func (m *Machine) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return eris.Wrapf(err, "extract: call timed out after %s", m.cfg.CallTimeout)
	}
	return err
}

func (m *Machine) unknown(acct model.Account, state State, err error) model.JobOutcome {
	zap.L().Error("extract: collaborator error",
		zap.String("account", acct.Username),
		zap.String("state", state.String()),
		zap.Error(err),
	)
	return model.Failure(acct, model.FailureUnknown, state.String()+": "+err.Error())
}

// capture requests evidence for a failed outcome. Failures are logged only.
func (m *Machine) capture(ctx context.Context, sess Session, acct model.Account, kind model.FailureKind, log *zap.Logger) string {
	captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CallTimeout)
	defer cancel()

	name := fmt.Sprintf("%s_%s", kind, acct.Key())
	ref, err := sess.Snapshot(captureCtx, name)
	if err != nil {
		log.Warn("extract: evidence capture failed", zap.Error(err))
		return ""
	}
	return ref
}

func prevState(trace []State) string {
	if len(trace) < 2 {
		return StateSessionCheck.String()
	}
	return trace[len(trace)-2].String()
}

func traceString(trace []State) string {
	parts := make([]string, len(trace))
	for i, s := range trace {
		parts[i] = s.String()
	}
	return strings.Join(parts, ">")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

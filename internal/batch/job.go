package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/extract"
	"github.com/sells-group/balance-cli/internal/model"
	"github.com/sells-group/balance-cli/internal/profile"
)

const stopTimeout = 30 * time.Second

// StateMachine turns one browsing session into a classified outcome.
// *extract.Machine implements it.
type StateMachine interface {
	Run(ctx context.Context, sess extract.Session, acct model.Account) model.JobOutcome
}

var _ StateMachine = (*extract.Machine)(nil)

// Runner runs one account attempt. *Job implements it.
type Runner interface {
	Run(ctx context.Context, acct model.Account, pass int) model.JobOutcome
}

// Job is the per-account worker: start the profile, run the state machine,
// stop the profile. A Job holds no per-account state and is shared by all
// workers.
type Job struct {
	profiles profile.Controller
	machine  StateMachine
	cooldown time.Duration

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

var _ Runner = (*Job)(nil)

// NewJob creates a Job. cooldown is the pause after a profile is stopped,
// giving the profile manager time to release the browser.
func NewJob(profiles profile.Controller, machine StateMachine, cooldown time.Duration) *Job {
	return &Job{
		profiles:  profiles,
		machine:   machine,
		cooldown:  cooldown,
		nowFunc:   time.Now,
		sleepFunc: sleep,
	}
}

// Run executes one attempt for acct. It always returns an outcome; errors and
// panics from collaborators are converted to failures.
func (j *Job) Run(ctx context.Context, acct model.Account, pass int) (out model.JobOutcome) {
	start := j.nowFunc()
	log := zap.L().With(
		zap.String("account", acct.Username),
		zap.String("profile", acct.ProfileRef),
		zap.Int("pass", pass),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("batch: job panicked", zap.Any("panic", r))
			out = model.Failure(acct, model.FailureUnknown, fmt.Sprintf("panic: %v", r))
		}
		out.Pass = pass
		out.Duration = j.nowFunc().Sub(start)
		log.Info("batch: job finished",
			zap.String("result", string(out.Result)),
			zap.String("kind", string(out.FailureKind)),
			zap.Duration("duration", out.Duration),
		)
	}()

	if acct.ProfileRef == "" {
		log.Warn("batch: account has no profile, skipping")
		return model.Failure(acct, model.FailureMissingProfileRef, "")
	}

	sess, err := j.profiles.Start(ctx, acct.ProfileRef)
	if err != nil {
		log.Error("batch: profile start failed", zap.Error(err))
		return model.Failure(acct, model.FailureProfileStart, err.Error())
	}
	defer j.release(ctx, acct.ProfileRef, log)

	return j.machine.Run(ctx, sess, acct)
}

// release stops the profile even when ctx is already cancelled, then waits
// out the cooldown.
func (j *Job) release(ctx context.Context, ref string, log *zap.Logger) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()

	if err := j.profiles.Stop(stopCtx, ref); err != nil {
		log.Warn("batch: profile stop failed", zap.Error(err))
	}
	if j.cooldown > 0 {
		_ = j.sleepFunc(stopCtx, j.cooldown)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

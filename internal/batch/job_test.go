package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/balance-cli/internal/extract"
	"github.com/sells-group/balance-cli/internal/model"
)

type machineFunc func(ctx context.Context, sess extract.Session, acct model.Account) model.JobOutcome

func (f machineFunc) Run(ctx context.Context, sess extract.Session, acct model.Account) model.JobOutcome {
	return f(ctx, sess, acct)
}

func TestJob_MissingProfileRef(t *testing.T) {
	ctrl := newCountingController(0)
	job := NewJob(ctrl, newScriptedMachine(), 0)

	acct := testAccounts("a")[0]
	acct.ProfileRef = ""
	out := job.Run(context.Background(), acct, 1)

	assert.Equal(t, model.FailureMissingProfileRef, out.FailureKind)
	assert.Equal(t, 1, out.Pass)
	assert.Equal(t, 0, ctrl.totalStarts())
}

func TestJob_ProfileStartFailure(t *testing.T) {
	ctrl := newCountingController(0)
	ctrl.startErr["p-a"] = errors.New("profile busy")
	job := NewJob(ctrl, newScriptedMachine(), 0)

	out := job.Run(context.Background(), testAccounts("a")[0], 1)

	assert.Equal(t, model.FailureProfileStart, out.FailureKind)
	assert.Contains(t, out.Detail, "profile busy")
	assert.Equal(t, 0, ctrl.stopCount("p-a"))
}

func TestJob_SuccessStopsProfileAndCoolsDown(t *testing.T) {
	ctrl := newCountingController(0)
	job := NewJob(ctrl, newScriptedMachine().on("a", succeed(77)), 5*time.Second)
	var slept time.Duration
	job.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	out := job.Run(context.Background(), testAccounts("a")[0], 2)

	require.True(t, out.Succeeded())
	assert.Equal(t, int64(77), *out.Value)
	assert.Equal(t, 2, out.Pass)
	assert.Equal(t, 1, ctrl.stopCount("p-a"))
	assert.Equal(t, 5*time.Second, slept)
}

func TestJob_StopRunsAfterCancellation(t *testing.T) {
	ctrl := newCountingController(0)
	ctx, cancel := context.WithCancel(context.Background())
	job := NewJob(ctrl, machineFunc(func(_ context.Context, _ extract.Session, acct model.Account) model.JobOutcome {
		cancel()
		return model.Failure(acct, model.FailureUnknown, "cancelled")
	}), 0)

	out := job.Run(ctx, testAccounts("a")[0], 1)

	assert.Equal(t, model.FailureUnknown, out.FailureKind)
	assert.Equal(t, 1, ctrl.stopCount("p-a"))
	assert.NoError(t, ctrl.stopCtxErr, "stop gets a live context")
}

func TestJob_PanicBecomesUnknown(t *testing.T) {
	ctrl := newCountingController(0)
	job := NewJob(ctrl, machineFunc(func(context.Context, extract.Session, model.Account) model.JobOutcome {
		panic("nil page")
	}), 0)

	out := job.Run(context.Background(), testAccounts("a")[0], 1)

	assert.Equal(t, model.FailureUnknown, out.FailureKind)
	assert.Contains(t, out.Detail, "nil page")
	assert.Equal(t, 1, ctrl.stopCount("p-a"))
	assert.Equal(t, int32(0), ctrl.active.Load())
}

func TestJob_RecordsDuration(t *testing.T) {
	ctrl := newCountingController(0)
	job := NewJob(ctrl, newScriptedMachine(), 0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	job.nowFunc = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	out := job.Run(context.Background(), testAccounts("a")[0], 1)
	assert.Equal(t, time.Second, out.Duration)
}

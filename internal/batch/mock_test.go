package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/balance-cli/internal/extract"
	"github.com/sells-group/balance-cli/internal/model"
)

type nopSession struct{}

func (nopSession) Refresh(context.Context) error { return nil }
func (nopSession) Reset(context.Context) error { return nil }
func (nopSession) Snapshot(context.Context, string) (string, error) { return "", nil }

// countingController records Start/Stop pairs and the peak number of
// concurrently open sessions.
type countingController struct {
	hold     time.Duration
	startErr map[string]error

	active atomic.Int32
	peak   atomic.Int32

	mu     sync.Mutex
	starts map[string]int
	stops  map[string]int
	// stopCtxErr is ctx.Err() seen by the last Stop.
	stopCtxErr error
}

func newCountingController(hold time.Duration) *countingController {
	return &countingController{
		hold:     hold,
		startErr: map[string]error{},
		starts:   map[string]int{},
		stops:    map[string]int{},
	}
}

func (c *countingController) Start(_ context.Context, ref string) (extract.Session, error) {
	c.mu.Lock()
	c.starts[ref]++
	err := c.startErr[ref]
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	n := c.active.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if c.hold > 0 {
		time.Sleep(c.hold)
	}
	return nopSession{}, nil
}

func (c *countingController) Stop(ctx context.Context, ref string) error {
	c.active.Add(-1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops[ref]++
	c.stopCtxErr = ctx.Err()
	return nil
}

func (c *countingController) startCount(ref string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts[ref]
}

func (c *countingController) stopCount(ref string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops[ref]
}

func (c *countingController) totalStarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.starts {
		n += v
	}
	return n
}

// scriptedMachine returns scripted outcomes per account key, one per call.
// The last scripted outcome repeats.
type scriptedMachine struct {
	mu     sync.Mutex
	script map[string][]func(model.Account) model.JobOutcome
	calls  map[string]int
}

func newScriptedMachine() *scriptedMachine {
	return &scriptedMachine{
		script: map[string][]func(model.Account) model.JobOutcome{},
		calls:  map[string]int{},
	}
}

func (m *scriptedMachine) on(key string, steps ...func(model.Account) model.JobOutcome) *scriptedMachine {
	m.script[key] = steps
	return m
}

func (m *scriptedMachine) Run(_ context.Context, _ extract.Session, acct model.Account) model.JobOutcome {
	m.mu.Lock()
	n := m.calls[acct.Key()]
	m.calls[acct.Key()]++
	steps := m.script[acct.Key()]
	m.mu.Unlock()

	if len(steps) == 0 {
		return model.Success(acct, 100)
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	return steps[n](acct)
}

func succeed(v int64) func(model.Account) model.JobOutcome {
	return func(a model.Account) model.JobOutcome { return model.Success(a, v) }
}

func fail(kind model.FailureKind) func(model.Account) model.JobOutcome {
	return func(a model.Account) model.JobOutcome { return model.Failure(a, kind, "scripted") }
}

// recordingSink collects outcomes and reports.
type recordingSink struct {
	mu       sync.Mutex
	outcomes []model.JobOutcome
	reports  []*model.BatchReport
	err      error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) RecordOutcome(_ context.Context, _ string, out model.JobOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, out)
	return s.err
}

func (s *recordingSink) SendReport(_ context.Context, r *model.BatchReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return s.err
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) CreateRun(ctx context.Context) (*model.BatchRun, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(*model.BatchRun), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRecorder) CompleteRun(ctx context.Context, runID string, status model.RunStatus, r *model.BatchReport, errMsg string) error {
	args := m.Called(ctx, runID, status, r, errMsg)
	return args.Error(0)
}

type staticSource struct {
	accounts []model.Account
	err      error
}

func (s staticSource) Accounts(context.Context) ([]model.Account, error) {
	return s.accounts, s.err
}

// Package batch runs account jobs with bounded concurrency, retries accounts
// that were blocked by the site's defense system once, and publishes the
// final report.
package batch

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/balance-cli/internal/model"
	"github.com/sells-group/balance-cli/internal/report"
)

// ErrAccountSource is returned by Run when the account list cannot be
// fetched. No job is dispatched in that case.
var ErrAccountSource = eris.New("batch: account source unavailable")

// OutcomeSink receives every final outcome. Errors are logged and ignored.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, runID string, out model.JobOutcome) error
}

// ReportSink receives the finished report. Errors are logged and ignored.
type ReportSink interface {
	Name() string
	SendReport(ctx context.Context, r *model.BatchReport) error
}

// RunRecorder persists batch run history.
type RunRecorder interface {
	CreateRun(ctx context.Context) (*model.BatchRun, error)
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, r *model.BatchReport, errMsg string) error
}

// Config controls scheduling.
type Config struct {
	Concurrency int
	// Limit caps the number of accounts taken from the source. Zero means
	// no cap.
	Limit int
	// StaggerMin and StaggerMax bound the random delay before each
	// first-pass dispatch.
	StaggerMin time.Duration
	StaggerMax time.Duration
	// RetryBlocked enables the second pass for block_detected failures.
	RetryBlocked bool
}

// Orchestrator owns the account queue and the two-pass scheduling policy.
type Orchestrator struct {
	runner Runner
	cfg    Config

	runs     RunRecorder
	outcomes []OutcomeSink
	reports  []ReportSink

	stagger func(ctx context.Context) error
	nowFunc func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunRecorder persists run history through r.
func WithRunRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.runs = r }
}

// WithOutcomeSinks adds sinks for final outcomes.
func WithOutcomeSinks(sinks ...OutcomeSink) Option {
	return func(o *Orchestrator) { o.outcomes = append(o.outcomes, sinks...) }
}

// WithReportSinks adds sinks for the finished report.
func WithReportSinks(sinks ...ReportSink) Option {
	return func(o *Orchestrator) { o.reports = append(o.reports, sinks...) }
}

// WithStagger replaces the first-pass dispatch delay.
func WithStagger(fn func(ctx context.Context) error) Option {
	return func(o *Orchestrator) { o.stagger = fn }
}

// New creates an Orchestrator.
func New(runner Runner, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	o := &Orchestrator{
		runner:  runner,
		cfg:     cfg,
		nowFunc: time.Now,
	}
	o.stagger = randomDelay(cfg.StaggerMin, cfg.StaggerMax)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run fetches accounts from source, runs the batch and publishes the report
// to the configured sinks. It fails only when the source fails.
func (o *Orchestrator) Run(ctx context.Context, source AccountSource) (*model.BatchReport, error) {
	runID := o.createRun(ctx)

	accounts, err := source.Accounts(ctx)
	if err != nil {
		err = eris.Wrap(ErrAccountSource, err.Error())
		zap.L().Error("batch: aborting, no accounts dispatched", zap.Error(err))
		o.completeRun(ctx, runID, model.RunStatusAborted, nil, err.Error())
		return &model.BatchReport{RunID: runID, Failures: []model.FailureDetail{}}, err
	}
	accounts = dedupe(accounts)
	if o.cfg.Limit > 0 && len(accounts) > o.cfg.Limit {
		accounts = accounts[:o.cfg.Limit]
	}

	r := o.runBatch(ctx, runID, accounts, o.cfg.Concurrency)
	r.RunID = runID
	o.completeRun(ctx, runID, model.RunStatusComplete, r, "")

	for _, sink := range o.reports {
		if err := sink.SendReport(ctx, r); err != nil {
			zap.L().Warn("batch: report sink failed", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
	return r, nil
}

// RunBatch dispatches every account, waits for all of them, then re-runs the
// accounts whose outcome was block_detected once. The returned report holds
// exactly one final outcome per account.
func (o *Orchestrator) RunBatch(ctx context.Context, accounts []model.Account, concurrencyLimit int) *model.BatchReport {
	return o.runBatch(ctx, "", accounts, concurrencyLimit)
}

func (o *Orchestrator) runBatch(ctx context.Context, runID string, accounts []model.Account, limit int) *model.BatchReport {
	start := o.nowFunc()
	if limit < 1 {
		limit = 1
	}
	accounts = dedupe(accounts)

	log := zap.L().With(zap.String("run_id", runID))
	log.Info("batch: starting", zap.Int("accounts", len(accounts)), zap.Int("concurrency", limit))

	// pass 1
	first := o.runPass(ctx, runID, accounts, limit, 1)
	all := make([]model.JobOutcome, 0, len(first))
	all = append(all, first...)

	// pass 2
	if retry := o.retrySet(accounts, first); len(retry) > 0 {
		log.Info("batch: retrying blocked accounts", zap.Int("accounts", len(retry)))
		all = append(all, o.runPass(ctx, runID, retry, limit, 2)...)
	}

	r := report.Summarize(all, o.nowFunc().Sub(start))
	r.StartedAt = start
	log.Info("batch: complete",
		zap.Int("total", r.Total),
		zap.Int("success", r.Stats.SuccessCount),
		zap.Int("failed", r.Stats.FailureCount),
		zap.Int("retried", r.Stats.RetriedCount),
		zap.Duration("elapsed", r.Elapsed),
	)
	return &r
}

// runPass runs accounts under the concurrency limit and returns once every
// job has finished. Outcomes are collected by a single consumer goroutine,
// which also forwards final outcomes to the sinks.
func (o *Orchestrator) runPass(ctx context.Context, runID string, accounts []model.Account, limit, pass int) []model.JobOutcome {
	results := make(chan model.JobOutcome)
	collected := make([]model.JobOutcome, 0, len(accounts))
	done := make(chan struct{})

	go func() {
		defer close(done)
		for out := range results {
			collected = append(collected, out)
			if o.isFinal(out) {
				o.publish(ctx, runID, out)
			}
		}
	}()

	// Sibling failures never cancel each other, so no errgroup context.
	var g errgroup.Group
	g.SetLimit(limit)
	for _, acct := range accounts {
		if pass == 1 {
			_ = o.stagger(ctx)
		}
		g.Go(func() error {
			results <- o.runner.Run(ctx, acct, pass)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	<-done
	return collected
}

// retrySet returns the accounts whose first-pass outcome is retryable, in
// dispatch order.
func (o *Orchestrator) retrySet(accounts []model.Account, first []model.JobOutcome) []model.Account {
	if !o.cfg.RetryBlocked {
		return nil
	}
	eligible := make(map[string]bool)
	for _, out := range first {
		if !out.Succeeded() && out.FailureKind.Retryable() {
			eligible[out.AccountID] = true
		}
	}
	var retry []model.Account
	for _, acct := range accounts {
		if eligible[acct.Key()] {
			retry = append(retry, acct)
		}
	}
	return retry
}

// isFinal reports whether out will not be superseded by a retry.
func (o *Orchestrator) isFinal(out model.JobOutcome) bool {
	return out.Pass > 1 || !o.cfg.RetryBlocked || out.Succeeded() || !out.FailureKind.Retryable()
}

func (o *Orchestrator) publish(ctx context.Context, runID string, out model.JobOutcome) {
	for _, sink := range o.outcomes {
		if err := sink.RecordOutcome(ctx, runID, out); err != nil {
			zap.L().Warn("batch: outcome sink failed",
				zap.String("account", out.Username),
				zap.Error(err),
			)
		}
	}
}

func (o *Orchestrator) createRun(ctx context.Context) string {
	if o.runs == nil {
		return ""
	}
	run, err := o.runs.CreateRun(ctx)
	if err != nil {
		zap.L().Warn("batch: could not record run start", zap.Error(err))
		return ""
	}
	return run.ID
}

func (o *Orchestrator) completeRun(ctx context.Context, runID string, status model.RunStatus, r *model.BatchReport, errMsg string) {
	if o.runs == nil || runID == "" {
		return
	}
	if err := o.runs.CompleteRun(context.WithoutCancel(ctx), runID, status, r, errMsg); err != nil {
		zap.L().Warn("batch: could not record run completion", zap.String("run_id", runID), zap.Error(err))
	}
}

// dedupe drops repeated accounts, keeping the first occurrence.
func dedupe(accounts []model.Account) []model.Account {
	seen := make(map[string]bool, len(accounts))
	out := make([]model.Account, 0, len(accounts))
	for _, a := range accounts {
		if seen[a.Key()] {
			zap.L().Warn("batch: duplicate account ignored", zap.String("account", a.Username))
			continue
		}
		seen[a.Key()] = true
		out = append(out, a)
	}
	return out
}

func randomDelay(lo, hi time.Duration) func(ctx context.Context) error {
	if hi < lo {
		hi = lo
	}
	return func(ctx context.Context) error {
		d := lo
		if hi > lo {
			d += rand.N(hi - lo)
		}
		return sleep(ctx, d)
	}
}

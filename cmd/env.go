package main

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/batch"
	"github.com/sells-group/balance-cli/internal/browser"
	"github.com/sells-group/balance-cli/internal/config"
	"github.com/sells-group/balance-cli/internal/extract"
	"github.com/sells-group/balance-cli/internal/extract/livelo"
	"github.com/sells-group/balance-cli/internal/notify"
	"github.com/sells-group/balance-cli/internal/profile"
	"github.com/sells-group/balance-cli/internal/report"
	"github.com/sells-group/balance-cli/internal/secret"
	"github.com/sells-group/balance-cli/internal/sheetlog"
	"github.com/sells-group/balance-cli/internal/store"
	"github.com/sells-group/balance-cli/internal/twofactor"
	"github.com/sells-group/balance-cli/pkg/adspower"
	"github.com/sells-group/balance-cli/pkg/clickup"
	"github.com/sells-group/balance-cli/pkg/notion"
)

// batchOptions are the command-line overrides for a batch run.
type batchOptions struct {
	Concurrency  int
	Limit        int
	AccountsFile string
	NoRetry      bool
}

// batchEnv holds the store, account source and orchestrator used by the
// batch, schedule and check commands.
type batchEnv struct {
	Store        store.Store
	Source       batch.AccountSource
	Orchestrator *batch.Orchestrator
	Job          batch.Runner
	Sinks        []batch.OutcomeSink
}

// Close releases resources held by the environment.
func (e *batchEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initBatch validates config, opens the store and wires the profile
// controller, extractor, code poller and sinks into an Orchestrator. Callers
// should defer env.Close().
func initBatch(ctx context.Context, opts batchOptions) (*batchEnv, error) {
	if err := cfg.Validate("batch"); err != nil {
		return nil, err
	}

	dec, err := initCipher()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	var source batch.AccountSource
	if opts.AccountsFile != "" {
		source = batch.NewFileSource(opts.AccountsFile, decrypterOrNil(dec))
		zap.L().Info("loading accounts from file", zap.String("path", opts.AccountsFile))
	} else {
		source = batch.NewStoreSource(st, decrypterOrNil(dec))
	}

	job := newJob(st)
	sinks := outcomeSinks(st)
	orch := batch.New(job, batchConfig(cfg, opts),
		batch.WithRunRecorder(st),
		batch.WithOutcomeSinks(sinks...),
		batch.WithReportSinks(reportSinks(cfg)...),
	)

	return &batchEnv{Store: st, Source: source, Orchestrator: orch, Job: job, Sinks: sinks}, nil
}

func initCipher() (*secret.Cipher, error) {
	if len(cfg.Crypto.Keys) == 0 {
		zap.L().Warn("crypto.keys not set, passwords are read as stored")
		return nil, nil
	}
	c, err := secret.New(cfg.Crypto.Keys...)
	if err != nil {
		return nil, eris.Wrap(err, "init cipher")
	}
	return c, nil
}

// decrypterOrNil avoids handing a typed nil *secret.Cipher to the sources.
func decrypterOrNil(c *secret.Cipher) batch.Decrypter {
	if c == nil {
		return nil
	}
	return c
}

func newJob(codes twofactor.Inbox) *batch.Job {
	ads := adspower.NewClient(cfg.AdsPower.APIKey,
		adspower.WithBaseURL(cfg.AdsPower.BaseURL),
		adspower.WithRateLimit(cfg.AdsPower.RateLimit),
		adspower.WithLaunchArgs(cfg.AdsPower.LaunchArgs...),
		adspower.WithHTTPClient(&http.Client{Timeout: seconds(cfg.AdsPower.TimeoutSecs)}),
	)

	profiles := profile.NewAdsPower(ads, browser.Options{
		StartURL:            cfg.Browser.StartURL,
		ReuseHost:           hostOf(cfg.Browser.StartURL),
		EvidenceDir:         cfg.Browser.EvidenceDir,
		NavigateTimeout:     seconds(cfg.Browser.NavigateTimeoutSecs),
		ClearCookiesOnReset: cfg.Browser.ClearCookiesOnReset,
	})

	extractor := livelo.New(
		livelo.WithSettle(seconds(cfg.Extract.SettleSecs)),
		livelo.WithValidTitles(cfg.Extract.ValidTitles...),
	)

	machine := extract.NewMachine(extractor, twofactor.NewPoller(codes, seconds(cfg.TwoFactor.PollIntervalSecs)), extract.Config{
		MaxAttempts:     cfg.Extract.MaxAttempts,
		CallTimeout:     seconds(cfg.Extract.CallTimeoutSecs),
		BlockBackoff:    seconds(cfg.Extract.BlockBackoffSecs),
		CodeTimeout:     seconds(cfg.TwoFactor.TimeoutSecs),
		CaptureEvidence: cfg.Extract.CaptureEvidence,
	})

	return batch.NewJob(profiles, machine, seconds(cfg.Batch.CooldownSecs))
}

func batchConfig(c *config.Config, opts batchOptions) batch.Config {
	bc := batch.Config{
		Concurrency:  c.Batch.Concurrency,
		Limit:        opts.Limit,
		StaggerMin:   time.Duration(c.Batch.StaggerMinMs) * time.Millisecond,
		StaggerMax:   time.Duration(c.Batch.StaggerMaxMs) * time.Millisecond,
		RetryBlocked: c.Batch.RetryBlocked && !opts.NoRetry,
	}
	if opts.Concurrency > 0 {
		bc.Concurrency = opts.Concurrency
	}
	return bc
}

func outcomeSinks(st store.Store) []batch.OutcomeSink {
	sinks := []batch.OutcomeSink{st}
	if cfg.Sheet.Path != "" {
		sinks = append(sinks, sheetlog.NewWriter(cfg.Sheet.Path))
		zap.L().Info("spreadsheet log enabled", zap.String("path", cfg.Sheet.Path))
	}
	return sinks
}

func reportSinks(c *config.Config) []batch.ReportSink {
	opts := report.Options{Locale: c.Report.Locale}
	var sinks []batch.ReportSink

	if c.ClickUp.Token != "" && c.ClickUp.TargetID != "" {
		client := clickup.NewClient(c.ClickUp.Token, clickup.WithBaseURL(c.ClickUp.BaseURL))
		sinks = append(sinks, notify.NewClickUpSink(client, c.ClickUp.TargetID, opts))
	} else {
		zap.L().Debug("clickup not configured, report will not be posted")
	}

	if c.Notion.Token != "" && c.Notion.ReportDB != "" {
		sinks = append(sinks, notify.NewNotionSink(notion.NewClient(c.Notion.Token), c.Notion.ReportDB, opts))
	}

	if c.Monitoring.WebhookURL != "" {
		sinks = append(sinks, notify.NewAlerter(c.Monitoring))
	}
	return sinks
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// hostOf returns the registrable part of rawURL's host, used to pick an
// already open tab for the site.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

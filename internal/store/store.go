// Package store persists accounts, balance history, ingested two-factor
// messages and batch run history.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/balance-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for batch runs.
type Store interface {
	// Accounts
	ListActiveAccounts(ctx context.Context) ([]model.Account, error)
	UpsertAccount(ctx context.Context, acct model.Account) error
	RecordOutcome(ctx context.Context, runID string, out model.JobOutcome) error

	// Batch runs
	CreateRun(ctx context.Context) (*model.BatchRun, error)
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.BatchReport, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.BatchRun, error)
	ListRuns(ctx context.Context, limit int) ([]model.BatchRun, error)

	// Two-factor inbox
	SaveCode(ctx context.Context, msg model.CodeMessage) (*model.CodeMessage, error)
	CodesSince(ctx context.Context, accountID string, since time.Time) ([]model.CodeMessage, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// outcomeStatus is the account's last_status column value for out.
func outcomeStatus(out model.JobOutcome) string {
	if out.Succeeded() {
		return string(model.ResultSuccess)
	}
	return string(out.FailureKind)
}

// singleMatch returns the id when exactly one account matched. Messages from
// a number shared by several accounts stay unmapped.
func singleMatch(ids []string) string {
	if len(ids) != 1 {
		return ""
	}
	return ids[0]
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

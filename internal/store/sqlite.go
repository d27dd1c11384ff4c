package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/balance-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id               TEXT PRIMARY KEY,
	username         TEXT NOT NULL UNIQUE,
	password         TEXT NOT NULL DEFAULT '',
	adspower_user_id TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'active',
	last_balance     INTEGER,
	last_status      TEXT,
	last_error       TEXT,
	last_checked_at  DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS balance_logs (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	run_id     TEXT,
	balance    INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sms_logs (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL DEFAULT '',
	from_number TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL DEFAULT '',
	code        TEXT NOT NULL DEFAULT '',
	received_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	report      TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_balance_logs_account ON balance_logs(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sms_logs_received ON sms_logs(received_at);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started ON batch_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListActiveAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, password, adspower_user_id, phone, status, updated_at
		 FROM accounts WHERE status = ? ORDER BY updated_at, id`,
		string(model.AccountStatusActive),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active accounts")
	}
	defer rows.Close() //nolint:errcheck

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var password string
		if err := rows.Scan(&a.ID, &a.Username, &password, &a.ProfileRef, &a.Phone, &a.Status, &a.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan account")
		}
		a.Password = model.NewSecret(password)
		accounts = append(accounts, a)
	}
	return accounts, eris.Wrap(rows.Err(), "sqlite: list accounts iterate")
}

func (s *SQLiteStore) UpsertAccount(ctx context.Context, acct model.Account) error {
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	if acct.Status == "" {
		acct.Status = model.AccountStatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, password, adspower_user_id, phone, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (username) DO UPDATE SET
		   password = excluded.password,
		   adspower_user_id = excluded.adspower_user_id,
		   phone = excluded.phone,
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		acct.ID, acct.Username, acct.Password.Reveal(), acct.ProfileRef, acct.Phone, string(acct.Status), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert account %s", acct.Username)
}

func (s *SQLiteStore) RecordOutcome(ctx context.Context, runID string, out model.JobOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	if out.Succeeded() && out.Value != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET last_balance = ?, last_status = ?, last_error = NULL, last_checked_at = ?, updated_at = ? WHERE id = ?`,
			*out.Value, outcomeStatus(out), now, now, out.AccountID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update account %s", out.AccountID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO balance_logs (id, account_id, run_id, balance, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), out.AccountID, nullable(runID), *out.Value, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert balance log %s", out.AccountID)
		}
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET last_status = ?, last_error = ?, last_checked_at = ?, updated_at = ? WHERE id = ?`,
			outcomeStatus(out), nullable(out.Detail), now, now, out.AccountID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update account %s", out.AccountID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit outcome")
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.BatchRun, error) {
	run := &model.BatchRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.BatchReport, errMsg string) error {
	var reportJSON *string
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal report")
		}
		str := string(b)
		reportJSON = &str
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_runs SET status = ?, report = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), reportJSON, nullable(errMsg), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.BatchRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, report, error, started_at, finished_at FROM batch_runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.BatchRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, report, error, started_at, finished_at FROM batch_runs ORDER BY started_at DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.BatchRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveCode(ctx context.Context, msg model.CodeMessage) (*model.CodeMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	msg.ReceivedAt = msg.ReceivedAt.UTC()
	msg.FromNumber = strings.TrimSpace(msg.FromNumber)

	if msg.AccountID == "" && msg.FromNumber != "" {
		id, err := s.accountByPhone(ctx, msg.FromNumber)
		if err != nil {
			return nil, err
		}
		msg.AccountID = id
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sms_logs (id, account_id, from_number, text, code, received_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.AccountID, msg.FromNumber, msg.Text, msg.Code, msg.ReceivedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert sms log")
	}
	return &msg, nil
}

// accountByPhone returns the id of the only account registered with phone,
// or "" when none or several match.
func (s *SQLiteStore) accountByPhone(ctx context.Context, phone string) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM accounts WHERE phone = ? LIMIT 2`, phone)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: account by phone")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", eris.Wrap(err, "sqlite: scan account id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", eris.Wrap(err, "sqlite: account by phone iterate")
	}
	return singleMatch(ids), nil
}

func (s *SQLiteStore) CodesSince(ctx context.Context, accountID string, since time.Time) ([]model.CodeMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, from_number, text, code, received_at FROM sms_logs
		 WHERE (account_id = ? OR account_id = '') AND received_at >= ?
		 ORDER BY received_at`,
		accountID, since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: codes since")
	}
	defer rows.Close() //nolint:errcheck

	var msgs []model.CodeMessage
	for rows.Next() {
		var m model.CodeMessage
		if err := rows.Scan(&m.ID, &m.AccountID, &m.FromNumber, &m.Text, &m.Code, &m.ReceivedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sms log")
		}
		msgs = append(msgs, m)
	}
	return msgs, eris.Wrap(rows.Err(), "sqlite: codes since iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanRun reads a batch_runs row. It returns sql.ErrNoRows unwrapped so
// callers can map it.
func scanRun(row scannable) (*model.BatchRun, error) {
	var r model.BatchRun
	var reportJSON, errMsg sql.NullString
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.Status, &reportJSON, &errMsg, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Error = errMsg.String
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	if reportJSON.Valid && reportJSON.String != "" {
		r.Report = &model.BatchReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	return &r, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/balance-cli/internal/db"
	"github.com/sells-group/balance-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	username         TEXT NOT NULL UNIQUE,
	password         TEXT NOT NULL DEFAULT '',
	adspower_user_id TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'active',
	last_balance     BIGINT,
	last_status      TEXT,
	last_error       TEXT,
	last_checked_at  TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS balance_logs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	run_id     TEXT,
	balance    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sms_logs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	account_id  TEXT NOT NULL DEFAULT '',
	from_number TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL DEFAULT '',
	code        TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS batch_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status      TEXT NOT NULL DEFAULT 'running',
	report      JSONB,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_balance_logs_account ON balance_logs(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sms_logs_received ON sms_logs(received_at);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started ON batch_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListActiveAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, password, adspower_user_id, phone, status, updated_at
		 FROM accounts WHERE status = $1 ORDER BY updated_at, id`,
		string(model.AccountStatusActive),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active accounts")
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var password, status string
		if err := rows.Scan(&a.ID, &a.Username, &password, &a.ProfileRef, &a.Phone, &status, &a.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan account")
		}
		a.Password = model.NewSecret(password)
		a.Status = model.AccountStatus(status)
		accounts = append(accounts, a)
	}
	return accounts, eris.Wrap(rows.Err(), "postgres: list accounts iterate")
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, acct model.Account) error {
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	if acct.Status == "" {
		acct.Status = model.AccountStatusActive
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, password, adspower_user_id, phone, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (username) DO UPDATE SET
		   password = EXCLUDED.password,
		   adspower_user_id = EXCLUDED.adspower_user_id,
		   phone = EXCLUDED.phone,
		   status = EXCLUDED.status,
		   updated_at = now()`,
		acct.ID, acct.Username, acct.Password.Reveal(), acct.ProfileRef, acct.Phone, string(acct.Status),
	)
	return eris.Wrapf(err, "postgres: upsert account %s", acct.Username)
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, runID string, out model.JobOutcome) error {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if out.Succeeded() && out.Value != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE accounts SET last_balance = $1, last_status = $2, last_error = NULL, last_checked_at = now(), updated_at = now() WHERE id = $3`,
				*out.Value, outcomeStatus(out), out.AccountID,
			); err != nil {
				return eris.Wrap(err, "update account")
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO balance_logs (id, account_id, run_id, balance) VALUES ($1, $2, $3, $4)`,
				uuid.New().String(), out.AccountID, nullable(runID), *out.Value,
			)
			return eris.Wrap(err, "insert balance log")
		}
		_, err := tx.Exec(ctx,
			`UPDATE accounts SET last_status = $1, last_error = $2, last_checked_at = now(), updated_at = now() WHERE id = $3`,
			outcomeStatus(out), nullable(out.Detail), out.AccountID,
		)
		return eris.Wrap(err, "update account")
	})
	return eris.Wrapf(err, "postgres: record outcome %s", out.AccountID)
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.BatchRun, error) {
	run := &model.BatchRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batch_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.BatchReport, errMsg string) error {
	var reportJSON []byte
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal report")
		}
		reportJSON = b
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_runs SET status = $1, report = $2, error = $3, finished_at = now() WHERE id = $4`,
		string(status), reportJSON, nullable(errMsg), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.BatchRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, report, error, started_at, finished_at FROM batch_runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.BatchRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, report, error, started_at, finished_at FROM batch_runs ORDER BY started_at DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.BatchRun
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveCode(ctx context.Context, msg model.CodeMessage) (*model.CodeMessage, error) {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sms_logs (id, account_id, from_number, text, code, received_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.AccountID, msg.FromNumber, msg.Text, msg.Code, msg.ReceivedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert sms log")
	}
	return &msg, nil
}

// accountByPhone returns the id of the only account registered with phone,
// or "" when none or several match.
func (s *PostgresStore) accountByPhone(ctx context.Context, phone string) (string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM accounts WHERE phone = $1 LIMIT 2`, phone)
	if err != nil {
		return "", eris.Wrap(err, "postgres: account by phone")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", eris.Wrap(err, "postgres: collect account ids")
	}
	return singleMatch(ids), nil
}

func (s *PostgresStore) CodesSince(ctx context.Context, accountID string, since time.Time) ([]model.CodeMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, from_number, text, code, received_at FROM sms_logs
		 WHERE (account_id = $1 OR account_id = '') AND received_at >= $2
		 ORDER BY received_at`,
		accountID, since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: codes since")
	}
	defer rows.Close()

	var msgs []model.CodeMessage
	for rows.Next() {
		var m model.CodeMessage
		if err := rows.Scan(&m.ID, &m.AccountID, &m.FromNumber, &m.Text, &m.Code, &m.ReceivedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sms log")
		}
		msgs = append(msgs, m)
	}
	return msgs, eris.Wrap(rows.Err(), "postgres: codes since iterate")
}

func scanPgRun(row pgx.Row) (*model.BatchRun, error) {
	var r model.BatchRun
	var status string
	var reportJSON []byte
	var errMsg *string

	if err := row.Scan(&r.ID, &status, &reportJSON, &errMsg, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if errMsg != nil {
		r.Error = *errMsg
	}
	if len(reportJSON) > 0 {
		r.Report = &model.BatchReport{}
		if err := json.Unmarshal(reportJSON, r.Report); err != nil {
			return nil, eris.Wrap(err, "unmarshal report")
		}
	}
	return &r, nil
}

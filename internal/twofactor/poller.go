// Package twofactor waits for two-factor codes delivered to the ingest
// server.
package twofactor

import (
	"context"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/extract"
	"github.com/sells-group/balance-cli/internal/model"
)

// ErrTimeout is returned when no code arrives in time. It is
// extract.ErrCodeTimeout so the state machine can classify it.
var ErrTimeout = extract.ErrCodeTimeout

// Inbox lists ingested messages for an account received at or after since,
// oldest first. Messages with an empty AccountID are included for every
// account.
type Inbox interface {
	CodesSince(ctx context.Context, accountID string, since time.Time) ([]model.CodeMessage, error)
}

// Poller implements extract.CodeProvider by polling an Inbox.
type Poller struct {
	inbox    Inbox
	interval time.Duration
}

var _ extract.CodeProvider = (*Poller)(nil)

// NewPoller creates a Poller. interval defaults to 3s.
func NewPoller(inbox Inbox, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{inbox: inbox, interval: interval}
}

// WaitForCode returns the first code received since since. Inbox errors are
// logged and polling continues until timeout.
func (p *Poller) WaitForCode(ctx context.Context, accountID string, since time.Time, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := zap.L().With(zap.String("account_id", accountID))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		msgs, err := p.inbox.CodesSince(ctx, accountID, since)
		if err != nil && ctx.Err() == nil {
			log.Warn("twofactor: inbox poll failed", zap.Error(err))
		}
		for _, m := range msgs {
			code := m.Code
			if code == "" {
				code = ExtractCode(m.Text)
			}
			if code != "" {
				log.Info("twofactor: code received", zap.Time("received_at", m.ReceivedAt))
				return code, nil
			}
		}

		select {
		case <-ctx.Done():
			if eris.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", eris.Wrapf(ErrTimeout, "twofactor: account %s after %s", accountID, timeout)
			}
			return "", eris.Wrap(ctx.Err(), "twofactor: wait cancelled")
		case <-ticker.C:
		}
	}
}

var codePattern = regexp.MustCompile(`\b(\d{4,8})\b`)

// ExtractCode returns the first standalone run of 4 to 8 digits in text.
func ExtractCode(text string) string {
	m := codePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

package twofactor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/balance-cli/internal/extract"
	"github.com/sells-group/balance-cli/internal/model"
)

type inboxFunc func(ctx context.Context, accountID string, since time.Time) ([]model.CodeMessage, error)

func (f inboxFunc) CodesSince(ctx context.Context, accountID string, since time.Time) ([]model.CodeMessage, error) {
	return f(ctx, accountID, since)
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Seu codigo Livelo: 482913. Nao compartilhe.", "482913"},
		{"Code 1234", "1234"},
		{"pedido 123456789 confirmado", ""},
		{"sem codigo", ""},
		{"abc12345def", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.text))
		})
	}
}

func TestWaitForCode_ArrivesLater(t *testing.T) {
	var polls atomic.Int32
	since := time.Now()
	inbox := inboxFunc(func(_ context.Context, accountID string, got time.Time) ([]model.CodeMessage, error) {
		assert.Equal(t, "acc-1", accountID)
		assert.Equal(t, since, got)
		if polls.Add(1) < 3 {
			return nil, nil
		}
		return []model.CodeMessage{{Text: "Seu codigo: 555111"}}, nil
	})

	code, err := NewPoller(inbox, time.Millisecond).WaitForCode(context.Background(), "acc-1", since, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "555111", code)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestWaitForCode_PrefersParsedCode(t *testing.T) {
	inbox := inboxFunc(func(context.Context, string, time.Time) ([]model.CodeMessage, error) {
		return []model.CodeMessage{{Text: "no digits here"}, {Code: "9876", Text: "ignored 1111"}}, nil
	})

	code, err := NewPoller(inbox, time.Millisecond).WaitForCode(context.Background(), "acc-1", time.Now(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "9876", code)
}

func TestWaitForCode_Timeout(t *testing.T) {
	inbox := inboxFunc(func(context.Context, string, time.Time) ([]model.CodeMessage, error) {
		return nil, nil
	})

	_, err := NewPoller(inbox, time.Millisecond).WaitForCode(context.Background(), "acc-1", time.Now(), 20*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, extract.ErrCodeTimeout)
}

func TestWaitForCode_InboxErrorsKeepPolling(t *testing.T) {
	var polls atomic.Int32
	inbox := inboxFunc(func(context.Context, string, time.Time) ([]model.CodeMessage, error) {
		if polls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return []model.CodeMessage{{Code: "4321"}}, nil
	})

	code, err := NewPoller(inbox, time.Millisecond).WaitForCode(context.Background(), "acc-1", time.Now(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "4321", code)
}

func TestWaitForCode_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inbox := inboxFunc(func(context.Context, string, time.Time) ([]model.CodeMessage, error) {
		cancel()
		return nil, nil
	})

	_, err := NewPoller(inbox, time.Millisecond).WaitForCode(ctx, "acc-1", time.Now(), time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

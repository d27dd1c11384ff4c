package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/balance-cli/internal/model"
)

func acct(id string) model.Account {
	return model.Account{ID: id, Username: id + "@example.com"}
}

func withPass(o model.JobOutcome, pass int) model.JobOutcome {
	o.Pass = pass
	return o
}

func TestSummarize_Empty(t *testing.T) {
	r := Summarize(nil, 0)
	assert.Equal(t, 0, r.Total)
	assert.Equal(t, model.BatchStats{}, r.Stats)
	assert.Empty(t, r.Failures)
	assert.Empty(t, r.Recovered)
}

func TestSummarize_AllSuccess(t *testing.T) {
	outs := []model.JobOutcome{
		withPass(model.Success(acct("c"), 10), 1),
		withPass(model.Success(acct("a"), 20), 1),
		withPass(model.Success(acct("b"), 30), 1),
	}
	r := Summarize(outs, time.Minute)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, model.BatchStats{SuccessCount: 3}, r.Stats)
	assert.Equal(t, int64(60), r.TotalValue)
	assert.Equal(t, time.Minute, r.Elapsed)
	assert.Empty(t, r.Failures)
}

func TestSummarize_FailuresSortedByAccountID(t *testing.T) {
	outs := []model.JobOutcome{
		withPass(model.Failure(acct("zed"), model.FailureAuthFailed, ""), 1),
		withPass(model.Failure(acct("amy"), model.FailureResetRequired, ""), 1),
		withPass(model.Failure(acct("max"), model.FailureUnknown, "boom"), 1),
	}
	r := Summarize(outs, 0)
	require.Len(t, r.Failures, 3)
	assert.Equal(t, "amy", r.Failures[0].AccountID)
	assert.Equal(t, "max", r.Failures[1].AccountID)
	assert.Equal(t, "zed", r.Failures[2].AccountID)
	assert.Equal(t, model.FailureResetRequired.Message(), r.Failures[0].Message)
}

func TestSummarize_RetrySupersedes(t *testing.T) {
	x, y := acct("x"), acct("y")
	outs := []model.JobOutcome{
		withPass(model.Failure(x, model.FailureBlockDetected, "waf"), 1),
		withPass(model.Failure(y, model.FailureAuthFailed, ""), 1),
		withPass(model.Success(x, 500), 2),
	}
	r := Summarize(outs, 0)
	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 1, r.Stats.SuccessCount)
	assert.Equal(t, 1, r.Stats.FailureCount)
	assert.Equal(t, 1, r.Stats.RetriedCount)
	require.Len(t, r.Failures, 1)
	assert.Equal(t, "y", r.Failures[0].AccountID)
	assert.Equal(t, []string{"x@example.com"}, r.Recovered)
}

func TestSummarize_RetryFailsAgainCountsOnce(t *testing.T) {
	x := acct("x")
	outs := []model.JobOutcome{
		withPass(model.Failure(x, model.FailureBlockDetected, "first"), 1),
		withPass(model.Failure(x, model.FailureBlockDetected, "second"), 2),
	}
	r := Summarize(outs, 0)
	assert.Equal(t, 1, r.Total)
	assert.Equal(t, 1, r.Stats.FailureCount)
	require.Len(t, r.Failures, 1)
	assert.True(t, r.Failures[0].Retried)
}

func TestSummarize_LaterPassWinsRegardlessOfOrder(t *testing.T) {
	x := acct("x")
	outs := []model.JobOutcome{
		withPass(model.Success(x, 1), 2),
		withPass(model.Failure(x, model.FailureBlockDetected, ""), 1),
	}
	r := Summarize(outs, 0)
	assert.Equal(t, 1, r.Stats.SuccessCount)
	assert.Equal(t, 0, r.Stats.FailureCount)
}

func TestSummarize_CountsMatchTotal(t *testing.T) {
	outs := []model.JobOutcome{
		withPass(model.Success(acct("a"), 1), 1),
		withPass(model.Failure(acct("b"), model.FailureBlockDetected, ""), 1),
		withPass(model.Failure(acct("c"), model.FailureMissingProfileRef, ""), 1),
		withPass(model.Failure(acct("b"), model.FailureBlockDetected, ""), 2),
	}
	r := Summarize(outs, 0)
	assert.Equal(t, r.Total, r.Stats.SuccessCount+r.Stats.FailureCount)
	assert.Equal(t, 3, r.Total)
}

func sampleReport() model.BatchReport {
	outs := []model.JobOutcome{
		withPass(model.Success(acct("a"), 1500), 1),
		withPass(model.Failure(acct("b"), model.FailureBlockDetected, ""), 1),
		withPass(model.Success(acct("b"), 250), 2),
		withPass(model.Failure(acct("c"), model.FailureAuthFailed, ""), 1),
	}
	outs[3].EvidenceRef = "prints/c_auth_failed_1700000000.png"
	return Summarize(outs, 125*time.Second)
}

func TestRender_Portuguese(t *testing.T) {
	date := time.Date(2026, 3, 9, 1, 0, 0, 0, time.UTC)
	out := Render(sampleReport(), Options{Locale: "pt-BR", Date: date})

	assert.Contains(t, out, "🤖 **Relatório Diário de Execução**")
	assert.Contains(t, out, "📅 09/03/2026")
	assert.Contains(t, out, "⏱️ Tempo Total: 2m 5s")
	assert.Contains(t, out, "👥 Contas Analisadas: 3")
	assert.Contains(t, out, "✅ Sucesso Total: 2")
	assert.Contains(t, out, "❌ Falhas Finais: 1")
	assert.Contains(t, out, "🔄 Total Repescadas: 1")
	assert.Contains(t, out, "💰 Saldo Total: 1.750")
	assert.Contains(t, out, "❌ c@example.com: Senha incorreta, verifique as credenciais - Print: c_auth_failed_1700000000.png")
	assert.Contains(t, out, "🔄 b@example.com: Recuperado na Repescagem")
	assert.NotContains(t, out, "Bloqueio WAF")
	assert.NotContains(t, out, "Nenhum problema detectado.")
}

func TestRender_English(t *testing.T) {
	out := Render(sampleReport(), Options{Locale: "en"})
	assert.Contains(t, out, "Daily Execution Report")
	assert.Contains(t, out, "💰 Total Balance: 1,750")
	assert.Contains(t, out, "❌ c@example.com: login rejected, check credentials - Print: c_auth_failed_1700000000.png")
	assert.Contains(t, out, "🔄 b@example.com: Recovered on retry")
	assert.NotContains(t, out, "📅", "no date when neither option nor report carries one")
}

func TestRender_NoProblems(t *testing.T) {
	r := Summarize([]model.JobOutcome{withPass(model.Success(acct("a"), 1), 1)}, 0)
	assert.Contains(t, Render(r, Options{Locale: "pt-BR"}), "Nenhum problema detectado.")
	assert.Contains(t, Render(r, Options{Locale: "en"}), "No problems detected.")
	assert.NotContains(t, Render(r, Options{Locale: "en"}), "Total Retried")
}

func TestRender_UnknownFailureShowsCause(t *testing.T) {
	outs := []model.JobOutcome{
		withPass(model.Failure(acct("a"), model.FailureUnknown, "session check: websocket closed"), 1),
		withPass(model.Failure(acct("b"), model.FailureAuthFailed, "login rejected credentials"), 1),
	}
	r := Summarize(outs, time.Second)
	require.Len(t, r.Failures, 2)
	assert.Equal(t, "session check: websocket closed", r.Failures[0].Detail)

	out := Render(r, Options{Locale: "pt-BR"})
	assert.Contains(t, out, "❌ a@example.com: Erro inesperado (session check: websocket closed)")
	assert.Contains(t, out, "❌ b@example.com: Senha incorreta, verifique as credenciais")
	assert.NotContains(t, out, "login rejected credentials")
}

func TestRender_LongUnknownCauseIsShortened(t *testing.T) {
	long := strings.Repeat("x", 400)
	r := Summarize([]model.JobOutcome{withPass(model.Failure(acct("a"), model.FailureUnknown, long), 1)}, 0)

	out := Render(r, Options{Locale: "en"})
	assert.Contains(t, out, "unexpected error ("+strings.Repeat("x", maxDetailRunes)+"…)")
	assert.NotContains(t, out, strings.Repeat("x", maxDetailRunes+1))
}

func TestRender_UnknownLocaleFallsBackToEnglish(t *testing.T) {
	out := Render(model.BatchReport{}, Options{Locale: "not a locale!"})
	assert.Contains(t, out, "Daily Execution Report")
}

func TestSummarizeRender_Idempotent(t *testing.T) {
	outs := []model.JobOutcome{
		withPass(model.Failure(acct("b"), model.FailureAuthFailed, ""), 1),
		withPass(model.Success(acct("a"), 7), 1),
		withPass(model.Failure(acct("c"), model.FailureTimeoutWaitingForCode, ""), 1),
	}
	reversed := []model.JobOutcome{outs[2], outs[1], outs[0]}
	opts := Options{Locale: "pt-BR", Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	first := Render(Summarize(outs, time.Second), opts)
	second := Render(Summarize(outs, time.Second), opts)
	shuffled := Render(Summarize(reversed, time.Second), opts)

	assert.Equal(t, first, second)
	assert.Equal(t, first, shuffled)
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "0m 0s", formatElapsed(0))
	assert.Equal(t, "2m 5s", formatElapsed(125*time.Second))
	assert.Equal(t, "61m 1s", formatElapsed(time.Hour+61*time.Second))
}

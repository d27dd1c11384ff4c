package report

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/balance-cli/internal/model"
)

// Options controls rendering.
type Options struct {
	// Locale is a BCP 47 tag such as "pt-BR" or "en". Unknown tags render
	// in English.
	Locale string
	// Date is printed in the header. Zero means the report's StartedAt.
	Date time.Time
}

var translated = []language.Tag{language.Portuguese, language.BrazilianPortuguese}

func init() {
	set := func(key, msg string) {
		for _, tag := range translated {
			_ = message.SetString(tag, key, msg)
		}
	}
	set("🤖 **Daily Execution Report**", "🤖 **Relatório Diário de Execução**")
	set("📊 **Summary:**", "📊 **Resumo:**")
	set("⏱️ Total Time: %s", "⏱️ Tempo Total: %s")
	set("👥 Accounts Checked: %d", "👥 Contas Analisadas: %d")
	set("✅ Total Success: %d", "✅ Sucesso Total: %d")
	set("❌ Final Failures: %d", "❌ Falhas Finais: %d")
	set("🔄 Total Retried: %d", "🔄 Total Repescadas: %d")
	set("💰 Total Balance: %d", "💰 Saldo Total: %d")
	set("📝 **Problem Details:**", "📝 **Detalhamento de Problemas:**")
	set("No problems detected.", "Nenhum problema detectado.")
	set("🔄 %s: Recovered on retry", "🔄 %s: Recuperado na Repescagem")

	// Failure kind messages.
	set("no browser profile linked to account", "Sem AdsPower ID")
	set("browser profile could not be started", "Falha ao abrir perfil AdsPower")
	set("blocked by site defense system", "Bloqueio WAF detectado")
	set("login rejected, check credentials", "Senha incorreta, verifique as credenciais")
	set("password reset required, manual action needed", "Troca de senha obrigatória, ação manual necessária")
	set("logged in but balance not found, check site layout", "Login feito mas saldo não encontrado, verifique o layout")
	set("two-factor code did not arrive in time", "Falha no Token: código não chegou a tempo")
	set("unexpected error", "Erro inesperado")
}

// Render formats r as chat-ready text. Output depends only on r and opts.
func Render(r model.BatchReport, opts Options) string {
	tag, err := language.Parse(opts.Locale)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag)

	date := opts.Date
	if date.IsZero() {
		date = r.StartedAt
	}

	var b strings.Builder
	line := func(key message.Reference, args ...any) {
		b.WriteString(p.Sprintf(key, args...))
		b.WriteByte('\n')
	}

	line("🤖 **Daily Execution Report**")
	if !date.IsZero() {
		b.WriteString("📅 " + date.Format("02/01/2006") + "\n")
	}
	b.WriteByte('\n')
	line("📊 **Summary:**")
	line("⏱️ Total Time: %s", formatElapsed(r.Elapsed))
	line("👥 Accounts Checked: %d", r.Total)
	line("✅ Total Success: %d", r.Stats.SuccessCount)
	line("❌ Final Failures: %d", r.Stats.FailureCount)
	if r.Stats.RetriedCount > 0 {
		line("🔄 Total Retried: %d", r.Stats.RetriedCount)
	}
	if r.Stats.SuccessCount > 0 {
		line("💰 Total Balance: %d", r.TotalValue)
	}

	b.WriteByte('\n')
	line("📝 **Problem Details:**")
	if len(r.Failures) == 0 && len(r.Recovered) == 0 {
		line("No problems detected.")
	}
	for _, f := range r.Failures {
		name := f.Username
		if name == "" {
			name = f.AccountID
		}
		msg := p.Sprintf(failureKey(f))
		if f.Kind == model.FailureUnknown && f.Detail != "" {
			msg += " (" + shorten(f.Detail, maxDetailRunes) + ")"
		}
		if f.EvidenceRef != "" {
			line("❌ %s: %s - Print: %s", name, msg, evidenceName(f.EvidenceRef))
		} else {
			line("❌ %s: %s", name, msg)
		}
	}
	for _, name := range r.Recovered {
		line("🔄 %s: Recovered on retry", name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func failureKey(f model.FailureDetail) message.Reference {
	if f.Message != "" {
		return f.Message
	}
	return f.Kind.Message()
}

func formatElapsed(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// maxDetailRunes bounds the cause printed next to an unexpected error.
const maxDetailRunes = 160

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// evidenceName keeps only the file name of an evidence path.
func evidenceName(ref string) string {
	if i := strings.LastIndexAny(ref, `/\`); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

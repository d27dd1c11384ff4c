// Package report aggregates final job outcomes into a deterministic batch
// report and renders it for operators.
package report

import (
	"sort"
	"time"

	"github.com/sells-group/balance-cli/internal/model"
)

// Summarize folds outcomes into a report. When an account has several
// outcomes the later one (by pass, then by position) supersedes the earlier
// ones, so counts never include a superseded failure. Summarize is pure.
func Summarize(outcomes []model.JobOutcome, elapsed time.Duration) model.BatchReport {
	final := make(map[string]model.JobOutcome, len(outcomes))
	retried := make(map[string]bool)
	for _, o := range outcomes {
		if o.Pass > 1 {
			retried[o.AccountID] = true
		}
		prev, ok := final[o.AccountID]
		if ok && prev.Pass > o.Pass {
			continue
		}
		final[o.AccountID] = o
	}

	ids := make([]string, 0, len(final))
	for id := range final {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r := model.BatchReport{
		Elapsed:  elapsed,
		Total:    len(final),
		Failures: []model.FailureDetail{},
	}
	for _, id := range ids {
		o := final[id]
		if o.Succeeded() {
			r.Stats.SuccessCount++
			if o.Value != nil {
				r.TotalValue += *o.Value
			}
			if retried[id] {
				r.Recovered = append(r.Recovered, displayName(o))
			}
			continue
		}
		r.Stats.FailureCount++
		r.Failures = append(r.Failures, model.FailureDetail{
			AccountID:   o.AccountID,
			Username:    o.Username,
			Kind:        o.FailureKind,
			Message:     o.FailureKind.Message(),
			Detail:      o.Detail,
			EvidenceRef: o.EvidenceRef,
			Retried:     retried[id],
		})
	}
	r.Stats.RetriedCount = len(retried)
	return r
}

func displayName(o model.JobOutcome) string {
	if o.Username != "" {
		return o.Username
	}
	return o.AccountID
}

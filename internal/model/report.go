package model

import "time"

// BatchStats is the running tally of a batch. It is only mutated by the
// orchestrator's result-consuming path.
type BatchStats struct {
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
	RetriedCount int `json:"retried_count"`
}

// FailureDetail is one line of the failure section of a report.
type FailureDetail struct {
	AccountID   string      `json:"account_id"`
	Username    string      `json:"username"`
	Kind        FailureKind `json:"kind"`
	Message     string      `json:"message"`
	Detail      string      `json:"detail,omitempty"`
	EvidenceRef string      `json:"evidence_ref,omitempty"`
	Retried     bool        `json:"retried"`
}

// BatchReport is the deterministic summary of a finished batch.
type BatchReport struct {
	RunID      string          `json:"run_id,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	Elapsed    time.Duration   `json:"elapsed"`
	Total      int             `json:"total"`
	Stats      BatchStats      `json:"stats"`
	TotalValue int64           `json:"total_value"`
	Failures   []FailureDetail `json:"failures"`
	Recovered  []string        `json:"recovered,omitempty"`
}

// FailureRate returns failures over total, or zero for an empty batch.
func (r *BatchReport) FailureRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Stats.FailureCount) / float64(r.Total)
}

// RunStatus is the persisted status of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusAborted  RunStatus = "aborted"
)

// BatchRun is a persisted batch execution.
type BatchRun struct {
	ID         string       `json:"id"`
	Status     RunStatus    `json:"status"`
	Report     *BatchReport `json:"report,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// CodeMessage is an ingested message that may carry a two-factor code.
// AccountID is empty when the sender could not be mapped to an account.
type CodeMessage struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id,omitempty"`
	FromNumber string    `json:"from_number,omitempty"`
	Text       string    `json:"text"`
	Code       string    `json:"code,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

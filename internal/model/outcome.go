package model

import "time"

// Result is the terminal status of one job attempt.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// FailureKind classifies a failed attempt. Only FailureBlockDetected is
// eligible for the batch-level retry pass.
type FailureKind string

const (
	FailureNone                  FailureKind = ""
	FailureMissingProfileRef     FailureKind = "missing_profile_ref"
	FailureProfileStart          FailureKind = "profile_start_failure"
	FailureBlockDetected         FailureKind = "block_detected"
	FailureAuthFailed            FailureKind = "auth_failed"
	FailureResetRequired         FailureKind = "reset_required"
	FailureExtractionNotFound    FailureKind = "extraction_not_found"
	FailureTimeoutWaitingForCode FailureKind = "timeout_waiting_for_code"
	FailureUnknown               FailureKind = "unknown"
)

// Retryable reports whether the kind may be re-dispatched in the retry pass.
func (k FailureKind) Retryable() bool {
	return k == FailureBlockDetected
}

// Message is the operator-facing description of the kind.
func (k FailureKind) Message() string {
	switch k {
	case FailureMissingProfileRef:
		return "no browser profile linked to account"
	case FailureProfileStart:
		return "browser profile could not be started"
	case FailureBlockDetected:
		return "blocked by site defense system"
	case FailureAuthFailed:
		return "login rejected, check credentials"
	case FailureResetRequired:
		return "password reset required, manual action needed"
	case FailureExtractionNotFound:
		return "logged in but balance not found, check site layout"
	case FailureTimeoutWaitingForCode:
		return "two-factor code did not arrive in time"
	case FailureUnknown:
		return "unexpected error"
	default:
		return string(k)
	}
}

// JobOutcome is the result of one AccountJob attempt. A retried account
// yields a second outcome whose Pass is 2; only the latest outcome per
// account is kept for reporting.
type JobOutcome struct {
	AccountID   string        `json:"account_id"`
	Username    string        `json:"username"`
	Result      Result        `json:"result"`
	Value       *int64        `json:"value,omitempty"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	EvidenceRef string        `json:"evidence_ref,omitempty"`
	Pass        int           `json:"pass"`
	Duration    time.Duration `json:"duration"`
}

// Succeeded reports whether the outcome is a success.
func (o JobOutcome) Succeeded() bool {
	return o.Result == ResultSuccess
}

// Success builds a successful outcome for account with the extracted value.
func Success(acct Account, value int64) JobOutcome {
	v := value
	return JobOutcome{
		AccountID: acct.Key(),
		Username:  acct.Username,
		Result:    ResultSuccess,
		Value:     &v,
	}
}

// Failure builds a failed outcome for account.
func Failure(acct Account, kind FailureKind, detail string) JobOutcome {
	return JobOutcome{
		AccountID:   acct.Key(),
		Username:    acct.Username,
		Result:      ResultFailure,
		FailureKind: kind,
		Detail:      detail,
	}
}

package model

import "time"

// AccountStatus is the lifecycle status stored with an account.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
)

const redacted = "[REDACTED]"

// Secret holds a credential in memory. It never renders its value through
// fmt, JSON or structured logging; callers read it with Reveal.
type Secret struct {
	value string
}

// NewSecret wraps a plaintext credential.
func NewSecret(v string) Secret {
	return Secret{value: v}
}

// Reveal returns the plaintext value.
func (s Secret) Reveal() string {
	return s.value
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s.value == ""
}

func (s Secret) String() string {
	if s.value == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v from leaking the value.
func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Account is the identity of one batch job. Accounts are loaded before the
// batch starts and are not modified while it runs.
type Account struct {
	ID         string        `json:"id" yaml:"id"`
	Username   string        `json:"username" yaml:"username"`
	Password   Secret        `json:"password" yaml:"-"`
	ProfileRef string        `json:"profile_ref" yaml:"profile_ref"`
	Phone      string        `json:"phone,omitempty" yaml:"phone"`
	Status     AccountStatus `json:"status" yaml:"status"`
	UpdatedAt  time.Time     `json:"updated_at" yaml:"-"`
}

// Key is the stable identifier used for ordering and deduplication. It falls
// back to the username for accounts loaded without a database ID.
func (a Account) Key() string {
	if a.ID != "" {
		return a.ID
	}
	return a.Username
}

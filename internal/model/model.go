package model

import (
	"fmt"
	"time"
)

// Outcome is the result of one probe against a target URL.
type Outcome struct {
	// Status is the HTTP status line ("200 OK") or the transport error text.
	Status  string
	Elapsed time.Duration
	Success bool
}

// String renders the outcome the way it is stored on a target,
// e.g. "200 OK (42ms)".
func (o Outcome) String() string {
	return fmt.Sprintf("%s (%dms)", o.Status, o.Elapsed.Milliseconds())
}

// Target is one URL an account wants checked, plus its last result.
// LastResult and LastChecked are nil until the first probe.
type Target struct {
	AccountID   string     `json:"account_id" yaml:"account_id"`
	URL         string     `json:"url" yaml:"url"`
	LastResult  *string    `json:"last_result,omitempty" yaml:"last_result,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty" yaml:"last_checked,omitempty"`
	LastOK      bool       `json:"last_ok" yaml:"last_ok"`
}

// Checked reports whether the target has been probed at least once.
func (t Target) Checked() bool {
	return t.LastResult != nil && t.LastChecked != nil
}

// Record writes an outcome and its check instant together.
func (t *Target) Record(o Outcome, at time.Time) {
	text := o.String()
	checked := at
	t.LastResult = &text
	t.LastChecked = &checked
	t.LastOK = o.Success
}

// Account is a registered user and the targets it monitors. Target order is
// insertion order.
type Account struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	Digest            string    `json:"digest" yaml:"digest"`
	Targets           []Target  `json:"targets" yaml:"targets"`
	LastAuthenticated time.Time `json:"last_authenticated" yaml:"last_authenticated"`
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	out := a
	out.Targets = make([]Target, len(a.Targets))
	for i, t := range a.Targets {
		out.Targets[i] = t.clone()
	}
	return out
}

// TargetIndex returns the position of url in the target list, or -1.
func (a Account) TargetIndex(url string) int {
	for i, t := range a.Targets {
		if t.URL == url {
			return i
		}
	}
	return -1
}

// StaleBefore reports whether the account last authenticated strictly before
// cutoff. An account that never authenticated is always stale.
func (a Account) StaleBefore(cutoff time.Time) bool {
	if a.LastAuthenticated.IsZero() {
		return true
	}
	return a.LastAuthenticated.Before(cutoff)
}

func (t Target) clone() Target {
	out := t
	if t.LastResult != nil {
		s := *t.LastResult
		out.LastResult = &s
	}
	if t.LastChecked != nil {
		c := *t.LastChecked
		out.LastChecked = &c
	}
	return out
}

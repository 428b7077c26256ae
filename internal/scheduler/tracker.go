package scheduler

import "sync"

// DefaultFailureThreshold is the consecutive failure count that trips the
// breaker for an account.
const DefaultFailureThreshold = 3

// AccountStatus is a snapshot of one account's breaker state.
type AccountStatus struct {
	Failures int  `json:"failures"`
	Disabled bool `json:"disabled"`
}

// Tracker counts consecutive failures per account and disables an account
// once the threshold is reached. A disabled account stays disabled until
// Reset is called; successes reset the counter but never re-enable.
type Tracker struct {
	mu        sync.Mutex
	threshold int
	failures  map[string]int
	disabled  map[string]bool
}

func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Tracker{
		threshold: threshold,
		failures:  make(map[string]int),
		disabled:  make(map[string]bool),
	}
}

// RecordFailure notes one failure and reports whether this failure is the
// one that disabled the account. Further failures on an already disabled
// account return false, so a caller can notify exactly once.
func (t *Tracker) RecordFailure(account string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[account]++
	if t.disabled[account] {
		return false
	}
	if t.failures[account] >= t.threshold {
		t.disabled[account] = true
		return true
	}
	return false
}

// RecordSuccess clears the failure streak. It does not re-enable a
// disabled account.
func (t *Tracker) RecordSuccess(account string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[account] = 0
}

func (t *Tracker) Disabled(account string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disabled[account]
}

// Reset clears both the streak and the disabled flag. This is the only
// way back into rotation for a disabled account.
func (t *Tracker) Reset(account string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, account)
	delete(t.disabled, account)
}

// Snapshot returns the breaker state for every account seen so far.
func (t *Tracker) Snapshot() map[string]AccountStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]AccountStatus, len(t.failures))
	for account, n := range t.failures {
		out[account] = AccountStatus{Failures: n, Disabled: t.disabled[account]}
	}
	for account := range t.disabled {
		if _, ok := out[account]; !ok {
			out[account] = AccountStatus{Disabled: true}
		}
	}
	return out
}

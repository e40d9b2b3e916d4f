// Package ratelimit keeps the local, predictive send budget of every account.
// It exists to cut down wasted remote attempts; the platform's own rate-limit
// responses stay authoritative and are fed back through Penalize.
package ratelimit

import (
	"sync"
	"time"
)

type Profile string

const (
	ProfileNormal Profile = "normal"
	ProfileWarmup Profile = "warmup"
)

type Limits struct {
	Limit  int           `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

type Policy struct {
	Normal  Limits        `yaml:"normal"`
	Warmup  Limits        `yaml:"warmup"`
	Penalty time.Duration `yaml:"penalty"`
}

func DefaultPolicy() Policy {
	return Policy{
		Normal:  Limits{Limit: 20, Window: time.Hour},
		Warmup:  Limits{Limit: 2, Window: time.Hour},
		Penalty: time.Hour,
	}
}

func (p Policy) limits(profile Profile) Limits {
	if profile == ProfileWarmup {
		return p.Warmup
	}
	return p.Normal
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type accountState struct {
	window       Window
	profile      Profile
	backoffUntil time.Time
}

// State is a read-only view of one account's window.
type State struct {
	Profile      Profile    `json:"profile"`
	Count        int        `json:"count"`
	Limit        int        `json:"limit"`
	WindowStart  *time.Time `json:"windowStart,omitempty"`
	BackoffUntil *time.Time `json:"backoffUntil,omitempty"`
}

type Detector struct {
	mu       sync.Mutex
	policy   Policy
	accounts map[string]*accountState
}

func NewDetector(p Policy) *Detector {
	return &Detector{policy: p, accounts: make(map[string]*accountState)}
}

func (d *Detector) stateLocked(id string) *accountState {
	st, ok := d.accounts[id]
	if !ok {
		st = &accountState{profile: ProfileNormal}
		d.accounts[id] = st
	}
	return st
}

// CheckAndReserve takes one send slot for the account or reports how long to
// wait. A throttled answer never changes the stored window.
func (d *Detector) CheckAndReserve(id string, now time.Time) Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.stateLocked(id)
	if now.Before(st.backoffUntil) {
		return Decision{RetryAfter: st.backoffUntil.Sub(now)}
	}
	lim := d.policy.limits(st.profile)
	ok, retry := st.window.Reserve(now, lim.Limit, lim.Window)
	if !ok {
		return Decision{RetryAfter: retry}
	}
	return Decision{Allowed: true}
}

// Penalize records an authoritative remote rate-limit signal.
func (d *Detector) Penalize(id string, now time.Time) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.stateLocked(id)
	st.backoffUntil = now.Add(d.policy.Penalty)
	return st.backoffUntil
}

// SetProfile switches the window limits used for the account. The running
// count is kept so a switch cannot be used to reset the budget.
func (d *Detector) SetProfile(id string, p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateLocked(id).profile = p
}

func (d *Detector) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accounts, id)
}

func (d *Detector) Snapshot(id string, now time.Time) (State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.accounts[id]
	if !ok {
		return State{}, false
	}
	lim := d.policy.limits(st.profile)
	out := State{Profile: st.profile, Limit: lim.Limit}
	if !st.window.expired(now, lim.Window) {
		start := st.window.StartAt
		out.Count = st.window.Count
		out.WindowStart = &start
	}
	if now.Before(st.backoffUntil) {
		until := st.backoffUntil
		out.BackoffUntil = &until
	}
	return out, true
}

func (d *Detector) Policy() Policy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.policy
}

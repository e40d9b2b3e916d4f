package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetwarden/internal/health"
	"fleetwarden/internal/model"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	ChangeBanned  ChangeKind = "banned"
)

// Change is delivered to subscribers after the account lock has been released.
type Change struct {
	Kind     ChangeKind
	Account  model.Account
	Previous model.Account
}

type NewAccount struct {
	ID          string
	Username    string
	Nickname    *string
	Proxy       *string
	PhoneNumber *string
}

// Patch holds the fields of a partial update; nil means unchanged.
// Empty strings clear the optional fields.
type Patch struct {
	Username    *string
	Nickname    *string
	Proxy       *string
	PhoneNumber *string
	HealthScore *int
	State       *model.LifecycleState
}

type Filter struct {
	State     model.LifecycleState
	MinHealth *int
	MaxHealth *int
}

func (f Filter) match(a model.Account) bool {
	if f.State != "" && a.State != f.State {
		return false
	}
	if f.MinHealth != nil && a.HealthScore < *f.MinHealth {
		return false
	}
	if f.MaxHealth != nil && a.HealthScore > *f.MaxHealth {
		return false
	}
	return true
}

type entry struct {
	mu      sync.Mutex
	acc     model.Account
	deleted bool
}

type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*entry

	scorer health.Scorer
	log    zerolog.Logger

	subMu       sync.RWMutex
	subscribers []func(Change)

	stateFile string
	persistMu sync.Mutex
}

type Options struct {
	StateFile string
	Scorer    health.Scorer
	Logger    zerolog.Logger
}

func New() *Registry {
	return NewWithOptions(Options{Scorer: health.NewScorer(health.DefaultPolicy()), Logger: zerolog.Nop()})
}

func NewWithOptions(opts Options) *Registry {
	r := &Registry{
		accounts:  make(map[string]*entry),
		scorer:    opts.Scorer,
		log:       opts.Logger.With().Str("component", "registry").Logger(),
		stateFile: opts.StateFile,
	}
	if r.stateFile != "" {
		if err := r.loadFromFile(r.stateFile); err != nil {
			r.log.Error().Err(err).Str("path", r.stateFile).Msg("accounts persistence: load failed")
		}
	}
	return r
}

// Subscribe registers fn for every committed change. Subscribers must not block for long.
func (r *Registry) Subscribe(fn func(Change)) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *Registry) notify(ch Change) {
	r.subMu.RLock()
	subs := append([]func(Change){}, r.subscribers...)
	r.subMu.RUnlock()
	for _, fn := range subs {
		fn(ch)
	}
	r.persist()
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.accounts[id]
	return e, ok
}

func (r *Registry) Get(id string) (model.Account, error) {
	e, ok := r.lookup(id)
	if !ok {
		return model.Account{}, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return model.Account{}, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	return e.acc, nil
}

func (r *Registry) List(f Filter) []model.Account {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.accounts))
	for _, e := range r.accounts {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	result := make([]model.Account, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		acc, deleted := e.acc, e.deleted
		e.mu.Unlock()
		if !deleted && f.match(acc) {
			result = append(result, acc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (r *Registry) Create(in NewAccount, now time.Time) (model.Account, error) {
	if strings.TrimSpace(in.Username) == "" {
		return model.Account{}, fmt.Errorf("username is required: %w", model.ErrInvalidArgument)
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	acc := model.Account{
		ID:          id,
		Username:    in.Username,
		Nickname:    optional(in.Nickname),
		Proxy:       optional(in.Proxy),
		PhoneNumber: optional(in.PhoneNumber),
		HealthScore: model.MaxHealthScore,
		State:       model.StateActive,
		AccountAge:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	if _, exists := r.accounts[id]; exists {
		r.mu.Unlock()
		return model.Account{}, fmt.Errorf("account %s: %w", id, model.ErrConflict)
	}
	r.accounts[id] = &entry{acc: acc}
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeCreated, Account: acc})
	return acc, nil
}

func (r *Registry) Update(id string, p Patch, now time.Time) (model.Account, error) {
	return r.Mutate(id, now, func(acc *model.Account) error {
		if p.Username != nil {
			if strings.TrimSpace(*p.Username) == "" {
				return fmt.Errorf("username is required: %w", model.ErrInvalidArgument)
			}
			acc.Username = *p.Username
		}
		if p.Nickname != nil {
			acc.Nickname = optional(p.Nickname)
		}
		if p.Proxy != nil {
			acc.Proxy = optional(p.Proxy)
		}
		if p.PhoneNumber != nil {
			acc.PhoneNumber = optional(p.PhoneNumber)
		}
		if p.HealthScore != nil {
			if *p.HealthScore < model.MinHealthScore || *p.HealthScore > model.MaxHealthScore {
				return fmt.Errorf("health score %d: %w", *p.HealthScore, model.ErrInvalidArgument)
			}
			if acc.Banned() && *p.HealthScore != acc.HealthScore {
				return fmt.Errorf("account is banned: %w", model.ErrInvalidTransition)
			}
			acc.HealthScore = *p.HealthScore
		}
		if p.State != nil {
			return applyStatePatch(acc, *p.State)
		}
		return nil
	})
}

func applyStatePatch(acc *model.Account, target model.LifecycleState) error {
	if !target.Valid() {
		return fmt.Errorf("state %q: %w", target, model.ErrInvalidArgument)
	}
	if target == acc.State {
		return nil
	}
	switch {
	case acc.Banned():
		return fmt.Errorf("account is banned: %w", model.ErrInvalidTransition)
	case target == model.StateBanned:
		acc.State = model.StateBanned
		acc.HealthScore = model.MinHealthScore
	case target.Warming() || acc.State.Warming():
		return fmt.Errorf("warmup membership changes go through the warmup queues: %w", model.ErrInvalidTransition)
	default:
		acc.State = target
	}
	return nil
}

// Mutate applies fn to a copy of the account inside its critical section and
// commits the copy only if fn succeeds and the invariants still hold.
func (r *Registry) Mutate(id string, now time.Time, fn func(acc *model.Account) error) (model.Account, error) {
	e, ok := r.lookup(id)
	if !ok {
		return model.Account{}, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return model.Account{}, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	prev := e.acc
	if err := checkInvariants(prev); err != nil {
		e.mu.Unlock()
		return model.Account{}, err
	}
	next := prev
	if err := fn(&next); err != nil {
		e.mu.Unlock()
		return model.Account{}, err
	}
	next.ID = prev.ID
	next.AccountAge = prev.AccountAge
	next.CreatedAt = prev.CreatedAt
	if prev.Banned() && !next.Banned() {
		e.mu.Unlock()
		return model.Account{}, fmt.Errorf("account %s is banned: %w", id, model.ErrInvalidTransition)
	}
	if err := checkInvariants(next); err != nil {
		e.mu.Unlock()
		return model.Account{}, err
	}
	if sameAccount(next, prev) {
		e.mu.Unlock()
		return prev, nil
	}
	next.UpdatedAt = now
	e.acc = next
	e.mu.Unlock()

	kind := ChangeUpdated
	if next.Banned() && !prev.Banned() {
		kind = ChangeBanned
	}
	r.notify(Change{Kind: kind, Account: next, Previous: prev})
	return next, nil
}

// ApplyHealth feeds one observed event through the scorer. A successful send
// also refreshes LastActive.
func (r *Registry) ApplyHealth(id string, ev health.Event, now time.Time) (model.Account, error) {
	return r.Mutate(id, now, func(acc *model.Account) error {
		res, err := r.scorer.Apply(acc.HealthScore, acc.State, ev)
		if err != nil {
			return err
		}
		if ev == health.EventSendSuccess && !acc.Banned() {
			t := now
			acc.LastActive = &t
		}
		acc.HealthScore = res.Score
		acc.State = res.State
		return nil
	})
}

func (r *Registry) Ban(id string, now time.Time) (model.Account, error) {
	return r.ApplyHealth(id, health.EventBan, now)
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	e, ok := r.accounts[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	delete(r.accounts, id)
	r.mu.Unlock()

	e.mu.Lock()
	e.deleted = true
	acc := e.acc
	e.mu.Unlock()

	r.notify(Change{Kind: ChangeDeleted, Account: acc, Previous: acc})
	return nil
}

func checkInvariants(acc model.Account) error {
	if acc.HealthScore < model.MinHealthScore || acc.HealthScore > model.MaxHealthScore {
		return fmt.Errorf("account %s health score %d: %w", acc.ID, acc.HealthScore, model.ErrCorrupted)
	}
	if !acc.State.Valid() {
		return fmt.Errorf("account %s state %q: %w", acc.ID, acc.State, model.ErrCorrupted)
	}
	return nil
}

func sameAccount(a, b model.Account) bool {
	if !sameString(a.Nickname, b.Nickname) || !sameString(a.Proxy, b.Proxy) || !sameString(a.PhoneNumber, b.PhoneNumber) {
		return false
	}
	if (a.LastActive == nil) != (b.LastActive == nil) || (a.LastActive != nil && !a.LastActive.Equal(*b.LastActive)) {
		return false
	}
	return a.Username == b.Username && a.HealthScore == b.HealthScore && a.State == b.State
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func optional(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	s := *v
	return &s
}

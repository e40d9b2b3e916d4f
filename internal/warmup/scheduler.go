// Package warmup owns the three warmup queues and the moves between them.
// Every non-banned account sits in exactly one queue; banned and deleted
// accounts sit in none.
package warmup

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleetwarden/internal/model"
	"fleetwarden/internal/ratelimit"
	"fleetwarden/internal/registry"
)

type Accounts interface {
	Get(id string) (model.Account, error)
	List(f registry.Filter) []model.Account
	Mutate(id string, now time.Time, fn func(acc *model.Account) error) (model.Account, error)
}

// Profiles is the part of the rate-limit detector the scheduler drives.
type Profiles interface {
	SetProfile(id string, p ratelimit.Profile)
	Release(id string)
}

type Policy struct {
	// Schedule is a cron expression or descriptor for auto warmup runs.
	Schedule     string        `yaml:"schedule"`
	AutoMessages []string      `yaml:"auto_messages"`
	SuggestBelow int           `yaml:"suggest_below"`
	GraduateAt   int           `yaml:"graduate_at"`
	MinDuration  time.Duration `yaml:"min_duration"`
	AutoGraduate bool          `yaml:"auto_graduate"`
}

func DefaultPolicy() Policy {
	return Policy{
		Schedule: "@every 1h",
		AutoMessages: []string{
			"Hey, how is everyone doing today?",
			"Good morning!",
			"Thanks for sharing.",
		},
		SuggestBelow: 50,
		GraduateAt:   90,
		MinDuration:  72 * time.Hour,
	}
}

type Suggestion struct {
	AccountID   string      `json:"accountId"`
	Username    string      `json:"username"`
	HealthScore int         `json:"healthScore"`
	From        model.Queue `json:"from"`
	To          model.Queue `json:"to"`
	Reason      string      `json:"reason"`
}

type member struct {
	queue model.Queue
	since time.Time
}

type Scheduler struct {
	accounts Accounts
	profiles Profiles
	policy   Policy
	log      zerolog.Logger
	now      func() time.Time

	// moveMu serializes moves; mu guards membership and is never held while
	// calling into the registry's write path.
	moveMu sync.Mutex

	mu      sync.RWMutex
	members map[string]member
	manual  *model.ManualWarmupConfig
}

func New(accounts Accounts, profiles Profiles, policy Policy, log zerolog.Logger) *Scheduler {
	s := &Scheduler{
		accounts: accounts,
		profiles: profiles,
		policy:   policy,
		log:      log.With().Str("component", "warmup").Logger(),
		now:      time.Now,
		members:  make(map[string]member),
	}
	for _, acc := range accounts.List(registry.Filter{}) {
		s.admit(acc)
	}
	return s
}

func queueFor(state model.LifecycleState) model.Queue {
	switch state {
	case model.StateAutoWarmup:
		return model.QueueAutoWarmup
	case model.StateManualWarmup:
		return model.QueueManualWarmup
	}
	return model.QueueIdle
}

func profileFor(q model.Queue) ratelimit.Profile {
	if q == model.QueueIdle {
		return ratelimit.ProfileNormal
	}
	return ratelimit.ProfileWarmup
}

func (s *Scheduler) admit(acc model.Account) {
	if acc.Banned() {
		return
	}
	q := queueFor(acc.State)
	since := acc.CreatedAt
	if acc.WarmupSince != nil {
		since = *acc.WarmupSince
	}
	s.mu.Lock()
	s.members[acc.ID] = member{queue: q, since: since}
	s.mu.Unlock()
	s.profiles.SetProfile(acc.ID, profileFor(q))
}

func (s *Scheduler) drop(id string) {
	s.mu.Lock()
	delete(s.members, id)
	s.mu.Unlock()
	s.profiles.Release(id)
}

// OnChange is registered as a registry subscriber.
func (s *Scheduler) OnChange(ch registry.Change) {
	switch ch.Kind {
	case registry.ChangeCreated:
		s.admit(ch.Account)
	case registry.ChangeDeleted, registry.ChangeBanned:
		s.drop(ch.Account.ID)
		s.log.Debug().Str("account", ch.Account.ID).Str("change", string(ch.Kind)).Msg("left warmup queues")
	}
}

// MoveTo moves the account into q. Moving into the current queue returns the
// account unchanged.
func (s *Scheduler) MoveTo(id string, q model.Queue) (model.Account, error) {
	if !q.Valid() {
		return model.Account{}, fmt.Errorf("queue %q: %w", q, model.ErrInvalidArgument)
	}
	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	acc, err := s.accounts.Get(id)
	if err != nil {
		return model.Account{}, err
	}
	if acc.Banned() {
		return model.Account{}, fmt.Errorf("account %s is banned: %w", id, model.ErrInvalidTransition)
	}
	from, _ := s.QueueOf(id)
	if from == q {
		return acc, nil
	}

	now := s.now()
	acc, err = s.accounts.Mutate(id, now, func(a *model.Account) error {
		if a.Banned() {
			return fmt.Errorf("account %s is banned: %w", id, model.ErrInvalidTransition)
		}
		a.State = q.State()
		a.WarmupSince = nil
		if q != model.QueueIdle {
			entered := now
			a.WarmupSince = &entered
		}
		return nil
	})
	if err != nil {
		return model.Account{}, err
	}

	s.mu.Lock()
	// A ban or delete committed after Mutate is applied by OnChange once we release mu.
	cur, gerr := s.accounts.Get(id)
	if gerr != nil || cur.Banned() {
		delete(s.members, id)
		s.mu.Unlock()
		return acc, nil
	}
	s.members[id] = member{queue: q, since: now}
	s.mu.Unlock()
	s.profiles.SetProfile(id, profileFor(q))

	s.log.Info().
		Str("account", id).
		Str("from", string(from)).
		Str("to", string(q)).
		Msg("warmup queue changed")
	return acc, nil
}

func (s *Scheduler) QueueOf(id string) (model.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return "", fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	return m.queue, nil
}

// Queues lists the members of every queue, sorted by id. All three queues are
// always present.
func (s *Scheduler) Queues() map[model.Queue][]string {
	s.mu.RLock()
	out := map[model.Queue][]string{
		model.QueueIdle:         {},
		model.QueueAutoWarmup:   {},
		model.QueueManualWarmup: {},
	}
	for id, m := range s.members {
		out[m.queue] = append(out[m.queue], id)
	}
	s.mu.RUnlock()
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}

func (s *Scheduler) Members(q model.Queue) []string {
	return s.Queues()[q]
}

func (s *Scheduler) SetManualConfig(cfg model.ManualWarmupConfig) error {
	if cfg.MessagesPerPeriod < 0 || cfg.Period < 0 {
		return fmt.Errorf("cadence must not be negative: %w", model.ErrInvalidArgument)
	}
	if cfg.MessagesPerPeriod > 0 && cfg.Period == 0 {
		return fmt.Errorf("period is required when messagesPerPeriod is set: %w", model.ErrInvalidArgument)
	}
	c := model.ManualWarmupConfig{
		Groups:            append([]string(nil), cfg.Groups...),
		MessagesPerPeriod: cfg.MessagesPerPeriod,
		Period:            cfg.Period,
		Messages:          append([]string(nil), cfg.Messages...),
	}
	s.mu.Lock()
	s.manual = &c
	s.mu.Unlock()
	s.log.Info().
		Int("groups", len(c.Groups)).
		Int("messages_per_period", c.MessagesPerPeriod).
		Dur("period", c.Period).
		Msg("manual warmup config updated")
	return nil
}

// ManualConfig returns the manual warmup configuration, if one was set.
func (s *Scheduler) ManualConfig() (model.ManualWarmupConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.manual == nil {
		return model.ManualWarmupConfig{}, false
	}
	c := *s.manual
	c.Groups = append([]string(nil), c.Groups...)
	c.Messages = append([]string(nil), c.Messages...)
	return c, true
}

func (s *Scheduler) Policy() Policy { return s.policy }

// Suggestions proposes moves without applying them: weak idle accounts into
// auto warmup, healthy accounts that warmed long enough back to idle.
func (s *Scheduler) Suggestions() []Suggestion {
	now := s.now()
	s.mu.RLock()
	snapshot := make(map[string]member, len(s.members))
	for id, m := range s.members {
		snapshot[id] = m
	}
	s.mu.RUnlock()

	var out []Suggestion
	for id, m := range snapshot {
		acc, err := s.accounts.Get(id)
		if err != nil || acc.Banned() {
			continue
		}
		switch m.queue {
		case model.QueueIdle:
			if s.policy.SuggestBelow > 0 && acc.HealthScore < s.policy.SuggestBelow {
				out = append(out, Suggestion{
					AccountID: id, Username: acc.Username, HealthScore: acc.HealthScore,
					From: model.QueueIdle, To: model.QueueAutoWarmup,
					Reason: fmt.Sprintf("health %d below %d", acc.HealthScore, s.policy.SuggestBelow),
				})
			}
		case model.QueueAutoWarmup:
			if s.policy.GraduateAt > 0 && acc.HealthScore >= s.policy.GraduateAt && now.Sub(m.since) >= s.policy.MinDuration {
				out = append(out, Suggestion{
					AccountID: id, Username: acc.Username, HealthScore: acc.HealthScore,
					From: model.QueueAutoWarmup, To: model.QueueIdle,
					Reason: fmt.Sprintf("health %d reached %d after %s", acc.HealthScore, s.policy.GraduateAt, now.Sub(m.since).Round(time.Minute)),
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

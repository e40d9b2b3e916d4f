// Package stats computes the dashboard and warmup summaries from live state.
package stats

import (
	"time"

	"fleetwarden/internal/model"
	"fleetwarden/internal/registry"
)

type AccountLister interface {
	List(f registry.Filter) []model.Account
}

type SessionLister interface {
	List() []model.BroadcastSession
}

type Dashboard struct {
	TotalAccounts  int     `json:"totalAccounts"`
	MessagesSent   int     `json:"messagesSent"`
	AverageHealth  float64 `json:"averageHealth"`
	ActiveProxies  int     `json:"activeProxies"`
	BannedAccounts int     `json:"bannedAccounts"`
}

type Warmup struct {
	ActiveWarmups       int     `json:"activeWarmups"`
	AverageWarmupHealth float64 `json:"averageWarmupHealth"`
	WarmupMessagesToday int     `json:"warmupMessagesToday"`
}

type Summary struct {
	Dashboard Dashboard `json:"dashboard"`
	Warmup    Warmup    `json:"warmup"`
}

type Service struct {
	accounts AccountLister
	sessions SessionLister
	now      func() time.Time
}

func New(accounts AccountLister, sessions SessionLister) *Service {
	return &Service{accounts: accounts, sessions: sessions, now: time.Now}
}

func (s *Service) Summary() Summary {
	accounts := s.accounts.List(registry.Filter{})
	sessions := s.sessions.List()
	return Summary{
		Dashboard: dashboard(accounts, sessions),
		Warmup:    warmup(accounts, sessions, s.now()),
	}
}

func dashboard(accounts []model.Account, sessions []model.BroadcastSession) Dashboard {
	var d Dashboard
	total := 0
	for _, a := range accounts {
		d.TotalAccounts++
		total += a.HealthScore
		if a.Banned() {
			d.BannedAccounts++
			continue
		}
		if a.Proxy != nil {
			d.ActiveProxies++
		}
	}
	if d.TotalAccounts > 0 {
		d.AverageHealth = round1(float64(total) / float64(d.TotalAccounts))
	}
	for _, s := range sessions {
		for _, t := range s.Broadcasts {
			d.MessagesSent += t.MessagesSent
		}
	}
	return d
}

func warmup(accounts []model.Account, sessions []model.BroadcastSession, now time.Time) Warmup {
	var w Warmup
	total := 0
	for _, a := range accounts {
		if a.State.Warming() {
			w.ActiveWarmups++
			total += a.HealthScore
		}
	}
	if w.ActiveWarmups > 0 {
		w.AverageWarmupHealth = round1(float64(total) / float64(w.ActiveWarmups))
	}
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	for _, s := range sessions {
		if s.Origin == model.OriginOperator || s.CreatedAt.Before(midnight) {
			continue
		}
		for _, t := range s.Broadcasts {
			w.WarmupMessagesToday += t.MessagesSent
		}
	}
	return w
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

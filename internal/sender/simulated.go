package sender

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleetwarden/internal/model"
)

type SimulatedConfig struct {
	Latency time.Duration
	// RemoteLimitAfter makes the platform refuse an account after that many sends. Zero disables it.
	RemoteLimitAfter int
}

// Simulated stands in for a platform client in local runs and demos.
type Simulated struct {
	cfg SimulatedConfig
	log zerolog.Logger

	mu     sync.Mutex
	sent   map[string]int
	joined map[string]map[string]bool
}

func NewSimulated(cfg SimulatedConfig, log zerolog.Logger) *Simulated {
	return &Simulated{
		cfg:    cfg,
		log:    log.With().Str("component", "sender").Logger(),
		sent:   make(map[string]int),
		joined: make(map[string]map[string]bool),
	}
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(s.cfg.Latency)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

func (s *Simulated) Send(ctx context.Context, acc model.Account, message string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.RemoteLimitAfter > 0 && s.sent[acc.ID] >= s.cfg.RemoteLimitAfter {
		s.log.Debug().Str("account", acc.ID).Msg("simulated remote rate limit")
		return ErrRemoteRateLimited
	}
	s.sent[acc.ID]++
	s.log.Debug().Str("account", acc.ID).Int("length", len(message)).Msg("simulated send")
	return nil
}

func (s *Simulated) JoinGroup(ctx context.Context, acc model.Account, group string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined[acc.ID] == nil {
		s.joined[acc.ID] = make(map[string]bool)
	}
	s.joined[acc.ID][group] = true
	s.log.Debug().Str("account", acc.ID).Str("group", group).Msg("simulated group join")
	return nil
}

func (s *Simulated) Sent(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[accountID]
}

func (s *Simulated) Joined(accountID, group string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined[accountID][group]
}

// Package dispatch fans a broadcast out to many accounts at once. Every target
// runs in its own goroutine, a shared pool caps in-flight sends, and a lock per
// account keeps sends to the same account strictly sequential.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetwarden/internal/health"
	"fleetwarden/internal/model"
	"fleetwarden/internal/ratelimit"
	"fleetwarden/internal/sender"
)

type Accounts interface {
	Get(id string) (model.Account, error)
	ApplyHealth(id string, ev health.Event, now time.Time) (model.Account, error)
}

type Limiter interface {
	CheckAndReserve(id string, now time.Time) ratelimit.Decision
	Penalize(id string, now time.Time) time.Time
	Release(id string)
}

type Activity interface {
	MessageSent(accountID, sessionID string)
	RateLimited(accountID string, remote bool, retryAfter time.Duration)
	SendFailed(accountID string, err error)
}

type Config struct {
	Workers               int
	SendTimeout           time.Duration
	MessagesPerAccount    int
	MaxMessagesPerAccount int
}

func DefaultConfig() Config {
	return Config{Workers: 4, SendTimeout: 30 * time.Second, MessagesPerAccount: 1, MaxMessagesPerAccount: 1000}
}

type Deps struct {
	Accounts Accounts
	Limiter  Limiter
	Proxies  *ratelimit.ProxyLimiter
	Sender   sender.Sender
	Activity Activity
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Request struct {
	Name       string
	Origin     model.SessionOrigin
	Message    string
	AccountIDs []string
	// MessagesPerAccount is the per-target quota; zero uses the configured default.
	MessagesPerAccount int
}

type Dispatcher struct {
	cfg      Config
	accounts Accounts
	limiter  Limiter
	proxies  *ratelimit.ProxyLimiter
	sender   sender.Sender
	activity Activity
	log      zerolog.Logger
	now      func() time.Time

	slots    chan struct{}
	locks    *accountLocks
	sessions *sessionStore

	obsMu     sync.RWMutex
	observers []func(model.BroadcastSession)
	pub       *publisher

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg Config, deps Deps) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.MessagesPerAccount <= 0 {
		cfg.MessagesPerAccount = def.MessagesPerAccount
	}
	if cfg.MaxMessagesPerAccount <= 0 {
		cfg.MaxMessagesPerAccount = def.MaxMessagesPerAccount
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:        cfg,
		accounts:   deps.Accounts,
		limiter:    deps.Limiter,
		proxies:    deps.Proxies,
		sender:     deps.Sender,
		activity:   deps.Activity,
		log:        deps.Logger.With().Str("component", "dispatch").Logger(),
		now:        now,
		slots:      make(chan struct{}, cfg.Workers),
		locks:      newAccountLocks(),
		sessions:   newSessionStore(),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
	d.pub = newPublisher(d.deliver)
	return d
}

func (d *Dispatcher) Config() Config { return d.cfg }

// Observe registers fn for every session change. Observers run on one
// delivery goroutine, in the order the changes happened, and receive a private
// copy. fn must not block on Wait.
func (d *Dispatcher) Observe(fn func(model.BroadcastSession)) {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	d.observers = append(d.observers, fn)
}

func (d *Dispatcher) deliver(s model.BroadcastSession) {
	d.obsMu.RLock()
	obs := append([]func(model.BroadcastSession){}, d.observers...)
	d.obsMu.RUnlock()
	for _, fn := range obs {
		d.notify(fn, s.Clone())
	}
}

func (d *Dispatcher) notify(fn func(model.BroadcastSession), s model.BroadcastSession) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("session", s.ID).Msg("session observer panicked")
		}
	}()
	fn(s)
}

// Dispatch validates the request, records the session and starts it. The
// returned snapshot is taken before any send is attempted.
func (d *Dispatcher) Dispatch(req Request) (model.BroadcastSession, error) {
	if strings.TrimSpace(req.Message) == "" {
		return model.BroadcastSession{}, fmt.Errorf("message is required: %w", model.ErrInvalidArgument)
	}
	if len(req.AccountIDs) == 0 {
		return model.BroadcastSession{}, fmt.Errorf("at least one account is required: %w", model.ErrInvalidArgument)
	}
	quota := req.MessagesPerAccount
	if quota == 0 {
		quota = d.cfg.MessagesPerAccount
	}
	if quota < 0 || quota > d.cfg.MaxMessagesPerAccount {
		return model.BroadcastSession{}, fmt.Errorf("messagesPerAccount must be between 1 and %d: %w", d.cfg.MaxMessagesPerAccount, model.ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(req.AccountIDs))
	for _, id := range req.AccountIDs {
		if _, dup := seen[id]; dup {
			return model.BroadcastSession{}, fmt.Errorf("account %s: %w", id, model.ErrDuplicateTarget)
		}
		seen[id] = struct{}{}
		if _, err := d.accounts.Get(id); err != nil {
			return model.BroadcastSession{}, err
		}
	}
	origin := req.Origin
	if origin == "" {
		origin = model.OriginOperator
	}

	targets := make([]model.MessageBroadcast, len(req.AccountIDs))
	for i, id := range req.AccountIDs {
		targets[i] = model.MessageBroadcast{ID: uuid.NewString(), AccountID: id, Status: model.TargetPending}
	}
	ctx, cancel := context.WithCancel(d.rootCtx)
	s := &session{
		data: model.BroadcastSession{
			ID:                 uuid.NewString(),
			Name:               req.Name,
			Origin:             origin,
			Message:            req.Message,
			MessagesPerAccount: quota,
			SelectedAccounts:   append([]string(nil), req.AccountIDs...),
			Broadcasts:         targets,
			Status:             model.SessionSending,
			CreatedAt:          d.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.sessions.put(s)
	snap := s.snapshot()

	d.log.Info().
		Str("session", snap.ID).
		Str("origin", string(origin)).
		Int("targets", len(targets)).
		Int("quota", quota).
		Msg("broadcast started")

	d.pub.snapshot(snap)

	d.wg.Add(1)
	go d.run(ctx, s)
	return snap, nil
}

func (d *Dispatcher) Get(id string) (model.BroadcastSession, error) {
	s, ok := d.sessions.get(id)
	if !ok {
		return model.BroadcastSession{}, fmt.Errorf("broadcast %s: %w", id, model.ErrNotFound)
	}
	return s.snapshot(), nil
}

func (d *Dispatcher) List() []model.BroadcastSession {
	return d.sessions.list()
}

// Wait blocks until the session reaches a terminal status and observers have
// seen it, or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context, id string) (model.BroadcastSession, error) {
	s, ok := d.sessions.get(id)
	if !ok {
		return model.BroadcastSession{}, fmt.Errorf("broadcast %s: %w", id, model.ErrNotFound)
	}
	select {
	case <-s.done:
		return s.snapshot(), nil
	case <-ctx.Done():
		return s.snapshot(), ctx.Err()
	}
}

// Cancel stops scheduling new sends for the session. Sends already on the
// wire finish; outcomes that are already terminal are left alone.
func (d *Dispatcher) Cancel(id string) (model.BroadcastSession, error) {
	s, ok := d.sessions.get(id)
	if !ok {
		return model.BroadcastSession{}, fmt.Errorf("broadcast %s: %w", id, model.ErrNotFound)
	}
	s.mu.Lock()
	if !s.data.Status.Terminal() {
		s.data.Cancelled = true
	}
	s.mu.Unlock()
	s.cancel()
	d.log.Info().Str("session", id).Msg("broadcast cancel requested")
	return s.snapshot(), nil
}

// Shutdown cancels every running session and waits for the workers and the
// observers to drain.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.rootCancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		d.pub.close()
		<-d.pub.stopped
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

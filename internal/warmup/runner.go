package warmup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"fleetwarden/internal/dispatch"
	"fleetwarden/internal/model"
	"fleetwarden/internal/sender"
)

type Broadcaster interface {
	Dispatch(req dispatch.Request) (model.BroadcastSession, error)
}

// Runner drives recurring warmup activity: synthetic auto warmup messages on
// the policy schedule, graduation when enabled, and the manual cadence.
type Runner struct {
	sched  *Scheduler
	bc     Broadcaster
	joiner sender.GroupJoiner
	log    zerolog.Logger
	now    func() time.Time

	c *cron.Cron

	mu         sync.Mutex
	autoNext   int
	manualNext int
	lastManual time.Time
	joined     map[string]map[string]bool
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewRunner wires the scheduler to the broadcaster. joiner may be nil when the
// platform client cannot join groups.
func NewRunner(sched *Scheduler, bc Broadcaster, joiner sender.GroupJoiner, log zerolog.Logger) *Runner {
	return &Runner{
		sched:  sched,
		bc:     bc,
		joiner: joiner,
		log:    log.With().Str("component", "warmup-runner").Logger(),
		now:    time.Now,
		joined: make(map[string]map[string]bool),
	}
}

// Start registers the cron entries and starts the cron loop. The manual
// cadence is checked every minute and fires when its interval has elapsed.
func (r *Runner) Start(ctx context.Context) error {
	r.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	if expr := r.sched.Policy().Schedule; expr != "" {
		if _, err := r.c.AddFunc(expr, func() { r.RunAuto(ctx) }); err != nil {
			return fmt.Errorf("warmup schedule %q: %w", expr, err)
		}
	}
	if _, err := r.c.AddFunc("@every 1m", func() { r.RunManual(ctx) }); err != nil {
		return err
	}
	r.c.Start()
	r.log.Info().Str("schedule", r.sched.Policy().Schedule).Msg("warmup runner started")
	return nil
}

func (r *Runner) Stop() {
	if r.c == nil {
		return
	}
	<-r.c.Stop().Done()
}

// RunAuto sends one synthetic message to every auto warmup member and then
// graduates eligible accounts when the policy allows it.
func (r *Runner) RunAuto(ctx context.Context) (model.BroadcastSession, bool) {
	pol := r.sched.Policy()
	var (
		session model.BroadcastSession
		sent    bool
	)
	members := r.sched.Members(model.QueueAutoWarmup)
	if len(members) > 0 && len(pol.AutoMessages) > 0 && ctx.Err() == nil {
		r.mu.Lock()
		msg := pol.AutoMessages[r.autoNext%len(pol.AutoMessages)]
		r.autoNext++
		r.mu.Unlock()

		s, err := r.bc.Dispatch(dispatch.Request{
			Name:               "auto warmup",
			Origin:             model.OriginAutoWarmup,
			Message:            msg,
			AccountIDs:         members,
			MessagesPerAccount: 1,
		})
		if err != nil {
			r.log.Warn().Err(err).Int("members", len(members)).Msg("auto warmup dispatch failed")
		} else {
			session, sent = s, true
		}
	}

	if pol.AutoGraduate {
		for _, sg := range r.sched.Suggestions() {
			if sg.From != model.QueueAutoWarmup {
				continue
			}
			if _, err := r.sched.MoveTo(sg.AccountID, sg.To); err != nil {
				r.log.Warn().Err(err).Str("account", sg.AccountID).Msg("graduation failed")
				continue
			}
			r.log.Info().Str("account", sg.AccountID).Int("health", sg.HealthScore).Msg("account graduated from warmup")
		}
	}
	return session, sent
}

// RunManual dispatches the next manual cadence message when it is due.
func (r *Runner) RunManual(ctx context.Context) (model.BroadcastSession, bool) {
	cfg, ok := r.sched.ManualConfig()
	if !ok || cfg.Interval() == 0 || ctx.Err() != nil {
		return model.BroadcastSession{}, false
	}
	members := r.sched.Members(model.QueueManualWarmup)
	if len(members) == 0 {
		return model.BroadcastSession{}, false
	}

	now := r.now()
	r.mu.Lock()
	if !r.lastManual.IsZero() && now.Sub(r.lastManual) < cfg.Interval() {
		r.mu.Unlock()
		return model.BroadcastSession{}, false
	}
	r.lastManual = now
	msg := cfg.Messages[r.manualNext%len(cfg.Messages)]
	r.manualNext++
	r.mu.Unlock()

	r.joinGroups(ctx, members, cfg.Groups)

	s, err := r.bc.Dispatch(dispatch.Request{
		Name:               "manual warmup",
		Origin:             model.OriginManualWarmup,
		Message:            msg,
		AccountIDs:         members,
		MessagesPerAccount: 1,
	})
	if err != nil {
		r.log.Warn().Err(err).Int("members", len(members)).Msg("manual warmup dispatch failed")
		return model.BroadcastSession{}, false
	}
	return s, true
}

// joinGroups makes every member join each configured group once.
func (r *Runner) joinGroups(ctx context.Context, members, groups []string) {
	if r.joiner == nil || len(groups) == 0 {
		return
	}
	for _, id := range members {
		acc, err := r.sched.accounts.Get(id)
		if err != nil || acc.Banned() {
			continue
		}
		for _, g := range groups {
			r.mu.Lock()
			done := r.joined[id][g]
			r.mu.Unlock()
			if done {
				continue
			}
			jctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := r.joiner.JoinGroup(jctx, acc, g)
			cancel()
			if err != nil {
				r.log.Warn().Err(err).Str("account", id).Str("group", g).Msg("group join failed")
				continue
			}
			r.mu.Lock()
			if r.joined[id] == nil {
				r.joined[id] = make(map[string]bool)
			}
			r.joined[id][g] = true
			r.mu.Unlock()
		}
	}
}

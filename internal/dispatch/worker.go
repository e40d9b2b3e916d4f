package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fleetwarden/internal/health"
	"fleetwarden/internal/model"
	"fleetwarden/internal/sender"
)

const errCancelled = "cancelled"

// run drives every target of s. s.done is closed once all of them settle and
// observers have received the final snapshot.
func (d *Dispatcher) run(ctx context.Context, s *session) {
	defer d.wg.Done()
	defer s.cancel()

	var wg sync.WaitGroup
	for i := range s.data.Broadcasts {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			d.runTarget(ctx, s, idx)
		}(i)
	}
	wg.Wait()

	// Anything still open here was stopped before it could finish.
	for i := range s.data.Broadcasts {
		d.settle(s, i, model.TargetFailed, errCancelled)
	}
	s.mu.Lock()
	was := s.data.Cancelled
	for _, t := range s.data.Broadcasts {
		if t.Error == errCancelled {
			s.data.Cancelled = true
		}
	}
	snap := s.data.Clone()
	if snap.Cancelled != was {
		d.pub.snapshot(snap)
	}
	d.pub.barrier(s.done)
	s.mu.Unlock()

	d.log.Info().
		Str("session", snap.ID).
		Str("status", string(snap.Status)).
		Bool("cancelled", snap.Cancelled).
		Msg("broadcast finished")
}

func (d *Dispatcher) runTarget(ctx context.Context, s *session, idx int) {
	s.mu.Lock()
	accountID := s.data.Broadcasts[idx].AccountID
	quota := s.data.MessagesPerAccount
	message := s.data.Message
	sessionID := s.data.ID
	s.mu.Unlock()

	log := d.log.With().Str("session", sessionID).Str("account", accountID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("broadcast worker panicked")
			d.settle(s, idx, model.TargetFailed, "internal error")
		}
	}()

	release, err := d.locks.acquire(ctx, accountID)
	if err != nil {
		d.settle(s, idx, model.TargetFailed, errCancelled)
		return
	}
	defer release()
	defer d.forgetIfGone(accountID)

	sent := 0
	for sent < quota {
		if ctx.Err() != nil {
			d.settle(s, idx, model.TargetFailed, errCancelled)
			return
		}
		acc, reason := d.sendable(accountID)
		if reason != "" {
			d.settle(s, idx, model.TargetFailed, reason)
			return
		}

		select {
		case d.slots <- struct{}{}:
		case <-ctx.Done():
			d.settle(s, idx, model.TargetFailed, errCancelled)
			return
		}

		if dec := d.limiter.CheckAndReserve(accountID, d.now()); !dec.Allowed {
			<-d.slots
			log.Info().Int("sent", sent).Dur("retry_after", dec.RetryAfter).Msg("local rate limit reached")
			if d.activity != nil {
				d.activity.RateLimited(accountID, false, dec.RetryAfter)
			}
			d.settle(s, idx, model.TargetRateLimited, "")
			return
		}

		proxy := ""
		if acc.Proxy != nil {
			proxy = *acc.Proxy
		}
		if err := d.proxies.Wait(ctx, proxy); err != nil {
			<-d.slots
			d.settle(s, idx, model.TargetFailed, errCancelled)
			return
		}

		// The slot and proxy waits can be long; a ban or delete may land meanwhile.
		acc, reason = d.sendable(accountID)
		if reason != "" {
			<-d.slots
			d.settle(s, idx, model.TargetFailed, reason)
			return
		}

		d.markSending(s, idx)
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SendTimeout)
		err := d.sender.Send(sendCtx, acc, message)
		cancel()
		<-d.slots

		switch {
		case err == nil:
			sent++
			d.recordSent(s, idx, sent)
			if _, herr := d.accounts.ApplyHealth(accountID, health.EventSendSuccess, d.now()); herr != nil {
				log.Warn().Err(herr).Msg("health update after send failed")
			}
			if d.activity != nil {
				d.activity.MessageSent(accountID, sessionID)
			}

		case errors.Is(err, sender.ErrRemoteRateLimited):
			now := d.now()
			until := d.limiter.Penalize(accountID, now)
			if _, herr := d.accounts.ApplyHealth(accountID, health.EventRateLimitHit, now); herr != nil {
				log.Warn().Err(herr).Msg("health update after rate limit failed")
			}
			if d.activity != nil {
				d.activity.RateLimited(accountID, true, until.Sub(now))
			}
			log.Warn().Int("sent", sent).Time("backoff_until", until).Msg("remote rate limit hit")
			d.settleRemoteLimit(s, idx, sent)
			return

		case errors.Is(err, sender.ErrAccountBanned):
			if _, herr := d.accounts.ApplyHealth(accountID, health.EventBan, d.now()); herr != nil {
				log.Warn().Err(herr).Msg("ban update failed")
			}
			log.Warn().Msg("platform reported account banned")
			d.settle(s, idx, model.TargetFailed, "account banned")
			return

		default:
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("send timed out after %s", d.cfg.SendTimeout)
			}
			if d.activity != nil {
				d.activity.SendFailed(accountID, err)
			}
			log.Warn().Err(err).Int("sent", sent).Msg("send failed")
			d.settle(s, idx, model.TargetFailed, err.Error())
			return
		}
	}
	d.settle(s, idx, model.TargetCompleted, "")
}

// sendable loads the account and reports why it can no longer be sent to.
func (d *Dispatcher) sendable(id string) (model.Account, string) {
	acc, err := d.accounts.Get(id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return model.Account{}, "account deleted"
	case err != nil:
		return model.Account{}, err.Error()
	case acc.Banned():
		return acc, "account banned"
	}
	return acc, ""
}

// forgetIfGone drops limiter state a late reservation or penalty recreated
// after the account was deleted or banned.
func (d *Dispatcher) forgetIfGone(id string) {
	acc, err := d.accounts.Get(id)
	if errors.Is(err, model.ErrNotFound) || (err == nil && acc.Banned()) {
		d.limiter.Release(id)
	}
}

// update applies fn to a target that is not yet terminal and recomputes the
// session status. Terminal targets are never touched again.
func (d *Dispatcher) update(s *session, idx int, fn func(t *model.MessageBroadcast)) {
	s.mu.Lock()
	t := &s.data.Broadcasts[idx]
	if t.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	fn(t)
	if t.Status.Terminal() {
		s.data.Status = model.AggregateStatus(s.data.Broadcasts)
		if s.data.Status.Terminal() && s.data.CompletedAt == nil {
			now := d.now()
			s.data.CompletedAt = &now
		}
	}
	d.pub.snapshot(s.data.Clone())
	s.mu.Unlock()
}

func (d *Dispatcher) markSending(s *session, idx int) {
	d.update(s, idx, func(t *model.MessageBroadcast) {
		if t.Status == model.TargetPending {
			now := d.now()
			t.Status = model.TargetSending
			t.StartTime = &now
		}
	})
}

func (d *Dispatcher) recordSent(s *session, idx, sent int) {
	d.update(s, idx, func(t *model.MessageBroadcast) {
		t.MessagesSent = sent
	})
}

func (d *Dispatcher) settle(s *session, idx int, status model.TargetStatus, reason string) {
	d.update(s, idx, func(t *model.MessageBroadcast) {
		now := d.now()
		t.Status = status
		t.Error = reason
		t.EndTime = &now
	})
}

func (d *Dispatcher) settleRemoteLimit(s *session, idx, sent int) {
	d.update(s, idx, func(t *model.MessageBroadcast) {
		now := d.now()
		before := sent
		t.Status = model.TargetRateLimited
		t.RateLimitHit = true
		t.MessagesBeforeLimit = &before
		t.MessagesSent = sent
		t.EndTime = &now
	})
}

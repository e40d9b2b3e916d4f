package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetwarden/internal/model"
	"fleetwarden/internal/registry"
)

// Recorder turns registry changes and dispatch outcomes into log entries.
// Store failures are logged and never surface to the caller.
type Recorder struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewRecorder(store Store, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, log: log.With().Str("component", "activity").Logger(), now: time.Now}
}

func (r *Recorder) Store() Store { return r.store }

func (r *Recorder) record(accountID string, typ EntryType, status Status, desc string) {
	e := Entry{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Type:        typ,
		Description: desc,
		Status:      status,
		Timestamp:   r.now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.Append(ctx, e); err != nil {
		r.log.Warn().Err(err).Str("account", accountID).Str("type", string(typ)).Msg("activity append failed")
	}
}

// OnChange is registered as a registry subscriber.
func (r *Recorder) OnChange(ch registry.Change) {
	acc, prev := ch.Account, ch.Previous
	switch ch.Kind {
	case registry.ChangeDeleted:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.store.Purge(ctx, acc.ID); err != nil {
			r.log.Warn().Err(err).Str("account", acc.ID).Msg("activity purge failed")
		}
		return
	case registry.ChangeBanned:
		r.record(acc.ID, TypeBan, StatusError, "Account banned")
		return
	case registry.ChangeCreated:
		return
	}

	if proxyOf(acc) != proxyOf(prev) {
		desc := "Proxy removed"
		if p := proxyOf(acc); p != "" {
			desc = fmt.Sprintf("Proxy updated to %s", p)
		}
		r.record(acc.ID, TypeProxyChange, StatusInfo, desc)
	}
	if acc.State != prev.State {
		r.record(acc.ID, TypeStateChange, StatusInfo, fmt.Sprintf("Status changed from %s to %s", prev.State, acc.State))
	}
}

func (r *Recorder) MessageSent(accountID, sessionID string) {
	r.record(accountID, TypeMessageSent, StatusSuccess, fmt.Sprintf("Message sent in broadcast %s", sessionID))
}

func (r *Recorder) RateLimited(accountID string, remote bool, retryAfter time.Duration) {
	desc := fmt.Sprintf("Rate limit reached - cooling down for %s", retryAfter.Round(time.Second))
	if remote {
		desc = fmt.Sprintf("Platform rate limit hit - backing off for %s", retryAfter.Round(time.Second))
	}
	r.record(accountID, TypeRateLimit, StatusWarning, desc)
}

func (r *Recorder) SendFailed(accountID string, err error) {
	r.record(accountID, TypeSendFailed, StatusError, fmt.Sprintf("Send failed: %v", err))
}

func proxyOf(a model.Account) string {
	if a.Proxy == nil {
		return ""
	}
	return *a.Proxy
}

package model

import "time"

type LifecycleState string

const (
	StateActive       LifecycleState = "active"
	StateLimited      LifecycleState = "limited"
	StateBanned       LifecycleState = "banned"
	StateAutoWarmup   LifecycleState = "auto_warmup"
	StateManualWarmup LifecycleState = "manual_warmup"
)

func (s LifecycleState) Valid() bool {
	switch s {
	case StateActive, StateLimited, StateBanned, StateAutoWarmup, StateManualWarmup:
		return true
	}
	return false
}

// Warming reports whether the state belongs to one of the warmup queues.
func (s LifecycleState) Warming() bool {
	return s == StateAutoWarmup || s == StateManualWarmup
}

const (
	MinHealthScore = 0
	MaxHealthScore = 100
)

type Account struct {
	ID          string         `json:"id"`
	Username    string         `json:"username"`
	Nickname    *string        `json:"nickname,omitempty"`
	Proxy       *string        `json:"proxy,omitempty"`
	PhoneNumber *string        `json:"phoneNumber,omitempty"`
	HealthScore int            `json:"healthScore"`
	State       LifecycleState `json:"status"`
	AccountAge  time.Time      `json:"accountAge"`
	LastActive  *time.Time     `json:"lastActive,omitempty"`
	WarmupSince *time.Time     `json:"warmupSince,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (a Account) Banned() bool { return a.State == StateBanned }

type Queue string

const (
	QueueIdle         Queue = "idle"
	QueueAutoWarmup   Queue = "auto_warmup"
	QueueManualWarmup Queue = "manual_warmup"
)

func (q Queue) Valid() bool {
	return q == QueueIdle || q == QueueAutoWarmup || q == QueueManualWarmup
}

// State is the lifecycle state an account takes when it enters the queue.
func (q Queue) State() LifecycleState {
	switch q {
	case QueueAutoWarmup:
		return StateAutoWarmup
	case QueueManualWarmup:
		return StateManualWarmup
	}
	return StateActive
}

type ManualWarmupConfig struct {
	Groups            []string      `json:"groups" yaml:"groups"`
	MessagesPerPeriod int           `json:"messagesPerPeriod" yaml:"messages_per_period"`
	Period            time.Duration `json:"period" yaml:"period"`
	Messages          []string      `json:"messages" yaml:"messages"`
}

// Interval is the spacing between manual warmup runs, zero when no cadence is configured.
func (c ManualWarmupConfig) Interval() time.Duration {
	if c.MessagesPerPeriod <= 0 || c.Period <= 0 || len(c.Messages) == 0 {
		return 0
	}
	return c.Period / time.Duration(c.MessagesPerPeriod)
}

type TargetStatus string

const (
	TargetPending     TargetStatus = "pending"
	TargetSending     TargetStatus = "sending"
	TargetCompleted   TargetStatus = "completed"
	TargetRateLimited TargetStatus = "rate_limited"
	TargetFailed      TargetStatus = "failed"
)

func (s TargetStatus) Terminal() bool {
	return s == TargetCompleted || s == TargetRateLimited || s == TargetFailed
}

type SessionStatus string

const (
	SessionSending            SessionStatus = "sending"
	SessionCompleted          SessionStatus = "completed"
	SessionPartiallyCompleted SessionStatus = "partially_completed"
	SessionFailed             SessionStatus = "failed"
)

func (s SessionStatus) Terminal() bool { return s != SessionSending }

type SessionOrigin string

const (
	OriginOperator     SessionOrigin = "operator"
	OriginAutoWarmup   SessionOrigin = "auto_warmup"
	OriginManualWarmup SessionOrigin = "manual_warmup"
)

// MessageBroadcast is the outcome of one target account within a session.
type MessageBroadcast struct {
	ID                  string       `json:"id"`
	AccountID           string       `json:"accountId"`
	MessagesSent        int          `json:"messagesSent"`
	RateLimitHit        bool         `json:"rateLimitHit"`
	MessagesBeforeLimit *int         `json:"messagesBeforeLimit"`
	StartTime           *time.Time   `json:"startTime,omitempty"`
	EndTime             *time.Time   `json:"endTime,omitempty"`
	Status              TargetStatus `json:"status"`
	Error               string       `json:"error,omitempty"`
}

type BroadcastSession struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name,omitempty"`
	Origin             SessionOrigin      `json:"origin"`
	Message            string             `json:"message"`
	MessagesPerAccount int                `json:"messagesPerAccount"`
	SelectedAccounts   []string           `json:"selectedAccounts"`
	Broadcasts         []MessageBroadcast `json:"broadcasts"`
	Status             SessionStatus      `json:"status"`
	Cancelled          bool               `json:"cancelled"`
	CreatedAt          time.Time          `json:"createdAt"`
	CompletedAt        *time.Time         `json:"completedAt,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s BroadcastSession) Clone() BroadcastSession {
	out := s
	out.SelectedAccounts = append([]string(nil), s.SelectedAccounts...)
	out.Broadcasts = make([]MessageBroadcast, len(s.Broadcasts))
	for i, b := range s.Broadcasts {
		if b.MessagesBeforeLimit != nil {
			v := *b.MessagesBeforeLimit
			b.MessagesBeforeLimit = &v
		}
		if b.StartTime != nil {
			v := *b.StartTime
			b.StartTime = &v
		}
		if b.EndTime != nil {
			v := *b.EndTime
			b.EndTime = &v
		}
		out.Broadcasts[i] = b
	}
	if s.CompletedAt != nil {
		v := *s.CompletedAt
		out.CompletedAt = &v
	}
	return out
}

// AggregateStatus derives the session status from its per-target outcomes.
func AggregateStatus(targets []MessageBroadcast) SessionStatus {
	completed := 0
	for _, t := range targets {
		if !t.Status.Terminal() {
			return SessionSending
		}
		if t.Status == TargetCompleted {
			completed++
		}
	}
	switch {
	case completed == len(targets):
		return SessionCompleted
	case completed == 0:
		return SessionFailed
	}
	return SessionPartiallyCompleted
}

// Package health turns observed send events into bounded score changes and
// forced lifecycle transitions. It holds no state of its own.
package health

import (
	"fmt"

	"fleetwarden/internal/model"
)

type Event string

const (
	EventSendSuccess  Event = "send_success"
	EventRateLimitHit Event = "rate_limit_hit"
	EventBan          Event = "ban"
)

type Policy struct {
	SuccessDelta   int `yaml:"success_delta"`
	RateLimitDelta int `yaml:"rate_limit_delta"`
	// LimitedBelow moves active accounts to limited under this score. Zero disables it.
	LimitedBelow int `yaml:"limited_below"`
}

func DefaultPolicy() Policy {
	return Policy{SuccessDelta: 1, RateLimitDelta: -15}
}

type Result struct {
	Score int
	State model.LifecycleState
}

type Scorer struct {
	policy Policy
}

func NewScorer(p Policy) Scorer {
	return Scorer{policy: p}
}

func (s Scorer) Policy() Policy { return s.policy }

func (s Scorer) Apply(score int, state model.LifecycleState, ev Event) (Result, error) {
	if score < model.MinHealthScore || score > model.MaxHealthScore {
		return Result{}, fmt.Errorf("health score %d out of range: %w", score, model.ErrCorrupted)
	}
	if state == model.StateBanned {
		return Result{Score: score, State: state}, nil
	}

	switch ev {
	case EventBan:
		return Result{Score: model.MinHealthScore, State: model.StateBanned}, nil
	case EventSendSuccess:
		score = bound(score + s.policy.SuccessDelta)
	case EventRateLimitHit:
		score = bound(score + s.policy.RateLimitDelta)
	default:
		return Result{}, fmt.Errorf("unknown health event %q: %w", ev, model.ErrInvalidArgument)
	}
	return Result{Score: score, State: s.nextState(score, state)}, nil
}

func (s Scorer) nextState(score int, state model.LifecycleState) model.LifecycleState {
	if s.policy.LimitedBelow <= 0 {
		return state
	}
	switch {
	case state == model.StateActive && score < s.policy.LimitedBelow:
		return model.StateLimited
	case state == model.StateLimited && score >= s.policy.LimitedBelow:
		return model.StateActive
	}
	return state
}

func bound(score int) int {
	if score > model.MaxHealthScore {
		return model.MaxHealthScore
	}
	if score < model.MinHealthScore {
		return model.MinHealthScore
	}
	return score
}

// Package sender is the boundary to the messaging platform. The dispatcher
// only sees the Sender interface; platform clients live outside this module.
package sender

import (
	"context"
	"errors"

	"fleetwarden/internal/model"
)

var (
	// ErrRemoteRateLimited is the platform telling us the account hit its limit.
	ErrRemoteRateLimited = errors.New("remote rate limited")
	// ErrAccountBanned is the platform reporting the account as banned.
	ErrAccountBanned = errors.New("account banned by platform")
)

type Sender interface {
	Send(ctx context.Context, acc model.Account, message string) error
}

// GroupJoiner is implemented by senders that can join groups, used by manual warmup.
type GroupJoiner interface {
	JoinGroup(ctx context.Context, acc model.Account, group string) error
}

// Func adapts a plain function to Sender.
type Func func(ctx context.Context, acc model.Account, message string) error

func (f Func) Send(ctx context.Context, acc model.Account, message string) error {
	return f(ctx, acc, message)
}

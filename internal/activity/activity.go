// Package activity keeps the per-account activity log shown next to an account.
package activity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type EntryType string

const (
	TypeMessageSent EntryType = "message_sent"
	TypeRateLimit   EntryType = "rate_limit"
	TypeProxyChange EntryType = "proxy_change"
	TypeStateChange EntryType = "state_change"
	TypeBan         EntryType = "ban"
	TypeSendFailed  EntryType = "send_failed"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusInfo    Status = "info"
	StatusError   Status = "error"
)

type Entry struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	Type        EntryType `json:"type"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

var ErrClosed = errors.New("activity store closed")

type Store interface {
	Append(ctx context.Context, e Entry) error
	// List returns the newest entries first.
	List(ctx context.Context, accountID string, limit int) ([]Entry, error)
	Purge(ctx context.Context, accountID string) error
	Close() error
}

type MemoryStore struct {
	mu         sync.RWMutex
	perAccount map[string][]Entry
	max        int
	closed     bool
}

// NewMemoryStore keeps at most max entries per account, dropping the oldest.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 200
	}
	return &MemoryStore{perAccount: make(map[string][]Entry), max: max}
}

func (m *MemoryStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	list := append(m.perAccount[e.AccountID], e)
	if len(list) > m.max {
		list = append([]Entry(nil), list[len(list)-m.max:]...)
	}
	m.perAccount[e.AccountID] = list
	return nil
}

func (m *MemoryStore) List(_ context.Context, accountID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	src := m.perAccount[accountID]
	out := make([]Entry, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Purge(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.perAccount, accountID)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

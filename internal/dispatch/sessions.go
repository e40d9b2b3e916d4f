package dispatch

import (
	"context"
	"sort"
	"sync"

	"fleetwarden/internal/model"
)

type session struct {
	mu     sync.Mutex
	data   model.BroadcastSession
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *session) snapshot() model.BroadcastSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

type sessionStore struct {
	mu   sync.RWMutex
	byID map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{byID: make(map[string]*session)}
}

func (st *sessionStore) put(s *session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.byID[s.data.ID] = s
}

func (st *sessionStore) get(id string) (*session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.byID[id]
	return s, ok
}

// list returns snapshots newest first.
func (st *sessionStore) list() []model.BroadcastSession {
	st.mu.RLock()
	all := make([]*session, 0, len(st.byID))
	for _, s := range st.byID {
		all = append(all, s)
	}
	st.mu.RUnlock()

	out := make([]model.BroadcastSession, 0, len(all))
	for _, s := range all {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

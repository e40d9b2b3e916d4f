package dispatch

import (
	"context"
	"sync"
)

// accountLocks hands out one lock per account id so that sends to an account
// never overlap, even across sessions. Entries are dropped when unused.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	ch   chan struct{}
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

func (l *accountLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	al, ok := l.locks[id]
	if !ok {
		al = &accountLock{ch: make(chan struct{}, 1)}
		l.locks[id] = al
	}
	al.refs++
	l.mu.Unlock()

	select {
	case al.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-al.ch
				l.put(id, al)
			})
		}, nil
	case <-ctx.Done():
		l.put(id, al)
		return nil, ctx.Err()
	}
}

func (l *accountLocks) put(id string, al *accountLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	al.refs--
	if al.refs == 0 {
		delete(l.locks, id)
	}
}

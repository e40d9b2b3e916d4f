package dispatch

import (
	"sync"

	"fleetwarden/internal/model"
)

// publisher delivers session snapshots to observers from a single goroutine,
// in the order they were queued. Queueing never blocks, so a slow observer
// cannot hold a pool slot.
type publisher struct {
	deliver func(model.BroadcastSession)

	mu      sync.Mutex
	queue   []delivery
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// delivery carries either a snapshot or a channel to close once everything
// queued before it has been delivered.
type delivery struct {
	snap   model.BroadcastSession
	signal chan struct{}
}

func newPublisher(deliver func(model.BroadcastSession)) *publisher {
	p := &publisher{
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *publisher) push(dl delivery) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if dl.signal != nil {
			close(dl.signal)
		}
		return
	}
	p.queue = append(p.queue, dl)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *publisher) snapshot(s model.BroadcastSession) { p.push(delivery{snap: s}) }

func (p *publisher) barrier(ch chan struct{}) { p.push(delivery{signal: ch}) }

// close stops accepting work; the loop drains what is already queued.
func (p *publisher) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *publisher) loop() {
	defer close(p.stopped)
	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		closed := p.closed
		p.mu.Unlock()

		for _, dl := range batch {
			if dl.signal != nil {
				close(dl.signal)
				continue
			}
			p.deliver(dl.snap)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-p.wake
	}
}

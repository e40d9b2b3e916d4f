package warmup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleetwarden/internal/dispatch"
	"fleetwarden/internal/model"
	"fleetwarden/internal/sender"
)

type fakeBroadcaster struct {
	mu   sync.Mutex
	reqs []dispatch.Request
}

func (f *fakeBroadcaster) Dispatch(req dispatch.Request) (model.BroadcastSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return model.BroadcastSession{ID: "s", Origin: req.Origin, Message: req.Message}, nil
}

func (f *fakeBroadcaster) requests() []dispatch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.Request(nil), f.reqs...)
}

func TestRunAuto_DispatchesToAutoMembers(t *testing.T) {
	s, _, _ := newTestScheduler(t, "1", "2", "3")
	_, _ = s.MoveTo("1", model.QueueAutoWarmup)
	_, _ = s.MoveTo("3", model.QueueAutoWarmup)
	_, _ = s.MoveTo("2", model.QueueManualWarmup)

	bc := &fakeBroadcaster{}
	r := NewRunner(s, bc, nil, zerolog.Nop())

	if _, ok := r.RunAuto(context.Background()); !ok {
		t.Fatalf("expected an auto warmup dispatch")
	}
	_, _ = r.RunAuto(context.Background())
	reqs := bc.requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(reqs))
	}
	if reqs[0].Origin != model.OriginAutoWarmup || len(reqs[0].AccountIDs) != 2 || reqs[0].AccountIDs[0] != "1" || reqs[0].AccountIDs[1] != "3" {
		t.Fatalf("unexpected request: %+v", reqs[0])
	}
	if reqs[0].Message == reqs[1].Message {
		t.Fatalf("expected the message pool to rotate")
	}
}

func TestRunAuto_NoMembersNoDispatch(t *testing.T) {
	s, _, _ := newTestScheduler(t, "1")
	bc := &fakeBroadcaster{}
	r := NewRunner(s, bc, nil, zerolog.Nop())
	if _, ok := r.RunAuto(context.Background()); ok {
		t.Fatalf("expected no dispatch")
	}
	if len(bc.requests()) != 0 {
		t.Fatalf("unexpected requests: %+v", bc.requests())
	}
}

func TestRunAuto_Graduates(t *testing.T) {
	s, reg, _ := newTestScheduler(t, "1")
	s.policy.AutoGraduate = true
	_, _ = s.MoveTo("1", model.QueueAutoWarmup)
	s.now = func() time.Time { return t0.Add(s.policy.MinDuration + time.Hour) }

	r := NewRunner(s, &fakeBroadcaster{}, nil, zerolog.Nop())
	r.RunAuto(context.Background())

	if q, _ := s.QueueOf("1"); q != model.QueueIdle {
		t.Fatalf("expected graduation to idle, got %s", q)
	}
	acc, _ := reg.Get("1")
	if acc.State != model.StateActive {
		t.Fatalf("expected active, got %s", acc.State)
	}
}

func TestRunManual_Cadence(t *testing.T) {
	s, _, _ := newTestScheduler(t, "1")
	_, _ = s.MoveTo("1", model.QueueManualWarmup)

	bc := &fakeBroadcaster{}
	joiner := sender.NewSimulated(sender.SimulatedConfig{}, zerolog.Nop())
	r := NewRunner(s, bc, joiner, zerolog.Nop())
	now := t0
	r.now = func() time.Time { return now }

	if _, ok := r.RunManual(context.Background()); ok {
		t.Fatalf("no config must mean no cadence")
	}

	_ = s.SetManualConfig(model.ManualWarmupConfig{
		Groups:            []string{"crypto-chat"},
		MessagesPerPeriod: 2,
		Period:            time.Hour,
		Messages:          []string{"first", "second"},
	})
	if _, ok := r.RunManual(context.Background()); !ok {
		t.Fatalf("expected the first manual run to fire")
	}
	if !joiner.Joined("1", "crypto-chat") {
		t.Fatalf("expected group join before first run")
	}

	now = t0.Add(10 * time.Minute)
	if _, ok := r.RunManual(context.Background()); ok {
		t.Fatalf("run before the interval must be skipped")
	}
	now = t0.Add(30 * time.Minute)
	if _, ok := r.RunManual(context.Background()); !ok {
		t.Fatalf("expected second run after the interval")
	}

	reqs := bc.requests()
	if len(reqs) != 2 || reqs[0].Message != "first" || reqs[1].Message != "second" || reqs[1].Origin != model.OriginManualWarmup {
		t.Fatalf("unexpected manual requests: %+v", reqs)
	}
}

func TestRunner_StartRejectsBadSchedule(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.policy.Schedule = "not a schedule"
	r := NewRunner(s, &fakeBroadcaster{}, nil, zerolog.Nop())
	if err := r.Start(context.Background()); err == nil {
		r.Stop()
		t.Fatalf("expected schedule parse error")
	}
}

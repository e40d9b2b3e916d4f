package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleetwarden/internal/auth"
	"fleetwarden/internal/config"
	"fleetwarden/internal/dispatch"
	"fleetwarden/internal/model"
	"fleetwarden/internal/registry"
	"fleetwarden/internal/sender"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "secret", "GIN_MODE": "test"})
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	dir := t.TempDir()
	cfg.AccountsStateFile = filepath.Join(dir, "accounts.json")
	cfg.ActivityDB = filepath.Join(dir, "activity.db")
	return cfg
}

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestNew_WiresComponents(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	snd := sender.NewSimulated(sender.SimulatedConfig{}, zerolog.Nop())
	a, err := New(ctx, cfg, config.DefaultPolicy(), snd, zerolog.Nop(), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = a.Dispatcher.Shutdown(sctx)
		_ = a.Activity.Close()
	})

	if _, err := a.Registry.Create(registry.NewAccount{ID: "1", Username: "alpha"}, time.Now()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if q, err := a.Warmup.QueueOf("1"); err != nil || q != model.QueueIdle {
		t.Fatalf("expected new account idle, got %s %v", q, err)
	}
	if _, err := a.Warmup.MoveTo("1", model.QueueAutoWarmup); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}

	s, err := a.Dispatcher.Dispatch(dispatch.Request{Message: "Hello", AccountIDs: []string{"1"}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s, err = a.Dispatcher.Wait(wctx, s.ID)
	if err != nil || s.Status != model.SessionCompleted {
		t.Fatalf("expected completed broadcast, got %+v %v", s, err)
	}
	acc, _ := a.Registry.Get("1")
	if acc.HealthScore != 100 || acc.State != model.StateAutoWarmup {
		t.Fatalf("unexpected account after broadcast: %+v", acc)
	}

	entries, err := a.Activity.List(ctx, "1", 10)
	if err != nil || len(entries) < 2 {
		t.Fatalf("expected state change and message activity, got %+v %v", entries, err)
	}

	tok, _ := auth.CreateToken("ops", TokenConfig(cfg))
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", w.Code)
	}
}

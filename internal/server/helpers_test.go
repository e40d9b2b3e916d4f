package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fleetwarden/internal/activity"
	"fleetwarden/internal/auth"
	"fleetwarden/internal/dispatch"
	"fleetwarden/internal/hub"
	"fleetwarden/internal/ratelimit"
	"fleetwarden/internal/registry"
	"fleetwarden/internal/sender"
	"fleetwarden/internal/stats"
	"fleetwarden/internal/warmup"
)

var testTokenConfig = auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

type testEnv struct {
	router http.Handler
	deps   Deps
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()

	reg := registry.New()
	det := ratelimit.NewDetector(ratelimit.DefaultPolicy())
	sched := warmup.New(reg, det, warmup.DefaultPolicy(), log)
	store := activity.NewMemoryStore(100)
	rec := activity.NewRecorder(store, log)
	h := hub.New()
	reg.Subscribe(sched.OnChange)
	reg.Subscribe(rec.OnChange)
	reg.Subscribe(h.OnAccountChange)

	d := dispatch.New(dispatch.Config{}, dispatch.Deps{
		Accounts: reg,
		Limiter:  det,
		Sender:   sender.NewSimulated(sender.SimulatedConfig{}, log),
		Activity: rec,
		Logger:   log,
	})
	d.Observe(h.OnSession)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	deps := Deps{
		Registry:    reg,
		Warmup:      sched,
		Detector:    det,
		Dispatcher:  d,
		Activity:    store,
		Stats:       stats.New(reg, d),
		Hub:         h,
		TokenConfig: testTokenConfig,
		Logger:      log,
		Version:     "test",
	}
	tok, err := auth.CreateToken("ops", testTokenConfig)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return &testEnv{router: NewRouter(deps), deps: deps, token: tok}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: unmarshal %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, resp
}

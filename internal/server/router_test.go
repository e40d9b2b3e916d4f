package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleetwarden/internal/middleware"
)

func TestHealthAndAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAccountEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"id": "1", "username": "alpha", "proxy": "proxy1.example.com"})
	if code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %v", code, resp)
	}
	acc := resp["account"].(map[string]any)
	if acc["healthScore"].(float64) != 100 || acc["status"] != "active" {
		t.Fatalf("unexpected account: %v", acc)
	}

	if code, _ := env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"id": "1", "username": "again"}); code != http.StatusConflict {
		t.Fatalf("duplicate create: expected 409, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"username": ""}); code != http.StatusBadRequest {
		t.Fatalf("empty username: expected 400, got %d", code)
	}
	_, _ = env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"id": "2", "username": "beta"})

	code, resp = env.do(t, http.MethodPatch, "/v1/accounts/2", map[string]any{"healthScore": 40})
	if code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %v", code, resp)
	}
	if code, _ := env.do(t, http.MethodPatch, "/v1/accounts/2", map[string]any{"healthScore": 140}); code != http.StatusBadRequest {
		t.Fatalf("out of range score: expected 400, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPatch, "/v1/accounts/2", map[string]any{"status": "auto_warmup"}); code != http.StatusConflict {
		t.Fatalf("warmup via update: expected 409, got %d", code)
	}

	_, resp = env.do(t, http.MethodGet, "/v1/accounts?maxHealth=50", nil)
	if list := resp["accounts"].([]any); len(list) != 1 || list[0].(map[string]any)["id"] != "2" {
		t.Fatalf("health filter: unexpected %v", resp)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/accounts?status=sleeping", nil); code != http.StatusBadRequest {
		t.Fatalf("bad status filter: expected 400, got %d", code)
	}

	code, resp = env.do(t, http.MethodGet, "/v1/accounts/1", nil)
	if code != http.StatusOK || resp["queue"] != "idle" {
		t.Fatalf("get: unexpected %d %v", code, resp)
	}

	code, resp = env.do(t, http.MethodPost, "/v1/accounts/2/ban", nil)
	if code != http.StatusOK || resp["account"].(map[string]any)["status"] != "banned" {
		t.Fatalf("ban: unexpected %d %v", code, resp)
	}
	if code, _ := env.do(t, http.MethodPatch, "/v1/accounts/2", map[string]any{"status": "active"}); code != http.StatusConflict {
		t.Fatalf("unban: expected 409, got %d", code)
	}
	code, resp = env.do(t, http.MethodGet, "/v1/accounts/2/activity", nil)
	if code != http.StatusOK || len(resp["activity"].([]any)) == 0 {
		t.Fatalf("activity: unexpected %d %v", code, resp)
	}

	if code, _ := env.do(t, http.MethodDelete, "/v1/accounts/2", nil); code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/accounts/2", nil); code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", code)
	}
	if code, _ := env.do(t, http.MethodDelete, "/v1/accounts/2", nil); code != http.StatusNotFound {
		t.Fatalf("delete again: expected 404, got %d", code)
	}
}

func TestWarmupEndpoints(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"id": "1", "username": "alpha"})
	_, _ = env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"id": "2", "username": "beta"})

	code, resp := env.do(t, http.MethodPost, "/v1/warmup/move", map[string]any{"accountId": "1", "queue": "auto_warmup"})
	if code != http.StatusOK || resp["account"].(map[string]any)["status"] != "auto_warmup" {
		t.Fatalf("move: unexpected %d %v", code, resp)
	}
	_, resp = env.do(t, http.MethodGet, "/v1/warmup/queues", nil)
	queues := resp["queues"].(map[string]any)
	if auto := queues["auto_warmup"].([]any); len(auto) != 1 || auto[0] != "1" {
		t.Fatalf("queues: unexpected %v", queues)
	}
	if idle := queues["idle"].([]any); len(idle) != 1 || idle[0] != "2" {
		t.Fatalf("queues: unexpected %v", queues)
	}

	_, _ = env.do(t, http.MethodPost, "/v1/accounts/2/ban", nil)
	if code, _ := env.do(t, http.MethodPost, "/v1/warmup/move", map[string]any{"accountId": "2", "queue": "manual_warmup"}); code != http.StatusConflict {
		t.Fatalf("move banned: expected 409, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/warmup/move", map[string]any{"accountId": "9", "queue": "idle"}); code != http.StatusNotFound {
		t.Fatalf("move unknown: expected 404, got %d", code)
	}

	_, resp = env.do(t, http.MethodGet, "/v1/warmup/manual-config", nil)
	if resp["config"] != nil {
		t.Fatalf("expected no manual config, got %v", resp)
	}
	code, resp = env.do(t, http.MethodPut, "/v1/warmup/manual-config", map[string]any{
		"groups": []string{"g1"}, "messagesPerPeriod": 3, "period": "24h", "messages": []string{"hi"},
	})
	if code != http.StatusOK || resp["config"].(map[string]any)["period"] != "24h0m0s" {
		t.Fatalf("put manual config: unexpected %d %v", code, resp)
	}
	if code, _ := env.do(t, http.MethodPut, "/v1/warmup/manual-config", map[string]any{"period": "soon"}); code != http.StatusBadRequest {
		t.Fatalf("bad period: expected 400, got %d", code)
	}

	code, resp = env.do(t, http.MethodGet, "/v1/warmup/suggestions", nil)
	if code != http.StatusOK || resp["suggestions"] == nil {
		t.Fatalf("suggestions: unexpected %d %v", code, resp)
	}
}

func TestBroadcastEndpoints(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"id": "1", "username": "alpha"})
	_, _ = env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"id": "2", "username": "beta"})

	if code, _ := env.do(t, http.MethodPost, "/v1/broadcasts", map[string]any{"message": "hi", "accountIds": []string{"1", "1"}}); code != http.StatusBadRequest {
		t.Fatalf("duplicate targets: expected 400, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/broadcasts", map[string]any{"message": "hi", "accountIds": []string{"9"}}); code != http.StatusNotFound {
		t.Fatalf("unknown target: expected 404, got %d", code)
	}

	code, resp := env.do(t, http.MethodPost, "/v1/broadcasts", map[string]any{"message": "Hello", "accountIds": []string{"1", "2"}})
	if code != http.StatusAccepted {
		t.Fatalf("create: expected 202, got %d: %v", code, resp)
	}
	id := resp["broadcast"].(map[string]any)["id"].(string)

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, resp = env.do(t, http.MethodGet, "/v1/broadcasts/"+id, nil)
		if resp["broadcast"].(map[string]any)["status"] != "sending" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("broadcast did not finish: %v", resp)
		}
		time.Sleep(10 * time.Millisecond)
	}
	b := resp["broadcast"].(map[string]any)
	if b["status"] != "completed" || len(b["broadcasts"].([]any)) != 2 {
		t.Fatalf("unexpected broadcast: %v", b)
	}

	_, resp = env.do(t, http.MethodGet, "/v1/broadcasts", nil)
	if len(resp["broadcasts"].([]any)) != 1 {
		t.Fatalf("list: unexpected %v", resp)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/broadcasts/missing", nil); code != http.StatusNotFound {
		t.Fatalf("get missing: expected 404, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/broadcasts/"+id+"/cancel", nil); code != http.StatusAccepted {
		t.Fatalf("cancel finished: expected 202, got %d", code)
	}

	_, resp = env.do(t, http.MethodGet, "/v1/stats", nil)
	dash := resp["dashboard"].(map[string]any)
	if dash["totalAccounts"].(float64) != 2 || dash["messagesSent"].(float64) != 2 {
		t.Fatalf("stats: unexpected %v", resp)
	}
}

func TestBroadcastCreateIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.deps.BroadcastLimiter = middleware.NewRateLimiter(1, time.Minute)
	env.router = NewRouter(env.deps)
	_, _ = env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"id": "1", "username": "alpha"})

	if code, _ := env.do(t, http.MethodPost, "/v1/broadcasts", map[string]any{"message": "a", "accountIds": []string{"1"}}); code != http.StatusAccepted {
		t.Fatalf("first create: expected 202, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/broadcasts", map[string]any{"message": "b", "accountIds": []string{"1"}}); code != http.StatusTooManyRequests {
		t.Fatalf("second create: expected 429, got %d", code)
	}
}

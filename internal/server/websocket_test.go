package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func TestWebSocketPingPong(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "token="+env.token)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	data, _ := json.Marshal(resp)
	if resp["type"] != "pong" {
		t.Fatalf("expected pong, got %s", string(data))
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebSocketStreamsAccountEvents(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "token="+env.token)
	defer conn.Close()

	// The handler registers before its read loop starts; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for env.deps.Hub.Subscribers("*") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, _ = env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"id": "1", "username": "alpha"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev map[string]any
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev["type"] != "account.created" || ev["topic"] != "accounts" {
		t.Fatalf("unexpected event: %v", ev)
	}
}

func TestWebSocketSessionSnapshot(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	_, _ = env.do(t, http.MethodPost, "/v1/accounts", map[string]any{"id": "1", "username": "alpha"})
	_, resp := env.do(t, http.MethodPost, "/v1/broadcasts", map[string]any{"message": "Hello", "accountIds": []string{"1"}})
	id := resp["broadcast"].(map[string]any)["id"].(string)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := env.deps.Dispatcher.Wait(ctx, id); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	conn := dialWS(t, srv, "token="+env.token+"&session="+id)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev map[string]any
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev["type"] != "broadcast.snapshot" || ev["data"].(map[string]any)["id"] != id {
		t.Fatalf("unexpected first event: %v", ev)
	}
}

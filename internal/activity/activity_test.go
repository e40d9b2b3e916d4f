package activity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleetwarden/internal/model"
	"fleetwarden/internal/registry"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "activity.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"memory": NewMemoryStore(10), "sqlite": sq}
}

func TestStores_AppendListPurge(t *testing.T) {
	ctx := context.Background()
	for name, st := range testStores(t) {
		for i := 0; i < 3; i++ {
			e := Entry{
				ID:          name + string(rune('a'+i)),
				AccountID:   "1",
				Type:        TypeMessageSent,
				Description: "sent",
				Status:      StatusSuccess,
				Timestamp:   t0.Add(time.Duration(i) * time.Minute),
			}
			if err := st.Append(ctx, e); err != nil {
				t.Fatalf("%s: Append: %v", name, err)
			}
		}
		_ = st.Append(ctx, Entry{ID: name + "x", AccountID: "2", Type: TypeBan, Status: StatusError, Timestamp: t0})

		got, err := st.List(ctx, "1", 2)
		if err != nil {
			t.Fatalf("%s: List: %v", name, err)
		}
		if len(got) != 2 {
			t.Fatalf("%s: expected 2 entries, got %d", name, len(got))
		}
		if !got[0].Timestamp.Equal(t0.Add(2*time.Minute)) || got[0].Type != TypeMessageSent {
			t.Fatalf("%s: expected newest first, got %+v", name, got[0])
		}

		if err := st.Purge(ctx, "1"); err != nil {
			t.Fatalf("%s: Purge: %v", name, err)
		}
		got, _ = st.List(ctx, "1", 10)
		if len(got) != 0 {
			t.Fatalf("%s: expected purged, got %d", name, len(got))
		}
		other, _ := st.List(ctx, "2", 10)
		if len(other) != 1 {
			t.Fatalf("%s: purge must not touch other accounts", name)
		}
	}
}

func TestMemoryStore_DropsOldest(t *testing.T) {
	st := NewMemoryStore(2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = st.Append(ctx, Entry{AccountID: "1", Description: string(rune('a' + i)), Timestamp: t0.Add(time.Duration(i) * time.Second)})
	}
	got, _ := st.List(ctx, "1", 0)
	if len(got) != 2 || got[1].Description != "b" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	_ = st.Close()
	if err := st.Append(ctx, Entry{AccountID: "1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRecorder_RegistryChanges(t *testing.T) {
	st := NewMemoryStore(10)
	rec := NewRecorder(st, zerolog.Nop())
	reg := registry.New()
	reg.Subscribe(rec.OnChange)

	proxy := "proxy2.example.com"
	_, _ = reg.Create(registry.NewAccount{ID: "1", Username: "a"}, t0)
	_, _ = reg.Update("1", registry.Patch{Proxy: &proxy}, t0)
	limited := model.StateLimited
	_, _ = reg.Update("1", registry.Patch{State: &limited}, t0)
	_, _ = reg.Ban("1", t0)

	got, _ := st.List(context.Background(), "1", 0)
	types := map[EntryType]int{}
	for _, e := range got {
		types[e.Type]++
	}
	if types[TypeProxyChange] != 1 || types[TypeStateChange] != 1 || types[TypeBan] != 1 {
		t.Fatalf("unexpected activity: %+v", got)
	}

	_ = reg.Delete("1")
	got, _ = st.List(context.Background(), "1", 0)
	if len(got) != 0 {
		t.Fatalf("expected activity purged on delete, got %d", len(got))
	}
}

func TestRecorder_DispatchOutcomes(t *testing.T) {
	st := NewMemoryStore(10)
	rec := NewRecorder(st, zerolog.Nop())

	rec.MessageSent("1", "s1")
	rec.RateLimited("1", true, time.Hour)
	rec.SendFailed("1", errors.New("connection reset"))

	got, _ := st.List(context.Background(), "1", 0)
	status := map[EntryType]Status{}
	for _, e := range got {
		status[e.Type] = e.Status
	}
	if len(got) != 3 || status[TypeMessageSent] != StatusSuccess || status[TypeRateLimit] != StatusWarning || status[TypeSendFailed] != StatusError {
		t.Fatalf("unexpected activity: %+v", got)
	}
}

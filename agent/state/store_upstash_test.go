package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

type recordingRedis struct {
	mu       sync.Mutex
	commands [][]any
	reply    func(cmd []any) string
}

func (r *recordingRedis) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		if got := req.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}
		var cmd []any
		if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
			t.Errorf("decode command: %v", err)
			return
		}
		r.mu.Lock()
		r.commands = append(r.commands, cmd)
		r.mu.Unlock()
		fmt.Fprint(w, r.reply(cmd))
	}
}

func newTestUpstashStore(t *testing.T, redis *recordingRedis, opts ...StoreOption) *UpstashRedisStore {
	t.Helper()
	server := httptest.NewServer(redis.handler(t))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		append([]StoreOption{WithHTTPClient(server.Client())}, opts...)...,
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	return store
}

func TestUpstashRedisStoreSessionKeyIsWorkspaceScoped(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{keyPrefix: "retail:"}
	got, err := store.sessionKey(SessionKey{WorkspaceID: "ws1", SessionID: "abc"})
	if err != nil {
		t.Fatalf("sessionKey() error = %v", err)
	}
	if got != "retail:ws:ws1:session:abc" {
		t.Fatalf("sessionKey() = %q", got)
	}

	if _, err := store.sessionKey(SessionKey{WorkspaceID: " ", SessionID: "abc"}); !errors.Is(err, ErrInvalidWorkspace) {
		t.Fatalf("sessionKey() error = %v, want ErrInvalidWorkspace", err)
	}
	if _, err := store.sessionKey(SessionKey{WorkspaceID: "ws1", SessionID: "  "}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("sessionKey() error = %v, want ErrInvalidSession", err)
	}
}

func TestUpstashRedisStoreSaveSendsSetWithTTL(t *testing.T) {
	t.Parallel()

	redis := &recordingRedis{reply: func([]any) string { return `{"result":"OK"}` }}
	store := newTestUpstashStore(t, redis, WithTTL(90*time.Second))

	st := NewSessionMemory(SessionKey{WorkspaceID: "ws", SessionID: "session-1"}, "cust", time.Now())
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cmd := redis.commands[0]
	if cmd[0] != "SET" || cmd[1] != "retail:ws:ws:session:session-1" {
		t.Fatalf("unexpected command: %#v", cmd)
	}
	if cmd[3] != "EX" || cmd[4] != float64(90) {
		t.Fatalf("unexpected ttl args: %#v", cmd[3:])
	}
	if st.Version != 1 {
		t.Fatalf("Version = %d, want 1", st.Version)
	}
}

func TestUpstashRedisStoreLoadRoundTrip(t *testing.T) {
	t.Parallel()

	seed := NewSessionMemory(SessionKey{WorkspaceID: "ws", SessionID: "session-2"}, "cust", time.Now().UTC())
	seed.EnsureCart().Add(CartItem{ProductID: "coca", Name: "Coca", Quantity: 2, UnitPriceCents: 100})
	payload, _ := json.Marshal(seed)
	encoded, _ := json.Marshal(string(payload))

	redis := &recordingRedis{reply: func([]any) string { return fmt.Sprintf(`{"result":%s}`, encoded) }}
	store := newTestUpstashStore(t, redis)

	st, err := store.Load(context.Background(), SessionKey{WorkspaceID: "ws", SessionID: "session-2"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Cart.Len() != 1 || st.State != StateIdle {
		t.Fatalf("unexpected state: %+v", st)
	}
	if redis.commands[0][0] != "GET" {
		t.Fatalf("command[0] = %v, want GET", redis.commands[0][0])
	}
}

func TestUpstashRedisStoreLoadRejectsOtherTenant(t *testing.T) {
	t.Parallel()

	other := NewSessionMemory(SessionKey{WorkspaceID: "ws-other", SessionID: "session-3"}, "cust", time.Now().UTC())
	payload, _ := json.Marshal(other)
	encoded, _ := json.Marshal(string(payload))

	redis := &recordingRedis{reply: func([]any) string { return fmt.Sprintf(`{"result":%s}`, encoded) }}
	store := newTestUpstashStore(t, redis)

	_, err := store.Load(context.Background(), SessionKey{WorkspaceID: "ws", SessionID: "session-3"})
	if !errors.Is(err, contractx.ErrTenantMismatch) {
		t.Fatalf("Load() error = %v, want ErrTenantMismatch", err)
	}
}

func TestUpstashRedisStoreLoadNotFound(t *testing.T) {
	t.Parallel()

	redis := &recordingRedis{reply: func([]any) string { return `{"result":null}` }}
	store := newTestUpstashStore(t, redis)

	_, err := store.Load(context.Background(), SessionKey{WorkspaceID: "ws", SessionID: "missing"})
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}
}

func TestUpstashRedisStoreIdempotencyCommands(t *testing.T) {
	t.Parallel()

	redis := &recordingRedis{reply: func(cmd []any) string {
		if cmd[0] == "EXISTS" {
			return `{"result":1}`
		}
		return `{"result":"OK"}`
	}}
	store := newTestUpstashStore(t, redis)

	if err := store.Mark(context.Background(), "ws:apply_payment_receipt:r-1", 10*time.Minute); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	seen, err := store.Seen(context.Background(), "ws:apply_payment_receipt:r-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Fatal("Seen() = false, want true")
	}

	set := redis.commands[0]
	if set[0] != "SET" || set[1] != "retail:idem:ws:apply_payment_receipt:r-1" || set[3] != "EX" || set[4] != float64(600) {
		t.Fatalf("unexpected SET command: %#v", set)
	}
	if redis.commands[1][0] != "EXISTS" {
		t.Fatalf("unexpected command: %#v", redis.commands[1])
	}
}

func TestUpstashRedisStoreHTTPErrorPropagates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	_, err = store.Seen(context.Background(), "k")
	if err == nil || !contractx.IsTransient(err) {
		t.Fatalf("Seen() error = %v, want transient", err)
	}
}

package state

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps sessions and idempotency marks in process. Sessions are
// stored encoded so callers never share pointers with the store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	marks    map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

var (
	_ Store            = (*MemoryStore)(nil)
	_ IdempotencyStore = (*MemoryStore)(nil)
)

func NewMemoryStore(sessionTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		marks:    make(map[string]time.Time),
		ttl:      sessionTTL,
		now:      time.Now,
	}
}

// WithClock swaps the time source; used by tests to drive expiry.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Load(_ context.Context, key SessionKey) (*SessionMemory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	entry, ok := s.sessions[key.String()]
	if ok && !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.sessions, key.String())
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return decodeSession(key, entry.payload)
}

func (s *MemoryStore) Save(_ context.Context, st *SessionMemory) error {
	payload, err := encodeSession(st)
	if err != nil {
		return err
	}
	entry := memoryEntry{payload: payload}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.sessions[st.Key().String()] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key SessionKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, key.String())
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.marks[key]
	if !ok {
		return false, nil
	}
	if !expiresAt.IsZero() && !s.now().Before(expiresAt) {
		delete(s.marks, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Mark(_ context.Context, key string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.marks[key] = expiresAt
	s.mu.Unlock()
	return nil
}

// Package memory owns per-session state access: serialized read-modify-write
// for each session and a short-lived idempotency cache.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
	"github.com/tanpawarit/Chative-Retail-Agent/pkg/keylock"
)

const defaultIdempotencyTTL = 10 * time.Minute

type Option func(*Manager)

// WithIdempotencyTTL sets how long a completed key suppresses re-execution.
// It should stay well below the session TTL.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.idempotencyTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

type Manager struct {
	store          statex.Store
	idempotency    statex.IdempotencyStore
	locks          *keylock.Map
	idempotencyTTL time.Duration
	now            func() time.Time
}

func New(store statex.Store, idempotency statex.IdempotencyStore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if idempotency == nil {
		return nil, errors.New("idempotency store is required")
	}
	m := &Manager{
		store:          store,
		idempotency:    idempotency,
		locks:          keylock.New(),
		idempotencyTTL: defaultIdempotencyTTL,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Acquire serializes processing for one session. Sessions with different
// keys never wait on each other.
func (m *Manager) Acquire(ctx context.Context, key statex.SessionKey) (func(), error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	release, err := m.locks.Lock(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("wait for session lock %s: %w", key, err)
	}
	return release, nil
}

// Load returns the stored session or a fresh IDLE one. The caller must hold
// the session lock when it intends to save the result.
func (m *Manager) Load(ctx context.Context, key statex.SessionKey, customerID string) (*statex.SessionMemory, bool, error) {
	mem, err := m.store.Load(ctx, key)
	if err == nil {
		return mem, false, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, false, err
	}
	zerolog.Ctx(ctx).Debug().Str("session", key.String()).Msg("creating session memory")
	return statex.NewSessionMemory(key, strings.TrimSpace(customerID), m.now()), true, nil
}

func (m *Manager) Save(ctx context.Context, mem *statex.SessionMemory) error {
	if mem == nil {
		return statex.ErrNilSessionState
	}
	if err := mem.Validate(); err != nil {
		return fmt.Errorf("state validation failed: %w", err)
	}
	return m.store.Save(ctx, mem)
}

// Update runs fn over the session under its lock and persists the result.
// fn returning an error leaves the stored session untouched.
func (m *Manager) Update(
	ctx context.Context,
	key statex.SessionKey,
	customerID string,
	fn func(mem *statex.SessionMemory) error,
) (*statex.SessionMemory, error) {
	release, err := m.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	mem, _, err := m.Load(ctx, key, customerID)
	if err != nil {
		return nil, err
	}
	if err := fn(mem); err != nil {
		return nil, err
	}
	mem.Touch(m.now())
	if err := m.Save(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

func (m *Manager) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	return m.idempotency.Seen(ctx, key)
}

func (m *Manager) SetIdempotency(ctx context.Context, key string) error {
	return m.idempotency.Mark(ctx, key, m.idempotencyTTL)
}

// IdempotencyKey scopes a business key to its workspace and tool.
func IdempotencyKey(workspaceID, tool, businessKey string) string {
	return "ws:" + workspaceID + ":" + tool + ":" + businessKey
}

package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type BadgerConfig struct {
	Path       string        `split_words:"true" default:"./data/sessions"`
	InMemory   bool          `split_words:"true" default:"false"`
	SyncWrites bool          `split_words:"true" default:"true"`
	SessionTTL time.Duration `split_words:"true" default:"24h"`
}

// BadgerStore keeps sessions and idempotency marks in an embedded BadgerDB,
// using native entry TTLs for expiry.
type BadgerStore struct {
	db         *badger.DB
	sessionTTL time.Duration
}

var (
	_ Store            = (*BadgerStore)(nil)
	_ IdempotencyStore = (*BadgerStore)(nil)
)

func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("badger path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, sessionTTL: cfg.SessionTTL}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Load(_ context.Context, key SessionKey) (*SessionMemory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionPrefix + key.String()))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get session: %w", err)
	}
	return decodeSession(key, payload)
}

func (s *BadgerStore) Save(_ context.Context, st *SessionMemory) error {
	payload, err := encodeSession(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(sessionPrefix+st.Key().String()), payload)
		if s.sessionTTL > 0 {
			entry = entry.WithTTL(s.sessionTTL)
		}
		return txn.SetEntry(entry)
	})
}

func (s *BadgerStore) Delete(_ context.Context, key SessionKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionPrefix + key.String()))
	})
}

func (s *BadgerStore) Seen(_ context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrEmptyKey
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(idempotencyPrefix + key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger get idempotency key: %w", err)
	}
	return true, nil
}

func (s *BadgerStore) Mark(_ context.Context, key string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(idempotencyPrefix+key), []byte{1})
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

const (
	sessionPrefix     = "session/"
	idempotencyPrefix = "idem/"
)

// badgerLogger routes badger's internal logging into zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger().Error().Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger().Warn().Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger().Debug().Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logger().Trace().Msgf(strings.TrimSpace(format), args...)
}

func logger() *zerolog.Logger {
	l := log.With().Str("component", "badger").Logger()
	return &l
}

package storage

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/weftflow/weft/internal/domain"
	"github.com/weftflow/weft/internal/ports"
)

// Badger is the durable storage adapter. A single process owns the
// database; cross-instance coordination is out of scope by design.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// BadgerOptions controls where the database lives. An empty Path opens an
// in-memory database, which tests rely on.
type BadgerOptions struct {
	Path     string
	InMemory bool
}

func NewBadger(opts BadgerOptions, logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	badgerOpts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory || opts.Path == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}

	return &Badger{
		db:     db,
		logger: logger.With("component", "badger-storage"),
	}, nil
}

func (s *Badger) Get(key string) (value []byte, exists bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		exists = true
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, exists, err
}

func (s *Badger) Put(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *Badger) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *Badger) ListByPrefix(prefix string) ([]ports.KeyValue, error) {
	var items []ports.KeyValue

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			items = append(items, ports.KeyValue{
				Key:   string(item.KeyCopy(nil)),
				Value: value,
			})
		}
		return nil
	})

	return items, err
}

func (s *Badger) DeleteByPrefix(prefix string) (int, error) {
	items, err := s.ListByPrefix(prefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, item := range items {
			if err := txn.Delete([]byte(item.Key)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

func (s *Badger) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrClosed
	}
	s.closed = true

	s.logger.Debug("closing storage")
	return s.db.Close()
}

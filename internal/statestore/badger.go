package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore persists records in an embedded BadgerDB, the default driver for
// long-running serve deployments.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (creating if needed) a BadgerDB-backed store at path.
func OpenBadger(path string) (*BadgerStore, error) {
	if path == "" {
		return nil, errors.New("state store path is required")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create state store directory %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger state store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerInMemory opens an in-memory BadgerDB store for tests.
func OpenBadgerInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger state store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	found := make(map[string][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get %s: %w", key, err)
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value for %s: %w", key, err)
			}
			found[key] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *BadgerStore) Set(ctx context.Context, records map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for key, value := range records {
			if err := txn.Set([]byte(key), value); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *BadgerStore) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

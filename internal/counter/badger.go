package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore implements Store using BadgerDB with per-key TTL entries.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a counter store at dirPath.
func NewBadgerStore(dirPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dirPath).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open counter database: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// NewInMemoryStore opens a counter store that keeps all state in memory.
// Used in tests and when no data directory is configured.
func NewInMemoryStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory counter database: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// IncrementWithExpiry bumps the counter for key. The ttl applies only when the
// key does not exist yet; an existing entry keeps its original expiry so the
// window is fixed rather than sliding.
func (s *BadgerStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			count = 1
			entry := badger.NewEntry([]byte(key), []byte("1")).WithTTL(ttl)
			return txn.SetEntry(entry)
		}
		if err != nil {
			return err
		}

		var current int64
		if err := item.Value(func(val []byte) error {
			current, err = strconv.ParseInt(string(val), 10, 64)
			return err
		}); err != nil {
			return fmt.Errorf("failed to read counter value: %w", err)
		}

		count = current + 1
		entry := badger.NewEntry([]byte(key), []byte(strconv.FormatInt(count, 10)))

		// Preserve the remaining window so rewrites don't extend the expiry.
		if expires := item.ExpiresAt(); expires > 0 {
			remaining := time.Until(time.Unix(int64(expires), 0))
			if remaining <= 0 {
				count = 1
				entry = badger.NewEntry([]byte(key), []byte("1")).WithTTL(ttl)
			} else {
				entry = entry.WithTTL(remaining)
			}
		}

		return txn.SetEntry(entry)
	})

	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %q: %w", key, err)
	}
	return count, nil
}

// Get returns the current counter value for key, reporting absence when the
// key was never set or its window has expired.
func (s *BadgerStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	var count int64
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			parsed, err := strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return fmt.Errorf("failed to read counter value: %w", err)
			}
			count = parsed
			found = true
			return nil
		})
	})

	if err != nil {
		return 0, false, fmt.Errorf("failed to get counter %q: %w", key, err)
	}
	return count, found, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

package msgdef

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store caches fully-resolved definition texts between runs, so batch jobs
// over many recordings pay the closure cost once per schema.
type Store interface {
	// Get returns the cached definition and whether it was present.
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Close() error
}

// NopStore caches nothing. It is the default when no cache directory is
// configured.
type NopStore struct{}

func (NopStore) Get(string) (string, bool, error) { return "", false, nil }
func (NopStore) Put(string, string) error         { return nil }
func (NopStore) Close() error                     { return nil }

// PebbleStore persists resolved definitions in a Pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (or creates) the cache database at dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open definition cache: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(key string) (string, bool, error) {
	value, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read definition cache: %w", err)
	}
	defer closer.Close()
	return string(value), true, nil
}

func (s *PebbleStore) Put(key, value string) error {
	wo := &pebble.WriteOptions{}
	if err := s.db.Set([]byte(key), []byte(value), wo); err != nil {
		return fmt.Errorf("failed to write definition cache: %w", err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

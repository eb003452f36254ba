package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// PebbleCache persists entries as JSON in a Pebble store so that they
// survive across runs.
type PebbleCache struct {
	db *pebble.DB
}

func NewPebbleCache(dir string) (*PebbleCache, error) {
	d, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleCache{db: d}, nil
}

func (p *PebbleCache) Get(key string) (Entry, bool, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	var e Entry
	if err := json.Unmarshal(v, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry %q: %w", key, err)
	}
	return e, true, nil
}

func (p *PebbleCache) Put(key string, e Entry) error {
	if err := validate(e); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.db.Set([]byte(key), b, pebble.Sync)
}

func (p *PebbleCache) Close() error { return p.db.Close() }

// Package cache remembers terminal lookup outcomes so that a movie that was
// already resolved never costs another API call.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/rasnes/movielens-etl/model"
)

type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
)

// Entry is a cached lookup outcome. Result is set only for OutcomeFound.
type Entry struct {
	Outcome  Outcome                 `json:"outcome"`
	Result   *model.EnrichmentResult `json:"result,omitempty"`
	StoredAt time.Time               `json:"stored_at"`
}

// Cache stores terminal outcomes only. Rate limited and transient results
// must never be put.
type Cache interface {
	Get(key string) (Entry, bool, error)
	Put(key string, e Entry) error
	Close() error
}

// Key identifies a lookup by movie id and the title and year that were sent.
func Key(movieID int64, title string, year *int) string {
	y := ""
	if year != nil {
		y = fmt.Sprint(*year)
	}
	return fmt.Sprintf("%d||%s||%s", movieID, title, y)
}

// New opens a persistent cache at path, or an in-memory one when path is empty.
func New(path string) (Cache, error) {
	if path == "" {
		return NewMemoryCache(), nil
	}
	return NewPebbleCache(path)
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(key string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok, nil
}

func (c *MemoryCache) Put(key string, e Entry) error {
	if err := validate(e); err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error { return nil }

func validate(e Entry) error {
	switch e.Outcome {
	case OutcomeFound:
		if e.Result == nil {
			return fmt.Errorf("cache entry with outcome %q has no result", e.Outcome)
		}
	case OutcomeNotFound:
	default:
		return fmt.Errorf("outcome %q is not cacheable", e.Outcome)
	}
	return nil
}

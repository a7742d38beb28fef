package requestcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
)

const recallLocks = 32

// MemoryCache is an in-process request cache backed by bigcache. bigcache
// evicts on its own life window; per-entry ttls shorter than that window
// are enforced by a deadline stored in the payload.
type MemoryCache struct {
	cache *bigcache.BigCache
	locks [recallLocks]sync.Mutex
}

// NewMemoryCache creates a [MemoryCache]. maxTTL bounds how long any entry
// may live; Remember calls with a longer ttl are clamped to it.
func NewMemoryCache(maxTTL time.Duration) (*MemoryCache, error) {
	if maxTTL <= 0 {
		maxTTL = 10 * time.Minute
	}

	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(maxTTL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &MemoryCache{cache: cache}, nil
}

func (c *MemoryCache) Remember(ctx context.Context, preAuthToken, target string, ttl time.Duration) error {
	payload := make([]byte, 8+len(target))
	binary.BigEndian.PutUint64(payload, uint64(time.Now().Add(ttl).UnixNano()))
	copy(payload[8:], target)

	if err := c.cache.Set(preAuthToken, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *MemoryCache) Recall(ctx context.Context, preAuthToken string) (string, error) {
	// bigcache has no atomic get-and-delete; a per-token lock keeps the
	// one-shot guarantee under concurrent recalls.
	mu := &c.locks[lockIndex(preAuthToken)]
	mu.Lock()
	defer mu.Unlock()

	payload, err := c.cache.Get(preAuthToken)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = c.cache.Delete(preAuthToken)

	if len(payload) < 8 {
		return "", ErrNotFound
	}
	deadline := int64(binary.BigEndian.Uint64(payload))
	if time.Now().UnixNano() >= deadline {
		return "", ErrNotFound
	}
	return string(payload[8:]), nil
}

// Close releases the underlying cache.
func (c *MemoryCache) Close() error {
	return c.cache.Close()
}

func lockIndex(token string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(token); i++ {
		h ^= uint32(token[i])
		h *= 16777619
	}
	return int(h % recallLocks)
}

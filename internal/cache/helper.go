package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"huddle/internal/observability"

	"github.com/redis/go-redis/v9"
)

// ErrCorruptEntry means a cached value could not be decoded into dest.
var ErrCorruptEntry = errors.New("cache: corrupt entry")

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if client == nil {
		return false, nil
	}
	s, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, errors.Join(ErrCorruptEntry, err)
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, b, ttl).Err()
}

// Aside tries Redis first; on a miss it calls fetch, which must populate
// dest, and stores the result with ttl. Redis failures fall through to fetch.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	space := keyspace(key)
	found, err := GetJSON(ctx, key, dest)
	switch {
	case found:
		observability.CacheLookups.WithLabelValues(space, "hit").Inc()
		return nil
	case errors.Is(err, ErrCorruptEntry):
		// Written by an older shape of dest; drop it so the refill sticks
		observability.CacheLookups.WithLabelValues(space, "corrupt").Inc()
		Invalidate(ctx, key)
	default:
		observability.CacheLookups.WithLabelValues(space, "miss").Inc()
	}

	// Fetch from source (DB)
	if err := fetch(); err != nil {
		return err
	}

	// Store into cache (best-effort)
	_ = SetJSON(ctx, key, dest, ttl)
	return nil
}

// keyspace is the key prefix before the first colon, e.g. "user" for "user:7".
func keyspace(key string) string {
	space, _, _ := strings.Cut(key, ":")
	return space
}

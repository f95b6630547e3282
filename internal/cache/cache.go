// Package cache memoizes idempotent responses for a bounded time window.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Cache is the response cache contract. Get reports a miss for expired or
// absent entries; the backends never fail a caller on their own account
// beyond relaying backend I/O errors.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Key builds a deterministic cache key from an endpoint path and its
// parameters. Differing parameter sets never collide: the params are
// serialized and hashed into the key.
func Key(endpoint string, params any) string {
	if params == nil {
		return endpoint
	}
	raw, err := json.Marshal(params)
	if err != nil {
		// Unserializable params degrade to an endpoint-only key rather
		// than failing the read path.
		return endpoint
	}
	sum := sha256.Sum256(raw)
	return endpoint + "?" + hex.EncodeToString(sum[:8])
}

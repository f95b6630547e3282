// Package ratelimit throttles the stub API per caller so the client's
// 429-retry path can be exercised against real responses.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a fixed-window counter backed by Redis: at most max requests per
// key per window.
type Window struct {
	client *redis.Client
	max    int
	window time.Duration
}

func NewWindow(client *redis.Client, max int, window time.Duration) *Window {
	return &Window{client: client, max: max, window: window}
}

// Allow consumes one request slot for key. The first hit in a window arms
// the key's expiry; remaining reports how many slots are left.
func (w *Window) Allow(ctx context.Context, key string) (allowed bool, remaining int, err error) {
	rkey := fmt.Sprintf("rl:%s", key)

	count, err := w.client.Incr(ctx, rkey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit incr: %w", err)
	}
	if count == 1 {
		if err := w.client.PExpire(ctx, rkey, w.window).Err(); err != nil {
			return false, 0, fmt.Errorf("ratelimit expire: %w", err)
		}
	}
	if count > int64(w.max) {
		return false, 0, nil
	}
	return true, w.max - int(count), nil
}

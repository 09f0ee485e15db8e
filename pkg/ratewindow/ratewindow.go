package ratewindow

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Window tracks per-provider token throughput in a redis sliding window so
// the dashboard can compare live usage against a provider's declared limits.
// It is advisory only: dispatch never blocks on it.
type Window struct {
	store extratelimit.Limiter
}

func New(rdb *redis.Client, tokensPerMinute int64) *Window {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(tokensPerMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Window{store: store}
}

func NewTestWindow(store extratelimit.Limiter) *Window {
	return &Window{store: store}
}

// Record books tokens against the provider's current window. The allowed
// verdict is reported but never acted on.
func (w *Window) Record(ctx context.Context, providerID string, tokens int) (bool, error) {
	key := fmt.Sprintf("usage:provider:%s", providerID)
	res, err := w.store.AllowN(ctx, key, tokens)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Status reports the provider's current window for dashboard display.
func (w *Window) Status(ctx context.Context, providerID string) (*extratelimit.Result, error) {
	key := fmt.Sprintf("usage:provider:%s", providerID)
	return w.store.Status(ctx, key)
}

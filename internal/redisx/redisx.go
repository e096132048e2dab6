package redisx

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Str("component", "redisx").Logger()

const (
	// keyOrderLock serializes payment-state mutations per order.
	keyOrderLock = "order_lock:%s"
	// keyOrderStatus caches the latest order status for cheap reads.
	keyOrderStatus = "order_status:%s"
)

var (
	lockTTL       = 10 * time.Second
	statusTTL     = 5 * time.Minute
	lockRetries   = 20
	lockRetryWait = 100 * time.Millisecond
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// Coordinator implements the order service's optional lock/cache hooks on
// top of redis.
type Coordinator struct {
	rdb *redis.Client
}

func NewCoordinator(rdb *redis.Client) *Coordinator {
	return &Coordinator{rdb: rdb}
}

// Acquire takes a short SETNX lock for the order. The returned release func
// is safe to call regardless of acquired; callers that fail to acquire may
// still proceed and rely on the store's version check.
func (c *Coordinator) Acquire(ctx context.Context, orderID string) (func(), bool) {
	key := fmt.Sprintf(keyOrderLock, orderID)
	for i := 0; i < lockRetries; i++ {
		ok, err := c.rdb.SetNX(ctx, key, "1", lockTTL).Result()
		if err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("lock attempt failed")
			return func() {}, false
		}
		if ok {
			return func() { c.rdb.Del(context.Background(), key) }, true
		}
		select {
		case <-ctx.Done():
			return func() {}, false
		case <-time.After(lockRetryWait):
		}
	}
	return func() {}, false
}

// CacheStatus stores the latest status with a short TTL, best effort.
func (c *Coordinator) CacheStatus(ctx context.Context, orderID, status string) {
	key := fmt.Sprintf(keyOrderStatus, orderID)
	if err := c.rdb.Set(ctx, key, status, statusTTL).Err(); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("status cache write failed")
	}
}

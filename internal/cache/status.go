// Package cache keeps terminal payment statuses in redis so status polling does not
// reach the database.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pedix/config"
	"pedix/internal/domain"
	"pedix/internal/logger"
	"pedix/internal/payment"
)

const keyPrefix = "payment_status:"

// Values are "<request_id>|<status>". A claim by a new request stores "<request_id>|"
// and reads as a miss until that request reaches a terminal status.
//
// setTerminal writes only when the key is absent or already belongs to the request, so a
// late observer of a replaced request cannot shadow the live one.
var setTerminal = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local owner = ARGV[1] .. '|'
if cur and string.sub(cur, 1, string.len(owner)) ~= owner then
	return 0
end
redis.call('SET', KEYS[1], owner .. ARGV[2], 'PX', ARGV[3])
return 1
`)

// StatusCache only ever stores terminal statuses, which never change, so a hit is
// authoritative for the order's current request.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewStatusCache(rdb *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: ttl}
}

var (
	_ payment.StatusCache = (*StatusCache)(nil)
	_ payment.Observer    = (*StatusCache)(nil)
)

func key(orderID string) string {
	return keyPrefix + orderID
}

// Status reports a cached terminal status. Redis errors count as a miss.
func (c *StatusCache) Status(ctx context.Context, orderID string) (domain.PaymentStatus, bool) {
	v, err := c.rdb.Get(ctx, key(orderID)).Result()
	if err != nil {
		if err != redis.Nil {
			logger.S().Warnw("status_cache_get_failed", "order_id", orderID, "error", err)
		}
		return "", false
	}
	_, st, ok := strings.Cut(v, "|")
	if !ok || st == "" {
		return "", false
	}
	return domain.PaymentStatus(st), true
}

func (c *StatusCache) OnTransition(ctx context.Context, t payment.Transition) {
	if !t.To.Terminal() {
		return
	}
	req := t.Request
	set, err := setTerminal.Run(ctx, c.rdb, []string{key(req.OrderID)}, req.ID, string(t.To), c.ttl.Milliseconds()).Int()
	if err != nil {
		logger.S().Warnw("status_cache_set_failed", "order_id", req.OrderID, "request_id", req.ID, "status", t.To, "error", err)
		return
	}
	if set == 0 {
		logger.S().Debugw("status_cache_set_skipped", "order_id", req.OrderID, "request_id", req.ID, "status", t.To)
	}
}

// Claim makes requestID the order's current request and drops any cached status of the
// request it replaces.
func (c *StatusCache) Claim(ctx context.Context, orderID, requestID string) {
	if err := c.rdb.Set(ctx, key(orderID), requestID+"|", c.ttl).Err(); err != nil {
		logger.S().Warnw("status_cache_claim_failed", "order_id", orderID, "request_id", requestID, "error", err)
	}
}

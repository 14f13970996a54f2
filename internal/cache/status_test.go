package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedix/internal/domain"
	"pedix/internal/models"
	"pedix/internal/payment"
)

func transition(orderID, requestID string, to domain.PaymentStatus) payment.Transition {
	return payment.Transition{
		Request: &models.PaymentRequest{ID: requestID, OrderID: orderID},
		From:    domain.StatusPending,
		To:      to,
		At:      time.Now(),
	}
}

func newTestCache(t *testing.T) (*StatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStatusCache(rdb, time.Minute), mr
}

func TestStatusCacheUnreachableIsAMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	c := NewStatusCache(rdb, time.Minute)
	ctx := context.Background()

	c.OnTransition(ctx, transition("o-1", "r-1", domain.StatusApproved))
	_, ok := c.Status(ctx, "o-1")
	assert.False(t, ok)
	c.Claim(ctx, "o-1", "r-2")
}

func TestStatusCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.OnTransition(ctx, transition("PED-1", "r-1", domain.StatusPending))
	_, ok := c.Status(ctx, "PED-1")
	assert.False(t, ok, "non-terminal statuses are never cached")

	c.OnTransition(ctx, transition("PED-1", "r-1", domain.StatusExpired))
	st, ok := c.Status(ctx, "PED-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusExpired, st)
	assert.Equal(t, time.Minute, mr.TTL(key("PED-1")))

	c.Claim(ctx, "PED-1", "r-2")
	_, ok = c.Status(ctx, "PED-1")
	assert.False(t, ok, "a claimed order reads as a miss")
}

// The observer for an expired request can run after a new request for the same order
// has been created; its status must not stick to the new request.
func TestStatusCacheIgnoresReplacedRequest(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Claim(ctx, "PED-2", "r-new")
	c.OnTransition(ctx, transition("PED-2", "r-old", domain.StatusExpired))

	_, ok := c.Status(ctx, "PED-2")
	assert.False(t, ok)

	c.OnTransition(ctx, transition("PED-2", "r-new", domain.StatusApproved))
	st, ok := c.Status(ctx, "PED-2")
	require.True(t, ok)
	assert.Equal(t, domain.StatusApproved, st)

	c.OnTransition(ctx, transition("PED-2", "r-old", domain.StatusCancelled))
	st, _ = c.Status(ctx, "PED-2")
	assert.Equal(t, domain.StatusApproved, st)
}

func TestStatusCacheIgnoresUnprefixedValue(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set(key("PED-3"), "EXPIRED"))
	_, ok := c.Status(context.Background(), "PED-3")
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "payment_status:PED-1", key("PED-1"))
}

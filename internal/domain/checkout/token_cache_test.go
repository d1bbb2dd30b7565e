package checkout

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"siphon/internal/core/id"
)

func TestTokenCachePutGet(t *testing.T) {
	c := NewTokenCache(time.Minute, 10)
	result := Result{OrderID: id.New(), OrderNumber: "W-001001", PaymentHandle: "auth-1"}

	c.Put("tok-a", result)

	got, ok := c.Get("tok-a")
	assert.True(t, ok)
	assert.Equal(t, result, got)

	_, ok = c.Get("tok-missing")
	assert.False(t, ok)
}

func TestTokenCacheIgnoresEmptyToken(t *testing.T) {
	c := NewTokenCache(time.Minute, 10)
	c.Put("", Result{OrderNumber: "W-001001"})

	assert.Zero(t, c.Len())
	_, ok := c.Get("")
	assert.False(t, ok)
}

func TestTokenCacheExpiry(t *testing.T) {
	c := NewTokenCache(10*time.Millisecond, 10)
	c.Put("tok-a", Result{OrderNumber: "W-001001"})

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("tok-a")
	assert.False(t, ok)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Sweep())
	assert.Zero(t, c.Len())
}

func TestTokenCacheBounded(t *testing.T) {
	c := NewTokenCache(time.Minute, 3)
	for i := range 3 {
		c.Put(fmt.Sprintf("tok-%d", i), Result{})
	}
	assert.Equal(t, 3, c.Len())

	// Full with fresh entries: the new one is dropped, not an old one.
	c.Put("tok-overflow", Result{})
	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("tok-overflow")
	assert.False(t, ok)

	_, ok = c.Get("tok-0")
	assert.True(t, ok)
}

func TestTokenCacheSweepsExpiredWhenFull(t *testing.T) {
	c := NewTokenCache(10*time.Millisecond, 2)
	c.Put("tok-old-1", Result{})
	c.Put("tok-old-2", Result{})

	time.Sleep(20 * time.Millisecond)

	c.Put("tok-new", Result{OrderNumber: "W-001002"})

	got, ok := c.Get("tok-new")
	assert.True(t, ok)
	assert.Equal(t, "W-001002", got.OrderNumber)
	assert.Equal(t, 1, c.Len())
}

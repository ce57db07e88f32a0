package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetRoundTrip(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Hour})
	c.Set("repo/short", 42, 0)

	v, ok := c.Get("repo/short")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestGetExpired(t *testing.T) {
	c := New(Config{DefaultTTL: time.Millisecond, CleanupInterval: time.Hour})
	c.Set("k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestInvalidateAllBumpsVersion(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Hour})
	c.Set("k", "v", 0)
	_, version, _ := c.GetVersioned("k")
	assert.Equal(t, int64(0), version)

	c.InvalidateAll()
	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", "v", 0)
	_, version, _ = c.GetVersioned("k")
	assert.Equal(t, int64(1), version)
}

func TestKeyLockIsStablePerKey(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Hour})
	a := c.KeyLock("repo/a")
	b := c.KeyLock("repo/a")
	assert.Same(t, a, b)
}

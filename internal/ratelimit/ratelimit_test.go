package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasicRateLimiting(t *testing.T) {
	l := New(Config{RequestsPerSecond: 10, BurstSize: 2})
	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestTokenRefillOverTime(t *testing.T) {
	l := New(FromRate(1000)) // 1 token/ms
	for l.TryAcquire() {
	}
	assert.False(t, l.TryAcquire())
	l.now = func() time.Time { return time.Now().Add(50 * time.Millisecond) }
	assert.True(t, l.TryAcquire())
}

func TestWouldLimitDoesNotConsume(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, BurstSize: 1})
	assert.False(t, l.WouldLimit())
	assert.True(t, l.TryAcquire())
	assert.True(t, l.WouldLimit())
	assert.True(t, l.WouldLimit())
}

func TestReset(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, BurstSize: 1})
	require := assert.New(t)
	require.True(l.TryAcquire())
	require.False(l.TryAcquire())
	l.Reset()
	require.True(l.TryAcquire())
}

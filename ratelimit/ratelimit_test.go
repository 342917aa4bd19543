package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiero/claw-cash-sub001/store"
)

func TestSlidingWindow_LimitAndRecovery(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	limiter := NewSlidingWindow().WithClock(mock)

	const limit = 20
	window := 60 * time.Second

	// All calls within the limit are admitted
	for i := 0; i < limit; i++ {
		ok, err := limiter.Allow(ctx, "user:alice", limit, window)
		require.NoError(t, err)
		assert.True(t, ok, "call %d should be admitted", i+1)
		mock.Add(time.Second)
	}

	// The 21st within the window is rejected
	ok, err := limiter.Allow(ctx, "user:alice", limit, window)
	require.NoError(t, err)
	assert.False(t, ok, "call over the limit should be rejected")

	// Another key is unaffected
	ok, err = limiter.Allow(ctx, "user:bob", limit, window)
	require.NoError(t, err)
	assert.True(t, ok)

	// Once the first call falls out of the window, a slot frees up
	mock.Add(41 * time.Second)
	ok, err = limiter.Allow(ctx, "user:alice", limit, window)
	require.NoError(t, err)
	assert.True(t, ok, "call after the window should be admitted again")
}

func TestSlidingWindow_ExactBoundary(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	limiter := NewSlidingWindow().WithClock(mock)

	ok, err := limiter.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// 60s after the first call it is outside the trailing window
	mock.Add(60*time.Second + time.Millisecond)
	ok, err = limiter.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFixedWindow_SharedCounters(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := store.New(":memory:", logger)
	require.NoError(t, err)
	defer db.Close()

	mock := clock.NewMock()
	limiter := NewFixedWindow(db).WithClock(mock)

	const limit = 5
	window := time.Minute

	for i := 0; i < limit; i++ {
		ok, err := limiter.Allow(ctx, "identity:abc", limit, window)
		require.NoError(t, err)
		assert.True(t, ok, "call %d should be admitted", i+1)
	}

	ok, err := limiter.Allow(ctx, "identity:abc", limit, window)
	require.NoError(t, err)
	assert.False(t, ok, "call over the limit should be rejected")

	// A second limiter over the same store observes the same counters,
	// as two processes sharing a database would
	other := NewFixedWindow(db).WithClock(mock)
	ok, err = other.Allow(ctx, "identity:abc", limit, window)
	require.NoError(t, err)
	assert.False(t, ok, "shared counters must bind all limiter instances")

	// Advancing into the next window resets admission
	mock.Add(window)
	ok, err = limiter.Allow(ctx, "identity:abc", limit, window)
	require.NoError(t, err)
	assert.True(t, ok, "new window should admit again")
}

func TestFor(t *testing.T) {
	limiter, err := For(MemoryBackend, nil)
	require.NoError(t, err)
	assert.IsType(t, &SlidingWindow{}, limiter)

	_, err = For(StoreBackend, nil)
	assert.Error(t, err, "store backend requires counters")

	_, err = For("bogus", nil)
	assert.Error(t, err)
}

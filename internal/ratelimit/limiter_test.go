package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-studio/atelier/internal/cache"
)

func TestLimiterAllowsUpToMax(t *testing.T) {
	limiter := NewLimiter(cache.NewMemoryStore(),
		WithRule(ActionCreateInvitation, Rule{Max: 3, Window: time.Hour}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "user-1", ActionCreateInvitation)
		require.NoError(t, err)
		assert.False(t, result.Limited, "attempt %d should be allowed", i+1)
		assert.Equal(t, int64(2-i), result.Remaining)
	}

	result, err := limiter.Check(ctx, "user-1", ActionCreateInvitation)
	require.NoError(t, err)
	assert.True(t, result.Limited)
	assert.Equal(t, int64(0), result.Remaining)
	assert.True(t, result.ResetAt.After(time.Now()))
}

func TestLimiterIsolatesActorsAndActions(t *testing.T) {
	limiter := NewLimiter(cache.NewMemoryStore(),
		WithRule(ActionResendInvitation, Rule{Max: 1, Window: time.Hour}))

	ctx := context.Background()
	result, err := limiter.Check(ctx, "user-1", ActionResendInvitation)
	require.NoError(t, err)
	assert.False(t, result.Limited)

	result, err = limiter.Check(ctx, "user-1", ActionResendInvitation)
	require.NoError(t, err)
	assert.True(t, result.Limited)

	// Another actor and another action class remain unaffected.
	result, err = limiter.Check(ctx, "user-2", ActionResendInvitation)
	require.NoError(t, err)
	assert.False(t, result.Limited)

	result, err = limiter.Check(ctx, "user-1", ActionCreateInvitation)
	require.NoError(t, err)
	assert.False(t, result.Limited)
}

func TestLimiterUnknownAction(t *testing.T) {
	limiter := NewLimiter(cache.NewMemoryStore())

	_, err := limiter.Check(context.Background(), "user-1", "delete-project")
	require.Error(t, err)
}

func TestLimiterResetClearsWindow(t *testing.T) {
	limiter := NewLimiter(cache.NewMemoryStore(),
		WithRule(ActionCreateInvitation, Rule{Max: 1, Window: time.Hour}))

	ctx := context.Background()
	_, err := limiter.Check(ctx, "user-1", ActionCreateInvitation)
	require.NoError(t, err)

	result, err := limiter.Check(ctx, "user-1", ActionCreateInvitation)
	require.NoError(t, err)
	assert.True(t, result.Limited)

	require.NoError(t, limiter.Reset(ctx, "user-1", ActionCreateInvitation))

	result, err = limiter.Check(ctx, "user-1", ActionCreateInvitation)
	require.NoError(t, err)
	assert.False(t, result.Limited)
}

func TestLimiterConcurrentChecksNeverExceedMax(t *testing.T) {
	const max = 10
	limiter := NewLimiter(cache.NewMemoryStore(),
		WithRule(ActionCreateInvitation, Rule{Max: max, Window: time.Hour}))

	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := limiter.Check(ctx, "user-1", ActionCreateInvitation)
			require.NoError(t, err)
			if !result.Limited {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, max, allowed)
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait_EnforcesInterval(t *testing.T) {
	t.Parallel()

	// 10 RPS = one grant every 100ms.
	l := New(10)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://example.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_Wait_DomainsIndependent(t *testing.T) {
	t.Parallel()

	l := New(1)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/"))

	// A different domain must not be delayed by the first grant.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_Allow(t *testing.T) {
	t.Parallel()

	l := New(1)
	require.True(t, l.Allow("example.com"))
	require.False(t, l.Allow("example.com"))
	require.True(t, l.Allow("other.com"))
}

func TestLimiter_Wait_CanceledContext(t *testing.T) {
	t.Parallel()

	l := New(0.001)
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://slow.example.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example.com/"))
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	l := New(0)
	for range 100 {
		require.True(t, l.Allow("example.com"))
	}
}

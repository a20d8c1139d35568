package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionLimiterFixedWindow(t *testing.T) {
	current := time.Now()
	limiter := NewConnectionLimiter(3, time.Hour)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow("example.com"), "connection %d should fit", i+1)
	}
	require.False(t, limiter.Allow("example.com"))

	// A different domain has its own window.
	require.True(t, limiter.Allow("other.com"))

	// Window expiry resets the count lazily.
	current = current.Add(time.Hour)
	require.True(t, limiter.Allow("example.com"))
}

func TestConnectionLimiterRejectedAttemptsStillCount(t *testing.T) {
	current := time.Now()
	limiter := NewConnectionLimiter(2, time.Hour)
	limiter.now = func() time.Time { return current }

	require.True(t, limiter.Allow("example.com"))
	require.True(t, limiter.Allow("example.com"))
	for i := 0; i < 5; i++ {
		require.False(t, limiter.Allow("example.com"))
	}
}

func TestMessageLimiterCooldown(t *testing.T) {
	current := time.Now()
	limiter := NewMessageLimiter(5, 10*time.Second, 30*time.Second)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Allow("sess-1", false))
	}
	require.ErrorIs(t, limiter.Allow("sess-1", false), ErrRateLimited)

	// Past the window but inside the cooldown.
	current = current.Add(15 * time.Second)
	require.ErrorIs(t, limiter.Allow("sess-1", false), ErrRateLimited)

	// Cooldown over, window restarts.
	current = current.Add(20 * time.Second)
	require.NoError(t, limiter.Allow("sess-1", false))
}

func TestMessageLimiterWindowReset(t *testing.T) {
	current := time.Now()
	limiter := NewMessageLimiter(5, 10*time.Second, 30*time.Second)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Allow("sess-1", false))
	}

	// Staying under the cap never triggers a cooldown.
	current = current.Add(11 * time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Allow("sess-1", false))
	}
}

func TestMessageLimiterAdminBypass(t *testing.T) {
	limiter := NewMessageLimiter(1, 10*time.Second, 30*time.Second)
	for i := 0; i < 50; i++ {
		require.NoError(t, limiter.Allow("admin-1", true))
	}
}

func TestMessageLimiterForget(t *testing.T) {
	current := time.Now()
	limiter := NewMessageLimiter(1, 10*time.Second, 30*time.Second)
	limiter.now = func() time.Time { return current }

	require.NoError(t, limiter.Allow("sess-1", false))
	require.ErrorIs(t, limiter.Allow("sess-1", false), ErrRateLimited)

	limiter.Forget("sess-1")
	require.NoError(t, limiter.Allow("sess-1", false))
}

func TestMessageLimiterIsolatesSessions(t *testing.T) {
	limiter := NewMessageLimiter(1, 10*time.Second, 30*time.Second)

	require.NoError(t, limiter.Allow("sess-1", false))
	require.ErrorIs(t, limiter.Allow("sess-1", false), ErrRateLimited)
	require.NoError(t, limiter.Allow("sess-2", false))
}

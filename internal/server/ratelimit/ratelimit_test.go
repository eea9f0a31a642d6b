package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenDeny(t *testing.T) {
	limiter := NewLimiter(NewConfig(0.5, 3))
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		allowed, info := limiter.Allow("10.0.0.1", "/audits", "POST")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 3, info.Limit)
		assert.Equal(t, 2-i, info.Remaining)
	}

	allowed, info := limiter.Allow("10.0.0.1", "/audits", "POST")
	assert.False(t, allowed)
	assert.Greater(t, info.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, info.RetryAfter, 2*time.Second)
}

func TestLimiter_Refill(t *testing.T) {
	limiter := NewLimiter(NewConfig(1, 1))
	defer limiter.Stop()

	now := time.Now()
	limiter.now = func() time.Time { return now }

	allowed, _ := limiter.Allow("c", "/generations", "POST")
	require.True(t, allowed)
	allowed, _ = limiter.Allow("c", "/generations", "POST")
	require.False(t, allowed)

	now = now.Add(1100 * time.Millisecond)
	allowed, _ = limiter.Allow("c", "/generations", "POST")
	assert.True(t, allowed)
}

func TestLimiter_ClientsAndEndpointsAreIndependent(t *testing.T) {
	limiter := NewLimiter(NewConfig(0.1, 1))
	defer limiter.Stop()

	allowed, _ := limiter.Allow("a", "/audits", "POST")
	require.True(t, allowed)
	allowed, _ = limiter.Allow("a", "/audits", "POST")
	require.False(t, allowed)

	allowed, _ = limiter.Allow("b", "/audits", "POST")
	assert.True(t, allowed, "other client")
	allowed, _ = limiter.Allow("a", "/generations", "POST")
	assert.True(t, allowed, "other endpoint")
}

func TestLimiter_UnlimitedRequests(t *testing.T) {
	limiter := NewLimiter(NewConfig(0.1, 1))
	defer limiter.Stop()

	for i := 0; i < 20; i++ {
		allowed, _ := limiter.Allow("a", "/audits/123/status", "GET")
		require.True(t, allowed)
	}
	assert.Equal(t, 0, limiter.Len())

	disabled := NewLimiter(NewConfig(0, 0))
	defer disabled.Stop()
	for i := 0; i < 20; i++ {
		allowed, _ := disabled.Allow("a", "/audits", "POST")
		require.True(t, allowed)
	}
}

func TestLimiter_DeployPathsShareOneBucket(t *testing.T) {
	limiter := NewLimiter(NewConfig(0.1, 1))
	defer limiter.Stop()

	allowed, _ := limiter.Allow("a", "/generations/1/versions/1/deploy", "POST")
	require.True(t, allowed)
	allowed, _ = limiter.Allow("a", "/generations/2/versions/3/deploy", "POST")
	assert.False(t, allowed)
}

func TestLimiter_Cleanup(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, IdleTTL: time.Minute, Endpoints: DefaultEndpointConfigs(1, 1)})
	defer limiter.Stop()

	now := time.Now()
	limiter.now = func() time.Time { return now }
	limiter.Allow("a", "/audits", "POST")
	limiter.Allow("b", "/audits", "POST")
	require.Equal(t, 2, limiter.Len())

	now = now.Add(30 * time.Second)
	limiter.Allow("b", "/audits", "POST")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, limiter.cleanup())
	assert.Equal(t, 1, limiter.Len())
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter := NewLimiter(NewConfig(0.01, 10))
	defer limiter.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow("shared", "/audits", "POST"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestLimiter_StopTwice(t *testing.T) {
	limiter := NewLimiter(NewConfig(1, 1))
	limiter.Stop()
	assert.NotPanics(t, limiter.Stop)
}

func TestMatchEndpoint(t *testing.T) {
	configs := []EndpointConfig{
		{Path: "/generations", Method: "POST", Rate: 1},
		{Path: "/generations/", Method: "POST", Rate: 2},
		{Path: "/generations/special/", Method: "POST", Rate: 3},
	}
	tests := []struct {
		path, method string
		want         float64
	}{
		{"/generations", "POST", 1},
		{"/generations/abc/versions/1/deploy", "POST", 2},
		{"/generations/special/x", "POST", 3},
		{"/generations", "GET", 0},
		{"/audits", "POST", 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.want == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Rate)
		})
	}
}

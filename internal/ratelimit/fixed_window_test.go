package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowLimiter_AdmitsUpToLimit(t *testing.T) {
	limiter := NewFixedWindowLimiter(time.Minute, 2)

	assert.True(t, limiter.Check("client-a"))
	assert.True(t, limiter.Check("client-a"))
	assert.False(t, limiter.Check("client-a"))
	assert.False(t, limiter.Check("client-a"))
}

func TestFixedWindowLimiter_FirstRequestStartsWindow(t *testing.T) {
	limiter := NewFixedWindowLimiter(time.Minute, 5)

	assert.True(t, limiter.Check("client-a"))
	assert.Equal(t, 1, limiter.Len())
}

func TestFixedWindowLimiter_WindowReset(t *testing.T) {
	limiter := NewFixedWindowLimiter(50*time.Millisecond, 1)

	require.True(t, limiter.Check("client-a"))
	require.False(t, limiter.Check("client-a"))

	time.Sleep(60 * time.Millisecond)

	assert.True(t, limiter.Check("client-a"), "window elapsed, counter should reset")
	assert.False(t, limiter.Check("client-a"), "second request in the new window exceeds limit")
}

func TestFixedWindowLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewFixedWindowLimiter(time.Minute, 1)

	assert.True(t, limiter.Check("client-a"))
	assert.False(t, limiter.Check("client-a"))

	assert.True(t, limiter.Check("client-b"), "client-b has its own counter")
	assert.Equal(t, 2, limiter.Len())
}

func TestFixedWindowLimiter_LimitOne(t *testing.T) {
	limiter := NewFixedWindowLimiter(time.Minute, 1)

	assert.True(t, limiter.Check("client-a"))
	assert.False(t, limiter.Check("client-a"))
}

func TestFixedWindowLimiter_Accessors(t *testing.T) {
	limiter := NewFixedWindowLimiter(30*time.Second, 42)

	assert.Equal(t, 30*time.Second, limiter.Window())
	assert.Equal(t, 42, limiter.MaxRequests())
}

func TestFixedWindowLimiter_ConcurrentSingleKey(t *testing.T) {
	const (
		workers  = 10
		requests = 50
		limit    = 100
	)

	limiter := NewFixedWindowLimiter(time.Minute, limit)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < requests; j++ {
				if limiter.Check("shared") {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, limit, admitted,
		"exactly the limit should be admitted across all goroutines")
}

func TestFixedWindowLimiter_ConcurrentDistinctKeys(t *testing.T) {
	const workers = 20

	limiter := NewFixedWindowLimiter(time.Minute, 1)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("client-%d", n)
			assert.True(t, limiter.Check(key))
			assert.False(t, limiter.Check(key))
		}(i)
	}

	wg.Wait()

	assert.Equal(t, workers, limiter.Len())
}

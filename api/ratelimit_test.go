package api

import (
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*loginRateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	rl := newLoginRateLimiter()
	rl.now = clock.now
	return rl, clock
}

// fail runs n complete failed attempts for username.
func fail(t *testing.T, rl *loginRateLimiter, username string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		blocked, _ := rl.reserve(username)
		require.False(t, blocked, "attempt %d", i+1)
		rl.recordFailure(username)
	}
}

func TestRateLimiterAllowsBeforeThreshold(t *testing.T) {
	rl, _ := newTestLimiter()
	fail(t, rl, "demo", maxFailures-1)

	blocked, _ := rl.reserve("demo")
	assert.False(t, blocked)
}

func TestRateLimiterBlocksAfterThreshold(t *testing.T) {
	rl, clock := newTestLimiter()
	fail(t, rl, "demo", maxFailures)

	blocked, retryAfter := rl.reserve("demo")
	require.True(t, blocked)
	assert.Equal(t, baseLockout, retryAfter)

	clock.advance(baseLockout)
	blocked, _ = rl.reserve("demo")
	assert.False(t, blocked, "lockout ends after baseLockout")
}

func TestRateLimiterExponentialBackoff(t *testing.T) {
	rl, clock := newTestLimiter()
	fail(t, rl, "demo", maxFailures)
	clock.advance(baseLockout)
	fail(t, rl, "demo", 1)
	clock.advance(2 * baseLockout)
	fail(t, rl, "demo", 1)

	_, retryAfter := rl.reserve("demo")
	assert.Equal(t, 4*baseLockout, retryAfter)

	for i := 0; i < 20; i++ {
		rl.recordFailure("demo")
	}
	_, retryAfter = rl.reserve("demo")
	assert.Equal(t, maxLockout, retryAfter)
}

func TestRateLimiterBurstCannotExceedBudget(t *testing.T) {
	rl, _ := newTestLimiter()

	// All attempts arrive before any of them has been judged.
	admitted := 0
	for i := 0; i < 3*maxFailures; i++ {
		if blocked, _ := rl.reserve("demo"); !blocked {
			admitted++
		}
	}
	assert.Equal(t, maxFailures, admitted)

	blocked, retryAfter := rl.reserve("demo")
	require.True(t, blocked)
	assert.Equal(t, inFlightRetryAfter, retryAfter)

	for i := 0; i < admitted; i++ {
		rl.recordFailure("demo")
	}
	_, retryAfter = rl.reserve("demo")
	assert.Equal(t, baseLockout, retryAfter)
}

func TestRateLimiterConcurrentReservations(t *testing.T) {
	rl := newLoginRateLimiter()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if blocked, _ := rl.reserve("demo"); !blocked {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, maxFailures, admitted.Load())
}

func TestRateLimiterOneAttemptAtATimeAfterLockout(t *testing.T) {
	rl, clock := newTestLimiter()
	fail(t, rl, "demo", maxFailures)
	clock.advance(baseLockout)

	blocked, _ := rl.reserve("demo")
	require.False(t, blocked)
	blocked, _ = rl.reserve("demo")
	assert.True(t, blocked)
}

func TestRateLimiterReleaseFreesReservation(t *testing.T) {
	rl, _ := newTestLimiter()
	for i := 0; i < maxFailures; i++ {
		blocked, _ := rl.reserve("demo")
		require.False(t, blocked)
	}
	blocked, _ := rl.reserve("demo")
	require.True(t, blocked)

	for i := 0; i < maxFailures; i++ {
		rl.release("demo")
	}
	assert.NotContains(t, rl.attempts, "demo")
	blocked, _ = rl.reserve("demo")
	assert.False(t, blocked)
}

func TestRateLimiterSuccessResets(t *testing.T) {
	rl, _ := newTestLimiter()
	fail(t, rl, "demo", maxFailures)
	blocked, _ := rl.reserve("demo")
	require.True(t, blocked)

	rl.recordSuccess("demo")
	blocked, _ = rl.reserve("demo")
	assert.False(t, blocked)
}

func TestRateLimiterIsolatesUsernames(t *testing.T) {
	rl, _ := newTestLimiter()
	fail(t, rl, "demo", maxFailures)
	blocked, _ := rl.reserve("admin")
	assert.False(t, blocked)
}

func TestRateLimiterExpiresRecords(t *testing.T) {
	rl, clock := newTestLimiter()
	fail(t, rl, "demo", 1)
	fail(t, rl, "admin", 1)

	clock.advance(attemptExpiry + time.Second)
	rl.sweep()
	assert.Empty(t, rl.attempts)

	fail(t, rl, "demo", maxFailures)
	clock.advance(attemptExpiry + time.Second)
	blocked, _ := rl.reserve("demo")
	assert.False(t, blocked)
	rl.release("demo")
	assert.NotContains(t, rl.attempts, "demo")
}

func TestWriteRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRateLimited(rec, 90*time.Second)
	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Too many failed login attempts")

	rec = httptest.NewRecorder()
	writeRateLimited(rec, 10*time.Millisecond)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

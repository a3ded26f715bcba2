package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// loginRateLimiter tracks failed login attempts per username and enforces
// exponential backoff. Attempts are reserved before the password is checked,
// so a burst of parallel requests cannot exceed the failure budget.
type loginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
	now      func() time.Time
}

type attemptRecord struct {
	failures    int
	pending     int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures = 5
	// baseLockout is the initial lockout duration after maxFailures is reached.
	baseLockout = 1 * time.Minute
	// maxLockout caps the exponential backoff.
	maxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure before the record is
	// garbage-collected.
	attemptExpiry = 1 * time.Hour
	// inFlightRetryAfter is suggested when the budget is taken by attempts
	// that have not finished yet.
	inFlightRetryAfter = 1 * time.Second
)

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{
		attempts: make(map[string]*attemptRecord),
		now:      time.Now,
	}
}

// reserve admits one login attempt for username, or reports that it is
// blocked and how long the caller should wait. Every admitted attempt must be
// settled with recordFailure, recordSuccess or release.
func (rl *loginRateLimiter) reserve(username string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rec, ok := rl.attempts[username]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[username] = rec
	} else if rec.failures > 0 && now.Sub(rec.lastFailure) > attemptExpiry {
		rec.failures = 0
		rec.lockedUntil = time.Time{}
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	// Once locked out before, only one attempt at a time gets through.
	if rec.pending >= max(maxFailures-rec.failures, 1) {
		return true, inFlightRetryAfter
	}
	rec.pending++
	return false, 0
}

func (rl *loginRateLimiter) settleLocked(username string) *attemptRecord {
	rec, ok := rl.attempts[username]
	if !ok {
		return nil
	}
	if rec.pending > 0 {
		rec.pending--
	}
	return rec
}

// release returns a reserved attempt that ended without a verdict on the
// password, such as a storage error.
func (rl *loginRateLimiter) release(username string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rec := rl.settleLocked(username); rec != nil && rec.failures == 0 && rec.pending == 0 {
		delete(rl.attempts, username)
	}
}

// recordFailure settles a reserved attempt as failed, increments the failure
// counter and applies exponential backoff once maxFailures is reached.
func (rl *loginRateLimiter) recordFailure(username string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec := rl.settleLocked(username)
	if rec == nil {
		rec = &attemptRecord{}
		rl.attempts[username] = rec
	}
	now := rl.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= maxFailures {
		// Exponential backoff: baseLockout * 2^(failures - maxFailures)
		shift := rec.failures - maxFailures
		lockout := baseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

// recordSuccess resets the failure counter on a successful login.
func (rl *loginRateLimiter) recordSuccess(username string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, username)
}

// sweep removes expired records with no attempt in flight.
func (rl *loginRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, rec := range rl.attempts {
		if rec.pending == 0 && now.Sub(rec.lastFailure) > attemptExpiry {
			delete(rl.attempts, id)
		}
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "Too many failed login attempts. Please try again later.")
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Unlock lockout policy. After maxFailures consecutive bad passphrases a user
// is locked out for baseLockout, doubling per further failure up to
// maxLockout. A record is dropped attemptExpiry after its last failure.
const (
	maxFailures   = 5
	baseLockout   = time.Minute
	maxLockout    = 15 * time.Minute
	attemptExpiry = time.Hour
)

// unlockRateLimiter counts failed identity unlocks per username.
type unlockRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*unlockAttempts
	now      func() time.Time
}

type unlockAttempts struct {
	failures int
	last     time.Time
	until    time.Time
}

func newUnlockRateLimiter() *unlockRateLimiter {
	return &unlockRateLimiter{
		attempts: make(map[string]*unlockAttempts),
		now:      time.Now,
	}
}

// check reports whether username is locked out and for how much longer.
// Stale records are forgotten here.
func (rl *unlockRateLimiter) check(username string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec := rl.attempts[username]
	if rec == nil {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.last) > attemptExpiry {
		delete(rl.attempts, username)
		return false, 0
	}
	if wait := rec.until.Sub(now); wait > 0 {
		return true, wait
	}
	return false, 0
}

func (rl *unlockRateLimiter) recordFailure(username string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec := rl.attempts[username]
	if rec == nil {
		rec = &unlockAttempts{}
		rl.attempts[username] = rec
	}
	rec.failures++
	rec.last = rl.now()
	if d := lockoutFor(rec.failures); d > 0 {
		rec.until = rec.last.Add(d)
	}
}

func (rl *unlockRateLimiter) recordSuccess(username string) {
	rl.mu.Lock()
	delete(rl.attempts, username)
	rl.mu.Unlock()
}

// lockoutFor returns the lockout earned by the given failure count.
func lockoutFor(failures int) time.Duration {
	if failures < maxFailures {
		return 0
	}
	d := baseLockout
	for range failures - maxFailures {
		d *= 2
		if d >= maxLockout {
			return maxLockout
		}
	}
	return d
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many failed unlock attempts")
}

// retryAfterString renders whole seconds, never less than one.
func retryAfterString(d time.Duration) string {
	return strconv.Itoa(max(int(d.Seconds()), 1))
}

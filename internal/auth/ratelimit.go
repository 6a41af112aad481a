package auth

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimiter locks a client out after too many failed logins inside a
// sliding window. Successful logins forget the client's failures.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*loginHistory
	now       func() time.Time
	lastSweep time.Time

	maxFailures int
	window      time.Duration
	lockout     time.Duration
}

type loginHistory struct {
	failures    []time.Time // oldest first, all inside the window
	lockedUntil time.Time
}

// Decision is the limiter's verdict for one client.
type Decision struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time // zero unless locked out
}

// NewRateLimiter allows maxFailures failed logins per window, then locks
// the client out for lockout.
func NewRateLimiter(maxFailures int, window, lockout time.Duration) *RateLimiter {
	return &RateLimiter{
		clients:     make(map[string]*loginHistory),
		now:         time.Now,
		maxFailures: maxFailures,
		window:      window,
		lockout:     lockout,
	}
}

// DefaultRateLimiter allows 5 failures per 15 minutes, then locks for 15 minutes.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(5, 15*time.Minute, 15*time.Minute)
}

// Check reports whether key may attempt a login now.
func (rl *RateLimiter) Check(key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)
	return rl.decideLocked(rl.clients[key], now)
}

// RecordFailure counts a failed login for key and returns the new verdict.
func (rl *RateLimiter) RecordFailure(key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	h := rl.clients[key]
	if h == nil {
		h = &loginHistory{}
		rl.clients[key] = h
	}
	h.trim(now, rl.window)
	h.failures = append(h.failures, now)
	if len(h.failures) >= rl.maxFailures {
		h.lockedUntil = now.Add(rl.lockout)
		h.failures = nil
	}
	return rl.decideLocked(h, now)
}

// RecordSuccess forgets key's failures.
func (rl *RateLimiter) RecordSuccess(key string) {
	rl.mu.Lock()
	delete(rl.clients, key)
	rl.mu.Unlock()
}

func (rl *RateLimiter) decideLocked(h *loginHistory, now time.Time) Decision {
	if h == nil {
		return Decision{Allowed: true, Remaining: rl.maxFailures}
	}
	if now.Before(h.lockedUntil) {
		return Decision{RetryAt: h.lockedUntil}
	}
	h.trim(now, rl.window)
	return Decision{Allowed: true, Remaining: rl.maxFailures - len(h.failures)}
}

// trim drops failures that fell out of the window.
func (h *loginHistory) trim(now time.Time, window time.Duration) {
	i := 0
	for i < len(h.failures) && now.Sub(h.failures[i]) >= window {
		i++
	}
	h.failures = h.failures[i:]
}

// sweepLocked drops idle clients, at most every few minutes.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < 5*time.Minute {
		return
	}
	rl.lastSweep = now
	for key, h := range rl.clients {
		h.trim(now, rl.window)
		if len(h.failures) == 0 && !now.Before(h.lockedUntil) {
			delete(rl.clients, key)
		}
	}
}

// Middleware guards a login route: locked-out clients get 429, and the
// handler's response status is fed back as a failure or a success.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()

			if d := rl.Check(key); !d.Allowed {
				return tooManyAttempts(c, d, rl.now())
			}

			err := next(c)
			if !c.Response().Committed {
				return err
			}

			switch status := c.Response().Status; {
			case status == http.StatusUnauthorized:
				rl.RecordFailure(key)
			case status >= 200 && status < 300:
				rl.RecordSuccess(key)
			}
			return err
		}
	}
}

func tooManyAttempts(c echo.Context, d Decision, now time.Time) error {
	retryAfter := int(d.RetryAt.Sub(now).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"error":         "too many login attempts",
		"retry_after":   retryAfter,
		"blocked_until": d.RetryAt.Format(time.RFC3339),
	})
}

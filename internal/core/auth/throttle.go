package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxThrottleKeys bounds memory; idle keys are pruned past it.
const maxThrottleKeys = 10000

// Throttle limits attempts per key (rfc|ip, ip, ...). Each key refills its
// allowance evenly over the window.
type Throttle struct {
	mu       sync.Mutex
	attempts int
	window   time.Duration
	keys     map[string]*rate.Limiter
	now      func() time.Time
}

// NewThrottle allows attempts per window. attempts <= 0 disables limiting.
func NewThrottle(attempts int, window time.Duration) *Throttle {
	return &Throttle{
		attempts: attempts,
		window:   window,
		keys:     make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

func (t *Throttle) interval() time.Duration {
	return t.window / time.Duration(t.attempts)
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	l, ok := t.keys[key]
	if !ok {
		if len(t.keys) >= maxThrottleKeys {
			t.prune()
		}
		l = rate.NewLimiter(rate.Every(t.interval()), t.attempts)
		t.keys[key] = l
	}
	return l
}

func (t *Throttle) prune() {
	now := t.now()
	for k, l := range t.keys {
		if l.TokensAt(now) >= float64(t.attempts) {
			delete(t.keys, k)
		}
	}
}

// Allow consumes one attempt of key. When none is left it reports false and
// how long until the next one is available. Check and consume happen under
// one lock, so concurrent callers cannot overshoot the limit.
func (t *Throttle) Allow(key string) (bool, time.Duration) {
	if t.attempts <= 0 {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	r := t.limiter(key).ReserveN(now, 1)
	if !r.OK() {
		return false, t.window
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Clear restores the full allowance of key.
func (t *Throttle) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.keys, key)
}

package rest

import (
	"sync"
	"time"
)

// defaultWindow is the provisional reset horizon applied to a bucket before
// a real response has reported authoritative values.
const defaultWindow = 2 * time.Second

// A Limiter tracks remaining-request budgets per logical route, plus one
// global cooldown shared by every route. It gates outbound REST calls:
// callers Reserve a slot before sending and Record the observed outcome
// after the response returns.
//
// All bookkeeping is linearized under a single lock owning the whole table,
// so a route can never grant two concurrent slots against the same budget.
type Limiter struct {
	mu      sync.Mutex
	routes  map[string]*bucket
	blocked time.Time // global cooldown; zero when inactive

	now func() time.Time // test hook
}

type bucket struct {
	remaining int
	limit     int
	reset     time.Time
}

// NewLimiter constructs an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{routes: make(map[string]*bucket), now: time.Now}
}

// An Outcome reports to the limiter what a completed request observed.
// Exactly one constructor applies per response.
type Outcome struct {
	kind       outcomeKind
	remaining  int
	limit      int
	reset      time.Time
	retryAfter time.Duration
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeLocalThrottle
	outcomeGlobalThrottle
)

// Success reports a 2xx response carrying rate headers. For endpoints that
// send no headers, pass remaining < 0 and the bucket is left untouched.
func Success(remaining, limit int, reset time.Time) Outcome {
	return Outcome{kind: outcomeSuccess, remaining: remaining, limit: limit, reset: reset}
}

// LocalThrottle reports a per-route 429 with the given retry delay.
func LocalThrottle(retryAfter time.Duration) Outcome {
	return Outcome{kind: outcomeLocalThrottle, retryAfter: retryAfter}
}

// GlobalThrottle reports a global 429 with the given retry delay.
func GlobalThrottle(retryAfter time.Duration) Outcome {
	return Outcome{kind: outcomeGlobalThrottle, retryAfter: retryAfter}
}

// Reserve requests a send slot for route. It reports ok == true when the
// caller may send immediately; otherwise wait is how long the caller should
// sleep before trying again.
//
// A route seen for the first time starts with a budget of one. This forces
// exactly one of a burst of concurrent first callers through while the rest
// wait, so an unknown route cannot stampede the endpoint before its real
// limits are known.
func (l *Limiter) Reserve(route string) (ok bool, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Before(l.blocked) {
		return false, l.blocked.Sub(now)
	}

	b, found := l.routes[route]
	if !found {
		b = &bucket{remaining: 1, limit: 1, reset: now.Add(defaultWindow)}
		l.routes[route] = b
	}

	switch {
	case b.remaining > 0:
		b.remaining--
		return true, 0
	case !now.Before(b.reset):
		// The window lapsed without a response correcting it. Grant one slot
		// optimistically against a provisional window; the next Record will
		// overwrite with authoritative values.
		b.remaining = b.limit - 1
		b.reset = now.Add(defaultWindow)
		return true, 0
	default:
		return false, b.reset.Sub(now)
	}
}

// Record stores the outcome of a completed request for route. Success values
// overwrite the bucket wholesale; they are authoritative and are never
// decremented further for the request they describe.
func (l *Limiter) Record(route string, o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch o.kind {
	case outcomeSuccess:
		if o.remaining < 0 {
			return // endpoint is unthrottled
		}
		l.routes[route] = &bucket{remaining: o.remaining, limit: o.limit, reset: o.reset}

	case outcomeLocalThrottle:
		l.routes[route] = &bucket{remaining: 0, limit: 1, reset: l.now().Add(o.retryAfter)}

	case outcomeGlobalThrottle:
		l.blocked = l.now().Add(o.retryAfter)
		// A globally rejected request is not charged against its route.
		if b, ok := l.routes[route]; ok {
			b.remaining++
		}
	}
}

// GlobalWait reports how long the global cooldown has left to run, or zero
// if no global throttle is active.
func (l *Limiter) GlobalWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d := l.blocked.Sub(l.now()); d > 0 {
		return d
	}
	return 0
}

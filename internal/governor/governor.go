// Package governor gates every call to an external service behind a shared
// token-bucket rate limiter layered over a bounded connection pool. It has no
// knowledge of jobs or pipeline stages; callers identify themselves only by
// resource class.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docuflow/docuflow/internal/logger"
)

// ErrResourceExhausted is returned when an acquire waits longer than the
// class wait timeout.
var ErrResourceExhausted = errors.New("resource exhausted")

// ErrUnknownClass is returned when acquiring from an unconfigured class.
var ErrUnknownClass = errors.New("unknown resource class")

// DefaultPermitTTL bounds how long a permit may be held before it is
// considered leaked.
const DefaultPermitTTL = 5 * time.Minute

// Limits configure one resource class.
type Limits struct {
	// RefillRate is tokens added per second.
	RefillRate float64
	// Burst is the bucket capacity.
	Burst int
	// PoolSize is the maximum number of concurrently held permits.
	PoolSize int
	// WaitTimeout bounds queueing time in Acquire.
	WaitTimeout time.Duration
}

// Permit is a leased slot for one external call. It is owned exclusively by
// the invocation that acquired it and must be released on every exit path.
type Permit struct {
	ID            string
	ResourceClass string
	AcquiredAt    time.Time
	TTL           time.Duration

	released bool
}

// Expired reports whether the permit outlived its TTL.
func (p *Permit) Expired(now time.Time) bool {
	return now.Sub(p.AcquiredAt) > p.TTL
}

type waiter struct {
	ready chan *Permit
}

type classState struct {
	limits     Limits
	tokens     float64
	lastRefill time.Time
	inflight   int
	waiters    []*waiter
	timerSet   bool
}

// Governor hands out permits per resource class. Acquisition is FIFO among
// waiters of the same class.
type Governor struct {
	mu      sync.Mutex
	classes map[string]*classState
}

// New creates a governor with the given per-class limits.
func New(limits map[string]Limits) *Governor {
	g := &Governor{classes: make(map[string]*classState, len(limits))}
	now := time.Now()
	for class, l := range limits {
		g.classes[class] = &classState{
			limits:     l,
			tokens:     float64(l.Burst),
			lastRefill: now,
		}
	}
	return g
}

// SetLimits installs new limits for a class, creating it if needed. Permits
// already held are unaffected; queued waiters are re-evaluated against the
// new limits.
func (g *Governor) SetLimits(class string, l Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cs, ok := g.classes[class]
	if !ok {
		g.classes[class] = &classState{
			limits:     l,
			tokens:     float64(l.Burst),
			lastRefill: time.Now(),
		}
		return
	}
	cs.limits = l
	if cs.tokens > float64(l.Burst) {
		cs.tokens = float64(l.Burst)
	}
	g.dispatchLocked(class, cs)
}

// Acquire leases a permit for the given class, queueing FIFO behind earlier
// callers when the class is saturated. It fails with ErrResourceExhausted
// after the class wait timeout, or with the context error if ctx ends first.
// A caller that gives up consumes no token.
func (g *Governor) Acquire(ctx context.Context, class string) (*Permit, error) {
	g.mu.Lock()
	cs, ok := g.classes[class]
	if !ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}

	g.refillLocked(cs)
	if len(cs.waiters) == 0 && cs.tokens >= 1 && cs.inflight < cs.limits.PoolSize {
		permit := g.grantLocked(class, cs)
		g.mu.Unlock()
		return permit, nil
	}

	w := &waiter{ready: make(chan *Permit, 1)}
	cs.waiters = append(cs.waiters, w)
	g.scheduleRefillLocked(class, cs)
	timeout := cs.limits.WaitTimeout
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case permit := <-w.ready:
		return permit, nil
	case <-ctx.Done():
		return nil, g.abandon(class, w, ctx.Err())
	case <-timer.C:
		return nil, g.abandon(class, w, fmt.Errorf("%w: class %s wait timeout after %s",
			ErrResourceExhausted, class, timeout))
	}
}

// Release returns the permit's token to the bucket immediately and frees its
// pool slot. Releasing twice is a no-op.
func (g *Governor) Release(permit *Permit) {
	if permit == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if permit.released {
		return
	}
	permit.released = true

	cs, ok := g.classes[permit.ResourceClass]
	if !ok {
		return
	}
	cs.inflight--
	cs.tokens++
	if cs.tokens > float64(cs.limits.Burst) {
		cs.tokens = float64(cs.limits.Burst)
	}
	if permit.Expired(time.Now()) {
		logger.WarnWithFields("Permit held past its TTL", map[string]interface{}{
			"permit_id":      permit.ID,
			"resource_class": permit.ResourceClass,
			"held_for":       time.Since(permit.AcquiredAt).String(),
		})
	}
	g.dispatchLocked(permit.ResourceClass, cs)
}

// InFlight returns the number of permits currently held for a class.
func (g *Governor) InFlight(class string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	cs, ok := g.classes[class]
	if !ok {
		return 0
	}
	return cs.inflight
}

// abandon removes a waiter from the queue. If a grant raced with the
// abandonment, the already-issued permit is released so no capacity leaks.
func (g *Governor) abandon(class string, w *waiter, cause error) error {
	g.mu.Lock()
	cs := g.classes[class]
	for i, queued := range cs.waiters {
		if queued == w {
			cs.waiters = append(cs.waiters[:i], cs.waiters[i+1:]...)
			break
		}
	}
	g.mu.Unlock()

	select {
	case permit := <-w.ready:
		g.Release(permit)
	default:
	}
	return cause
}

func (g *Governor) refillLocked(cs *classState) {
	now := time.Now()
	elapsed := now.Sub(cs.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	cs.tokens += elapsed * cs.limits.RefillRate
	if cs.tokens > float64(cs.limits.Burst) {
		cs.tokens = float64(cs.limits.Burst)
	}
	cs.lastRefill = now
}

func (g *Governor) grantLocked(class string, cs *classState) *Permit {
	cs.tokens--
	cs.inflight++
	return &Permit{
		ID:            uuid.NewString(),
		ResourceClass: class,
		AcquiredAt:    time.Now(),
		TTL:           DefaultPermitTTL,
	}
}

// dispatchLocked hands permits to queued waiters in FIFO order while
// capacity allows.
func (g *Governor) dispatchLocked(class string, cs *classState) {
	g.refillLocked(cs)
	for len(cs.waiters) > 0 && cs.tokens >= 1 && cs.inflight < cs.limits.PoolSize {
		w := cs.waiters[0]
		cs.waiters = cs.waiters[1:]
		w.ready <- g.grantLocked(class, cs)
	}
	g.scheduleRefillLocked(class, cs)
}

// scheduleRefillLocked arms a one-shot timer to re-run dispatch once the
// bucket has refilled enough to serve the next waiter. Needed because a
// waiter blocked on tokens (rather than pool slots) has no release event to
// wake it.
func (g *Governor) scheduleRefillLocked(class string, cs *classState) {
	if cs.timerSet || len(cs.waiters) == 0 || cs.tokens >= 1 || cs.inflight >= cs.limits.PoolSize {
		return
	}
	wait := time.Duration((1 - cs.tokens) / cs.limits.RefillRate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	cs.timerSet = true
	time.AfterFunc(wait, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		cs.timerSet = false
		g.dispatchLocked(class, cs)
	})
}

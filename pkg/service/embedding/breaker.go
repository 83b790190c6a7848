package embedding

import (
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
)

// Breaker is a circuit breaker with an explicit CLOSED / OPEN / HALF_OPEN state machine.
//
//	CLOSED    -> OPEN      after threshold consecutive failures
//	OPEN      -> HALF_OPEN once reopenAt has passed; one probe is admitted
//	HALF_OPEN -> CLOSED    when the probe succeeds
//	HALF_OPEN -> OPEN      when the probe fails, with the cooldown doubled up to maxCooldown
//
// Every transition bumps a generation counter. Outcomes reported by tickets issued in an
// older generation are ignored.
type Breaker struct {
	mu sync.Mutex

	state      model.BreakerState
	failures   int
	reopenAt   time.Time
	cooldown   time.Duration
	probing    bool
	generation uint64

	threshold    int
	baseCooldown time.Duration
	maxCooldown  time.Duration
	clock        func() time.Time
	onTransition func(from, to model.BreakerState)
}

func NewBreaker(threshold int, cooldown, maxCooldown time.Duration, clock func() time.Time) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if maxCooldown < cooldown {
		maxCooldown = cooldown
	}
	if clock == nil {
		clock = time.Now
	}
	return &Breaker{
		state:        model.BreakerClosed,
		cooldown:     cooldown,
		threshold:    threshold,
		baseCooldown: cooldown,
		maxCooldown:  maxCooldown,
		clock:        clock,
	}
}

// Ticket is the right to perform one call. Exactly one of Success, Failure or Release
// should be called; extra calls are ignored.
type Ticket struct {
	b          *Breaker
	generation uint64
	probe      bool
	done       bool
}

// Allow admits a call or returns model.ErrCircuitOpen without doing any I/O
func (b *Breaker) Allow() (*Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case model.BreakerOpen:
		now := b.clock()
		if now.Before(b.reopenAt) {
			return nil, goerr.Wrap(model.ErrCircuitOpen, "embedding provider is cooling down", goerr.V("reopen_at", b.reopenAt))
		}
		b.transition(model.BreakerHalfOpen)
		b.probing = true
		return &Ticket{b: b, generation: b.generation, probe: true}, nil

	case model.BreakerHalfOpen:
		if b.probing {
			return nil, goerr.Wrap(model.ErrCircuitOpen, "probe request already in flight")
		}
		b.probing = true
		return &Ticket{b: b, generation: b.generation, probe: true}, nil
	}

	return &Ticket{b: b, generation: b.generation}, nil
}

func (b *Breaker) transition(to model.BreakerState) {
	from := b.state
	b.state = to
	b.generation++
	if b.onTransition != nil && from != to {
		b.onTransition(from, to)
	}
}

func (b *Breaker) open(cooldown time.Duration) {
	b.cooldown = cooldown
	b.reopenAt = b.clock().Add(cooldown)
	b.probing = false
	b.transition(model.BreakerOpen)
}

// Valid reports whether the ticket was issued in the current generation, i.e. the
// breaker has not opened since the ticket was granted.
func (t *Ticket) Valid() bool {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	return !t.done && t.generation == t.b.generation
}

func (t *Ticket) Success() {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	if t.generation != b.generation {
		return
	}

	switch b.state {
	case model.BreakerHalfOpen:
		if t.probe {
			b.failures = 0
			b.cooldown = b.baseCooldown
			b.probing = false
			b.transition(model.BreakerClosed)
		}
	case model.BreakerClosed:
		b.failures = 0
	}
}

func (t *Ticket) Failure() {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	if t.generation != b.generation {
		return
	}

	switch b.state {
	case model.BreakerHalfOpen:
		if t.probe {
			next := b.cooldown * 2
			if next > b.maxCooldown {
				next = b.maxCooldown
			}
			b.open(next)
		}
	case model.BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.open(b.baseCooldown)
		}
	}
}

// Release gives the ticket back without an outcome, e.g. when the caller canceled
func (t *Ticket) Release() {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	if t.probe && t.generation == b.generation {
		b.probing = false
	}
}

func (b *Breaker) State() model.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Status() model.BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := model.BreakerStatus{
		State:               b.state,
		ConsecutiveFailures: b.failures,
	}
	if b.state == model.BreakerOpen {
		status.ReopenAt = b.reopenAt
	}
	return status
}

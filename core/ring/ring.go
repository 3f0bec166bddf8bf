// File: core/ring/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded slot-reservation ring decoupling slot allocation from slot
// readiness. Producers reserve a slot, fill the parameter in place and
// commit; dispatching workers claim committed slots, read in place and
// release. Two head/tail pairs track the reserved versus committed regions;
// a single short-critical-section mutex serializes index mutations, and one
// condition variable per gate parks producers on full and workers on empty.
// Gate state is mirrored in explicit atomics for observers.

package ring

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-events/api"
)

const (
	// Capacity is fixed: index arithmetic is mod 256.
	Capacity  = api.RingCapacity
	indexMask = Capacity - 1
)

// Ring is the bounded reservation ring. P is the event parameter type,
// A the answer type for answerfull traffic.
type Ring[P, A any] struct {
	mu       sync.Mutex // queue guard: protects indices, reserved flags, waiter counts
	notFull  *sync.Cond // producer wait gate
	notEmpty *sync.Cond // consumer wait gate

	fullWaiters  int
	emptyWaiters int

	// Gate booleans sampled by the tracer and by StopWhenEmpty. True while
	// at least one producer/worker is parked on the corresponding gate.
	full  atomic.Bool
	empty atomic.Bool

	// Walking forward on the ring: reservedHead <= head <= tail <= reservedTail.
	reservedHead uint32 // next slot to become reusable
	head         uint32 // next slot a worker may claim
	tail         uint32 // end of the committed region; lags out-of-order commits until catch-up
	reservedTail uint32 // next slot to hand to a producer

	reserved [Capacity]bool
	slots    [Capacity]slot[P, A]

	draining atomic.Bool
}

// New allocates a ring with all slots free and all gates open.
func New[P, A any]() *Ring[P, A] {
	r := &Ring[P, A]{}
	r.notFull = sync.NewCond(&r.mu)
	r.notEmpty = sync.NewCond(&r.mu)
	for i := range r.slots {
		r.slots[i].gate.init()
	}
	return r
}

// ReserveForReporting claims the next free slot for a producer, returning
// the slot id and the in-place parameter location. answer, when non-nil, is
// the producer-owned location the answerfull consumer will write through;
// the slot's answer gate is armed in that case. Blocks while the ring is
// full. Constant time in the non-blocking case.
func (r *Ring[P, A]) ReserveForReporting(answer *A) (api.EventID, *P) {
	r.mu.Lock()
	for (r.reservedTail+1)&indexMask == r.reservedHead {
		// The head slot may have been released out of order; catch the
		// reserved head up one step instead of parking.
		if !r.reserved[r.reservedHead] && r.reservedHead != r.head {
			r.reservedHead = (r.reservedHead + 1) & indexMask
			continue
		}
		if r.draining.Load() {
			break
		}
		r.fullWaiters++
		r.full.Store(true)
		r.notFull.Wait()
		r.fullWaiters--
		if r.fullWaiters == 0 {
			r.full.Store(false)
		}
	}
	id := r.reservedTail
	r.reservedTail = (r.reservedTail + 1) & indexMask

	r.reserved[id] = true
	s := &r.slots[id]
	s.answer = answer
	s.expects = answer != nil
	if s.expects {
		s.gate.arm()
	}
	r.mu.Unlock()
	return int(id), &s.param
}

// Commit releases the slot for dispatch. The committed tail advances one
// step only when id is the current tail; an out-of-order committed region
// stays behind the tail until ReserveForDispatching catches the tail up.
// Wakes one worker parked on empty when the tail advanced.
func (r *Ring[P, A]) Commit(id api.EventID) {
	r.mu.Lock()
	r.reserved[id&indexMask] = false
	if uint32(id) == r.tail {
		r.tail = (r.tail + 1) & indexMask
		if r.emptyWaiters > 0 {
			r.notEmpty.Signal()
		}
	}
	r.mu.Unlock()
}

// ReserveForDispatching claims the next committed slot for a worker,
// returning the slot id and a read handle. Blocks while the ring is empty.
// Exactly one worker obtains any given committed slot.
func (r *Ring[P, A]) ReserveForDispatching() (api.EventID, Dispatched[P, A]) {
	r.mu.Lock()
	for r.head == r.tail {
		// Symmetric catch-up: the tail slot may have been committed out of
		// order while tail lagged behind.
		if !r.reserved[r.tail] && r.tail != r.reservedTail {
			r.tail = (r.tail + 1) & indexMask
			continue
		}
		if r.draining.Load() {
			break
		}
		r.emptyWaiters++
		r.empty.Store(true)
		r.notEmpty.Wait()
		r.emptyWaiters--
		if r.emptyWaiters == 0 {
			r.empty.Store(false)
		}
	}
	id := r.head
	r.head = (r.head + 1) & indexMask

	r.reserved[id] = true
	s := &r.slots[id]
	r.mu.Unlock()
	return int(id), Dispatched[P, A]{s: s}
}

// Release makes the slot reusable for a new reservation. The reserved head
// advances one step only when id matches it. Wakes one producer parked on
// full.
func (r *Ring[P, A]) Release(id api.EventID) {
	r.mu.Lock()
	r.reserved[id&indexMask] = false
	if uint32(id) == r.reservedHead {
		r.reservedHead = (r.reservedHead + 1) & indexMask
		if r.fullWaiters > 0 {
			r.notFull.Signal()
		}
	}
	r.mu.Unlock()
}

// ExpectsAnswer reports whether the slot was reserved with an answer
// location.
func (r *Ring[P, A]) ExpectsAnswer(id api.EventID) bool {
	return r.slots[id&indexMask].expects
}

// AwaitOutcome blocks on the slot's answer gate and returns the delivered
// outcome. Must only be called for slots reserved with an answer location.
func (r *Ring[P, A]) AwaitOutcome(id api.EventID) Outcome[A] {
	return r.slots[id&indexMask].gate.wait()
}

// State samples the ring under the queue guard.
func (r *Ring[P, A]) State() api.RingState {
	r.mu.Lock()
	st := api.RingState{
		ReservedHead:    r.reservedHead,
		Head:            r.head,
		Tail:            r.tail,
		ReservedTail:    r.reservedTail,
		Length:          int((r.tail - r.head) & indexMask),
		ReservedLength:  int((r.reservedTail - r.reservedHead) & indexMask),
		FullGateClosed:  r.full.Load(),
		EmptyGateClosed: r.empty.Load(),
		FullWaiters:     r.fullWaiters,
		EmptyWaiters:    r.emptyWaiters,
	}
	r.mu.Unlock()
	return st
}

// BeginDrain switches the ring into teardown mode: wait loops stop parking
// and fall through instead. Irreversible.
func (r *Ring[P, A]) BeginDrain() {
	r.draining.Store(true)
}

// Draining reports whether teardown has started.
func (r *Ring[P, A]) Draining() bool {
	return r.draining.Load()
}

// SweepOnce performs one teardown sweep iteration: resets the indices to
// the drain configuration (neither full nor empty, so nobody can re-park),
// wakes every parked waiter, and opens every armed answer gate with a nil
// answer and a shutdown error. Returns true when the sweep found anybody to
// wake, so the caller can restart its stability countdown.
func (r *Ring[P, A]) SweepOnce() bool {
	r.mu.Lock()
	woke := r.fullWaiters > 0 || r.emptyWaiters > 0
	r.reservedHead = 0
	r.head = 0
	r.tail = 1
	r.reservedTail = 1
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
	r.mu.Unlock()

	for i := range r.slots {
		g := &r.slots[i].gate
		if g.isArmed() && g.open(Outcome[A]{Err: api.ErrShutdownObserved}) {
			woke = true
		}
	}
	return woke
}

// Dispatched is the zero-copy read handle a worker holds between
// reserve-for-dispatching and release.
type Dispatched[P, A any] struct {
	s *slot[P, A]
}

// Param points at the event parameter inside the slot.
func (d Dispatched[P, A]) Param() *P { return &d.s.param }

// Answer is the producer-owned answer location, nil for answerless events.
func (d Dispatched[P, A]) Answer() *A { return d.s.answer }

// ExpectsAnswer reports whether the producer is waiting on the answer gate.
func (d Dispatched[P, A]) ExpectsAnswer() bool { return d.s.expects }

// Signal returns the release capability handed to the answerfull consumer.
func (d Dispatched[P, A]) Signal() api.AnswerSignal {
	return answerRelease[P, A]{s: d.s}
}

// Fail resolves the answer gate with a consumer failure, unblocking the
// waiting producer with a nil answer. Reports false when the consumer had
// already released the signal.
func (d Dispatched[P, A]) Fail(err error) bool {
	return d.s.gate.open(Outcome[A]{Err: err})
}

// answerRelease implements api.AnswerSignal over a slot's gate.
type answerRelease[P, A any] struct {
	s *slot[P, A]
}

func (rl answerRelease[P, A]) Release() {
	rl.s.gate.open(Outcome[A]{Answer: rl.s.answer})
}

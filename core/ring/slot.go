// File: core/ring/slot.go
// Package ring implements the bounded slot-reservation ring.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ring

import "sync/atomic"

// Outcome is what an armed answer gate resolves to: either the answer
// pointer the consumer wrote through, or the failure that prevented it.
type Outcome[A any] struct {
	Answer *A
	Err    error
}

// answerGate is a re-armable one-shot gate. The producer arms it at reserve
// time; the consumer (or the failure path, or the teardown sweep) opens it
// exactly once, delivering the outcome. The armed flag is an explicit
// atomic; gate state is never inferred from lock state.
type answerGate[A any] struct {
	armed atomic.Bool
	ch    chan Outcome[A]
}

func (g *answerGate[A]) init() {
	g.ch = make(chan Outcome[A], 1)
}

// arm closes the gate for a new reservation. Only the producer owning the
// slot calls this, so draining a stale token from a previous cycle is safe.
func (g *answerGate[A]) arm() {
	select {
	case <-g.ch:
	default:
	}
	g.armed.Store(true)
}

// open resolves the gate. The first caller wins; later calls are no-ops.
func (g *answerGate[A]) open(out Outcome[A]) bool {
	if !g.armed.CompareAndSwap(true, false) {
		return false
	}
	g.ch <- out
	return true
}

// wait blocks until the gate is opened and returns the delivered outcome.
func (g *answerGate[A]) wait() Outcome[A] {
	return <-g.ch
}

func (g *answerGate[A]) isArmed() bool {
	return g.armed.Load()
}

// slot is a single event record. The parameter is written in place by the
// producer and read in place by the dispatching worker; the answer pointer
// refers to producer-owned storage.
type slot[P, A any] struct {
	param   P
	answer  *A
	expects bool
	gate    answerGate[A]
}

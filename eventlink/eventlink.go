// File: eventlink/eventlink.go
// Package eventlink couples event producers to consumer pools and listeners
// through the slot-reservation ring.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package eventlink

import (
	"reflect"

	"github.com/momentics/hioload-events/api"
	"github.com/momentics/hioload-events/core/ring"
)

// MaxListeners is the fixed size of the listener array.
const MaxListeners = 8

// EventLink is the public face of the bus core: registration of consumer
// pools and listeners, plus the four-phase producer protocol. P is the event
// parameter type, A the answer type.
//
// Registration is not thread-safe against a running dispatcher; complete it
// before constructing one.
type EventLink[P, A any] struct {
	name string
	ring *ring.Ring[P, A]

	answerless []api.Consumer[P]
	answerfull []api.AnswerfullConsumer[P, A]

	listeners  [MaxListeners]api.Listener[P]
	nListeners int
}

// New creates an empty link. The name is a debug label carried into every
// diagnostic line and error context.
func New[P, A any](name string) *EventLink[P, A] {
	return &EventLink[P, A]{
		name: name,
		ring: ring.New[P, A](),
	}
}

// Name returns the link's debug label.
func (el *EventLink[P, A]) Name() string { return el.name }

// Ring exposes the underlying reservation ring to the dispatcher and to
// diagnostic samplers.
func (el *EventLink[P, A]) Ring() *ring.Ring[P, A] { return el.ring }

// SetAnswerlessConsumers registers the answerless consumer instance pool.
// A dispatcher with N workers requires at least N instances; worker i uses
// instance i.
func (el *EventLink[P, A]) SetAnswerlessConsumers(consumers ...api.Consumer[P]) {
	el.answerless = consumers
}

// SetAnswerfullConsumers registers the answerfull consumer instance pool.
func (el *EventLink[P, A]) SetAnswerfullConsumers(consumers ...api.AnswerfullConsumer[P, A]) {
	el.answerfull = consumers
}

// UnsetConsumers clears both consumer pools.
func (el *EventLink[P, A]) UnsetConsumers() {
	el.answerless = nil
	el.answerfull = nil
}

// AnswerlessConsumers returns the registered answerless pool.
func (el *EventLink[P, A]) AnswerlessConsumers() []api.Consumer[P] { return el.answerless }

// AnswerfullConsumers returns the registered answerfull pool.
func (el *EventLink[P, A]) AnswerfullConsumers() []api.AnswerfullConsumer[P, A] {
	return el.answerfull
}

// AddListener appends to the listener array. Fails with ErrCapacityExceeded
// once the fixed array is full.
func (el *EventLink[P, A]) AddListener(l api.Listener[P]) error {
	if el.nListeners >= MaxListeners {
		return api.NewError(api.ErrCodeCapacityExceeded,
			"out of listener slots while adding a listener to '"+el.name+"'").
			WithContext("max", MaxListeners)
	}
	el.listeners[el.nListeners] = l
	el.nListeners++
	return nil
}

// FindListener returns the index of a previously added listener, or -1.
// Func-backed listeners are matched by code pointer, everything else by
// interface equality.
func (el *EventLink[P, A]) FindListener(l api.Listener[P]) int {
	for i := 0; i < el.nListeners; i++ {
		if sameListener(el.listeners[i], l) {
			return i
		}
	}
	return -1
}

// RemoveListener removes a listener, shifting the array tail down by one.
func (el *EventLink[P, A]) RemoveListener(l api.Listener[P]) bool {
	pos := el.FindListener(l)
	if pos == -1 {
		return false
	}
	copy(el.listeners[pos:], el.listeners[pos+1:el.nListeners])
	el.nListeners--
	el.listeners[el.nListeners] = nil
	return true
}

// Listeners returns the live prefix of the listener array.
func (el *EventLink[P, A]) Listeners() []api.Listener[P] {
	return el.listeners[:el.nListeners]
}

// ClearListeners drops all listeners. Used by dispatcher teardown.
func (el *EventLink[P, A]) ClearListeners() {
	for i := 0; i < el.nListeners; i++ {
		el.listeners[i] = nil
	}
	el.nListeners = 0
}

// Reserve claims a slot for an answerless event and returns its id plus the
// in-place parameter location. Blocks while the ring is full.
func (el *EventLink[P, A]) Reserve() (api.EventID, *P) {
	return el.ring.ReserveForReporting(nil)
}

// ReserveWithAnswer claims a slot for an answerfull event. answer must point
// at producer-owned storage the consumer will write through; the slot's
// answer gate is armed until the consumer releases it.
func (el *EventLink[P, A]) ReserveWithAnswer(answer *A) (api.EventID, *P) {
	return el.ring.ReserveForReporting(answer)
}

// Commit publishes a filled slot for dispatch.
func (el *EventLink[P, A]) Commit(id api.EventID) {
	el.ring.Commit(id)
}

// WaitForAnswer blocks until the consumer releases the slot's answer gate,
// then returns the answer pointer. Fails with ErrNoAnswerConfigured when the
// slot was reserved without an answer location, with ErrConsumerFailure when
// the consumer body failed, and with ErrShutdownObserved when teardown woke
// the producer.
func (el *EventLink[P, A]) WaitForAnswer(id api.EventID) (*A, error) {
	if !el.ring.ExpectsAnswer(id) {
		return nil, api.NewError(api.ErrCodeNoAnswerConfigured,
			"waiting for an answer from an event of '"+el.name+"' which was not reserved to produce one; "+
				"did you call Reserve instead of ReserveWithAnswer?")
	}
	out := el.ring.AwaitOutcome(id)
	return out.Answer, out.Err
}

// sameListener matches the original function-pointer comparison: listeners
// backed by funcs compare by code pointer, pointer-backed listeners by
// interface identity.
func sameListener[P any](a, b api.Listener[P]) bool {
	if a == nil || b == nil {
		return a == b
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.Func || rb.Kind() == reflect.Func {
		return ra.Kind() == rb.Kind() && ra.Pointer() == rb.Pointer()
	}
	if ra.Type().Comparable() && rb.Type().Comparable() {
		return a == b
	}
	return false
}

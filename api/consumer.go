// File: api/consumer.go
// Package api defines the capability contracts of hioload-events.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// AnswerSignal is the one-shot gate an answerfull consumer releases once it
// has stored the answer in the producer-owned answer location. Release must
// be called exactly once per event; extra calls are no-ops.
type AnswerSignal interface {
	Release()
}

// Consumer processes answerless events. The parameter points into the ring
// slot and is only valid for the duration of the call.
// A returned error is reported to the diagnostic sink and swallowed; there
// is no fallback queue.
type Consumer[P any] interface {
	Consume(param *P) error
}

// ConsumerFunc adapts a plain function to the Consumer interface.
type ConsumerFunc[P any] func(param *P) error

func (f ConsumerFunc[P]) Consume(param *P) error { return f(param) }

// AnswerfullConsumer processes events whose producer awaits a computed
// answer. The consumer writes through the answer pointer (producer-owned
// storage) and then releases the signal. An error returned before the signal
// was released resolves the waiting producer with a consumer failure.
type AnswerfullConsumer[P, A any] interface {
	ConsumeAnswerfull(param *P, answer *A, signal AnswerSignal) error
}

// AnswerfullConsumerFunc adapts a plain function to AnswerfullConsumer.
type AnswerfullConsumerFunc[P, A any] func(param *P, answer *A, signal AnswerSignal) error

func (f AnswerfullConsumerFunc[P, A]) ConsumeAnswerfull(param *P, answer *A, signal AnswerSignal) error {
	return f(param, answer, signal)
}

// Listener observes events in addition to the consumer. Listeners are
// side-effect only; panics are reported to the diagnostic sink and swallowed.
type Listener[P any] interface {
	Notify(param *P)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc[P any] func(param *P)

func (f ListenerFunc[P]) Notify(param *P) { f(param) }

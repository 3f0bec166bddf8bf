// File: dispatch/tracer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Debug tracer: an extra goroutine periodically sampling ring state for
// diagnostics. Purely observational; it reads the snapshot API and never
// touches the gates.

package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-events/api"
)

// historyDepth bounds the tracer's retained sample window.
const historyDepth = 64

// Sample is one tracer observation.
type Sample struct {
	At    time.Time
	State api.RingState
}

// Tracer samples a ring-state function on a fixed interval, logs one line
// per sample and keeps a bounded FIFO history.
type Tracer struct {
	name     string
	sample   func() api.RingState
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	history *queue.Queue

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewTracer creates a tracer; Start launches its goroutine.
func NewTracer(name string, sample func() api.RingState, interval time.Duration, log *slog.Logger) *Tracer {
	return &Tracer{
		name:     name,
		sample:   sample,
		interval: interval,
		log:      log,
		history:  queue.New(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sampling goroutine.
func (t *Tracer) Start() {
	go t.run()
}

func (t *Tracer) run() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			st := t.sample()
			t.record(Sample{At: now, State: st})
			t.log.Debug("ring state",
				"rHead", st.ReservedHead,
				"rTail", st.ReservedTail,
				"reservedLength", st.ReservedLength,
				"qHead", st.Head,
				"qTail", st.Tail,
				"queueLength", st.Length,
				"isFull", st.FullGateClosed,
				"isEmpty", st.EmptyGateClosed,
				"fullWaiters", st.FullWaiters,
				"emptyWaiters", st.EmptyWaiters)
		}
	}
}

func (t *Tracer) record(s Sample) {
	t.mu.Lock()
	t.history.Add(s)
	for t.history.Length() > historyDepth {
		t.history.Remove()
	}
	t.mu.Unlock()
}

// History returns the retained samples, oldest first.
func (t *Tracer) History() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sample, 0, t.history.Length())
	for i := 0; i < t.history.Length(); i++ {
		out = append(out, t.history.Get(i).(Sample))
	}
	return out
}

// Stop terminates the sampling goroutine and waits for it to exit.
func (t *Tracer) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	<-t.doneCh
}

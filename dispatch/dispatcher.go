// File: dispatch/dispatcher.go
// Package dispatch drives consumer worker pools against an event link.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-events/affinity"
	"github.com/momentics/hioload-events/api"
	"github.com/momentics/hioload-events/control"
	"github.com/momentics/hioload-events/core/ring"
	"github.com/momentics/hioload-events/eventlink"
)

// sweepInterval is the pause between teardown sweep and StopWhenEmpty poll
// iterations.
const sweepInterval = 2 * time.Millisecond

// Config selects the dispatch mode and ambient wiring of a Dispatcher.
// Exactly one of ConsumeAnswerless/ConsumeAnswerfull may be set; ZeroCopy
// must be true (the only supported hand-off); ThreadsPriority must be zero.
type Config[P any] struct {
	Workers         int
	ThreadsPriority int

	ZeroCopy          bool
	NotifyEvents      bool
	ConsumeAnswerless bool
	ConsumeAnswerfull bool

	// Debug starts the tracer goroutine sampling ring state.
	Debug         bool
	TraceInterval time.Duration // defaults to 1s

	// PinWorkers pins each worker goroutine's thread to CPU (worker mod NumCPU).
	PinWorkers bool

	// Logger is the diagnostic sink for consumer and listener failures.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics receives consumed/notified/failure counters when non-nil.
	Metrics *control.MetricsRegistry

	// Serializer overrides the default parameter serializer resolution.
	Serializer api.ParamSerializer[P]
}

// Dispatcher owns a pool of worker goroutines, each looping
// reserve-for-dispatch, consume, notify, release against one event link.
type Dispatcher[P, A any] struct {
	link    *eventlink.EventLink[P, A]
	workers int

	notify     bool
	answerless bool
	answerfull bool
	pinWorkers bool

	serialize api.ParamSerializer[P]
	log       *slog.Logger
	metrics   *control.MetricsRegistry
	probes    *control.DebugProbes

	active atomic.Bool
	wg     sync.WaitGroup
	tracer *Tracer

	shutdownOnce sync.Once
}

var _ api.GracefulShutdown = (*Dispatcher[int, int])(nil)
var _ api.Debug = (*Dispatcher[int, int])(nil)

// New validates the configuration, spawns the worker pool and, in debug
// mode, the tracer. All configuration errors are synchronous.
func New[P, A any](link *eventlink.EventLink[P, A], cfg Config[P]) (*Dispatcher[P, A], error) {
	if err := validate(link, &cfg); err != nil {
		return nil, err
	}

	serialize := cfg.Serializer
	if serialize == nil {
		var err error
		serialize, err = eventlink.ResolveSerializer[P]()
		if err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("event", link.Name())

	d := &Dispatcher[P, A]{
		link:       link,
		workers:    cfg.Workers,
		notify:     cfg.NotifyEvents,
		answerless: cfg.ConsumeAnswerless,
		answerfull: cfg.ConsumeAnswerfull,
		pinWorkers: cfg.PinWorkers,
		serialize:  serialize,
		log:        logger,
		metrics:    cfg.Metrics,
		probes:     control.NewDebugProbes(),
	}
	d.active.Store(true)

	d.probes.RegisterProbe("ring", func() any { return link.Ring().State() })
	if d.metrics != nil {
		d.probes.RegisterProbe("metrics", func() any { return d.metrics.GetSnapshot() })
	}

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.runWorker(i)
	}

	if cfg.Debug {
		interval := cfg.TraceInterval
		if interval <= 0 {
			interval = time.Second
		}
		d.tracer = NewTracer(link.Name(), link.Ring().State, interval, logger)
		d.probes.RegisterProbe("tracer.history", func() any { return d.tracer.History() })
		d.tracer.Start()
	}
	return d, nil
}

func validate[P, A any](link *eventlink.EventLink[P, A], cfg *Config[P]) error {
	if cfg.Workers <= 0 {
		return api.NewError(api.ErrCodeInvalidConfiguration,
			"dispatcher for '"+link.Name()+"' needs at least one worker").
			WithContext("workers", cfg.Workers)
	}
	if cfg.ThreadsPriority != 0 {
		return api.NewError(api.ErrCodeInvalidConfiguration,
			"custom thread priority is not implemented; it must be zero in the meantime").
			WithContext("threadsPriority", cfg.ThreadsPriority)
	}
	supported := cfg.ZeroCopy &&
		((cfg.ConsumeAnswerless != cfg.ConsumeAnswerfull) || (cfg.NotifyEvents && !cfg.ConsumeAnswerless && !cfg.ConsumeAnswerfull))
	if !supported {
		return api.NewError(api.ErrCodeInvalidConfiguration,
			"unsupported combination of mode flags for '"+link.Name()+"'").
			WithContext("zeroCopy", cfg.ZeroCopy).
			WithContext("notifyEvents", cfg.NotifyEvents).
			WithContext("consumeAnswerlessEvents", cfg.ConsumeAnswerless).
			WithContext("consumeAnswerfullEvents", cfg.ConsumeAnswerfull)
	}
	if cfg.ConsumeAnswerless {
		pool := link.AnswerlessConsumers()
		if len(pool) == 0 {
			return api.NewError(api.ErrCodeConsumerNotSet,
				"instantiating a dispatcher before an answerless consumer pool was set on '"+link.Name()+"'")
		}
		if len(pool) < cfg.Workers {
			return api.NewError(api.ErrCodeInvalidConfiguration,
				"dispatcher for '"+link.Name()+"' has more workers than answerless consumer instances; "+
					"grow the pool passed to SetAnswerlessConsumers").
				WithContext("workers", cfg.Workers).
				WithContext("consumers", len(pool))
		}
	}
	if cfg.ConsumeAnswerfull {
		pool := link.AnswerfullConsumers()
		if len(pool) == 0 {
			return api.NewError(api.ErrCodeConsumerNotSet,
				"instantiating a dispatcher before an answerfull consumer pool was set on '"+link.Name()+"'")
		}
		if len(pool) < cfg.Workers {
			return api.NewError(api.ErrCodeInvalidConfiguration,
				"dispatcher for '"+link.Name()+"' has more workers than answerfull consumer instances; "+
					"grow the pool passed to SetAnswerfullConsumers").
				WithContext("workers", cfg.Workers).
				WithContext("consumers", len(pool))
		}
	}
	return nil
}

// runWorker is the per-worker dispatch loop. Worker i uses consumer
// instance i; the consumer pool is re-read every iteration so the teardown
// sweep can swap in drain consumers under running workers.
func (d *Dispatcher[P, A]) runWorker(workerID int) {
	defer d.wg.Done()
	if d.pinWorkers {
		if err := affinity.PinCurrentGoroutine(workerID % runtime.NumCPU()); err != nil {
			d.log.Warn("worker pinning unavailable", "worker", workerID, "error", err)
		}
		defer runtime.UnlockOSThread()
	}

	r := d.link.Ring()
	for d.active.Load() {
		id, ev := r.ReserveForDispatching()
		switch {
		case d.answerless:
			d.consumeAnswerless(workerID, ev)
		case d.answerfull:
			d.consumeAnswerfull(workerID, ev)
		}
		if d.notify {
			d.notifyListeners(workerID, ev.Param())
		}
		r.Release(id)
	}
}

func (d *Dispatcher[P, A]) consumeAnswerless(workerID int, ev ring.Dispatched[P, A]) {
	pool := d.link.AnswerlessConsumers()
	if len(pool) == 0 {
		return
	}
	consumer := pool[workerID%len(pool)]

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return consumer.Consume(ev.Param())
	}()
	if err != nil {
		d.count("consumer.failures")
		d.log.Error("exception in answerless consumer; event consumption will not be retried, "+
			"a fall-back queue is not implemented",
			"worker", workerID,
			"parameter", d.serialize(ev.Param()),
			"error", err)
		return
	}
	d.count("events.consumed")
}

func (d *Dispatcher[P, A]) consumeAnswerfull(workerID int, ev ring.Dispatched[P, A]) {
	pool := d.link.AnswerfullConsumers()
	if len(pool) == 0 {
		return
	}
	consumer := pool[workerID%len(pool)]

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return consumer.ConsumeAnswerfull(ev.Param(), ev.Answer(), ev.Signal())
	}()
	if err != nil {
		d.count("consumer.failures")
		d.log.Error("exception in answerfull consumer; event consumption will not be retried, "+
			"a fall-back queue is not implemented",
			"worker", workerID,
			"parameter", d.serialize(ev.Param()),
			"error", err)
		// The failure happened before the answer was issued: expose it to the
		// waiting producer with a nil answer.
		failure := api.NewError(api.ErrCodeConsumerFailure,
			"consumer for '"+d.link.Name()+"' failed before producing an answer").
			WithContext("cause", err.Error())
		ev.Fail(failure)
		return
	}
	d.count("events.consumed")
}

func (d *Dispatcher[P, A]) notifyListeners(workerID int, param *P) {
	for i, listener := range d.link.Listeners() {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					d.count("listener.failures")
					d.log.Error("exception in event listener",
						"worker", workerID,
						"listener", i,
						"parameter", d.serialize(param),
						"error", rec)
				}
			}()
			listener.Notify(param)
		}()
	}
	d.count("events.notified")
}

func (d *Dispatcher[P, A]) count(key string) {
	if d.metrics != nil {
		d.metrics.Inc(key, 1)
	}
}

// StopASAP causes all workers to stop processing further events. Workers
// parked in reserve-for-dispatch stay parked until the teardown sweep wakes
// them.
func (d *Dispatcher[P, A]) StopASAP() {
	d.active.Store(false)
}

// StopWhenEmpty polls ring state until all four indices have been stable and
// the ring has reported empty for 5*workers consecutive samples, then stops.
func (d *Dispatcher[P, A]) StopWhenEmpty() {
	retries := 0
	last := d.link.Ring().State()
	for retries < 5*d.workers {
		st := d.link.Ring().State()
		stable := st.ReservedHead == last.ReservedHead && st.Head == last.Head &&
			st.Tail == last.Tail && st.ReservedTail == last.ReservedTail
		if stable && st.EmptyGateClosed && st.Length == 0 {
			retries++
		} else {
			retries = 0
			last = st
		}
		time.Sleep(sweepInterval)
	}
	d.StopASAP()
}

// Shutdown implements api.GracefulShutdown: stop, install drain consumers,
// clear listeners, then sweep the ring until every parked producer and
// worker has been woken, and join the pool.
//
// Any producer still parked in WaitForAnswer unblocks with a nil answer and
// ErrShutdownObserved.
func (d *Dispatcher[P, A]) Shutdown() error {
	d.shutdownOnce.Do(func() {
		d.StopASAP()

		// False wakeups are expected from here on; drain consumers accept
		// them as no-ops so no real consumer sees teardown garbage.
		d.link.ClearListeners()
		d.link.UnsetConsumers()
		drainLess := make([]api.Consumer[P], d.workers)
		drainFull := make([]api.AnswerfullConsumer[P, A], d.workers)
		for i := range drainLess {
			drainLess[i] = drainAnswerless[P, A]{link: d.link}
			drainFull[i] = drainAnswerfull[P, A]{link: d.link}
		}
		d.link.SetAnswerlessConsumers(drainLess...)
		d.link.SetAnswerfullConsumers(drainFull...)

		r := d.link.Ring()
		r.BeginDrain()
		retries := 0
		for retries < 5*d.workers {
			if r.SweepOnce() {
				retries = 0
			} else {
				retries++
			}
			time.Sleep(sweepInterval)
		}

		d.wg.Wait()
		if d.tracer != nil {
			d.tracer.Stop()
		}
	})
	return nil
}

// DumpState implements api.Debug.
func (d *Dispatcher[P, A]) DumpState() map[string]any {
	return d.probes.DumpState()
}

// RegisterProbe implements api.Debug.
func (d *Dispatcher[P, A]) RegisterProbe(name string, fn func() any) {
	d.probes.RegisterProbe(name, fn)
}

// Active reports whether workers still process events.
func (d *Dispatcher[P, A]) Active() bool {
	return d.active.Load()
}

// NumWorkers returns the worker pool size.
func (d *Dispatcher[P, A]) NumWorkers() int {
	return d.workers
}

// drainAnswerless and drainAnswerfull absorb false wakeups during teardown.
// They hold the link as their context and do nothing; the sweep itself opens
// any armed answer gates.
type drainAnswerless[P, A any] struct {
	link *eventlink.EventLink[P, A]
}

func (drainAnswerless[P, A]) Consume(*P) error { return nil }

type drainAnswerfull[P, A any] struct {
	link *eventlink.EventLink[P, A]
}

func (drainAnswerfull[P, A]) ConsumeAnswerfull(*P, *A, api.AnswerSignal) error { return nil }

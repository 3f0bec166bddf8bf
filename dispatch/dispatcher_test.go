// File: dispatch/dispatcher_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-events/api"
	"github.com/momentics/hioload-events/control"
	"github.com/momentics/hioload-events/dispatch"
	"github.com/momentics/hioload-events/eventlink"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopConsumer() api.Consumer[uint32] {
	return api.ConsumerFunc[uint32](func(*uint32) error { return nil })
}

func TestDispatcherRejectsInvalidConfigurations(t *testing.T) {
	cases := []struct {
		name string
		cfg  dispatch.Config[uint32]
		want error
	}{
		{
			name: "no workers",
			cfg:  dispatch.Config[uint32]{ZeroCopy: true, ConsumeAnswerless: true},
			want: api.ErrInvalidConfiguration,
		},
		{
			name: "non-zero priority",
			cfg: dispatch.Config[uint32]{
				Workers: 1, ThreadsPriority: 10, ZeroCopy: true, ConsumeAnswerless: true,
			},
			want: api.ErrInvalidConfiguration,
		},
		{
			name: "copying mode",
			cfg:  dispatch.Config[uint32]{Workers: 1, ConsumeAnswerless: true},
			want: api.ErrInvalidConfiguration,
		},
		{
			name: "both consume flags",
			cfg: dispatch.Config[uint32]{
				Workers: 1, ZeroCopy: true, ConsumeAnswerless: true, ConsumeAnswerfull: true,
			},
			want: api.ErrInvalidConfiguration,
		},
		{
			name: "no consume and no notify",
			cfg:  dispatch.Config[uint32]{Workers: 1, ZeroCopy: true},
			want: api.ErrInvalidConfiguration,
		},
		{
			name: "more workers than consumer instances",
			cfg: dispatch.Config[uint32]{
				Workers: 2, ZeroCopy: true, ConsumeAnswerless: true,
			},
			want: api.ErrInvalidConfiguration,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			el := eventlink.New[uint32, struct{}]("invalid-config")
			el.SetAnswerlessConsumers(noopConsumer())
			_, err := dispatch.New(el, tc.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDispatcherRequiresRegisteredConsumer(t *testing.T) {
	el := eventlink.New[uint32, struct{}]("no-consumer")
	_, err := dispatch.New(el, dispatch.Config[uint32]{
		Workers: 1, ZeroCopy: true, ConsumeAnswerless: true, Logger: quietLogger(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConsumerNotSet)

	_, err = dispatch.New(el, dispatch.Config[uint32]{
		Workers: 1, ZeroCopy: true, ConsumeAnswerfull: true, Logger: quietLogger(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConsumerNotSet)
}

type opaque struct {
	x, y int
}

func TestDispatcherRejectsUnserializableParameter(t *testing.T) {
	el := eventlink.New[opaque, struct{}]("unserializable")
	el.SetAnswerlessConsumers(api.ConsumerFunc[opaque](func(*opaque) error { return nil }))

	_, err := dispatch.New(el, dispatch.Config[opaque]{
		Workers: 1, ZeroCopy: true, ConsumeAnswerless: true, Logger: quietLogger(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrInvalidConfiguration)

	// An explicit serializer resolves the same configuration.
	d, err := dispatch.New(el, dispatch.Config[opaque]{
		Workers: 1, ZeroCopy: true, ConsumeAnswerless: true, Logger: quietLogger(),
		Serializer: func(*opaque) string { return "opaque" },
	})
	require.NoError(t, err)
	require.NoError(t, d.Shutdown())
}

// Single producer, single answerless consumer: the consumer observes
// exactly one event.
func TestSingleProducerSingleAnswerlessConsumer(t *testing.T) {
	el := eventlink.New[uint32, struct{}]("single")
	var counter atomic.Uint32
	el.SetAnswerlessConsumers(api.ConsumerFunc[uint32](func(p *uint32) error {
		if *p == 42 {
			counter.Add(1)
		}
		return nil
	}))

	metrics := control.NewMetricsRegistry()
	d, err := dispatch.New(el, dispatch.Config[uint32]{
		Workers: 1, ZeroCopy: true, ConsumeAnswerless: true,
		Logger: quietLogger(), Metrics: metrics,
	})
	require.NoError(t, err)

	id, param := el.Reserve()
	*param = 42
	el.Commit(id)

	d.StopWhenEmpty()
	assert.Equal(t, uint32(1), counter.Load())
	assert.EqualValues(t, 1, metrics.Counter("events.consumed"))
	require.NoError(t, d.Shutdown())
}

// Answerfull round-trip: the consumer squares the parameter into the
// producer-owned answer cell.
func TestAnswerfullRoundTrip(t *testing.T) {
	el := eventlink.New[int, int]("squares")
	el.SetAnswerfullConsumers(api.AnswerfullConsumerFunc[int, int](
		func(p *int, answer *int, signal api.AnswerSignal) error {
			*answer = (*p) * (*p)
			signal.Release()
			return nil
		}))

	d, err := dispatch.New(el, dispatch.Config[int]{
		Workers: 1, ZeroCopy: true, NotifyEvents: true, ConsumeAnswerfull: true,
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Shutdown()) }()

	for n := 0; n < 100; n++ {
		var cell int
		id, param := el.ReserveWithAnswer(&cell)
		*param = n
		el.Commit(id)

		answer, err := el.WaitForAnswer(id)
		require.NoError(t, err)
		require.Same(t, &cell, answer)
		require.Equal(t, n*n, cell)
	}
}

// A failing answerfull consumer unblocks the waiting producer with a nil
// answer and a consumer failure; subsequent events keep being processed.
func TestAnswerfullConsumerFailure(t *testing.T) {
	el := eventlink.New[int, int]("failing")
	el.SetAnswerfullConsumers(api.AnswerfullConsumerFunc[int, int](
		func(*int, *int, api.AnswerSignal) error {
			return errors.New("boom")
		}))

	d, err := dispatch.New(el, dispatch.Config[int]{
		Workers: 1, ZeroCopy: true, ConsumeAnswerfull: true, Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Shutdown()) }()

	for n := 0; n < 10; n++ {
		var cell int
		id, param := el.ReserveWithAnswer(&cell)
		*param = n
		el.Commit(id)

		answer, err := el.WaitForAnswer(id)
		assert.Nil(t, answer)
		require.Error(t, err)
		assert.ErrorIs(t, err, api.ErrConsumerFailure)
	}
}

func TestAnswerfullConsumerPanic(t *testing.T) {
	el := eventlink.New[int, int]("panicking")
	el.SetAnswerfullConsumers(api.AnswerfullConsumerFunc[int, int](
		func(*int, *int, api.AnswerSignal) error {
			panic("boom")
		}))

	d, err := dispatch.New(el, dispatch.Config[int]{
		Workers: 1, ZeroCopy: true, ConsumeAnswerfull: true, Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Shutdown()) }()

	var cell int
	id, param := el.ReserveWithAnswer(&cell)
	*param = 1
	el.Commit(id)

	answer, err := el.WaitForAnswer(id)
	assert.Nil(t, answer)
	assert.ErrorIs(t, err, api.ErrConsumerFailure)
}

// A panicking answerless consumer is reported and swallowed; the dispatcher
// keeps going.
func TestAnswerlessConsumerPanicIsSwallowed(t *testing.T) {
	el := eventlink.New[uint32, struct{}]("swallow")
	var consumed atomic.Uint32
	el.SetAnswerlessConsumers(api.ConsumerFunc[uint32](func(p *uint32) error {
		if *p == 0 {
			panic("boom")
		}
		consumed.Add(1)
		return nil
	}))

	metrics := control.NewMetricsRegistry()
	d, err := dispatch.New(el, dispatch.Config[uint32]{
		Workers: 1, ZeroCopy: true, ConsumeAnswerless: true,
		Logger: quietLogger(), Metrics: metrics,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		id, param := el.Reserve()
		*param = uint32(i)
		el.Commit(id)
	}

	d.StopWhenEmpty()
	assert.Equal(t, uint32(2), consumed.Load())
	assert.EqualValues(t, 1, metrics.Counter("consumer.failures"))
	require.NoError(t, d.Shutdown())
}

type recordingListener struct {
	mu   sync.Mutex
	seen []uint32
}

func (l *recordingListener) Notify(p *uint32) {
	l.mu.Lock()
	l.seen = append(l.seen, *p)
	l.mu.Unlock()
}

func (l *recordingListener) snapshot() []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint32(nil), l.seen...)
}

// Listener fan-out: three listeners plus one answerless consumer each
// observe all ten parameters in commit order.
func TestListenerFanOut(t *testing.T) {
	el := eventlink.New[uint32, struct{}]("fan-out")

	consumer := &recordingListener{}
	el.SetAnswerlessConsumers(api.ConsumerFunc[uint32](func(p *uint32) error {
		consumer.Notify(p)
		return nil
	}))

	listeners := []*recordingListener{{}, {}, {}}
	for _, l := range listeners {
		require.NoError(t, el.AddListener(l))
	}

	metrics := control.NewMetricsRegistry()
	d, err := dispatch.New(el, dispatch.Config[uint32]{
		Workers: 1, ZeroCopy: true, NotifyEvents: true, ConsumeAnswerless: true,
		Logger: quietLogger(), Metrics: metrics,
	})
	require.NoError(t, err)

	want := make([]uint32, 10)
	for i := 0; i < 10; i++ {
		id, param := el.Reserve()
		*param = uint32(i)
		want[i] = uint32(i)
		el.Commit(id)
	}

	d.StopWhenEmpty()

	total := len(consumer.snapshot())
	for _, l := range listeners {
		got := l.snapshot()
		assert.Equal(t, want, got, "each listener observes all parameters in commit order")
		total += len(got)
	}
	assert.Equal(t, want, consumer.snapshot())
	assert.Equal(t, 40, total)
	assert.EqualValues(t, 10, metrics.Counter("events.consumed"))
	assert.EqualValues(t, 10, metrics.Counter("events.notified"))

	require.NoError(t, d.Shutdown())
}

// Notify-only dispatch: no consumer registered at all.
func TestNotifyOnlyDispatch(t *testing.T) {
	el := eventlink.New[uint32, struct{}]("notify-only")
	l := &recordingListener{}
	require.NoError(t, el.AddListener(l))

	d, err := dispatch.New(el, dispatch.Config[uint32]{
		Workers: 1, ZeroCopy: true, NotifyEvents: true, Logger: quietLogger(),
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		id, param := el.Reserve()
		*param = uint32(i)
		el.Commit(id)
	}

	d.StopWhenEmpty()
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, l.snapshot())
	require.NoError(t, d.Shutdown())
}

// A pool of workers, each with its own consumer instance, serving
// concurrent answerfull producers.
func TestMultiWorkerAnswerfullPool(t *testing.T) {
	const (
		workers   = 4
		producers = 8
		perProd   = 50
	)

	el := eventlink.New[int, int]("pool")
	consumers := make([]api.AnswerfullConsumer[int, int], workers)
	for i := range consumers {
		consumers[i] = api.AnswerfullConsumerFunc[int, int](
			func(p *int, answer *int, signal api.AnswerSignal) error {
				*answer = (*p) * (*p)
				signal.Release()
				return nil
			})
	}
	el.SetAnswerfullConsumers(consumers...)

	d, err := dispatch.New(el, dispatch.Config[int]{
		Workers: workers, ZeroCopy: true, ConsumeAnswerfull: true, Logger: quietLogger(),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for n := 0; n < perProd; n++ {
				v := p*perProd + n
				var cell int
				id, param := el.ReserveWithAnswer(&cell)
				*param = v
				el.Commit(id)
				answer, err := el.WaitForAnswer(id)
				if err != nil {
					errs <- err
					return
				}
				if *answer != v*v {
					errs <- errors.New("wrong square")
					return
				}
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("timeout: possible deadlock under concurrent answerfull load")
	}
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	d.StopWhenEmpty()
	require.NoError(t, d.Shutdown())
}

func TestDumpStateExposesRingProbe(t *testing.T) {
	el := eventlink.New[uint32, struct{}]("probes")
	el.SetAnswerlessConsumers(noopConsumer())
	d, err := dispatch.New(el, dispatch.Config[uint32]{
		Workers: 1, ZeroCopy: true, ConsumeAnswerless: true,
		Debug: true, TraceInterval: 2 * time.Millisecond, Logger: quietLogger(),
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	state := d.DumpState()
	require.Contains(t, state, "ring")
	require.Contains(t, state, "tracer.history")
	ringState, ok := state["ring"].(api.RingState)
	require.True(t, ok)
	assert.Equal(t, 0, ringState.Length)

	require.NoError(t, d.Shutdown())
}

// control/metrics_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistryCounters(t *testing.T) {
	mr := NewMetricsRegistry()
	mr.Inc("events.consumed", 1)
	mr.Inc("events.consumed", 2)
	mr.Set("workers", 4)

	assert.EqualValues(t, 3, mr.Counter("events.consumed"))
	assert.EqualValues(t, 0, mr.Counter("missing"))

	snap := mr.GetSnapshot()
	assert.Equal(t, 4, snap["workers"])
	assert.EqualValues(t, 3, snap["events.consumed"])
}

func TestMetricsRegistryConcurrentInc(t *testing.T) {
	mr := NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				mr.Inc("hits", 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 8000, mr.Counter("hits"))
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("answer", func() any { return 42 })
	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
}

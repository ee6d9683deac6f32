// Package throughput samples a shared byte counter on a fixed tick.
//
// Producers call Add from any goroutine; that is the only operation on the
// data path and it is a single atomic increment. A Monitor goroutine reads the
// counter every interval and reports the delta since the previous tick, so a
// slow callback delays the next sample but never a producer.
package throughput

import (
	"sync"
	"sync/atomic"
	"time"
)

const DefaultInterval = time.Second

// Sample is the counter movement observed over one tick.
type Sample struct {
	Delta int64     // bytes counted since the previous sample
	Total int64     // counter value at the time of the sample
	Rate  float64   // Delta scaled to bytes per second
	At    time.Time
	Final bool // emitted by Stop for bytes counted after the last tick
}

type Monitor struct {
	interval time.Duration
	onSample func(Sample)
	counter  atomic.Int64

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	previous int64 // guarded by the loop while running, by mu otherwise
}

// New returns a stopped monitor. A nil onSample is allowed.
func New(interval time.Duration, onSample func(Sample)) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if onSample == nil {
		onSample = func(Sample) {}
	}
	return &Monitor{interval: interval, onSample: onSample}
}

func (m *Monitor) Add(n int64) {
	m.counter.Add(n)
}

func (m *Monitor) Total() int64 {
	return m.counter.Load()
}

func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Start begins sampling. Calling Start on a running monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.loop(m.stopCh, m.doneCh)
}

// Stop halts future ticks and always emits one Final sample with the bytes
// counted since the last tick. It is safe to call on a monitor that was never
// started, or twice.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	<-m.doneCh
	m.emit(time.Now(), true)
}

func (m *Monitor) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			m.emit(now, false)
		}
	}
}

func (m *Monitor) emit(now time.Time, final bool) {
	current := m.counter.Load()
	delta := current - m.previous
	m.previous = current
	m.onSample(Sample{
		Delta: delta,
		Total: current,
		Rate:  float64(delta) / m.interval.Seconds(),
		At:    now,
		Final: final,
	})
}

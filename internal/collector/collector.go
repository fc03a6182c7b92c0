// Package collector aggregates samples and formats run results.
package collector

import (
	"sync"
	"time"

	"bsfsim/internal/core"
)

// Collector aggregates samples from the roles. Report never drops a sample;
// it blocks while the buffer is full.
type Collector struct {
	samples   []core.Sample
	ch        chan core.Sample
	done      chan struct{}
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
	closeOnce sync.Once
}

// NewCollector creates a new Collector and starts its collection goroutine.
func NewCollector() *Collector {
	c := &Collector{
		samples:   make([]core.Sample, 0),
		ch:        make(chan core.Sample, 256),
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	go c.collect()
	return c
}

func (c *Collector) collect() {
	for s := range c.ch {
		c.mu.Lock()
		c.samples = append(c.samples, s)
		c.mu.Unlock()
	}
	close(c.done)
}

// Report sends a sample to the collector. Thread-safe.
func (c *Collector) Report(s core.Sample) {
	c.ch <- s
}

// Close stops accepting samples and waits until all reported samples are stored.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.endTime = time.Now()
		c.mu.Unlock()
		close(c.ch)
		<-c.done
	})
}

// Samples returns a copy of collected samples.
func (c *Collector) Samples() []core.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]core.Sample, len(c.samples))
	copy(result, c.samples)
	return result
}

// Duration returns the collection duration.
// If the collector is closed, returns the duration from start to end.
// If still running, returns the duration from start to now.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.endTime.IsZero() {
		return c.endTime.Sub(c.startTime)
	}
	return time.Since(c.startTime)
}

// Compute returns metrics over the samples collected so far.
func (c *Collector) Compute() *Metrics {
	return ComputeMetrics(c.Samples(), c.Duration())
}

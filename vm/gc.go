package vm

import "sync"

// Collector is the contract this core requires from the tracing garbage
// collector. The core calls these hooks; it never traces by itself.
type Collector interface {
	// MarkAtomic marks an always-global thing (a symbol or atom) as used
	// by the zone that is currently handing it out.
	MarkAtomic(v Value)

	// WriteBarrier is invoked before a reference-typed slot, a wrapper's
	// target, or a cache edge is overwritten.
	WriteBarrier(prev, next Value)
}

// NopCollector ignores every hook.
type NopCollector struct{}

// MarkAtomic implements Collector.
func (NopCollector) MarkAtomic(Value) {}

// WriteBarrier implements Collector.
func (NopCollector) WriteBarrier(Value, Value) {}

// BarrierCall records one WriteBarrier invocation.
type BarrierCall struct {
	Prev, Next Value
}

// RecordingCollector records every hook invocation.
type RecordingCollector struct {
	mu       sync.Mutex
	marked   []Value
	barriers []BarrierCall
}

// NewRecordingCollector creates an empty RecordingCollector.
func NewRecordingCollector() *RecordingCollector {
	return &RecordingCollector{}
}

// MarkAtomic implements Collector.
func (c *RecordingCollector) MarkAtomic(v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marked = append(c.marked, v)
}

// WriteBarrier implements Collector.
func (c *RecordingCollector) WriteBarrier(prev, next Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.barriers = append(c.barriers, BarrierCall{Prev: prev, Next: next})
}

// Marked returns the values passed to MarkAtomic, in call order.
func (c *RecordingCollector) Marked() []Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Value, len(c.marked))
	copy(out, c.marked)
	return out
}

// Barriers returns the recorded WriteBarrier calls, in call order.
func (c *RecordingCollector) Barriers() []BarrierCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]BarrierCall, len(c.barriers))
	copy(out, c.barriers)
	return out
}

// Reset clears all recorded calls.
func (c *RecordingCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marked = nil
	c.barriers = nil
}

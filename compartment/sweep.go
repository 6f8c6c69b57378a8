package compartment

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/membrane/vm"
)

// ---------------------------------------------------------------------------
// Cache sweeping
// ---------------------------------------------------------------------------

// SweepStats holds statistics from a single sweep.
type SweepStats struct {
	Wrappers      int
	Strings       int
	BigInts       int
	Atoms         int
	TotalSwept    int
	SweepDuration time.Duration
	Timestamp     time.Time
}

// Liveness reports whether the collector still considers r reachable.
type Liveness func(r vm.Ref) bool

// Sweep removes cache entries whose key or value is no longer live, and
// atom roots for released symbols. A nil live uses the heap's own view.
// Sweep must run on the thread that owns the runtime's compartments, and
// before the collector recycles released handles.
func (rt *Runtime) Sweep(live Liveness) *SweepStats {
	if live == nil {
		live = rt.heap.IsLive
	}
	start := time.Now()
	stats := &SweepStats{Timestamp: start}

	for _, c := range rt.Compartments() {
		for _, e := range c.cache.wrappers(0, true) {
			if !live(e.Key) || !live(e.Wrapper) {
				c.cache.removeWrapper(e.Origin, e.Key)
				stats.Wrappers++
			}
		}
		for _, e := range c.cache.explicitWrappers(0, true) {
			if !live(e.Wrapper) {
				c.cache.removeExplicit(e.Origin, e.Wrapper)
				stats.Wrappers++
			}
		}
		stats.Strings += sweepCopies(c.cache, c.cache.strings, live)
		stats.BigInts += sweepCopies(c.cache, c.cache.bigints, live)
		for r := range c.atoms {
			if !live(r) {
				delete(c.atoms, r)
				stats.Atoms++
			}
		}
	}

	stats.TotalSwept = stats.Wrappers + stats.Strings + stats.BigInts + stats.Atoms
	stats.SweepDuration = time.Since(start)
	log.Debugf("sweep removed %d entries in %s", stats.TotalSwept, stats.SweepDuration)
	return stats
}

func sweepCopies(cache *crossCache, m map[vm.Ref]vm.Ref, live Liveness) int {
	n := 0
	for src, cp := range m {
		if !live(src) || !live(cp) {
			cache.removeCopy(m, src)
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Sweeper: periodic sweeps on the owning thread
// ---------------------------------------------------------------------------

// Executor runs fn on the thread that owns the runtime.
type Executor func(fn func())

// DefaultSweepInterval is the default interval between sweeps.
const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically sweeps a runtime's caches. Sweeps are handed to an
// Executor because caches are only touched by the owning thread.
type Sweeper struct {
	rt       *Runtime
	exec     Executor
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	sweepCount atomic.Uint64
	lastStats  atomic.Value // *SweepStats
}

// NewSweeper creates a sweeper for rt. A nil exec runs sweeps directly on
// the sweeper goroutine, which is only safe if nothing else uses rt.
func NewSweeper(rt *Runtime, interval time.Duration, exec Executor) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if exec == nil {
		exec = func(fn func()) { fn() }
	}
	s := &Sweeper{rt: rt, exec: exec, interval: interval}
	s.enabled.Store(true)
	return s
}

// Start begins the periodic sweep goroutine. Calling Start twice is safe.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.loop(s.stop, s.stopped)
}

// Stop halts the sweep goroutine and waits for it to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stopCh := s.stop
	stoppedCh := s.stopped
	s.stop = nil
	s.stopped = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled enables or disables sweeping.
func (s *Sweeper) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// Interval returns the sweep interval.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// SweepCount returns the number of sweeps performed.
func (s *Sweeper) SweepCount() uint64 { return s.sweepCount.Load() }

// LastStats returns the most recent sweep's statistics, or nil.
func (s *Sweeper) LastStats() *SweepStats {
	v := s.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*SweepStats)
}

// SweepNow performs an immediate sweep through the executor.
func (s *Sweeper) SweepNow() *SweepStats {
	var stats *SweepStats
	s.exec(func() { stats = s.rt.Sweep(nil) })
	if stats != nil {
		s.sweepCount.Add(1)
		s.lastStats.Store(stats)
	}
	return stats
}

func (s *Sweeper) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if s.enabled.Load() {
				s.SweepNow()
			}
		}
	}
}

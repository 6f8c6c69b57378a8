package compartment

import (
	"fmt"

	"github.com/chazu/membrane/vm"
)

// crossCache is a compartment's cross-compartment cache. Object wrappers
// are grouped by the compartment owning the wrapped object so nuking and
// sweeping can visit one origin without scanning the rest. String and
// bigint copies are keyed by the source handle.
//
// Keys are weak: entries are removed by sweep once the key or the value
// is no longer live, never kept alive by the cache itself.
//
// explicit tracks uncached wrappers built by NewWrapper, grouped by the
// compartment of their immediate target, so nuking reaches them too. It
// does not count against the limit.
type crossCache struct {
	limit int // zero = unbounded
	size  int

	objects  map[vm.CompartmentID]map[vm.Ref]vm.Ref
	strings  map[vm.Ref]vm.Ref
	bigints  map[vm.Ref]vm.Ref
	explicit map[vm.CompartmentID]map[vm.Ref]struct{}
}

func newCrossCache(limit int) *crossCache {
	return &crossCache{
		limit:   limit,
		objects:  make(map[vm.CompartmentID]map[vm.Ref]vm.Ref),
		strings:  make(map[vm.Ref]vm.Ref),
		bigints:  make(map[vm.Ref]vm.Ref),
		explicit: make(map[vm.CompartmentID]map[vm.Ref]struct{}),
	}
}

func (c *crossCache) reserve() error {
	if c.limit > 0 && c.size >= c.limit {
		return fmt.Errorf("cross-compartment cache full (%d entries): %w", c.limit, vm.ErrOutOfMemory)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Object wrappers
// ---------------------------------------------------------------------------

func (c *crossCache) lookupWrapper(origin vm.CompartmentID, key vm.Ref) (vm.Ref, bool) {
	m := c.objects[origin]
	if m == nil {
		return 0, false
	}
	w, ok := m[key]
	return w, ok
}

func (c *crossCache) putWrapper(origin vm.CompartmentID, key, wrapper vm.Ref) error {
	m := c.objects[origin]
	if _, exists := m[key]; !exists {
		if err := c.reserve(); err != nil {
			return err
		}
		c.size++
	}
	if m == nil {
		m = make(map[vm.Ref]vm.Ref)
		c.objects[origin] = m
	}
	m[key] = wrapper
	return nil
}

func (c *crossCache) removeWrapper(origin vm.CompartmentID, key vm.Ref) bool {
	m := c.objects[origin]
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	c.size--
	if len(m) == 0 {
		delete(c.objects, origin)
	}
	return true
}

// removeWrapperRef drops whichever entry maps to wrapper. Used when a
// wrapper is nuked by handle alone.
func (c *crossCache) removeWrapperRef(wrapper vm.Ref) bool {
	for origin, m := range c.objects {
		for key, w := range m {
			if w == wrapper {
				return c.removeWrapper(origin, key)
			}
		}
	}
	return false
}

// wrapperEntry is one object cache entry.
type wrapperEntry struct {
	Origin  vm.CompartmentID
	Key     vm.Ref
	Wrapper vm.Ref
}

// wrappers returns the object entries, optionally limited to one origin.
// The result is a copy, safe to iterate while removing entries.
func (c *crossCache) wrappers(origin vm.CompartmentID, all bool) []wrapperEntry {
	var out []wrapperEntry
	collect := func(o vm.CompartmentID, m map[vm.Ref]vm.Ref) {
		for k, w := range m {
			out = append(out, wrapperEntry{Origin: o, Key: k, Wrapper: w})
		}
	}
	if !all {
		collect(origin, c.objects[origin])
		return out
	}
	for o, m := range c.objects {
		collect(o, m)
	}
	return out
}

// wrapperCount returns the number of object wrapper entries.
func (c *crossCache) wrapperCount() int {
	n := 0
	for _, m := range c.objects {
		n += len(m)
	}
	return n
}

// ---------------------------------------------------------------------------
// Explicit wrappers
// ---------------------------------------------------------------------------

func (c *crossCache) putExplicit(origin vm.CompartmentID, wrapper vm.Ref) {
	m := c.explicit[origin]
	if m == nil {
		m = make(map[vm.Ref]struct{})
		c.explicit[origin] = m
	}
	m[wrapper] = struct{}{}
}

func (c *crossCache) removeExplicit(origin vm.CompartmentID, wrapper vm.Ref) {
	m := c.explicit[origin]
	if _, ok := m[wrapper]; !ok {
		return
	}
	delete(m, wrapper)
	if len(m) == 0 {
		delete(c.explicit, origin)
	}
}

// removeExplicitRef drops wrapper from whichever origin group holds it.
func (c *crossCache) removeExplicitRef(wrapper vm.Ref) {
	for origin, m := range c.explicit {
		if _, ok := m[wrapper]; ok {
			c.removeExplicit(origin, wrapper)
			return
		}
	}
}

// explicitWrappers returns the explicit wrappers, optionally limited to one
// origin, as a copy.
func (c *crossCache) explicitWrappers(origin vm.CompartmentID, all bool) []wrapperEntry {
	var out []wrapperEntry
	for o, m := range c.explicit {
		if !all && o != origin {
			continue
		}
		for w := range m {
			out = append(out, wrapperEntry{Origin: o, Wrapper: w})
		}
	}
	return out
}

func (c *crossCache) explicitCount() int {
	n := 0
	for _, m := range c.explicit {
		n += len(m)
	}
	return n
}

// ---------------------------------------------------------------------------
// String and bigint copies
// ---------------------------------------------------------------------------

func (c *crossCache) lookupCopy(m map[vm.Ref]vm.Ref, src vm.Ref) (vm.Ref, bool) {
	r, ok := m[src]
	return r, ok
}

func (c *crossCache) putCopy(m map[vm.Ref]vm.Ref, src, cp vm.Ref) error {
	if _, exists := m[src]; !exists {
		if err := c.reserve(); err != nil {
			return err
		}
		c.size++
	}
	m[src] = cp
	return nil
}

func (c *crossCache) removeCopy(m map[vm.Ref]vm.Ref, src vm.Ref) {
	if _, ok := m[src]; ok {
		delete(m, src)
		c.size--
	}
}

// clear drops every entry.
func (c *crossCache) clear() {
	c.objects = make(map[vm.CompartmentID]map[vm.Ref]vm.Ref)
	c.strings = make(map[vm.Ref]vm.Ref)
	c.bigints = make(map[vm.Ref]vm.Ref)
	c.explicit = make(map[vm.CompartmentID]map[vm.Ref]struct{})
	c.size = 0
}

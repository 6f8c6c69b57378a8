// Package compartment implements the cross-compartment membrane: isolated
// heaps of objects that reach each other only through wrappers, the
// policy-checked unwrapping used by native operations, and the nuking
// machinery that severs references when a compartment is torn down.
package compartment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/membrane/vm"
)

var log = commonlog.GetLogger("membrane.compartment")

// SharingPolicy decides whether a kind of immutable value is copied into
// the destination compartment or shared by reference.
type SharingPolicy uint8

const (
	// ShareCopy copies the value into the destination compartment and
	// caches the copy.
	ShareCopy SharingPolicy = iota
	// ShareAll passes the value through unchanged.
	ShareAll
)

func (p SharingPolicy) String() string {
	if p == ShareAll {
		return "share"
	}
	return "copy"
}

// ParseSharingPolicy parses "copy" or "share".
func ParseSharingPolicy(s string) (SharingPolicy, error) {
	switch s {
	case "", "copy":
		return ShareCopy, nil
	case "share":
		return ShareAll, nil
	}
	return ShareCopy, fmt.Errorf("compartment: unknown sharing policy %q", s)
}

// Options configures a Runtime.
type Options struct {
	// Strings and BigInts set how those values cross compartments.
	Strings SharingPolicy
	BigInts SharingPolicy

	// MaxThings bounds the shared heap. Zero means unbounded.
	MaxThings int

	// MaxCacheEntries bounds each compartment's cross-compartment cache.
	// Zero means unbounded.
	MaxCacheEntries int

	Collector vm.Collector
}

// Runtime owns the shared heap and the set of compartments. The registry
// is safe for concurrent use; each compartment's own state belongs to the
// thread currently running in it.
type Runtime struct {
	heap         *vm.Heap
	opts         Options
	wrapperClass *vm.Class

	mu           sync.RWMutex
	nextID       vm.CompartmentID
	compartments map[vm.CompartmentID]*Compartment
	byKey        map[uuid.UUID]*Compartment
}

// NewRuntime creates a runtime with an empty heap.
func NewRuntime(opts Options) *Runtime {
	rt := &Runtime{
		heap:         vm.NewHeap(vm.HeapOptions{MaxThings: opts.MaxThings, Collector: opts.Collector}),
		opts:         opts,
		nextID:       vm.AtomsCompartment + 1,
		compartments: make(map[vm.CompartmentID]*Compartment),
		byKey:        make(map[uuid.UUID]*Compartment),
	}
	rt.wrapperClass = newWrapperClass(rt)
	return rt
}

// Heap returns the shared heap.
func (rt *Runtime) Heap() *vm.Heap { return rt.heap }

// Options returns the runtime's options.
func (rt *Runtime) Options() Options { return rt.opts }

// WrapperClass returns the proxy class of this runtime's wrappers.
func (rt *Runtime) WrapperClass() *vm.Class { return rt.wrapperClass }

// collector returns the heap's collector.
func (rt *Runtime) collector() vm.Collector { return rt.heap.Collector() }

// CompartmentOptions describes a new compartment.
type CompartmentOptions struct {
	Name   string
	System bool

	// Policy defaults to PermissivePolicy.
	Policy SecurityPolicy

	// Key is the stable identity of the compartment. A zero key is
	// replaced by a random one.
	Key uuid.UUID
}

// NewCompartment registers a new compartment.
func (rt *Runtime) NewCompartment(o CompartmentOptions) (*Compartment, error) {
	if o.Policy == nil {
		o.Policy = PermissivePolicy{}
	}
	if o.Key == uuid.Nil {
		o.Key = uuid.New()
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, dup := rt.byKey[o.Key]; dup {
		return nil, fmt.Errorf("compartment: key %s already registered", o.Key)
	}
	id := rt.nextID
	rt.nextID++
	if o.Name == "" {
		o.Name = fmt.Sprintf("compartment-%d", id)
	}
	c := &Compartment{
		rt:     rt,
		id:     id,
		key:    o.Key,
		name:   o.Name,
		system: o.System,
		policy: o.Policy,
		cache:  newCrossCache(rt.opts.MaxCacheEntries),
		atoms:  make(map[vm.Ref]struct{}),
	}
	rt.compartments[id] = c
	rt.byKey[o.Key] = c
	log.Debugf("created compartment %s (id=%d system=%t)", c.name, id, c.system)
	return c, nil
}

// Compartment returns the compartment with the given id, or nil.
func (rt *Runtime) Compartment(id vm.CompartmentID) *Compartment {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.compartments[id]
}

// CompartmentByKey returns the compartment with the given key, or nil.
func (rt *Runtime) CompartmentByKey(key uuid.UUID) *Compartment {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.byKey[key]
}

// CompartmentByName returns the lowest-numbered compartment with the
// given name, or nil.
func (rt *Runtime) CompartmentByName(name string) *Compartment {
	for _, c := range rt.Compartments() {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Compartments returns the registered compartments in creation order.
func (rt *Runtime) Compartments() []*Compartment {
	rt.mu.RLock()
	out := make([]*Compartment, 0, len(rt.compartments))
	for _, c := range rt.compartments {
		out = append(out, c)
	}
	rt.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// OwnerOf returns the compartment owning the GC thing referenced by v.
// Atoms and symbols, and non-GC values, report nil.
func (rt *Runtime) OwnerOf(v vm.Value) *Compartment {
	id, ok := rt.heap.OwnerOf(v)
	if !ok || id == vm.AtomsCompartment {
		return nil
	}
	return rt.Compartment(id)
}

// NukeCompartment severs every wrapper into and out of c and prevents new
// ones from being made. c stays registered.
func (rt *Runtime) NukeCompartment(c *Compartment) int {
	return rt.nuke(AllCompartments(), c, NukeAllReferences)
}

// DestroyCompartment nukes c and removes it from the registry, releasing
// its cached copies. Objects it owns stay on the heap until the collector
// frees them.
func (rt *Runtime) DestroyCompartment(c *Compartment) {
	n := rt.NukeCompartment(c)
	c.cache.clear()
	c.atoms = make(map[vm.Ref]struct{})
	c.destroyed = true

	rt.mu.Lock()
	delete(rt.compartments, c.id)
	delete(rt.byKey, c.key)
	rt.mu.Unlock()
	log.Infof("destroyed compartment %s (%d wrappers severed)", c.name, n)
}

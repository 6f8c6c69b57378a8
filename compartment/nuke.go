package compartment

import "github.com/chazu/membrane/vm"

// ---------------------------------------------------------------------------
// Compartment filters
// ---------------------------------------------------------------------------

// CompartmentFilter selects the source compartments whose wrappers a nuke
// visits.
type CompartmentFilter interface {
	Match(c *Compartment) bool
}

// FilterFunc adapts a function to CompartmentFilter.
type FilterFunc func(c *Compartment) bool

// Match implements CompartmentFilter.
func (f FilterFunc) Match(c *Compartment) bool { return f(c) }

// AllCompartments matches every compartment.
func AllCompartments() CompartmentFilter {
	return FilterFunc(func(*Compartment) bool { return true })
}

// ContentCompartmentsOnly matches non-system compartments.
func ContentCompartmentsOnly() CompartmentFilter {
	return FilterFunc(func(c *Compartment) bool { return !c.IsSystem() })
}

// SystemCompartmentsOnly matches system compartments.
func SystemCompartmentsOnly() CompartmentFilter {
	return FilterFunc(func(c *Compartment) bool { return c.IsSystem() })
}

// SingleCompartment matches only c.
func SingleCompartment(c *Compartment) CompartmentFilter {
	return FilterFunc(func(o *Compartment) bool { return o == c })
}

// NukeReferences selects which references of the target are severed.
type NukeReferences uint8

const (
	// NukeIncomingReferences severs wrappers pointing into the target.
	// New wrappers may still be created afterwards.
	NukeIncomingReferences NukeReferences = iota
	// NukeAllReferences also severs the target's own outgoing wrappers
	// (when the target matches the filter) and forbids new wrappers into
	// the target from then on.
	NukeAllReferences
)

// ---------------------------------------------------------------------------
// Nuking
// ---------------------------------------------------------------------------

// NukeWrapper severs a single wrapper and removes its cache entry, so a
// later Wrap of the same object makes a fresh wrapper. Nuking a dead
// wrapper does nothing. obj must be a wrapper.
func NukeWrapper(rt *Runtime, w *vm.Object) {
	if !IsWrapper(w) {
		vm.Violate("NukeWrapper", "%s is not a wrapper", w.ClassName())
	}
	if IsDeadWrapper(w) {
		return
	}
	if owner := rt.Compartment(w.Compartment()); owner != nil {
		if target := wrapperTarget(w); target != nil {
			if r, ok := owner.cache.lookupWrapper(target.Compartment(), target.Ref()); ok && r == w.Ref() {
				owner.cache.removeWrapper(target.Compartment(), target.Ref())
			}
			owner.cache.removeExplicit(target.Compartment(), w.Ref())
		} else {
			owner.cache.removeWrapperRef(w.Ref())
			owner.cache.removeExplicitRef(w.Ref())
		}
	}
	sever(w)
}

// NewDeadWrapper allocates a dead wrapper in the current compartment.
func NewDeadWrapper(cx *Context) (*vm.Object, error) {
	return cx.Compartment().NewDeadWrapper()
}

// NukeCrossCompartmentWrappers severs wrappers held by compartments
// matching filter that point into target, and returns how many were
// severed.
func NukeCrossCompartmentWrappers(cx *Context, filter CompartmentFilter, target *Compartment, which NukeReferences) int {
	return cx.rt.nuke(filter, target, which)
}

func (rt *Runtime) nuke(filter CompartmentFilter, target *Compartment, which NukeReferences) int {
	if which == NukeAllReferences {
		target.nukedIncoming = true
	}

	n := 0
	for _, c := range rt.Compartments() {
		if !filter.Match(c) {
			continue
		}
		nukeAll := which == NukeAllReferences && c == target
		if nukeAll {
			c.nukedOutgoing = true
		}
		for _, e := range c.cache.wrappers(target.id, nukeAll) {
			w := rt.heap.Object(e.Wrapper)
			c.cache.removeWrapper(e.Origin, e.Key)
			if w == nil || !IsWrapper(w) {
				continue
			}
			sever(w)
			n++
		}
		for _, e := range c.cache.explicitWrappers(target.id, nukeAll) {
			w := rt.heap.Object(e.Wrapper)
			c.cache.removeExplicit(e.Origin, e.Wrapper)
			if w == nil || !IsWrapper(w) || IsDeadWrapper(w) {
				continue
			}
			sever(w)
			n++
		}
	}
	log.Infof("nuked %d wrappers into %s (%s)", n, target.name, which)
	return n
}

func (w NukeReferences) String() string {
	if w == NukeAllReferences {
		return "all references"
	}
	return "incoming references"
}

// NukedObjectCompartment returns true if obj's compartment has nuked its
// incoming wrappers, so no new wrapper for obj can be made.
func NukedObjectCompartment(rt *Runtime, obj *vm.Object) bool {
	c := rt.Compartment(obj.Compartment())
	return c != nil && c.nukedIncoming
}

package compartment

import (
	"github.com/google/uuid"

	"github.com/chazu/membrane/vm"
)

// Compartment is an isolation domain. Every object belongs to exactly one
// compartment, and objects of different compartments only reference each
// other through wrappers owned by the referring side.
type Compartment struct {
	rt     *Runtime
	id     vm.CompartmentID
	key    uuid.UUID
	name   string
	system bool
	policy SecurityPolicy

	cache *crossCache

	// atoms are symbols this compartment has handed out. They are roots
	// for the collector's per-zone atom marking.
	atoms map[vm.Ref]struct{}

	// nukedIncoming forbids new wrappers for this compartment's objects;
	// nukedOutgoing forbids new wrappers owned by this compartment.
	nukedIncoming bool
	nukedOutgoing bool
	destroyed     bool
}

// ID returns the compartment's identity on the heap.
func (c *Compartment) ID() vm.CompartmentID { return c.id }

// Key returns the compartment's stable key.
func (c *Compartment) Key() uuid.UUID { return c.key }

// Name returns the compartment's name.
func (c *Compartment) Name() string { return c.name }

// IsSystem returns true for privileged compartments.
func (c *Compartment) IsSystem() bool { return c.system }

// Policy returns the compartment's security policy.
func (c *Compartment) Policy() SecurityPolicy { return c.policy }

// Runtime returns the owning runtime.
func (c *Compartment) Runtime() *Runtime { return c.rt }

// NukedIncoming returns true once wrappers for this compartment's objects
// can no longer be created.
func (c *Compartment) NukedIncoming() bool { return c.nukedIncoming }

// NukedOutgoing returns true once this compartment can no longer create
// wrappers.
func (c *Compartment) NukedOutgoing() bool { return c.nukedOutgoing }

// Destroyed returns true after DestroyCompartment.
func (c *Compartment) Destroyed() bool { return c.destroyed }

func (c *Compartment) String() string { return c.name }

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// NewObject allocates an object of cls owned by c. Wrappers are only made
// by Wrap; passing a proxy class is a contract violation.
func (c *Compartment) NewObject(cls *vm.Class) (*vm.Object, error) {
	if cls.IsProxy() {
		vm.Violate("Compartment.NewObject", "wrappers of class %s are created by Wrap", cls.Name)
	}
	return c.rt.heap.NewObject(cls, c.id)
}

// NewString allocates a string owned by c.
func (c *Compartment) NewString(s string) (vm.Value, error) {
	return c.rt.heap.NewString(s, c.id)
}

// NewFunction allocates a native function owned by c.
func (c *Compartment) NewFunction(fn vm.NativeFunc) (*vm.Object, error) {
	return c.rt.heap.NewFunction(fn, c.id)
}

// Owns returns true if v is a GC thing owned by c.
func (c *Compartment) Owns(v vm.Value) bool {
	id, ok := c.rt.heap.OwnerOf(v)
	return ok && id == c.id
}

// MarkedAtoms returns the symbols c has handed out.
func (c *Compartment) MarkedAtoms() []vm.Value {
	out := make([]vm.Value, 0, len(c.atoms))
	for r := range c.atoms {
		out = append(out, vm.FromSymbolRef(r))
	}
	return out
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats describes a compartment for inspection.
type Stats struct {
	ID            vm.CompartmentID
	Key           uuid.UUID
	Name          string
	System        bool
	Wrappers      int
	Explicit      int
	Strings       int
	BigInts       int
	Atoms         int
	NukedIncoming bool
	NukedOutgoing bool
}

// Stats returns a snapshot of the compartment's bookkeeping.
func (c *Compartment) Stats() Stats {
	return Stats{
		ID:            c.id,
		Key:           c.key,
		Name:          c.name,
		System:        c.system,
		Wrappers:      c.cache.wrapperCount(),
		Explicit:      c.cache.explicitCount(),
		Strings:       len(c.cache.strings),
		BigInts:       len(c.cache.bigints),
		Atoms:         len(c.atoms),
		NukedIncoming: c.nukedIncoming,
		NukedOutgoing: c.nukedOutgoing,
	}
}

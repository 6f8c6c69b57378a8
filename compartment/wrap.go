package compartment

import (
	"fmt"

	"github.com/chazu/membrane/vm"
)

// Wrap makes v usable from code running in c.
//
// Non-GC values pass through. Symbols are global; they pass through and
// are marked as used by c. Strings and bigints are copied into c or
// shared, per the runtime's sharing policy. Objects owned by c (including
// wrappers c owns) pass through; foreign objects are replaced by c's
// wrapper for their canonical object, created on first use and cached.
//
// On failure nothing is left behind: no cache entry and no half-built
// wrapper.
func (c *Compartment) Wrap(v vm.Value) (vm.Value, error) {
	switch v.Tag() {
	case vm.TagSymbol:
		c.markAtom(v)
		return v, nil
	case vm.TagString:
		return c.wrapString(v)
	case vm.TagBigInt:
		return c.wrapBigInt(v)
	case vm.TagObject:
		obj := c.rt.heap.MustObject(v)
		w, err := c.WrapObject(obj)
		if err != nil {
			return vm.Undefined, err
		}
		return w.Value(), nil
	}
	return v, nil
}

// WrapValues wraps each value of vs into c, returning a new slice.
func (c *Compartment) WrapValues(vs []vm.Value) ([]vm.Value, error) {
	out := make([]vm.Value, len(vs))
	for i, v := range vs {
		w, err := c.Wrap(v)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func (c *Compartment) markAtom(v vm.Value) {
	r := v.SymbolRef()
	if _, ok := c.atoms[r]; !ok {
		c.atoms[r] = struct{}{}
	}
	c.rt.collector().MarkAtomic(v)
}

// ---------------------------------------------------------------------------
// Strings and bigints
// ---------------------------------------------------------------------------

func (c *Compartment) wrapString(v vm.Value) (vm.Value, error) {
	h := c.rt.heap
	src := v.StringRef()
	s := h.StringAt(src)
	if s == nil {
		vm.Violate("Compartment.Wrap", "%s does not reference a live string", v)
	}
	if s.Atom || s.Compartment == c.id || c.rt.opts.Strings == ShareAll {
		return v, nil
	}
	if cp, ok := c.cache.lookupCopy(c.cache.strings, src); ok && h.IsLive(cp) {
		return vm.FromStringRef(cp), nil
	}
	cp, err := h.NewString(s.Data, c.id)
	if err != nil {
		log.Warningf("%s: string copy failed: %s", c.name, err)
		return vm.Undefined, err
	}
	if err := c.cache.putCopy(c.cache.strings, src, cp.StringRef()); err != nil {
		h.Release(cp.StringRef())
		log.Warningf("%s: %s", c.name, err)
		return vm.Undefined, err
	}
	return cp, nil
}

func (c *Compartment) wrapBigInt(v vm.Value) (vm.Value, error) {
	h := c.rt.heap
	src := v.BigIntRef()
	b := h.BigIntAt(src)
	if b == nil {
		vm.Violate("Compartment.Wrap", "%s does not reference a live bigint", v)
	}
	if b.Compartment == c.id || c.rt.opts.BigInts == ShareAll {
		return v, nil
	}
	if cp, ok := c.cache.lookupCopy(c.cache.bigints, src); ok && h.IsLive(cp) {
		return vm.FromBigIntRef(cp), nil
	}
	cp, err := h.NewBigInt(b.N, c.id)
	if err != nil {
		log.Warningf("%s: bigint copy failed: %s", c.name, err)
		return vm.Undefined, err
	}
	if err := c.cache.putCopy(c.cache.bigints, src, cp.BigIntRef()); err != nil {
		h.Release(cp.BigIntRef())
		log.Warningf("%s: %s", c.name, err)
		return vm.Undefined, err
	}
	return cp, nil
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

// WrapObject returns obj if c owns it, otherwise c's wrapper for obj's
// canonical object. A dead input, or a nuked source or destination,
// yields a fresh dead wrapper.
func (c *Compartment) WrapObject(obj *vm.Object) (*vm.Object, error) {
	if obj.Compartment() == c.id {
		return obj, nil
	}

	// Fast path: obj is already canonical and cached.
	if w := c.cachedWrapper(obj.Compartment(), obj); w != nil {
		return w, nil
	}

	canonical := UncheckedUnwrap(obj)
	if IsDeadWrapper(canonical) {
		return c.NewDeadWrapper()
	}
	if canonical.Compartment() == c.id {
		return canonical, nil
	}
	if w := c.cachedWrapper(canonical.Compartment(), canonical); w != nil {
		return w, nil
	}

	if !AllowNewWrapper(c, canonical) {
		return c.NewDeadWrapper()
	}
	origin := c.rt.Compartment(canonical.Compartment())
	if origin == nil {
		return c.NewDeadWrapper()
	}

	kind := c.policy.WrapperKind(origin, c, canonical)
	w, err := c.newWrapper(canonical, kind)
	if err != nil {
		log.Warningf("%s: wrapper allocation failed: %s", c.name, err)
		return nil, err
	}
	if err := c.cache.putWrapper(origin.id, canonical.Ref(), w.Ref()); err != nil {
		c.rt.heap.Release(w.Ref())
		log.Warningf("%s: %s", c.name, err)
		return nil, err
	}
	c.rt.collector().WriteBarrier(vm.Undefined, w.Value())
	return w, nil
}

// cachedWrapper returns the cached wrapper for key, discarding entries
// whose handles no longer name the same pair.
func (c *Compartment) cachedWrapper(origin vm.CompartmentID, key *vm.Object) *vm.Object {
	r, ok := c.cache.lookupWrapper(origin, key.Ref())
	if !ok {
		return nil
	}
	w := c.rt.heap.Object(r)
	if w == nil || !IsWrapper(w) || wrapperTarget(w) != key {
		c.cache.removeWrapper(origin, key.Ref())
		return nil
	}
	return w
}

func (c *Compartment) newWrapper(target *vm.Object, kind WrapperKind) (*vm.Object, error) {
	w, err := c.rt.heap.NewObject(c.rt.wrapperClass, c.id)
	if err != nil {
		return nil, fmt.Errorf("wrap %s into %s: %w", target.ClassName(), c.name, err)
	}
	w.SetSlot(wrapperKindSlot, vm.FromInt32(int32(kind)))
	w.SetSlot(wrapperTargetSlot, target.Value())
	return w, nil
}

// NewDeadWrapper allocates a dead wrapper owned by c. Dead wrappers are
// never cached.
func (c *Compartment) NewDeadWrapper() (*vm.Object, error) {
	w, err := c.rt.heap.NewObject(c.rt.wrapperClass, c.id)
	if err != nil {
		return nil, fmt.Errorf("dead wrapper in %s: %w", c.name, err)
	}
	w.SetSlot(wrapperKindSlot, vm.FromInt32(int32(WrapperDead)))
	return w, nil
}

// AllowNewWrapper reports whether a wrapper for obj may be created in
// target. It is false once target has nuked its outgoing wrappers or
// obj's compartment has nuked its incoming ones.
func AllowNewWrapper(target *Compartment, obj *vm.Object) bool {
	if target.nukedOutgoing {
		return false
	}
	origin := target.rt.Compartment(obj.Compartment())
	return origin == nil || !origin.nukedIncoming
}

// NewWrapper builds an uncached wrapper owned by owner around target,
// which may itself be a wrapper. Wrap never produces chains; this is the
// constructor for embeddings that nest domains explicitly. The wrapper is
// tracked by target's compartment, so nuking that compartment severs it.
func NewWrapper(owner *Compartment, target *vm.Object, kind WrapperKind) (*vm.Object, error) {
	if target.Compartment() == owner.id {
		vm.Violate("NewWrapper", "target %s is already owned by %s", target.ClassName(), owner.name)
	}
	if kind == WrapperDead || !AllowNewWrapper(owner, target) || owner.rt.Compartment(target.Compartment()) == nil {
		return owner.NewDeadWrapper()
	}
	w, err := owner.newWrapper(target, kind)
	if err != nil {
		return nil, err
	}
	owner.cache.putExplicit(target.Compartment(), w.Ref())
	owner.rt.collector().WriteBarrier(vm.Undefined, w.Value())
	return w, nil
}

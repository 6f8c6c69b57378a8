package vm

import (
	"fmt"
	"math/big"
	"sync"
)

// ---------------------------------------------------------------------------
// Heap: arena of GC things addressed by stable Ref handles
// ---------------------------------------------------------------------------

// String is an immutable heap string.
type String struct {
	Data        string
	Compartment CompartmentID
	Atom        bool
}

// BigInt is an immutable arbitrary-precision integer.
type BigInt struct {
	N           *big.Int
	Compartment CompartmentID
}

// Symbol is an always-global identity. Symbols live in the atoms
// compartment and are never copied between compartments.
type Symbol struct {
	Description string
}

// NativeFunc implements a FunctionClass object.
type NativeFunc func(h *Heap, this Value, args []Value) (Value, error)

type cellKind uint8

const (
	cellFree cellKind = iota
	cellObject
	cellString
	cellBigInt
	cellSymbol
)

type heapCell struct {
	kind cellKind
	obj  *Object
	str  *String
	big  *BigInt
	sym  *Symbol
}

// HeapOptions configures a Heap.
type HeapOptions struct {
	// MaxThings bounds the number of live GC things. Zero means unbounded.
	MaxThings int
	Collector Collector
}

// Heap owns every GC thing in a runtime. Compartments share it; access is
// guarded because different compartments may be owned by different
// threads. Liveness is decided by the external collector, which calls
// Release for things it has proven dead.
type Heap struct {
	mu        sync.RWMutex
	cells     []heapCell
	free      []Ref
	live      int
	limit     int
	collector Collector

	atoms   map[string]Ref
	natives []NativeFunc
}

// NewHeap creates an empty heap.
func NewHeap(opts HeapOptions) *Heap {
	c := opts.Collector
	if c == nil {
		c = NopCollector{}
	}
	return &Heap{
		// Ref 0 is never allocated.
		cells:     make([]heapCell, 1, 64),
		limit:     opts.MaxThings,
		collector: c,
		atoms:     make(map[string]Ref),
	}
}

// Collector returns the heap's collector.
func (h *Heap) Collector() Collector { return h.collector }

// allocLocked reserves a handle. Caller holds h.mu.
func (h *Heap) allocLocked(cell heapCell) (Ref, error) {
	if h.limit > 0 && h.live >= h.limit {
		return 0, ErrOutOfMemory
	}
	var r Ref
	if n := len(h.free); n > 0 {
		r = h.free[n-1]
		h.free = h.free[:n-1]
		h.cells[r] = cell
	} else {
		r = Ref(len(h.cells))
		h.cells = append(h.cells, cell)
	}
	h.live++
	return r, nil
}

// NewObject allocates an object of cls owned by comp.
func (h *Heap) NewObject(cls *Class, comp CompartmentID) (*Object, error) {
	obj := newObject(h, cls, comp)
	h.mu.Lock()
	defer h.mu.Unlock()
	r, err := h.allocLocked(heapCell{kind: cellObject, obj: obj})
	if err != nil {
		return nil, fmt.Errorf("vm: allocate %s: %w", cls.Name, err)
	}
	obj.ref = r
	return obj, nil
}

// NewString allocates a string owned by comp.
func (h *Heap) NewString(s string, comp CompartmentID) (Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, err := h.allocLocked(heapCell{kind: cellString, str: &String{Data: s, Compartment: comp}})
	if err != nil {
		return Undefined, fmt.Errorf("vm: allocate string: %w", err)
	}
	return FromStringRef(r), nil
}

// Atomize returns the shared atom for s, allocating it on first use.
// Atoms belong to the atoms compartment and are never copied.
func (h *Heap) Atomize(s string) (Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.atoms[s]; ok {
		return FromStringRef(r), nil
	}
	r, err := h.allocLocked(heapCell{kind: cellString, str: &String{Data: s, Compartment: AtomsCompartment, Atom: true}})
	if err != nil {
		return Undefined, fmt.Errorf("vm: atomize: %w", err)
	}
	h.atoms[s] = r
	return FromStringRef(r), nil
}

// NewBigInt allocates a bigint owned by comp. n is copied.
func (h *Heap) NewBigInt(n *big.Int, comp CompartmentID) (Value, error) {
	cp := new(big.Int).Set(n)
	h.mu.Lock()
	defer h.mu.Unlock()
	r, err := h.allocLocked(heapCell{kind: cellBigInt, big: &BigInt{N: cp, Compartment: comp}})
	if err != nil {
		return Undefined, fmt.Errorf("vm: allocate bigint: %w", err)
	}
	return FromBigIntRef(r), nil
}

// NewSymbol allocates a fresh symbol in the atoms compartment.
func (h *Heap) NewSymbol(description string) (Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, err := h.allocLocked(heapCell{kind: cellSymbol, sym: &Symbol{Description: description}})
	if err != nil {
		return Undefined, fmt.Errorf("vm: allocate symbol: %w", err)
	}
	return FromSymbolRef(r), nil
}

// NewFunction allocates a callable object backed by fn.
func (h *Heap) NewFunction(fn NativeFunc, comp CompartmentID) (*Object, error) {
	obj, err := h.NewObject(FunctionClass, comp)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	idx := len(h.natives)
	h.natives = append(h.natives, fn)
	h.mu.Unlock()
	obj.fixed[FunctionNativeSlot] = FromInt32(int32(idx))
	return obj, nil
}

// Native returns the implementation behind a FunctionClass object.
func (h *Heap) Native(fn *Object) NativeFunc {
	if !fn.Is(FunctionClass) {
		return nil
	}
	idx := int(fn.GetSlot(FunctionNativeSlot).Int32())
	h.mu.RLock()
	defer h.mu.RUnlock()
	if idx < 0 || idx >= len(h.natives) {
		return nil
	}
	return h.natives[idx]
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

func (h *Heap) cell(r Ref) heapCell {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if int(r) >= len(h.cells) {
		return heapCell{}
	}
	return h.cells[r]
}

// Object returns the object for r, or nil if r is not a live object.
func (h *Heap) Object(r Ref) *Object {
	c := h.cell(r)
	if c.kind != cellObject {
		return nil
	}
	return c.obj
}

// ObjectOf returns the object referenced by v, or nil if v is not an
// object value.
func (h *Heap) ObjectOf(v Value) *Object {
	if !v.IsObject() {
		return nil
	}
	return h.Object(v.ref())
}

// MustObject returns the object referenced by v. A tagged object value
// whose handle does not resolve is a contract violation.
func (h *Heap) MustObject(v Value) *Object {
	obj := h.ObjectOf(v)
	if obj == nil {
		Violate("Heap.MustObject", "%s does not reference a live object", v)
	}
	return obj
}

// StringAt returns the string for r, or nil.
func (h *Heap) StringAt(r Ref) *String {
	c := h.cell(r)
	if c.kind != cellString {
		return nil
	}
	return c.str
}

// StringOf returns the Go string referenced by v.
func (h *Heap) StringOf(v Value) (string, bool) {
	if !v.IsString() {
		return "", false
	}
	s := h.StringAt(v.ref())
	if s == nil {
		return "", false
	}
	return s.Data, true
}

// BigIntAt returns the bigint for r, or nil.
func (h *Heap) BigIntAt(r Ref) *BigInt {
	c := h.cell(r)
	if c.kind != cellBigInt {
		return nil
	}
	return c.big
}

// SymbolAt returns the symbol for r, or nil.
func (h *Heap) SymbolAt(r Ref) *Symbol {
	c := h.cell(r)
	if c.kind != cellSymbol {
		return nil
	}
	return c.sym
}

// OwnerOf returns the compartment owning the GC thing referenced by v.
// Symbols and atoms report AtomsCompartment.
func (h *Heap) OwnerOf(v Value) (CompartmentID, bool) {
	r, ok := v.GCRef()
	if !ok {
		return 0, false
	}
	c := h.cell(r)
	switch c.kind {
	case cellObject:
		return c.obj.compartment, true
	case cellString:
		return c.str.Compartment, true
	case cellBigInt:
		return c.big.Compartment, true
	case cellSymbol:
		return AtomsCompartment, true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Liveness
// ---------------------------------------------------------------------------

// IsLive returns true if r currently names a GC thing.
func (h *Heap) IsLive(r Ref) bool {
	return h.cell(r).kind != cellFree
}

// Release frees r. Called by the collector once r is unreachable.
// Atoms are removed from the atom table.
func (h *Heap) Release(r Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r == 0 || int(r) >= len(h.cells) || h.cells[r].kind == cellFree {
		return
	}
	if c := h.cells[r]; c.kind == cellString && c.str.Atom {
		delete(h.atoms, c.str.Data)
	}
	h.cells[r] = heapCell{}
	h.free = append(h.free, r)
	h.live--
}

// Live returns the number of live GC things.
func (h *Heap) Live() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.live
}

func init() {
	FunctionClass.Ops = &ClassOps{Call: callNative}
}

func callNative(h *Heap, callee *Object, this Value, args []Value) (Value, error) {
	fn := h.Native(callee)
	if fn == nil {
		return Undefined, fmt.Errorf("vm: %s has no native implementation", callee.ClassName())
	}
	return fn(h, this, args)
}

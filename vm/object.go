package vm

import "fmt"

// CompartmentID identifies the compartment that owns an object for
// identity purposes. Zero is the shared atoms compartment.
type CompartmentID uint32

// AtomsCompartment owns atoms (symbols, atomized strings).
const AtomsCompartment CompartmentID = 0

// MaxFixedSlots is the number of slots stored inline in an Object.
const MaxFixedSlots = 4

// Object is a heap-allocated engine object.
//
// Slot layout: the first FixedSlots() slots live in the inline array,
// slot i >= FixedSlots() lives at overflow[i-FixedSlots()]. Reserved
// slots of the class come first, then named slots in shape order.
type Object struct {
	ref         Ref
	class       *Class
	shape       *Shape
	compartment CompartmentID
	heap        *Heap

	fixed    [MaxFixedSlots]Value
	overflow []Value
}

// newObject builds an object with all slots Undefined. Called by the heap.
func newObject(h *Heap, cls *Class, comp CompartmentID) *Object {
	obj := &Object{
		class:       cls,
		shape:       NewShape(cls.FixedSlots),
		compartment: comp,
		heap:        h,
	}
	for i := range obj.fixed {
		obj.fixed[i] = Undefined
	}
	for i := 0; i < cls.ReservedSlots; i++ {
		obj.growFor(obj.shape.appendSlot(""))
	}
	return obj
}

// growFor makes room in overflow for slot index i.
func (obj *Object) growFor(i int) {
	if i < obj.shape.fixed {
		return
	}
	for len(obj.overflow) <= i-obj.shape.fixed {
		obj.overflow = append(obj.overflow, Undefined)
	}
}

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// Ref returns the object's heap handle.
func (obj *Object) Ref() Ref { return obj.ref }

// Value returns the object as a tagged Value.
func (obj *Object) Value() Value { return FromObjectRef(obj.ref) }

// Class returns the object's class.
func (obj *Object) Class() *Class { return obj.class }

// Is returns true if the object's class is cls.
func (obj *Object) Is(cls *Class) bool { return obj.class == cls }

// IsProxy returns true if the object is a wrapper.
func (obj *Object) IsProxy() bool { return obj.class.IsProxy() }

// Shape returns the object's shape.
func (obj *Object) Shape() *Shape { return obj.shape }

// Compartment returns the owning compartment.
func (obj *Object) Compartment() CompartmentID { return obj.compartment }

// Heap returns the heap the object was allocated in.
func (obj *Object) Heap() *Heap { return obj.heap }

// ClassName returns the name of the object's class.
func (obj *Object) ClassName() string {
	if obj.class == nil {
		return "?"
	}
	return obj.class.Name
}

// ---------------------------------------------------------------------------
// Slot access
// ---------------------------------------------------------------------------

// FixedSlots returns the inline slot count.
func (obj *Object) FixedSlots() int { return obj.shape.fixed }

// SlotCount returns the total number of slots.
func (obj *Object) SlotCount() int { return obj.shape.SlotCount() }

func (obj *Object) checkIndex(index int, op string) {
	if index < 0 || index >= obj.shape.SlotCount() {
		panic(fmt.Sprintf("Object.%s: slot %d out of range (%d slots)", op, index, obj.shape.SlotCount()))
	}
}

// GetSlot returns the value at the given slot index.
// Panics if index is out of range.
func (obj *Object) GetSlot(index int) Value {
	obj.checkIndex(index, "GetSlot")
	if index < obj.shape.fixed {
		return obj.fixed[index]
	}
	return obj.overflow[index-obj.shape.fixed]
}

// SetSlot sets the value at the given slot index, invoking the collector's
// write barrier when a reference is overwritten or stored.
// Panics if index is out of range.
func (obj *Object) SetSlot(index int, value Value) {
	obj.checkIndex(index, "SetSlot")
	var p *Value
	if index < obj.shape.fixed {
		p = &obj.fixed[index]
	} else {
		p = &obj.overflow[index-obj.shape.fixed]
	}
	prev := *p
	if obj.heap != nil && (prev.IsGCThing() || value.IsGCThing()) {
		obj.heap.collector.WriteBarrier(prev, value)
	}
	*p = value
}

// SlotAddress returns the storage location of a slot, for memory operands.
// Panics if index is out of range.
func (obj *Object) SlotAddress(index int) *Value {
	obj.checkIndex(index, "SlotAddress")
	if index < obj.shape.fixed {
		return &obj.fixed[index]
	}
	return &obj.overflow[index-obj.shape.fixed]
}

// AddSlot appends a named slot initialized to v and returns its index.
// If the name already exists its slot is overwritten instead.
func (obj *Object) AddSlot(name string, v Value) int {
	if i, ok := obj.shape.Lookup(name); ok {
		obj.SetSlot(i, v)
		return i
	}
	i := obj.shape.appendSlot(name)
	obj.growFor(i)
	obj.SetSlot(i, v)
	return i
}

// Get reads a named slot. Missing names read as Undefined.
func (obj *Object) Get(name string) Value {
	if i, ok := obj.shape.Lookup(name); ok {
		return obj.GetSlot(i)
	}
	return Undefined
}

// Set writes a named slot, adding it if missing.
func (obj *Object) Set(name string, v Value) {
	obj.AddSlot(name, v)
}

// Has returns true if the object has a slot with that name.
func (obj *Object) Has(name string) bool {
	_, ok := obj.shape.Lookup(name)
	return ok
}

// ForEachSlot calls fn for each slot in index order.
func (obj *Object) ForEachSlot(fn func(index int, value Value)) {
	n := obj.shape.SlotCount()
	for i := 0; i < n; i++ {
		fn(i, obj.GetSlot(i))
	}
}

// AllSlots returns all slot values as a slice.
// This allocates; use ForEachSlot for allocation-free iteration.
func (obj *Object) AllSlots() []Value {
	slots := make([]Value, 0, obj.shape.SlotCount())
	obj.ForEachSlot(func(_ int, v Value) { slots = append(slots, v) })
	return slots
}

// ---------------------------------------------------------------------------
// Class ops dispatch
// ---------------------------------------------------------------------------

// GetProperty dispatches through the class ops table, falling back to a
// named-slot read.
func (obj *Object) GetProperty(name string) (Value, error) {
	if ops := obj.class.Ops; ops != nil && ops.GetProperty != nil {
		return ops.GetProperty(obj.heap, obj, name)
	}
	return obj.Get(name), nil
}

// SetProperty dispatches through the class ops table, falling back to a
// named-slot write.
func (obj *Object) SetProperty(name string, v Value) error {
	if ops := obj.class.Ops; ops != nil && ops.SetProperty != nil {
		return ops.SetProperty(obj.heap, obj, name, v)
	}
	obj.Set(name, v)
	return nil
}

// Call dispatches through the class ops table.
func (obj *Object) Call(this Value, args []Value) (Value, error) {
	if !obj.class.Callable() {
		return Undefined, fmt.Errorf("vm: %s is not callable", obj.ClassName())
	}
	return obj.class.Ops.Call(obj.heap, obj, this, args)
}

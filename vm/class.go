package vm

import "fmt"

// Kind is the closed enumeration of object kinds. Dispatch on kind goes
// through the per-class ClassOps table; a new kind is a new variant with
// its own table.
type Kind uint8

const (
	KindPlain Kind = iota
	KindArray
	KindFunction
	KindError
	KindMap
	KindPromise
	KindArrayBuffer
	// KindProxy marks wrappers. Only proxies can carry a foreign security
	// boundary; canonical objects never do.
	KindProxy
)

var kindNames = [...]string{
	KindPlain:       "Object",
	KindArray:       "Array",
	KindFunction:    "Function",
	KindError:       "Error",
	KindMap:         "Map",
	KindPromise:     "Promise",
	KindArrayBuffer: "ArrayBuffer",
	KindProxy:       "Proxy",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// PropertyOp reads a named property. The receiver is the object the
// operation was invoked on.
type PropertyOp func(h *Heap, obj *Object, name string) (Value, error)

// SetPropertyOp writes a named property.
type SetPropertyOp func(h *Heap, obj *Object, name string, v Value) error

// CallOp invokes a callable object.
type CallOp func(h *Heap, callee *Object, this Value, args []Value) (Value, error)

// ClassOps is the capability table for a class. Nil entries fall back to
// the default slot-based behavior (or "not callable" for Call).
type ClassOps struct {
	GetProperty PropertyOp
	SetProperty SetPropertyOp
	Call        CallOp
}

// Class describes a family of objects. Name, kind and the reserved
// fixed-slot count never change after construction.
type Class struct {
	Name string
	Kind Kind

	// ReservedSlots are fixed slots the class uses internally before any
	// named slot (a wrapper's target, an error's message, ...).
	ReservedSlots int

	// FixedSlots is the inline capacity for objects of this class,
	// clamped to MaxFixedSlots.
	FixedSlots int

	Ops *ClassOps
}

// NewClass creates a class with the given kind and inline capacity.
func NewClass(name string, kind Kind, fixedSlots int) *Class {
	if fixedSlots > MaxFixedSlots {
		fixedSlots = MaxFixedSlots
	}
	if fixedSlots < 0 {
		fixedSlots = 0
	}
	return &Class{Name: name, Kind: kind, FixedSlots: fixedSlots}
}

// IsProxy returns true if objects of this class are wrappers.
func (c *Class) IsProxy() bool { return c != nil && c.Kind == KindProxy }

// Callable returns true if the class provides a Call op.
func (c *Class) Callable() bool { return c != nil && c.Ops != nil && c.Ops.Call != nil }

// Built-in classes shared by every runtime.
var (
	PlainClass    = NewClass("Object", KindPlain, MaxFixedSlots)
	ArrayClass    = NewClass("Array", KindArray, MaxFixedSlots)
	MapClass      = NewClass("Map", KindMap, MaxFixedSlots)
	PromiseClass  = NewClass("Promise", KindPromise, 2)
	BufferClass   = NewClass("ArrayBuffer", KindArrayBuffer, 2)
	FunctionClass = &Class{Name: "Function", Kind: KindFunction, FixedSlots: 2, ReservedSlots: 1}

	// ErrorClass objects hold their error name and message in reserved
	// slots 0 and 1.
	ErrorClass = &Class{Name: "Error", Kind: KindError, FixedSlots: MaxFixedSlots, ReservedSlots: 2}
)

// Reserved slot indexes for ErrorClass.
const (
	ErrorNameSlot    = 0
	ErrorMessageSlot = 1
)

// FunctionNativeSlot is the reserved slot of a FunctionClass object holding
// the Int32 index of its native implementation in the heap.
const FunctionNativeSlot = 0

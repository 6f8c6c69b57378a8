package compartment

import (
	"fmt"

	"github.com/chazu/membrane/vm"
)

// WrapperKind is the closed enumeration of wrapper behaviors. Every kind
// is a row in the wrapperKinds capability table.
type WrapperKind uint8

const (
	// WrapperTransparent forwards every operation to its target.
	WrapperTransparent WrapperKind = iota
	// WrapperReadOnly allows unwrap and reads, refuses writes and calls.
	WrapperReadOnly
	// WrapperOpaque refuses every operation.
	WrapperOpaque
	// WrapperDead has been severed and has no target.
	WrapperDead
)

// Reserved slots of a wrapper object.
const (
	wrapperTargetSlot = 0
	wrapperKindSlot   = 1
)

type wrapperCaps struct {
	name                   string
	unwrap, get, set, call bool
}

var wrapperKinds = [...]wrapperCaps{
	WrapperTransparent: {name: "transparent", unwrap: true, get: true, set: true, call: true},
	WrapperReadOnly:    {name: "readonly", unwrap: true, get: true},
	WrapperOpaque:      {name: "opaque"},
	WrapperDead:        {name: "dead"},
}

func (k WrapperKind) String() string {
	if int(k) < len(wrapperKinds) {
		return wrapperKinds[k].name
	}
	return fmt.Sprintf("WrapperKind(%d)", uint8(k))
}

// permits reports the kind's built-in capability for action.
func (k WrapperKind) permits(action Action) bool {
	if int(k) >= len(wrapperKinds) {
		return false
	}
	caps := wrapperKinds[k]
	switch action {
	case ActionUnwrap:
		return caps.unwrap
	case ActionGet:
		return caps.get
	case ActionSet:
		return caps.set
	case ActionCall:
		return caps.call
	}
	return false
}

// newWrapperClass builds the proxy class for a runtime. Its ops forward to
// the target through rt.
func newWrapperClass(rt *Runtime) *vm.Class {
	cls := &vm.Class{
		Name:          "CrossCompartmentWrapper",
		Kind:          vm.KindProxy,
		ReservedSlots: 2,
		FixedSlots:    2,
	}
	cls.Ops = &vm.ClassOps{
		GetProperty: func(_ *vm.Heap, w *vm.Object, name string) (vm.Value, error) {
			return rt.forwardGet(w, name)
		},
		SetProperty: func(_ *vm.Heap, w *vm.Object, name string, v vm.Value) error {
			return rt.forwardSet(w, name, v)
		},
		Call: func(_ *vm.Heap, w *vm.Object, this vm.Value, args []vm.Value) (vm.Value, error) {
			return rt.forwardCall(w, this, args)
		},
	}
	return cls
}

// ---------------------------------------------------------------------------
// Wrapper inspection
// ---------------------------------------------------------------------------

// IsWrapper returns true if obj is a cross-compartment wrapper, live or
// dead.
func IsWrapper(obj *vm.Object) bool {
	return obj != nil && obj.IsProxy() && obj.SlotCount() > wrapperKindSlot
}

// KindOfWrapper returns the kind of a wrapper. Panics with a
// ContractViolation if obj is not a wrapper.
func KindOfWrapper(obj *vm.Object) WrapperKind {
	if !IsWrapper(obj) {
		vm.Violate("KindOfWrapper", "%s is not a wrapper", obj.ClassName())
	}
	return WrapperKind(obj.GetSlot(wrapperKindSlot).Int32())
}

// IsDeadWrapper returns true if obj is a severed wrapper.
func IsDeadWrapper(obj *vm.Object) bool {
	return IsWrapper(obj) && KindOfWrapper(obj) == WrapperDead
}

// wrapperTarget returns the object a live wrapper points at, or nil for a
// dead wrapper.
func wrapperTarget(obj *vm.Object) *vm.Object {
	if KindOfWrapper(obj) == WrapperDead {
		return nil
	}
	t := obj.GetSlot(wrapperTargetSlot)
	if !t.IsObject() {
		return nil
	}
	return obj.Heap().Object(t.ObjectRef())
}

// UncheckedUnwrap strips every wrapper layer without consulting any
// policy. It stops at a dead wrapper and returns it.
func UncheckedUnwrap(obj *vm.Object) *vm.Object {
	for IsWrapper(obj) {
		next := wrapperTarget(obj)
		if next == nil {
			return obj
		}
		obj = next
	}
	return obj
}

// sever turns a live wrapper into a dead one. The kind changes before the
// target is cleared so no reader sees a live kind with no target.
func sever(w *vm.Object) {
	if KindOfWrapper(w) == WrapperDead {
		return
	}
	w.SetSlot(wrapperKindSlot, vm.FromInt32(int32(WrapperDead)))
	w.SetSlot(wrapperTargetSlot, vm.Undefined)
}

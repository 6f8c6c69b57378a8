package compartment

import (
	"github.com/chazu/membrane/vm"
)

// CallArgs are the arguments of a native call.
type CallArgs struct {
	Callee *vm.Object
	This   vm.Value
	Args   []vm.Value
}

// Get returns argument i, or Undefined past the end.
func (a CallArgs) Get(i int) vm.Value {
	if i < 0 || i >= len(a.Args) {
		return vm.Undefined
	}
	return a.Args[i]
}

// Len returns the number of arguments.
func (a CallArgs) Len() int { return len(a.Args) }

// ---------------------------------------------------------------------------
// Checked unwrap
// ---------------------------------------------------------------------------

// CheckedUnwrap strips every wrapper layer of obj as seen from the current
// compartment. Each layer must be live and its owning compartment's policy
// must allow unwrapping, otherwise the walk fails with ErrDeadObject or
// ErrAccessDenied. A non-wrapper is returned unchanged.
func CheckedUnwrap(cx *Context, obj *vm.Object) (*vm.Object, error) {
	return checkedUnwrap(cx, obj, "unwrap")
}

func checkedUnwrap(cx *Context, obj *vm.Object, op string) (*vm.Object, error) {
	caller := cx.Compartment()
	for IsWrapper(obj) {
		kind := KindOfWrapper(obj)
		if kind == WrapperDead {
			return nil, deadObject(op)
		}
		target := wrapperTarget(obj)
		if target == nil {
			return nil, deadObject(op)
		}
		if cx.rt.Compartment(obj.Compartment()) == nil || cx.rt.Compartment(target.Compartment()) == nil {
			return nil, deadObject(op)
		}
		if !cx.rt.allows(obj, kind, ActionUnwrap, caller, target) {
			return nil, accessDenied(op)
		}
		obj = target
	}
	return obj, nil
}

// allows combines the wrapper kind's capability table with the policy of
// the compartment owning the wrapper.
func (rt *Runtime) allows(w *vm.Object, kind WrapperKind, action Action, caller *Compartment, target *vm.Object) bool {
	if !kind.permits(action) {
		return false
	}
	owner := rt.Compartment(w.Compartment())
	origin := rt.Compartment(target.Compartment())
	if owner == nil || origin == nil {
		return false
	}
	if caller == nil {
		caller = owner
	}
	return owner.policy.Allow(kind, action, caller, origin)
}

// ---------------------------------------------------------------------------
// Unwrap and downcast
// ---------------------------------------------------------------------------

func checkDowncastClass(op string, cls *vm.Class) {
	if cls == nil || cls.IsProxy() {
		name := "<nil>"
		if cls != nil {
			name = cls.Name
		}
		vm.Violate(op, "cannot downcast to wrapper class %s", name)
	}
}

// UnwrapAndDowncastObject returns obj as an instance of cls, unwrapping it
// if it is a wrapper. The result may belong to a different compartment
// than the caller's. Downcasting to a wrapper class is a contract
// violation.
func UnwrapAndDowncastObject(cx *Context, obj *vm.Object, cls *vm.Class) (*vm.Object, error) {
	checkDowncastClass("UnwrapAndDowncastObject", cls)
	return unwrapAndDowncast(cx, obj, cls, "unwrap")
}

func unwrapAndDowncast(cx *Context, obj *vm.Object, cls *vm.Class, op string) (*vm.Object, error) {
	if !obj.IsProxy() {
		if obj.Is(cls) {
			return obj, nil
		}
		return nil, newError(KindWrongType, op, "expected %s, got %s", cls.Name, obj.ClassName())
	}
	unwrapped, err := checkedUnwrap(cx, obj, op)
	if err != nil {
		return nil, err
	}
	if !unwrapped.Is(cls) {
		return nil, newError(KindWrongType, op, "expected %s, got %s", cls.Name, unwrapped.ClassName())
	}
	return unwrapped, nil
}

// UnwrapAndDowncastValue is UnwrapAndDowncastObject for an arbitrary
// value. Non-object values fail with ErrNotAnObject.
func UnwrapAndDowncastValue(cx *Context, v vm.Value, cls *vm.Class) (*vm.Object, error) {
	checkDowncastClass("UnwrapAndDowncastValue", cls)
	if !v.IsObject() {
		return nil, newError(KindNotAnObject, "unwrap", "%s is not an object", v.TypeOf())
	}
	return unwrapAndDowncast(cx, cx.rt.heap.MustObject(v), cls, "unwrap")
}

// UnwrapAndTypeCheckValue unwraps v as a cls instance and builds errors
// that name the expected class.
func UnwrapAndTypeCheckValue(cx *Context, v vm.Value, cls *vm.Class) (*vm.Object, error) {
	checkDowncastClass("UnwrapAndTypeCheckValue", cls)
	if !v.IsObject() {
		return nil, newError(KindNotAnObject, cls.Name, "%s is not an object", v.TypeOf())
	}
	return unwrapAndDowncast(cx, cx.rt.heap.MustObject(v), cls, cls.Name)
}

// UnwrapAndTypeCheckThis unwraps the receiver of a native method.
func UnwrapAndTypeCheckThis(cx *Context, args CallArgs, cls *vm.Class, method string) (*vm.Object, error) {
	checkDowncastClass("UnwrapAndTypeCheckThis", cls)
	op := cls.Name + ".prototype." + method
	if !args.This.IsObject() {
		return nil, newError(KindWrongType, op, "%s called on incompatible %s", op, args.This.TypeOf())
	}
	obj, err := unwrapAndDowncast(cx, cx.rt.heap.MustObject(args.This), cls, op)
	if KindOf(err) == KindWrongType {
		return nil, newError(KindWrongType, op, "%s called on incompatible receiver", op)
	}
	return obj, err
}

// UnwrapAndTypeCheckArgument unwraps argument i of a native method.
func UnwrapAndTypeCheckArgument(cx *Context, args CallArgs, cls *vm.Class, method string, i int) (*vm.Object, error) {
	checkDowncastClass("UnwrapAndTypeCheckArgument", cls)
	v := args.Get(i)
	if !v.IsObject() {
		return nil, newError(KindNotAnObject, method, "argument %d of %s is not an object", i, method)
	}
	obj, err := unwrapAndDowncast(cx, cx.rt.heap.MustObject(v), cls, method)
	if KindOf(err) == KindWrongType {
		return nil, newError(KindWrongType, method, "argument %d of %s is not a %s", i, method, cls.Name)
	}
	return obj, err
}

// UnwrapInternalSlot reads a reserved slot of owner that is known to hold
// a cls instance, a wrapper for one, or a dead wrapper. Any other content
// is a contract violation.
func UnwrapInternalSlot(cx *Context, owner *vm.Object, slot int, cls *vm.Class) (*vm.Object, error) {
	checkDowncastClass("UnwrapInternalSlot", cls)
	v := owner.GetSlot(slot)
	if !v.IsObject() {
		vm.Violate("UnwrapInternalSlot", "slot %d of %s holds %s, not an object", slot, owner.ClassName(), v.TypeOf())
	}
	obj := cx.rt.heap.MustObject(v)
	if !obj.IsProxy() && !obj.Is(cls) {
		vm.Violate("UnwrapInternalSlot", "slot %d of %s holds %s, want %s", slot, owner.ClassName(), obj.ClassName(), cls.Name)
	}
	return unwrapAndDowncast(cx, obj, cls, "internal slot")
}

// UnwrapCalleeSlot is UnwrapInternalSlot for a slot of the callee of a
// native call.
func UnwrapCalleeSlot(cx *Context, args CallArgs, slot int, cls *vm.Class) (*vm.Object, error) {
	if args.Callee == nil {
		vm.Violate("UnwrapCalleeSlot", "no callee")
	}
	return UnwrapInternalSlot(cx, args.Callee, slot, cls)
}

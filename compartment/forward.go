package compartment

import "github.com/chazu/membrane/vm"

// Operations on a wrapper are forwarded to its target. A dead wrapper
// fails before any part of the operation runs; a denied action fails
// with ErrAccessDenied. Values crossing into the target are wrapped for
// the target's compartment and results are wrapped back for the
// wrapper's.

func (rt *Runtime) forwardTarget(w *vm.Object, action Action) (*vm.Object, *Compartment, *Compartment, error) {
	kind := KindOfWrapper(w)
	if kind == WrapperDead {
		return nil, nil, nil, deadObject(action.String())
	}
	target := wrapperTarget(w)
	if target == nil {
		return nil, nil, nil, deadObject(action.String())
	}
	owner := rt.Compartment(w.Compartment())
	origin := rt.Compartment(target.Compartment())
	if owner == nil || origin == nil {
		return nil, nil, nil, deadObject(action.String())
	}
	if !rt.allows(w, kind, action, nil, target) {
		return nil, nil, nil, accessDenied(action.String())
	}
	return target, owner, origin, nil
}

func (rt *Runtime) forwardGet(w *vm.Object, name string) (vm.Value, error) {
	target, owner, _, err := rt.forwardTarget(w, ActionGet)
	if err != nil {
		return vm.Undefined, err
	}
	v, err := target.GetProperty(name)
	if err != nil {
		return vm.Undefined, err
	}
	return owner.Wrap(v)
}

func (rt *Runtime) forwardSet(w *vm.Object, name string, v vm.Value) error {
	target, _, origin, err := rt.forwardTarget(w, ActionSet)
	if err != nil {
		return err
	}
	wv, err := origin.Wrap(v)
	if err != nil {
		return err
	}
	return target.SetProperty(name, wv)
}

func (rt *Runtime) forwardCall(w *vm.Object, this vm.Value, args []vm.Value) (vm.Value, error) {
	target, owner, origin, err := rt.forwardTarget(w, ActionCall)
	if err != nil {
		return vm.Undefined, err
	}
	if !target.Class().Callable() {
		return vm.Undefined, newError(KindWrongType, "call", "%s is not callable", target.ClassName())
	}
	wthis, err := origin.Wrap(this)
	if err != nil {
		return vm.Undefined, err
	}
	wargs, err := origin.WrapValues(args)
	if err != nil {
		return vm.Undefined, err
	}
	result, err := target.Call(wthis, wargs)
	if err != nil {
		return vm.Undefined, err
	}
	return owner.Wrap(result)
}

package compartment

import (
	"errors"

	"github.com/chazu/membrane/vm"
)

// Script-visible error names.
const (
	TypeErrorName     = "TypeError"
	ErrorName         = "Error"
	InternalErrorName = "InternalError"
)

func scriptError(err error) (name, message string) {
	var e *Error
	kind := KindOf(err)
	switch kind {
	case KindNotAnObject, KindWrongType, KindDeadObject:
		name = TypeErrorName
	case KindAccessDenied:
		name = ErrorName
	case KindOutOfMemory:
		return InternalErrorName, "out of memory"
	default:
		return InternalErrorName, err.Error()
	}
	if errors.As(err, &e) && e.Detail != "" {
		return name, e.Detail
	}
	return name, kindSentinels[kind].Error()
}

// ReportError converts a recoverable error into a script-visible error
// object in the current compartment and makes it the pending exception.
// It returns false only for a nil error. Out-of-memory while building the
// error object leaves an uncatchable out-of-memory state instead.
func ReportError(cx *Context, err error) bool {
	if err == nil {
		return false
	}
	var cv *vm.ContractViolation
	if errors.As(err, &cv) {
		panic(cv)
	}

	name, message := scriptError(err)
	log.Debugf("%s: reporting %s: %s", cx.Compartment().name, name, message)

	obj, allocErr := newErrorObject(cx.Compartment(), name, message)
	if allocErr != nil {
		log.Errorf("%s: out of memory reporting %s", cx.Compartment().name, name)
		cx.Throw(vm.Undefined)
		cx.outOfMemory = true
		return true
	}
	cx.Throw(obj.Value())
	return true
}

func newErrorObject(c *Compartment, name, message string) (*vm.Object, error) {
	h := c.rt.heap
	nameV, err := h.Atomize(name)
	if err != nil {
		return nil, err
	}
	msgV, err := c.NewString(message)
	if err != nil {
		return nil, err
	}
	obj, err := c.NewObject(vm.ErrorClass)
	if err != nil {
		h.Release(msgV.StringRef())
		return nil, err
	}
	obj.SetSlot(vm.ErrorNameSlot, nameV)
	obj.SetSlot(vm.ErrorMessageSlot, msgV)
	return obj, nil
}

// ErrorInfo returns the name and message of a script error object.
func ErrorInfo(h *vm.Heap, v vm.Value) (name, message string, ok bool) {
	obj := h.ObjectOf(v)
	if obj == nil || !obj.Is(vm.ErrorClass) {
		return "", "", false
	}
	name, _ = h.StringOf(obj.GetSlot(vm.ErrorNameSlot))
	message, _ = h.StringOf(obj.GetSlot(vm.ErrorMessageSlot))
	return name, message, true
}

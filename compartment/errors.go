package compartment

import (
	"errors"
	"fmt"

	"github.com/chazu/membrane/vm"
)

// Recoverable error conditions. Native operations convert these into
// script-visible errors with ReportError; none of them may be dropped.
var (
	ErrNotAnObject  = errors.New("not an object")
	ErrWrongType    = errors.New("wrong type")
	ErrAccessDenied = errors.New("permission denied to access object")
	ErrDeadObject   = errors.New("can't access dead object")
	ErrOutOfMemory  = vm.ErrOutOfMemory
)

// ErrorKind classifies an Error.
type ErrorKind uint8

const (
	KindNotAnObject ErrorKind = iota + 1
	KindWrongType
	KindAccessDenied
	KindDeadObject
	KindOutOfMemory
)

var kindSentinels = map[ErrorKind]error{
	KindNotAnObject:  ErrNotAnObject,
	KindWrongType:    ErrWrongType,
	KindAccessDenied: ErrAccessDenied,
	KindDeadObject:   ErrDeadObject,
	KindOutOfMemory:  ErrOutOfMemory,
}

func (k ErrorKind) String() string {
	switch k {
	case KindNotAnObject:
		return "NotAnObject"
	case KindWrongType:
		return "WrongType"
	case KindAccessDenied:
		return "AccessDenied"
	case KindDeadObject:
		return "DeadObject"
	case KindOutOfMemory:
		return "OutOfMemory"
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// Error is a recoverable failure of a compartment operation.
type Error struct {
	Kind   ErrorKind
	Op     string
	Detail string
}

func (e *Error) Error() string {
	msg := kindSentinels[e.Kind].Error()
	if e.Detail != "" {
		msg = e.Detail
	}
	if e.Op == "" {
		return "compartment: " + msg
	}
	return fmt.Sprintf("compartment: %s: %s", e.Op, msg)
}

// Unwrap returns the sentinel for the error's kind, so errors.Is works
// against ErrDeadObject and friends.
func (e *Error) Unwrap() error { return kindSentinels[e.Kind] }

func newError(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func deadObject(op string) *Error {
	return &Error{Kind: KindDeadObject, Op: op}
}

func accessDenied(op string) *Error {
	return &Error{Kind: KindAccessDenied, Op: op}
}

// KindOf returns the kind of a compartment error, or 0 if err is not one.
// Allocation failures from the vm package classify as KindOutOfMemory.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, vm.ErrOutOfMemory) {
		return KindOutOfMemory
	}
	return 0
}

package vm

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory is returned when the heap cannot allocate.
var ErrOutOfMemory = errors.New("vm: out of memory")

// ContractViolation is panicked when a caller breaks a precondition that
// no data-dependent runtime condition can explain: unboxing to a type with
// no tag representation, downcasting to a wrapper class, reading a freed
// handle. It must terminate the engine instance and is never converted to
// a script-visible error.
type ContractViolation struct {
	Op     string
	Detail string
}

func (c *ContractViolation) Error() string {
	return fmt.Sprintf("vm: contract violation in %s: %s", c.Op, c.Detail)
}

// Violate panics with a ContractViolation.
func Violate(op, format string, args ...interface{}) {
	panic(&ContractViolation{Op: op, Detail: fmt.Sprintf(format, args...)})
}

// IsContractViolation reports whether a recovered panic value is a
// ContractViolation.
func IsContractViolation(r interface{}) bool {
	_, ok := r.(*ContractViolation)
	return ok
}

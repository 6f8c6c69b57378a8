package compartment

import "github.com/chazu/membrane/vm"

// Context is an execution context: the stack of entered compartments and
// the pending exception. A Context is used by one thread at a time.
type Context struct {
	rt    *Runtime
	stack []*Compartment

	exception    vm.Value
	hasException bool
	outOfMemory  bool
}

// NewContext creates a context running in c.
func (rt *Runtime) NewContext(c *Compartment) *Context {
	if c == nil {
		vm.Violate("Runtime.NewContext", "nil compartment")
	}
	return &Context{rt: rt, stack: []*Compartment{c}, exception: vm.Undefined}
}

// Runtime returns the context's runtime.
func (cx *Context) Runtime() *Runtime { return cx.rt }

// Heap returns the shared heap.
func (cx *Context) Heap() *vm.Heap { return cx.rt.heap }

// Compartment returns the current compartment.
func (cx *Context) Compartment() *Compartment { return cx.stack[len(cx.stack)-1] }

// Enter makes c the current compartment until the matching Leave.
func (cx *Context) Enter(c *Compartment) {
	if c == nil {
		vm.Violate("Context.Enter", "nil compartment")
	}
	cx.stack = append(cx.stack, c)
}

// Leave returns to the compartment that was current before the last
// Enter. Leaving the base compartment is a contract violation.
func (cx *Context) Leave() {
	if len(cx.stack) == 1 {
		vm.Violate("Context.Leave", "unbalanced Leave")
	}
	cx.stack = cx.stack[:len(cx.stack)-1]
}

// Depth returns the number of entered compartments, counting the base.
func (cx *Context) Depth() int { return len(cx.stack) }

// Run executes fn with c entered.
func (cx *Context) Run(c *Compartment, fn func() error) error {
	cx.Enter(c)
	defer cx.Leave()
	return fn()
}

// Wrap makes v usable in the current compartment.
func (cx *Context) Wrap(v vm.Value) (vm.Value, error) {
	return cx.Compartment().Wrap(v)
}

// ---------------------------------------------------------------------------
// Pending exception
// ---------------------------------------------------------------------------

// Throw sets the pending exception.
func (cx *Context) Throw(v vm.Value) {
	cx.exception = v
	cx.hasException = true
}

// PendingException returns the pending exception, if any.
func (cx *Context) PendingException() (vm.Value, bool) {
	return cx.exception, cx.hasException
}

// ClearPendingException drops the pending exception.
func (cx *Context) ClearPendingException() {
	cx.exception = vm.Undefined
	cx.hasException = false
	cx.outOfMemory = false
}

// IsOutOfMemory returns true if the pending exception is an out-of-memory
// condition that could not be reified as an error object.
func (cx *Context) IsOutOfMemory() bool { return cx.outOfMemory }

package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/membrane/compartment"
	"github.com/chazu/membrane/vm"
)

// ErrOwnerStopped is returned by Do once the owner has been stopped.
var ErrOwnerStopped = errors.New("server: runtime owner stopped")

// ownerRequest represents a unit of work to be executed on the owner goroutine.
type ownerRequest struct {
	fn   func(*compartment.Runtime) interface{}
	done chan ownerResult
}

// ownerResult holds the return value from a runtime operation.
type ownerResult struct {
	value     interface{}
	err       error
	violation *vm.ContractViolation
}

// Owner serializes all access to a runtime's compartments through a
// single goroutine. Wrapper caches take no locks; every handler must go
// through the owner to keep a single thread in charge of them.
type Owner struct {
	rt       *compartment.Runtime
	requests chan ownerRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewOwner creates an Owner and starts the processing goroutine.
func NewOwner(rt *compartment.Runtime) *Owner {
	o := &Owner{
		rt:       rt,
		requests: make(chan ownerRequest, 64),
		quit:     make(chan struct{}),
	}
	go o.loop()
	return o
}

// loop processes requests sequentially on a dedicated goroutine.
func (o *Owner) loop() {
	for {
		if o.stopped() {
			return
		}
		select {
		case req := <-o.requests:
			req.done <- o.execute(req.fn)
		case <-o.quit:
			return
		}
	}
}

// execute runs a function on the runtime, recovering from panics.
// Contract violations are carried back to the caller to be re-raised there.
func (o *Owner) execute(fn func(*compartment.Runtime) interface{}) ownerResult {
	var result ownerResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				if cv, ok := r.(*vm.ContractViolation); ok {
					result.violation = cv
					return
				}
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(o.rt)
	}()
	return result
}

// Do submits a function for execution on the owner goroutine and blocks
// until it completes. Ordinary panics come back as errors; a contract
// violation panics again on the calling goroutine. After Stop, Do returns
// ErrOwnerStopped without running fn.
func (o *Owner) Do(fn func(*compartment.Runtime) interface{}) (interface{}, error) {
	req := ownerRequest{
		fn:   fn,
		done: make(chan ownerResult, 1),
	}
	if o.stopped() {
		return nil, ErrOwnerStopped
	}
	select {
	case <-o.quit:
		return nil, ErrOwnerStopped
	case o.requests <- req:
	}

	var result ownerResult
	select {
	case result = <-req.done:
	case <-o.quit:
		// The loop may have finished fn just before quitting.
		select {
		case result = <-req.done:
		default:
			return nil, ErrOwnerStopped
		}
	}
	if result.violation != nil {
		panic(result.violation)
	}
	return result.value, result.err
}

// Exec runs fn on the owner goroutine. It satisfies compartment.Executor.
func (o *Owner) Exec(fn func()) {
	o.Do(func(*compartment.Runtime) interface{} {
		fn()
		return nil
	})
}

func (o *Owner) stopped() bool {
	select {
	case <-o.quit:
		return true
	default:
		return false
	}
}

// Stop shuts down the owner goroutine. Requests still queued are not run.
// Stop may be called more than once.
func (o *Owner) Stop() {
	o.stopOnce.Do(func() { close(o.quit) })
}

// Runtime returns the underlying runtime, for metadata that does not touch
// compartment caches (options, the heap's live count).
func (o *Owner) Runtime() *compartment.Runtime {
	return o.rt
}

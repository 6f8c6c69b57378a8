package compartment

import (
	"errors"
	"testing"

	"github.com/chazu/membrane/vm"
)

type fixture struct {
	rt        *Runtime
	collector *vm.RecordingCollector
	a, b, c   *Compartment
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	rec := vm.NewRecordingCollector()
	if opts.Collector == nil {
		opts.Collector = rec
	}
	rt := NewRuntime(opts)
	f := &fixture{rt: rt, collector: rec}
	f.a = mustCompartment(t, rt, CompartmentOptions{Name: "a"})
	f.b = mustCompartment(t, rt, CompartmentOptions{Name: "b"})
	f.c = mustCompartment(t, rt, CompartmentOptions{Name: "c"})
	return f
}

func mustCompartment(t *testing.T, rt *Runtime, o CompartmentOptions) *Compartment {
	t.Helper()
	c, err := rt.NewCompartment(o)
	if err != nil {
		t.Fatalf("NewCompartment(%s): %v", o.Name, err)
	}
	return c
}

func mustObject(t *testing.T, c *Compartment, cls *vm.Class) *vm.Object {
	t.Helper()
	obj, err := c.NewObject(cls)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	return obj
}

func mustWrap(t *testing.T, c *Compartment, obj *vm.Object) *vm.Object {
	t.Helper()
	w, err := c.WrapObject(obj)
	if err != nil {
		t.Fatalf("WrapObject into %s: %v", c.Name(), err)
	}
	return w
}

func wantKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("err = %v (%s), want %s", err, got, kind)
	}
	if !errors.Is(err, kindSentinels[kind]) {
		t.Errorf("errors.Is(%v, %v) = false", err, kindSentinels[kind])
	}
}

func expectViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if !vm.IsContractViolation(r) {
			t.Errorf("recovered %v, want *vm.ContractViolation", r)
		}
	}()
	fn()
}

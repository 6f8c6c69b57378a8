package server

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/membrane/compartment"
	"github.com/chazu/membrane/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// Each test gets its own runtime with two compartments, chrome and page, and
// one cached wrapper from page into chrome.
// ---------------------------------------------------------------------------

var chromeKey = uuid.MustParse("6f1c2a52-8c5e-4a4b-9a55-0f3f6f0f4e11")

// testEnv bundles a runtime with its owner.
type testEnv struct {
	RT     *compartment.Runtime
	Owner  *Owner
	Chrome *compartment.Compartment
	Page   *compartment.Compartment
	Target *vm.Object
}

// newTestEnv builds the fixture runtime and starts an owner for it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	rt := compartment.NewRuntime(compartment.Options{})
	chrome, err := rt.NewCompartment(compartment.CompartmentOptions{Name: "chrome", System: true, Key: chromeKey})
	if err != nil {
		t.Fatal(err)
	}
	page, err := rt.NewCompartment(compartment.CompartmentOptions{Name: "page"})
	if err != nil {
		t.Fatal(err)
	}
	obj, err := chrome.NewObject(vm.PlainClass)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := page.Wrap(obj.Value()); err != nil {
		t.Fatal(err)
	}

	owner := NewOwner(rt)
	t.Cleanup(owner.Stop)
	return &testEnv{RT: rt, Owner: owner, Chrome: chrome, Page: page, Target: obj}
}

// bg returns a background context for test RPCs.
func bg() context.Context {
	return context.Background()
}

// connectReq wraps a message in a connect.Request.
func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

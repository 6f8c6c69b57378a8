package compartment

import (
	"testing"

	"github.com/chazu/membrane/vm"
)

// ---------------------------------------------------------------------------
// Single wrapper
// ---------------------------------------------------------------------------

func TestNukeAndRewrapScenario(t *testing.T) {
	f := newFixture(t, Options{})
	o := mustObject(t, f.a, vm.PlainClass)

	w1 := mustWrap(t, f.b, o)
	if again := mustWrap(t, f.b, o); again != w1 {
		t.Fatal("second wrap returned a different wrapper")
	}

	NukeWrapper(f.rt, w1)
	cx := f.rt.NewContext(f.b)
	for _, cls := range []*vm.Class{vm.PlainClass, vm.MapClass, vm.ErrorClass} {
		_, err := UnwrapAndDowncastObject(cx, w1, cls)
		wantKind(t, err, KindDeadObject)
	}

	w2 := mustWrap(t, f.b, o)
	if w2 == w1 {
		t.Fatal("wrap after nuking returned the dead wrapper")
	}
	if IsDeadWrapper(w2) || UncheckedUnwrap(w2) != o {
		t.Error("fresh wrapper is not live")
	}
	if !IsDeadWrapper(w1) {
		t.Error("old wrapper came back to life")
	}
}

func TestSeverOrderAndBarrier(t *testing.T) {
	f := newFixture(t, Options{})
	o := mustObject(t, f.a, vm.PlainClass)
	w := mustWrap(t, f.b, o)
	f.collector.Reset()

	NukeWrapper(f.rt, w)
	if KindOfWrapper(w) != WrapperDead {
		t.Error("kind is not dead")
	}
	if !w.GetSlot(wrapperTargetSlot).IsUndefined() {
		t.Error("dead wrapper still references its target")
	}
	barriers := f.collector.Barriers()
	if len(barriers) != 1 || barriers[0].Prev != o.Value() || barriers[0].Next != vm.Undefined {
		t.Errorf("barriers = %+v, want one clearing the target", barriers)
	}

	// Nuking again changes nothing.
	f.collector.Reset()
	NukeWrapper(f.rt, w)
	if len(f.collector.Barriers()) != 0 {
		t.Error("second nuke touched the wrapper")
	}
}

func TestNukeWrapperRejectsNonWrapper(t *testing.T) {
	f := newFixture(t, Options{})
	expectViolation(t, func() { NukeWrapper(f.rt, mustObject(t, f.a, vm.PlainClass)) })
}

func TestNewDeadWrapper(t *testing.T) {
	f := newFixture(t, Options{})
	cx := f.rt.NewContext(f.b)
	w, err := NewDeadWrapper(cx)
	if err != nil {
		t.Fatal(err)
	}
	if !IsDeadWrapper(w) || w.Compartment() != f.b.ID() {
		t.Error("NewDeadWrapper did not make a dead wrapper in b")
	}

	// Wrapping a dead wrapper gives a dead wrapper in the destination.
	d, err := f.c.WrapObject(w)
	if err != nil {
		t.Fatal(err)
	}
	if !IsDeadWrapper(d) || d.Compartment() != f.c.ID() {
		t.Error("dead input did not produce a dead wrapper in c")
	}
}

// ---------------------------------------------------------------------------
// Bulk nuking
// ---------------------------------------------------------------------------

func TestNukeIncomingReferences(t *testing.T) {
	f := newFixture(t, Options{})
	oa := mustObject(t, f.a, vm.PlainClass)
	oc := mustObject(t, f.c, vm.PlainClass)
	bToA := mustWrap(t, f.b, oa)
	cToA := mustWrap(t, f.c, oa)
	bToC := mustWrap(t, f.b, oc)
	aToC := mustWrap(t, f.a, oc)

	n := NukeCrossCompartmentWrappers(f.rt.NewContext(f.b), AllCompartments(), f.a, NukeIncomingReferences)
	if n != 2 {
		t.Errorf("severed %d wrappers, want 2", n)
	}
	if !IsDeadWrapper(bToA) || !IsDeadWrapper(cToA) {
		t.Error("wrappers into a survived")
	}
	if IsDeadWrapper(bToC) || IsDeadWrapper(aToC) {
		t.Error("unrelated wrappers were severed")
	}
	if f.a.NukedIncoming() {
		t.Error("incoming-only nuke should not block new wrappers")
	}
	if IsDeadWrapper(mustWrap(t, f.b, oa)) {
		t.Error("new wrapper after incoming nuke is dead")
	}
}

func TestNukeAllReferences(t *testing.T) {
	f := newFixture(t, Options{})
	oa := mustObject(t, f.a, vm.PlainClass)
	oc := mustObject(t, f.c, vm.PlainClass)
	bToA := mustWrap(t, f.b, oa)
	aToC := mustWrap(t, f.a, oc)

	f.rt.NukeCompartment(f.a)

	if !IsDeadWrapper(bToA) || !IsDeadWrapper(aToC) {
		t.Error("wrappers into and out of a survived")
	}
	if !f.a.NukedIncoming() || !f.a.NukedOutgoing() {
		t.Error("nuke flags not set")
	}
	if !NukedObjectCompartment(f.rt, oa) {
		t.Error("NukedObjectCompartment(oa) = false")
	}
	if AllowNewWrapper(f.b, oa) || AllowNewWrapper(f.a, oc) {
		t.Error("AllowNewWrapper should refuse both directions")
	}
	if !IsDeadWrapper(mustWrap(t, f.b, oa)) {
		t.Error("wrap of a nuked compartment's object should be dead")
	}
	if !IsDeadWrapper(mustWrap(t, f.a, oc)) {
		t.Error("wrap into a nuked compartment should be dead")
	}
	if f.b.Stats().Wrappers != 0 {
		t.Error("dead wrappers were cached")
	}
}

func TestNukeFilters(t *testing.T) {
	f := newFixture(t, Options{})
	sys := mustCompartment(t, f.rt, CompartmentOptions{Name: "sys", System: true})
	oa := mustObject(t, f.a, vm.PlainClass)
	fromSys := mustWrap(t, sys, oa)
	fromB := mustWrap(t, f.b, oa)
	fromC := mustWrap(t, f.c, oa)
	cx := f.rt.NewContext(f.b)

	NukeCrossCompartmentWrappers(cx, SystemCompartmentsOnly(), f.a, NukeIncomingReferences)
	if !IsDeadWrapper(fromSys) || IsDeadWrapper(fromB) {
		t.Error("SystemCompartmentsOnly matched the wrong sources")
	}
	NukeCrossCompartmentWrappers(cx, SingleCompartment(f.c), f.a, NukeIncomingReferences)
	if !IsDeadWrapper(fromC) || IsDeadWrapper(fromB) {
		t.Error("SingleCompartment matched the wrong sources")
	}
	NukeCrossCompartmentWrappers(cx, ContentCompartmentsOnly(), f.a, NukeIncomingReferences)
	if !IsDeadWrapper(fromB) {
		t.Error("ContentCompartmentsOnly missed b")
	}
}

func TestNukeAllWithFilterExcludingTarget(t *testing.T) {
	f := newFixture(t, Options{})
	oc := mustObject(t, f.c, vm.PlainClass)
	aToC := mustWrap(t, f.a, oc)

	NukeCrossCompartmentWrappers(f.rt.NewContext(f.b), SingleCompartment(f.b), f.a, NukeAllReferences)
	if IsDeadWrapper(aToC) {
		t.Error("a's outgoing wrappers are only cut when a matches the filter")
	}
	if !f.a.NukedIncoming() || f.a.NukedOutgoing() {
		t.Error("only the incoming flag should be set")
	}
}

func TestDestroyCompartment(t *testing.T) {
	f := newFixture(t, Options{})
	oa := mustObject(t, f.a, vm.PlainClass)
	w := mustWrap(t, f.b, oa)
	key := f.a.Key()

	f.rt.DestroyCompartment(f.a)
	if !IsDeadWrapper(w) {
		t.Error("wrapper into destroyed compartment is live")
	}
	if f.rt.Compartment(f.a.ID()) != nil || f.rt.CompartmentByKey(key) != nil {
		t.Error("destroyed compartment still registered")
	}
	if !f.a.Destroyed() {
		t.Error("Destroyed() = false")
	}
	if !IsDeadWrapper(mustWrap(t, f.b, oa)) {
		t.Error("wrap of an object from a destroyed compartment should be dead")
	}
}

// ---------------------------------------------------------------------------
// Explicitly built wrappers
// ---------------------------------------------------------------------------

func TestNukeSeversExplicitWrappers(t *testing.T) {
	f := newFixture(t, Options{})
	o := mustObject(t, f.a, vm.PlainClass)
	o.Set("x", vm.FromInt32(7))
	w, err := NewWrapper(f.b, o, WrapperTransparent)
	if err != nil {
		t.Fatal(err)
	}
	if f.b.Stats().Explicit != 1 {
		t.Fatalf("Explicit = %d, want 1", f.b.Stats().Explicit)
	}

	if n := f.rt.NukeCompartment(f.a); n != 1 {
		t.Errorf("severed %d wrappers, want 1", n)
	}
	if !IsDeadWrapper(w) {
		t.Fatal("explicit wrapper into a survived the nuke")
	}
	_, err = w.GetProperty("x")
	wantKind(t, err, KindDeadObject)
	if f.b.Stats().Explicit != 0 {
		t.Error("severed wrapper still tracked")
	}

	// The nuked compartment refuses new explicit wrappers too.
	again, err := NewWrapper(f.b, o, WrapperTransparent)
	if err != nil {
		t.Fatal(err)
	}
	if !IsDeadWrapper(again) {
		t.Error("NewWrapper into a nuked compartment should be dead")
	}
}

func TestNukeSeversExplicitOutgoingWrappers(t *testing.T) {
	f := newFixture(t, Options{})
	oc := mustObject(t, f.c, vm.PlainClass)
	w, err := NewWrapper(f.a, oc, WrapperTransparent)
	if err != nil {
		t.Fatal(err)
	}
	f.rt.NukeCompartment(f.a)
	if !IsDeadWrapper(w) {
		t.Error("a's explicit outgoing wrapper survived NukeAllReferences")
	}
}

func TestNukeThroughWrapperChain(t *testing.T) {
	f := newFixture(t, Options{})
	o := mustObject(t, f.a, vm.PlainClass)
	o.Set("x", vm.FromInt32(1))
	wb := mustWrap(t, f.b, o)
	chain, err := NewWrapper(f.c, wb, WrapperTransparent)
	if err != nil {
		t.Fatal(err)
	}

	f.rt.NukeCompartment(f.a)
	if !IsDeadWrapper(wb) {
		t.Fatal("inner wrapper survived")
	}
	cx := f.rt.NewContext(f.c)
	_, err = CheckedUnwrap(cx, chain)
	wantKind(t, err, KindDeadObject)
	_, err = chain.GetProperty("x")
	wantKind(t, err, KindDeadObject)

	// Nuking the middle compartment severs the outer layer itself.
	f.rt.NukeCompartment(f.b)
	if !IsDeadWrapper(chain) {
		t.Error("outer wrapper into b survived")
	}
}

func TestNukeWrapperUntracksExplicitWrapper(t *testing.T) {
	f := newFixture(t, Options{})
	w, err := NewWrapper(f.b, mustObject(t, f.a, vm.PlainClass), WrapperTransparent)
	if err != nil {
		t.Fatal(err)
	}
	NukeWrapper(f.rt, w)
	if f.b.Stats().Explicit != 0 {
		t.Error("NukeWrapper left the explicit entry behind")
	}
}

func TestUnwrapAfterDestroyIsDead(t *testing.T) {
	f := newFixture(t, Options{})
	o := mustObject(t, f.a, vm.MapClass)
	explicit, err := NewWrapper(f.b, o, WrapperTransparent)
	if err != nil {
		t.Fatal(err)
	}
	cached := mustWrap(t, f.c, o)

	f.rt.DestroyCompartment(f.a)

	for _, tc := range []struct {
		name string
		c    *Compartment
		w    *vm.Object
	}{
		{"explicit", f.b, explicit},
		{"cached", f.c, cached},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cx := f.rt.NewContext(tc.c)
			_, err := CheckedUnwrap(cx, tc.w)
			wantKind(t, err, KindDeadObject)
			_, err = UnwrapAndDowncastObject(cx, tc.w, vm.MapClass)
			wantKind(t, err, KindDeadObject)
		})
	}
}

func TestUnwrapIntoUnregisteredCompartmentIsDead(t *testing.T) {
	f := newFixture(t, Options{})
	o := mustObject(t, f.a, vm.PlainClass)
	w := mustWrap(t, f.b, o)

	// Take a out of the registry without severing anything.
	f.rt.mu.Lock()
	delete(f.rt.compartments, f.a.ID())
	f.rt.mu.Unlock()

	_, err := CheckedUnwrap(f.rt.NewContext(f.b), w)
	wantKind(t, err, KindDeadObject)
	_, err = w.GetProperty("x")
	wantKind(t, err, KindDeadObject)
}

package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// FuzzTagExclusivity: every bit pattern holds exactly one variant, and
// constructors never produce a pattern that reads as another variant.
// ---------------------------------------------------------------------------

func FuzzTagExclusivity(f *testing.F) {
	f.Add(uint64(0))
	f.Add(nanBits)
	f.Add(uint64(Undefined))
	f.Add(uint64(FromInt32(-1)))
	f.Add(uint64(FromObjectRef(7)))
	f.Add(uint64(0xFFF8000000000000))
	f.Add(uint64(0x7FFF800000000001))

	f.Fuzz(func(t *testing.T, bits uint64) {
		checkExclusive(t, FromBits(bits))

		d := FromDouble(math.Float64frombits(bits))
		if !d.IsDouble() {
			t.Fatalf("FromDouble(%#x) is %s", bits, d.Tag())
		}

		n := int32(bits)
		if v := FromInt32(n); !v.IsInt32() || v.Int32() != n {
			t.Fatalf("FromInt32(%d) round trip failed", n)
		}

		r := Ref(bits)
		for _, v := range []Value{FromObjectRef(r), FromStringRef(r), FromSymbolRef(r), FromBigIntRef(r)} {
			checkExclusive(t, v)
			if got, _ := v.GCRef(); got != r {
				t.Fatalf("%s: GCRef() = %d, want %d", v.Tag(), got, r)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzUnboxAgreement: for any word, the fallible unbox succeeds exactly
// when the tag matches, and then agrees with the infallible unbox.
// ---------------------------------------------------------------------------

func FuzzUnboxAgreement(f *testing.F) {
	f.Add(uint64(FromInt32(12)), uint8(NativeInt32))
	f.Add(uint64(FromDouble(12)), uint8(NativeInt32))
	f.Add(uint64(True), uint8(NativeBoolean))
	f.Add(uint64(FromStringRef(3)), uint8(NativeObject))

	unboxable := []NativeType{NativeInt32, NativeBoolean, NativeObject, NativeString, NativeSymbol, NativeBigInt}
	snap := NewSnapshot(0, "fuzz")

	f.Fuzz(func(t *testing.T, bits uint64, which uint8) {
		v := FromBits(bits)
		nt := unboxable[int(which)%len(unboxable)]
		store := &countingStore{}

		b := UnboxAndStore(store, Register(v), nt, snap)
		match := v.Tag() == nt.Tag()
		if match != (b == nil) {
			t.Fatalf("%#x as %s: match=%t bailout=%v", bits, nt, match, b)
		}
		if !match {
			if len(store.stores) != 0 {
				t.Fatalf("%#x as %s: %d stores on failure", bits, nt, len(store.stores))
			}
			return
		}
		if len(store.stores) != 1 || store.stores[0] != Unbox(Register(v), nt) {
			t.Fatalf("%#x as %s: stored %v, infallible %#x", bits, nt, store.stores, Unbox(Register(v), nt))
		}
	})
}

package vm

import (
	"math"
	"testing"
)

// predicates returns the nine variant predicates of v, in Tag order.
func predicates(v Value) []bool {
	return []bool{
		v.IsDouble(),
		v.IsInt32(),
		v.IsBoolean(),
		v.IsUndefined(),
		v.IsNull(),
		v.IsObject(),
		v.IsString(),
		v.IsSymbol(),
		v.IsBigInt(),
	}
}

// checkExclusive fails unless exactly one predicate holds and it matches
// v.Tag().
func checkExclusive(t testing.TB, v Value) {
	t.Helper()
	n := 0
	for i, p := range predicates(v) {
		if p {
			n++
			if Tag(i) != v.Tag() {
				t.Errorf("%#x: predicate %s holds but Tag() = %s", v.Bits(), Tag(i), v.Tag())
			}
		}
	}
	if n != 1 {
		t.Errorf("%#x: %d predicates hold, want exactly 1", v.Bits(), n)
	}
}

// ---------------------------------------------------------------------------
// Double tests
// ---------------------------------------------------------------------------

func TestDoubleRoundTrip(t *testing.T) {
	tests := []float64{
		0.0,
		math.Copysign(0, -1),
		1.0,
		-1.0,
		3.14159265358979,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		-math.MaxFloat64,
		math.Inf(1),
		math.Inf(-1),
		42,
	}

	for _, f := range tests {
		v := FromDouble(f)
		if !v.IsDouble() {
			t.Errorf("FromDouble(%v).IsDouble() = false, want true", f)
			continue
		}
		if got := v.Double(); math.Float64bits(got) != math.Float64bits(f) {
			t.Errorf("FromDouble(%v).Double() = %v, want %v", f, got, f)
		}
		checkExclusive(t, v)
	}
}

func TestDoubleNaNCanonicalized(t *testing.T) {
	nans := []uint64{
		0x7FF8000000000000,
		0x7FF8000000000001,
		0xFFF8000000000000,
		0x7FF0000000000001, // signaling
		0x7FFB800000000005, // looks like a boxed object
	}
	for _, bits := range nans {
		v := FromDouble(math.Float64frombits(bits))
		if !v.IsDouble() {
			t.Errorf("FromDouble(NaN %#x) is %s, want double", bits, v.Tag())
		}
		if v.Bits() != canonicalNaN {
			t.Errorf("FromDouble(NaN %#x).Bits() = %#x, want %#x", bits, v.Bits(), canonicalNaN)
		}
		if !math.IsNaN(v.Double()) {
			t.Errorf("NaN %#x did not round trip as NaN", bits)
		}
	}
}

func TestIntegralDoubleIsNotInt32(t *testing.T) {
	v := FromDouble(7)
	if v.IsInt32() {
		t.Error("FromDouble(7).IsInt32() = true, want false")
	}
	if v.Tag() != TagDouble {
		t.Errorf("FromDouble(7).Tag() = %s, want double", v.Tag())
	}
}

// ---------------------------------------------------------------------------
// Int32 and boolean tests
// ---------------------------------------------------------------------------

func TestInt32RoundTrip(t *testing.T) {
	tests := []int32{0, 1, -1, 42, -42, math.MaxInt32, math.MinInt32}
	for _, n := range tests {
		v := FromInt32(n)
		if !v.IsInt32() {
			t.Errorf("FromInt32(%d).IsInt32() = false", n)
			continue
		}
		if got := v.Int32(); got != n {
			t.Errorf("FromInt32(%d).Int32() = %d", n, got)
		}
		checkExclusive(t, v)
	}
}

func TestBool(t *testing.T) {
	if !FromBool(true).Bool() || FromBool(false).Bool() {
		t.Error("FromBool round trip failed")
	}
	if FromBool(true) != True || FromBool(false) != False {
		t.Error("FromBool should return the shared constants")
	}
	checkExclusive(t, True)
	checkExclusive(t, False)
}

func TestUndefinedNull(t *testing.T) {
	if !Undefined.IsUndefined() || Undefined.IsNull() {
		t.Error("Undefined predicates wrong")
	}
	if !Null.IsNull() || Null.IsUndefined() {
		t.Error("Null predicates wrong")
	}
	checkExclusive(t, Undefined)
	checkExclusive(t, Null)
}

// ---------------------------------------------------------------------------
// Reference tests
// ---------------------------------------------------------------------------

func TestRefRoundTrip(t *testing.T) {
	refs := []Ref{1, 2, 1000, math.MaxUint32}
	for _, r := range refs {
		cases := []struct {
			v    Value
			tag  Tag
			back func(Value) Ref
		}{
			{FromObjectRef(r), TagObject, Value.ObjectRef},
			{FromStringRef(r), TagString, Value.StringRef},
			{FromSymbolRef(r), TagSymbol, Value.SymbolRef},
			{FromBigIntRef(r), TagBigInt, Value.BigIntRef},
		}
		for _, c := range cases {
			if c.v.Tag() != c.tag {
				t.Errorf("ref %d: Tag() = %s, want %s", r, c.v.Tag(), c.tag)
			}
			if got := c.back(c.v); got != r {
				t.Errorf("ref %d as %s: got %d", r, c.tag, got)
			}
			if !c.v.IsGCThing() {
				t.Errorf("ref %d as %s: IsGCThing() = false", r, c.tag)
			}
			if got, ok := c.v.GCRef(); !ok || got != r {
				t.Errorf("ref %d as %s: GCRef() = %d, %t", r, c.tag, got, ok)
			}
			checkExclusive(t, c.v)
		}
	}
}

func TestScalarsAreNotGCThings(t *testing.T) {
	for _, v := range []Value{Undefined, Null, True, FromInt32(3), FromDouble(1.5)} {
		if v.IsGCThing() {
			t.Errorf("%s.IsGCThing() = true", v)
		}
		if _, ok := v.GCRef(); ok {
			t.Errorf("%s.GCRef() ok = true", v)
		}
	}
}

func TestAccessorsPanicOnWrongTag(t *testing.T) {
	cases := []struct {
		name string
		fn   func()
	}{
		{"Double on int32", func() { FromInt32(1).Double() }},
		{"Int32 on double", func() { FromDouble(1).Int32() }},
		{"Bool on null", func() { Null.Bool() }},
		{"ObjectRef on string", func() { FromStringRef(1).ObjectRef() }},
		{"StringRef on object", func() { FromObjectRef(1).StringRef() }},
		{"SymbolRef on bigint", func() { FromBigIntRef(1).SymbolRef() }},
		{"BigIntRef on symbol", func() { FromSymbolRef(1).BigIntRef() }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			c.fn()
		})
	}
}

// ---------------------------------------------------------------------------
// Raw patterns
// ---------------------------------------------------------------------------

func TestUnrecognizedBoxedPatternsAreDoubles(t *testing.T) {
	// Tag 0 and tags 9..15 in the boxed space have no variant.
	for _, tag := range []uint64{0, 9, 12, 15} {
		v := FromBits(nanBits | tag<<tagShift | 7)
		if v.Tag() != TagDouble {
			t.Errorf("tag %d: Tag() = %s, want double", tag, v.Tag())
		}
		checkExclusive(t, v)
	}
}

func TestNonCanonicalPayloadsKeepTheirTag(t *testing.T) {
	cases := []Value{
		FromBits(nanBits | tagUndefined<<tagShift | 9),
		FromBits(nanBits | tagNull<<tagShift | 1),
		FromBits(nanBits | tagBoolean<<tagShift | 3),
	}
	for _, v := range cases {
		checkExclusive(t, v)
	}
	if !FromBits(nanBits | tagBoolean<<tagShift | 3).Bool() {
		t.Error("boolean payload 3 should read as true")
	}
}

func TestTypeOf(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{FromDouble(1.5), "number"},
		{FromInt32(1), "number"},
		{True, "boolean"},
		{Undefined, "undefined"},
		{Null, "null"},
		{FromObjectRef(1), "object"},
		{FromStringRef(1), "string"},
		{FromSymbolRef(1), "symbol"},
		{FromBigIntRef(1), "bigint"},
	}
	for _, c := range cases {
		if got := c.v.TypeOf(); got != c.want {
			t.Errorf("TypeOf(%#x) = %q, want %q", c.v.Bits(), got, c.want)
		}
	}
}

package vm

import (
	"fmt"
	"math"
)

// Value is a dynamically typed engine value using NaN-boxing.
//
// All values are 64-bit words. Doubles are stored as native IEEE 754 bits;
// every other variant is encoded in the positive quiet-NaN space with a
// 4-bit tag and a 32-bit payload.
//
// Encoding scheme:
//   - Double:    native IEEE 754 bits (all NaNs canonicalized on boxing)
//   - Int32:     quiet NaN + tagInt32 + 32-bit two's complement payload
//   - Boolean:   quiet NaN + tagBoolean + 0/1
//   - Undefined: quiet NaN + tagUndefined
//   - Null:      quiet NaN + tagNull
//   - Object, String, Symbol, BigInt: quiet NaN + tag + 32-bit heap Ref
//
// A Value is one machine word, so a store never publishes a tag without
// its payload.
type Value uint64

// NaN-boxing constants
const (
	// Sign bit 0, exponent all 1s, quiet bit set.
	// 0x7FF8_0000_0000_0000
	nanBits uint64 = 0x7FF8000000000000

	// Bits 51..63 identify a boxed (non-double) candidate.
	boxedMask uint64 = 0xFFF8000000000000

	// Tag: 4 bits at 47..50.
	// 0x0007_8000_0000_0000
	tagShift        = 47
	tagMask  uint64 = 0x0007800000000000

	// Payload: low 32 bits.
	payloadMask uint64 = 0x00000000FFFFFFFF

	// canonicalNaN is the only NaN a boxed double may hold.
	canonicalNaN uint64 = nanBits
)

// Raw tag values (before shifting).
const (
	tagInt32     uint64 = 1
	tagBoolean   uint64 = 2
	tagUndefined uint64 = 3
	tagNull      uint64 = 4
	tagObject    uint64 = 5
	tagString    uint64 = 6
	tagSymbol    uint64 = 7
	tagBigInt    uint64 = 8
)

func boxed(tag uint64, payload uint32) Value {
	return Value(nanBits | tag<<tagShift | uint64(payload))
}

// Pre-defined constant values
var (
	Undefined = boxed(tagUndefined, 0)
	Null      = boxed(tagNull, 0)
	True      = boxed(tagBoolean, 1)
	False     = boxed(tagBoolean, 0)
)

// Tag discriminates the nine value variants.
type Tag uint8

const (
	TagDouble Tag = iota
	TagInt32
	TagBoolean
	TagUndefined
	TagNull
	TagObject
	TagString
	TagSymbol
	TagBigInt
)

var tagNames = [...]string{
	TagDouble:    "double",
	TagInt32:     "int32",
	TagBoolean:   "boolean",
	TagUndefined: "undefined",
	TagNull:      "null",
	TagObject:    "object",
	TagString:    "string",
	TagSymbol:    "symbol",
	TagBigInt:    "bigint",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// ---------------------------------------------------------------------------
// Tag inspection
// ---------------------------------------------------------------------------

// rawTag returns the 4-bit tag, or 0 for doubles.
func (v Value) rawTag() uint64 {
	bits := uint64(v)
	if bits&boxedMask != nanBits {
		return 0
	}
	return (bits & tagMask) >> tagShift
}

// Tag returns the variant v currently holds. Exactly one variant holds
// for every bit pattern: anything that is not a recognized boxed pattern
// is a double.
func (v Value) Tag() Tag {
	switch v.rawTag() {
	case tagInt32:
		return TagInt32
	case tagBoolean:
		return TagBoolean
	case tagUndefined:
		return TagUndefined
	case tagNull:
		return TagNull
	case tagObject:
		return TagObject
	case tagString:
		return TagString
	case tagSymbol:
		return TagSymbol
	case tagBigInt:
		return TagBigInt
	default:
		return TagDouble
	}
}

// IsDouble returns true if v represents a float64.
func (v Value) IsDouble() bool { return v.Tag() == TagDouble }

// IsInt32 returns true if v represents a 32-bit integer.
func (v Value) IsInt32() bool { return v.rawTag() == tagInt32 }

// IsBoolean returns true if v is true or false.
func (v Value) IsBoolean() bool { return v.rawTag() == tagBoolean }

// IsUndefined returns true if v is the undefined value.
func (v Value) IsUndefined() bool { return v.rawTag() == tagUndefined }

// IsNull returns true if v is the null value.
func (v Value) IsNull() bool { return v.rawTag() == tagNull }

// IsObject returns true if v references a heap object.
func (v Value) IsObject() bool { return v.rawTag() == tagObject }

// IsString returns true if v references a heap string.
func (v Value) IsString() bool { return v.rawTag() == tagString }

// IsSymbol returns true if v references a symbol.
func (v Value) IsSymbol() bool { return v.rawTag() == tagSymbol }

// IsBigInt returns true if v references an arbitrary-precision integer.
func (v Value) IsBigInt() bool { return v.rawTag() == tagBigInt }

// IsNumber returns true for doubles and int32s.
func (v Value) IsNumber() bool { return v.IsDouble() || v.IsInt32() }

// IsGCThing returns true if v holds a heap reference.
func (v Value) IsGCThing() bool {
	switch v.rawTag() {
	case tagObject, tagString, tagSymbol, tagBigInt:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Doubles
// ---------------------------------------------------------------------------

// FromDouble creates a Value from a float64. Every NaN is canonicalized so
// it cannot alias a tagged pattern.
func FromDouble(f float64) Value {
	if f != f {
		return Value(canonicalNaN)
	}
	return Value(math.Float64bits(f))
}

// Double returns v as a float64.
// Panics if v is not a double.
func (v Value) Double() float64 {
	if !v.IsDouble() {
		panic("Value.Double: not a double")
	}
	return math.Float64frombits(uint64(v))
}

// ---------------------------------------------------------------------------
// Int32
// ---------------------------------------------------------------------------

// FromInt32 creates a Value from an int32.
func FromInt32(n int32) Value {
	return boxed(tagInt32, uint32(n))
}

// Int32 returns v as an int32.
// Panics if v is not an int32.
func (v Value) Int32() int32 {
	if !v.IsInt32() {
		panic("Value.Int32: not an int32")
	}
	return int32(uint32(uint64(v) & payloadMask))
}

// ---------------------------------------------------------------------------
// Booleans
// ---------------------------------------------------------------------------

// FromBool creates a Value from a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Bool returns v as a bool.
// Panics if v is not a boolean.
func (v Value) Bool() bool {
	if !v.IsBoolean() {
		panic("Value.Bool: not a boolean")
	}
	return uint64(v)&1 != 0
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// Ref is a stable handle into the heap arena. Zero is never allocated.
type Ref uint32

// FromObjectRef creates an object Value.
func FromObjectRef(r Ref) Value { return boxed(tagObject, uint32(r)) }

// FromStringRef creates a string Value.
func FromStringRef(r Ref) Value { return boxed(tagString, uint32(r)) }

// FromSymbolRef creates a symbol Value.
func FromSymbolRef(r Ref) Value { return boxed(tagSymbol, uint32(r)) }

// FromBigIntRef creates a bigint Value.
func FromBigIntRef(r Ref) Value { return boxed(tagBigInt, uint32(r)) }

func (v Value) ref() Ref { return Ref(uint64(v) & payloadMask) }

// ObjectRef returns the heap handle of an object value.
// Panics if v is not an object.
func (v Value) ObjectRef() Ref {
	if !v.IsObject() {
		panic("Value.ObjectRef: not an object")
	}
	return v.ref()
}

// StringRef returns the heap handle of a string value.
// Panics if v is not a string.
func (v Value) StringRef() Ref {
	if !v.IsString() {
		panic("Value.StringRef: not a string")
	}
	return v.ref()
}

// SymbolRef returns the heap handle of a symbol value.
// Panics if v is not a symbol.
func (v Value) SymbolRef() Ref {
	if !v.IsSymbol() {
		panic("Value.SymbolRef: not a symbol")
	}
	return v.ref()
}

// BigIntRef returns the heap handle of a bigint value.
// Panics if v is not a bigint.
func (v Value) BigIntRef() Ref {
	if !v.IsBigInt() {
		panic("Value.BigIntRef: not a bigint")
	}
	return v.ref()
}

// GCRef returns the heap handle of any reference value, or 0 and false
// for scalars.
func (v Value) GCRef() (Ref, bool) {
	if !v.IsGCThing() {
		return 0, false
	}
	return v.ref(), true
}

// ---------------------------------------------------------------------------
// Raw bits
// ---------------------------------------------------------------------------

// Bits returns the raw 64-bit word.
func (v Value) Bits() uint64 { return uint64(v) }

// FromBits reinterprets a raw word as a Value. Any word is a valid Value;
// unrecognized patterns read as doubles.
func FromBits(bits uint64) Value { return Value(bits) }

// ---------------------------------------------------------------------------
// Display
// ---------------------------------------------------------------------------

// TypeOf returns the script-level type name of v.
func (v Value) TypeOf() string {
	switch v.Tag() {
	case TagDouble, TagInt32:
		return "number"
	default:
		return v.Tag().String()
	}
}

// String renders v for diagnostics. References print as handles since the
// heap is needed to render their contents.
func (v Value) String() string {
	switch v.Tag() {
	case TagDouble:
		return fmt.Sprintf("%g", v.Double())
	case TagInt32:
		return fmt.Sprintf("%d", v.Int32())
	case TagBoolean:
		return fmt.Sprintf("%t", v.Bool())
	case TagUndefined:
		return "undefined"
	case TagNull:
		return "null"
	default:
		return fmt.Sprintf("<%s #%d>", v.Tag(), v.ref())
	}
}

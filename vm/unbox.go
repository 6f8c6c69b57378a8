package vm

import "fmt"

// ---------------------------------------------------------------------------
// Typed unboxing protocol
// ---------------------------------------------------------------------------

// NativeType is the static type compiled code expects a Value to have.
type NativeType uint8

const (
	NativeValue NativeType = iota // boxed, no static type
	NativeInt32
	NativeBoolean
	NativeDouble
	NativeObject
	NativeString
	NativeSymbol
	NativeBigInt
	NativeUndefined
	NativeNull
)

var nativeTypeNames = [...]string{
	NativeValue:     "Value",
	NativeInt32:     "Int32",
	NativeBoolean:   "Boolean",
	NativeDouble:    "Double",
	NativeObject:    "Object",
	NativeString:    "String",
	NativeSymbol:    "Symbol",
	NativeBigInt:    "BigInt",
	NativeUndefined: "Undefined",
	NativeNull:      "Null",
}

func (t NativeType) String() string {
	if int(t) < len(nativeTypeNames) {
		return nativeTypeNames[t]
	}
	return fmt.Sprintf("NativeType(%d)", uint8(t))
}

// unboxTag maps an unboxable type to the tag it checks against.
var unboxTag = map[NativeType]Tag{
	NativeInt32:   TagInt32,
	NativeBoolean: TagBoolean,
	NativeObject:  TagObject,
	NativeString:  TagString,
	NativeSymbol:  TagSymbol,
	NativeBigInt:  TagBigInt,
}

// Unboxable returns true if values can be unboxed to t. Doubles are not:
// they are already native and have no payload separate from their bits.
func (t NativeType) Unboxable() bool {
	_, ok := unboxTag[t]
	return ok
}

// Tag returns the tag t checks against. Panics with a ContractViolation
// if t is not unboxable.
func (t NativeType) Tag() Tag {
	tag, ok := unboxTag[t]
	if !ok {
		Violate("NativeType.Tag", "type %s cannot be unboxed", t)
	}
	return tag
}

// Payload is the raw native result of an unbox. Its interpretation
// depends on the NativeType that produced it.
type Payload uint64

// Int32 interprets p as a 32-bit integer.
func (p Payload) Int32() int32 { return int32(uint32(p)) }

// Bool interprets p as a boolean.
func (p Payload) Bool() bool { return p&1 != 0 }

// Ref interprets p as a heap handle.
func (p Payload) Ref() Ref { return Ref(uint32(p)) }

// Bits returns the raw payload.
func (p Payload) Bits() uint64 { return uint64(p) }

// Box re-tags p as a Value of type t.
func (p Payload) Box(t NativeType) Value {
	switch t {
	case NativeInt32:
		return FromInt32(p.Int32())
	case NativeBoolean:
		return FromBool(p.Bool())
	case NativeObject:
		return FromObjectRef(p.Ref())
	case NativeString:
		return FromStringRef(p.Ref())
	case NativeSymbol:
		return FromSymbolRef(p.Ref())
	case NativeBigInt:
		return FromBigIntRef(p.Ref())
	}
	Violate("Payload.Box", "type %s has no boxed payload form", t)
	return Undefined
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// OperandKind says where an operand lives.
type OperandKind uint8

const (
	OperandRegister OperandKind = iota
	OperandMemory
)

// Operand is the location of a value to unbox: a register-like value or a
// memory address. Both obey the same contract.
type Operand struct {
	kind OperandKind
	reg  Value
	addr *Value
}

// Register returns an operand holding v directly.
func Register(v Value) Operand {
	return Operand{kind: OperandRegister, reg: v}
}

// Address returns an operand reading from p.
func Address(p *Value) Operand {
	if p == nil {
		Violate("Address", "nil address")
	}
	return Operand{kind: OperandMemory, addr: p}
}

// Memory returns an operand reading slot of obj.
func Memory(obj *Object, slot int) Operand {
	return Address(obj.SlotAddress(slot))
}

// Kind returns where the operand lives.
func (o Operand) Kind() OperandKind { return o.kind }

// Load reads the operand's current value.
func (o Operand) Load() Value {
	if o.kind == OperandMemory {
		return *o.addr
	}
	return o.reg
}

// ---------------------------------------------------------------------------
// Infallible and fallible unbox
// ---------------------------------------------------------------------------

func payloadOf(v Value) Payload {
	return Payload(uint64(v) & payloadMask)
}

// Unbox reinterprets the operand's payload as t without reading the tag.
// The caller must have proven the tag matches t; violating that is
// undefined by contract. Panics with a ContractViolation if t cannot be
// unboxed.
func Unbox(op Operand, t NativeType) Payload {
	if !t.Unboxable() {
		Violate("Unbox", "type %s cannot be unboxed", t)
	}
	return payloadOf(op.Load())
}

// UnboxResult carries either a payload or a bailout.
type UnboxResult struct {
	Payload Payload
	Bailout *Bailout
}

// OK returns true if the unbox succeeded.
func (r UnboxResult) OK() bool { return r.Bailout == nil }

// FallibleUnbox checks the operand's tag against t. On a match it returns
// the payload; otherwise it returns a Bailout resuming at snap. There is
// no coercion: a double never matches Int32, even when integral.
// Panics with a ContractViolation if t cannot be unboxed or snap is nil.
func FallibleUnbox(op Operand, t NativeType, snap *Snapshot) UnboxResult {
	want := t.Tag()
	if snap == nil {
		Violate("FallibleUnbox", "no bailout snapshot for %s guard", t)
	}
	v := op.Load()
	if got := v.Tag(); got != want {
		return UnboxResult{Bailout: &Bailout{Snapshot: snap, Expected: t, Observed: got}}
	}
	return UnboxResult{Payload: payloadOf(v)}
}

// UnboxOp is an unbox instruction as emitted by the optimizing compiler.
type UnboxOp struct {
	Input    Operand
	Type     NativeType
	Fallible bool

	// Snapshot is the resume point used when a fallible unbox fails.
	Snapshot *Snapshot
}

// Exec runs the instruction.
func (u *UnboxOp) Exec() UnboxResult {
	if u.Fallible {
		return FallibleUnbox(u.Input, u.Type, u.Snapshot)
	}
	return UnboxResult{Payload: Unbox(u.Input, u.Type)}
}

// Store receives an unboxed payload.
type Store interface {
	StorePayload(p Payload)
}

// UnboxAndStore performs a fallible unbox and writes the payload to dst
// only after the tag check passed. A failing unbox never touches dst.
func UnboxAndStore(dst Store, op Operand, t NativeType, snap *Snapshot) *Bailout {
	r := FallibleUnbox(op, t, snap)
	if !r.OK() {
		return r.Bailout
	}
	dst.StorePayload(r.Payload)
	return nil
}

// Package values implements the tagged SignalType value algebra: coercion to
// double, the type-specific equality rule, and the "error-false" sentinel
// used by the expression evaluator on type mismatch.
package values

import "math"

// Type tags the underlying representation of a Value.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeUint8
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeUint64
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeBool
	TypeStringHandle
	TypeComplexHandle
)

func (t Type) String() string {
	switch t {
	case TypeUint8:
		return "uint8"
	case TypeInt8:
		return "int8"
	case TypeUint16:
		return "uint16"
	case TypeInt16:
		return "int16"
	case TypeUint32:
		return "uint32"
	case TypeInt32:
		return "int32"
	case TypeUint64:
		return "uint64"
	case TypeInt64:
		return "int64"
	case TypeFloat32:
		return "f32"
	case TypeFloat64:
		return "f64"
	case TypeBool:
		return "bool"
	case TypeStringHandle:
		return "string-handle"
	case TypeComplexHandle:
		return "complex-handle"
	default:
		return "unknown"
	}
}

// IsNumeric reports whether the type participates in double-coerced
// arithmetic and comparison (everything except string/complex handles and
// unknown).
func (t Type) IsNumeric() bool {
	switch t {
	case TypeStringHandle, TypeComplexHandle, TypeUnknown:
		return false
	default:
		return true
	}
}

// doubleEqualEpsilon is the absolute-difference tolerance for comparing two
// double-coerced operands, per spec.md §3 ("TimePoint/SignalType").
const doubleEqualEpsilon = 1e-3

// Value is a tagged, immutable signal sample value. Handle fields (string,
// complex) carry an opaque numeric handle into the raw-data buffer manager
// rather than the bytes themselves.
type Value struct {
	typ    Type
	number float64 // valid for every numeric type and bool (0/1)
	handle uint32  // valid for TypeStringHandle / TypeComplexHandle
}

// Type returns the value's tag.
func (v Value) Type() Type { return v.typ }

// Handle returns the opaque raw-data buffer handle for string/complex
// values. Undefined for other types.
func (v Value) Handle() uint32 { return v.handle }

func FromFloat64(v float64) Value { return Value{typ: TypeFloat64, number: v} }
func FromFloat32(v float32) Value { return Value{typ: TypeFloat32, number: float64(v)} }
func FromBool(v bool) Value {
	n := 0.0
	if v {
		n = 1.0
	}
	return Value{typ: TypeBool, number: n}
}
func FromInt64(v int64) Value   { return Value{typ: TypeInt64, number: float64(v)} }
func FromInt32(v int32) Value   { return Value{typ: TypeInt32, number: float64(v)} }
func FromInt16(v int16) Value   { return Value{typ: TypeInt16, number: float64(v)} }
func FromInt8(v int8) Value     { return Value{typ: TypeInt8, number: float64(v)} }
func FromUint64(v uint64) Value { return Value{typ: TypeUint64, number: float64(v)} }
func FromUint32(v uint32) Value { return Value{typ: TypeUint32, number: float64(v)} }
func FromUint16(v uint16) Value { return Value{typ: TypeUint16, number: float64(v)} }
func FromUint8(v uint8) Value   { return Value{typ: TypeUint8, number: float64(v)} }

// FromStringHandle wraps a raw-data buffer handle as a string-typed value.
func FromStringHandle(h uint32) Value { return Value{typ: TypeStringHandle, handle: h} }

// FromComplexHandle wraps a raw-data buffer handle as a complex-typed value.
func FromComplexHandle(h uint32) Value { return Value{typ: TypeComplexHandle, handle: h} }

// AsDouble coerces a numeric or boolean value to float64. The second return
// is false for string/complex/unknown types, per spec.md §4.B: "Boolean op
// over numeric: nonzero ⇒ true" implies the reverse coercion bool→double is
// always defined, but handle types are never numeric.
func (v Value) AsDouble() (float64, bool) {
	if !v.typ.IsNumeric() {
		return 0, false
	}
	return v.number, true
}

// AsBool coerces a numeric/boolean value to bool: nonzero is true.
func (v Value) AsBool() (bool, bool) {
	d, ok := v.AsDouble()
	if !ok {
		return false, false
	}
	return d != 0, true
}

// Equal implements the SignalType-specific equality rule from spec.md §3:
//   - double operands: equal iff |a-b| < 1e-3
//   - string-handle operands: equal iff both are string-typed and handles match
//   - type mismatch: not equal, and not successful (caller must check Equal's
//     second return to distinguish "false" from "error-false")
func Equal(a, b Value) (equal bool, ok bool) {
	if a.typ == TypeStringHandle || b.typ == TypeStringHandle {
		if a.typ != TypeStringHandle || b.typ != TypeStringHandle {
			return false, false // type mismatch ⇒ error-false
		}
		return a.handle == b.handle, true
	}
	if a.typ == TypeComplexHandle || b.typ == TypeComplexHandle {
		if a.typ != TypeComplexHandle || b.typ != TypeComplexHandle {
			return false, false
		}
		return a.handle == b.handle, true
	}

	ad, aok := a.AsDouble()
	bd, bok := b.AsDouble()
	if !aok || !bok {
		return false, false
	}
	return math.Abs(ad-bd) < doubleEqualEpsilon, true
}

// Compare implements the four relational operators (<, <=, >, >=) over
// double-coerced operands. String/complex-handle operands never compare
// relationally; ok is false in that case (error-false).
func Compare(a, b Value) (less, lessEqual, greater, greaterEqual bool, ok bool) {
	ad, aok := a.AsDouble()
	bd, bok := b.AsDouble()
	if !aok || !bok {
		return false, false, false, false, false
	}
	return ad < bd, ad <= bd || math.Abs(ad-bd) < doubleEqualEpsilon, ad > bd, ad >= bd || math.Abs(ad-bd) < doubleEqualEpsilon, true
}

// Arith applies +, -, *, / over double-coerced operands. Division by zero
// and non-numeric operands both yield ok=false (error-false per spec.md §4.D).
type ArithOp uint8

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
)

func Arith(op ArithOp, a, b Value) (result Value, ok bool) {
	ad, aok := a.AsDouble()
	bd, bok := b.AsDouble()
	if !aok || !bok {
		return Value{}, false
	}
	switch op {
	case ArithAdd:
		return FromFloat64(ad + bd), true
	case ArithSub:
		return FromFloat64(ad - bd), true
	case ArithMul:
		return FromFloat64(ad * bd), true
	case ArithDiv:
		if bd == 0 {
			return Value{}, false
		}
		return FromFloat64(ad / bd), true
	default:
		return Value{}, false
	}
}

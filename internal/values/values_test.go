package values

import "testing"

func TestAsDouble(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want float64
		ok   bool
	}{
		{"float64", FromFloat64(3.5), 3.5, true},
		{"uint8", FromUint8(200), 200, true},
		{"bool true", FromBool(true), 1, true},
		{"bool false", FromBool(false), 0, true},
		{"string handle", FromStringHandle(7), 0, false},
		{"complex handle", FromComplexHandle(7), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.AsDouble()
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("AsDouble() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEqualDoubleEpsilon(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Value
		wantEqual bool
		wantOK    bool
	}{
		{"within epsilon", FromFloat64(1.0), FromFloat64(1.0005), true, true},
		{"outside epsilon", FromFloat64(1.0), FromFloat64(1.01), false, true},
		{"int vs float coerced", FromInt32(5), FromFloat64(5.0), true, true},
		{"bool vs numeric", FromBool(true), FromFloat64(1.0), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq, ok := Equal(tt.a, tt.b)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if eq != tt.wantEqual {
				t.Errorf("Equal = %v, want %v", eq, tt.wantEqual)
			}
		})
	}
}

func TestEqualStringHandleIdentity(t *testing.T) {
	a := FromStringHandle(42)
	b := FromStringHandle(42)
	c := FromStringHandle(43)

	if eq, ok := Equal(a, b); !ok || !eq {
		t.Errorf("equal handles should compare equal: eq=%v ok=%v", eq, ok)
	}
	if eq, ok := Equal(a, c); !ok || eq {
		t.Errorf("distinct handles should compare unequal: eq=%v ok=%v", eq, ok)
	}
}

func TestEqualTypeMismatchIsErrorFalse(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
	}{
		{"string vs numeric", FromStringHandle(1), FromFloat64(1.0)},
		{"complex vs string", FromComplexHandle(1), FromStringHandle(1)},
		{"complex vs numeric", FromComplexHandle(1), FromInt32(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq, ok := Equal(tt.a, tt.b)
			if ok {
				t.Fatalf("expected error-false (ok=false) for type mismatch, got ok=true eq=%v", eq)
			}
			if eq {
				t.Errorf("error-false sentinel must report eq=false, got true")
			}
		})
	}
}

func TestCompareRelational(t *testing.T) {
	lt, le, gt, ge, ok := Compare(FromFloat64(1.0), FromFloat64(2.0))
	if !ok {
		t.Fatal("expected ok=true for numeric compare")
	}
	if !lt || !le || gt || ge {
		t.Errorf("1.0 vs 2.0: lt=%v le=%v gt=%v ge=%v", lt, le, gt, ge)
	}
}

func TestCompareHandlesAreErrorFalse(t *testing.T) {
	_, _, _, _, ok := Compare(FromStringHandle(1), FromStringHandle(1))
	if ok {
		t.Error("relational compare over string handles must be error-false")
	}
}

func TestArith(t *testing.T) {
	tests := []struct {
		name string
		op   ArithOp
		a, b Value
		want float64
		ok   bool
	}{
		{"add", ArithAdd, FromFloat64(2), FromFloat64(3), 5, true},
		{"sub", ArithSub, FromFloat64(5), FromFloat64(3), 2, true},
		{"mul", ArithMul, FromFloat64(2), FromFloat64(3), 6, true},
		{"div", ArithDiv, FromFloat64(6), FromFloat64(3), 2, true},
		{"div by zero", ArithDiv, FromFloat64(6), FromFloat64(0), 0, false},
		{"non-numeric operand", ArithAdd, FromStringHandle(1), FromFloat64(1), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Arith(tt.op, tt.a, tt.b)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok {
				if d, _ := got.AsDouble(); d != tt.want {
					t.Errorf("result = %v, want %v", d, tt.want)
				}
			}
		})
	}
}

func TestTypeString(t *testing.T) {
	if TypeFloat64.String() != "f64" {
		t.Errorf("TypeFloat64.String() = %q", TypeFloat64.String())
	}
	if TypeUnknown.String() != "unknown" {
		t.Errorf("TypeUnknown.String() = %q", TypeUnknown.String())
	}
}

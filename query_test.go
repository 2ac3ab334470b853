package main

import (
	"go/token"
	"testing"
)

func TestConstantCompare(t *testing.T) {
	i8 := func(v int64) Constant { return Constant{Value: v, Bits: 8, Signed: true} }
	u8 := func(v int64) Constant { return Constant{Value: v, Bits: 8, Signed: false} }

	cases := []struct {
		name string
		lhs  Constant
		op   QueryOperator
		rhs  Constant
		want bool
	}{
		{"true nonzero", Constant{Value: 3, Bits: 64, Signed: true}, IsTrue, Constant{}, true},
		{"true zero", Constant{Value: 0, Bits: 64, Signed: true}, IsTrue, Constant{}, false},
		{"equal masked", i8(-1), AreEqual, u8(255), true},
		{"not equal", i8(1), AreNotEqual, i8(2), true},
		{"signed less, negative beats positive", i8(-1), IsSignedLessThan, i8(1), true},
		{"unsigned less, -1 masks to 255", u8(-1), IsUnsignedLessThan, u8(1), false},
		{"signed gte equal", i8(5), IsSignedGreaterThanOrEqual, i8(5), true},
		{"unsigned gt", u8(200), IsUnsignedGreaterThan, u8(100), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.lhs.compare(c.op, c.rhs); got != c.want {
				t.Errorf("compare(%v,%v,%v) = %v, want %v", c.lhs, c.op, c.rhs, got, c.want)
			}
		})
	}
}

func TestConstantSignExtendedAndMasked(t *testing.T) {
	c := Constant{Value: -1, Bits: 8, Signed: true}
	if got := c.masked(); got != 0xff {
		t.Errorf("masked() = %#x, want 0xff", got)
	}
	if got := c.signExtended(); got != -1 {
		t.Errorf("signExtended() = %d, want -1", got)
	}

	u := Constant{Value: -1, Bits: 8, Signed: false}
	if got := u.signExtended(); got != -1 {
		t.Errorf("unsigned signExtended() should pass through raw Value, got %d", got)
	}
}

func TestConstantApply(t *testing.T) {
	a := Constant{Value: 10, Bits: 64, Signed: true}
	b := Constant{Value: 3, Bits: 64, Signed: true}

	if got := a.apply(OpAdd, b).Value; got != 13 {
		t.Errorf("10+3 = %d, want 13", got)
	}
	if got := a.apply(OpSub, b).Value; got != 7 {
		t.Errorf("10-3 = %d, want 7", got)
	}
	if got := a.apply(OpMul, b).Value; got != 30 {
		t.Errorf("10*3 = %d, want 30", got)
	}
	if got := a.apply(OpSDiv, b).Value; got != 3 {
		t.Errorf("10/3 = %d, want 3", got)
	}
	// Division by zero must not panic; the original value is left unchanged.
	if got := a.apply(OpSDiv, Constant{Value: 0, Bits: 64, Signed: true}).Value; got != 10 {
		t.Errorf("division by zero should leave Value unchanged, got %d", got)
	}
}

func TestOpStackFoldInto(t *testing.T) {
	in := newOpStackInterner()
	var s *opStack
	s = in.push(s, OpAdd, Constant{Value: 5, Bits: 64, Signed: true})
	s = in.push(s, OpMul, Constant{Value: 2, Bits: 64, Signed: true})

	base := Constant{Value: 1, Bits: 64, Signed: true}
	// mul2 was pushed after add5, so it is the innermost pending operation
	// and is applied first: (1 * 2) + 5.
	got := s.foldInto(base)
	want := Constant{Value: 7, Bits: 64, Signed: true}
	if got != want {
		t.Errorf("foldInto = %+v, want %+v", got, want)
	}
}

func TestOpStackInterningIsPointerStable(t *testing.T) {
	in := newOpStackInterner()
	operand := Constant{Value: 7, Bits: 64, Signed: true}
	a := in.push(nil, OpAdd, operand)
	b := in.push(nil, OpAdd, operand)
	if a != b {
		t.Errorf("pushing the same (parent, op, operand) twice should return the same *opStack")
	}
	c := in.push(nil, OpSub, operand)
	if a == c {
		t.Errorf("pushing a different op should intern a distinct *opStack")
	}
}

func TestReverseComparison(t *testing.T) {
	pairs := []struct{ op, want QueryOperator }{
		{IsSignedGreaterThan, IsSignedLessThan},
		{IsSignedLessThan, IsSignedGreaterThan},
		{IsUnsignedGreaterThanOrEqual, IsUnsignedLessThanOrEqual},
		{IsUnsignedLessThanOrEqual, IsUnsignedGreaterThanOrEqual},
		{AreEqual, AreEqual}, // not an ordered comparison: passed through unchanged
	}
	for _, p := range pairs {
		if got := reverseComparison(p.op); got != p.want {
			t.Errorf("reverseComparison(%v) = %v, want %v", p.op, got, p.want)
		}
	}
	// Reversing twice must return to the original operator.
	if got := reverseComparison(reverseComparison(IsSignedGreaterThanOrEqual)); got != IsSignedGreaterThanOrEqual {
		t.Errorf("reverseComparison should be its own inverse, got %v", got)
	}
}

func TestCmpOperatorFor(t *testing.T) {
	if op, ok := cmpOperatorFor(token.GTR, true); !ok || op != IsSignedGreaterThan {
		t.Errorf("GTR signed = (%v,%v), want (IsSignedGreaterThan,true)", op, ok)
	}
	if op, ok := cmpOperatorFor(token.GTR, false); !ok || op != IsUnsignedGreaterThan {
		t.Errorf("GTR unsigned = (%v,%v), want (IsUnsignedGreaterThan,true)", op, ok)
	}
	if _, ok := cmpOperatorFor(token.ADD, true); ok {
		t.Errorf("ADD is not a comparison token, expected ok=false")
	}
}

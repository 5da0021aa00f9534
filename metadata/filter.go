package metadata

import (
	"cmp"
	"strings"
)

// Matches reports whether the attribute named by f.Key satisfies f.
// A feature without that attribute never matches.
func (f *Filter) Matches(doc Document) bool {
	v, ok := doc[f.Key]
	if !ok {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return Equal(v, f.Value)
	case OpNotEqual:
		return !Equal(v, f.Value)
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		c, ok := Compare(v, f.Value)
		if !ok {
			return false
		}
		switch f.Operator {
		case OpGreaterThan:
			return c > 0
		case OpGreaterEqual:
			return c >= 0
		case OpLessThan:
			return c < 0
		default:
			return c <= 0
		}
	case OpIn:
		if f.Value.Kind != KindArray {
			return false
		}
		for _, item := range f.Value.A {
			if Equal(v, item) {
				return true
			}
		}
		return false
	case OpContains:
		return v.Kind == KindString && f.Value.Kind == KindString &&
			strings.Contains(v.s.Value(), f.Value.s.Value())
	default:
		return false
	}
}

// Equal reports whether two attribute values are equal. Ints and floats
// compare by numeric value, arrays element by element. Null only equals
// null.
func Equal(a, b Value) bool {
	if a.Kind == KindArray || b.Kind == KindArray {
		if a.Kind != b.Kind || len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !Equal(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	}
	if a.Kind == KindNull || b.Kind == KindNull {
		return a.Kind == b.Kind
	}
	c, ok := Compare(a, b)
	return ok && c == 0
}

// Compare orders two scalar attribute values. ok is false when they are not
// comparable: different kinds other than int and float, nulls and arrays.
// Strings compare bytewise and false sorts before true.
func Compare(a, b Value) (c int, ok bool) {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		return cmp.Compare(a.I64, b.I64), true
	case isNumber(a) && isNumber(b):
		return cmp.Compare(asFloat64(a), asFloat64(b)), true
	case a.Kind != b.Kind:
		return 0, false
	}

	switch a.Kind {
	case KindString:
		if a.s == b.s {
			return 0, true
		}
		return strings.Compare(a.s.Value(), b.s.Value()), true
	case KindBool:
		switch {
		case a.B == b.B:
			return 0, true
		case b.B:
			return -1, true
		default:
			return 1, true
		}
	default:
		return 0, false
	}
}

func isNumber(v Value) bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func asFloat64(v Value) float64 {
	if v.Kind == KindInt {
		return float64(v.I64)
	}
	return v.F64
}

package fieldpath

import (
	"reflect"
	"time"
)

// normalize dereferences pointers; nil pointers become nil.
func normalize(x any) any {
	if x == nil {
		return nil
	}
	return Interface(reflect.ValueOf(x))
}

// ToFloat64 converts any numeric value to float64.
func ToFloat64(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// integer splits an integer value into its signed or unsigned form.
func integer(v any) (i int64, u uint64, signed, ok bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), 0, true, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return 0, rv.Uint(), false, true
	}
	return 0, 0, false, false
}

// compareNumbers orders two numbers. Integers compare exactly; anything
// involving a float compares as float64.
func compareNumbers(a, b any) (int, bool) {
	ai, au, as, aok := integer(a)
	bi, bu, bs, bok := integer(b)
	if aok && bok {
		switch {
		case as && bs:
			return cmp3(ai < bi, ai > bi), true
		case !as && !bs:
			return cmp3(au < bu, au > bu), true
		case as:
			if ai < 0 {
				return -1, true
			}
			return cmp3(uint64(ai) < bu, uint64(ai) > bu), true
		default:
			if bi < 0 {
				return 1, true
			}
			return cmp3(au < uint64(bi), au > uint64(bi)), true
		}
	}
	af, aok := ToFloat64(a)
	bf, bok := ToFloat64(b)
	if !aok || !bok {
		return 0, false
	}
	return cmp3(af < bf, af > bf), true
}

func toString(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

// Equal compares a field value with a query value. Numbers compare by value
// across types, strings across named string types.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if _, ok := ToFloat64(a); ok {
		c, ok := compareNumbers(a, b)
		return ok && c == 0
	}
	if as, ok := toString(a); ok {
		bs, ok := toString(b)
		return ok && as == bs
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders a against b. ok is false when the values are not
// comparable; nil sorts before everything else.
func Compare(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	switch {
	case a == nil && b == nil:
		return 0, true
	case a == nil:
		return -1, true
	case b == nil:
		return 1, true
	}

	if _, ok := ToFloat64(a); ok {
		return compareNumbers(a, b)
	}
	if as, ok := toString(a); ok {
		bs, ok := toString(b)
		if !ok {
			return 0, false
		}
		return cmp3(as < bs, as > bs), true
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return cmp3(at.Before(bt), at.After(bt)), true
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return cmp3(!ab && bb, ab && !bb), true
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// Package fieldpath resolves dotted field paths against Go values for the
// backends that evaluate queries in process.
//
// A path segment matches a struct field by its db, json or bson tag, then by
// its Go name ignoring case. Paths walk through pointers, structs, maps with
// string keys and slices; a slice yields each of its elements.
package fieldpath

import (
	"fmt"
	"reflect"
	"strings"
)

var tagKeys = []string{"db", "json", "bson"}

// Split breaks a dotted path into segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// fieldIndex finds the exported field of struct type t named seg.
func fieldIndex(t reflect.Type, seg string) ([]int, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		for _, key := range tagKeys {
			if tagName(f.Tag.Get(key)) == seg {
				return f.Index, true
			}
		}
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if strings.EqualFold(f.Name, seg) {
			return f.Index, true
		}
	}
	// promoted fields of embedded structs
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			if idx, ok := fieldIndex(f.Type, seg); ok {
				return append([]int{i}, idx...), true
			}
		}
	}
	return nil, false
}

func tagName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

// Check reports whether path can be resolved on values of type t.
func Check(t reflect.Type, path string) error {
	segs := Split(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty field path")
	}
	for len(segs) > 0 {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array:
			t = t.Elem()
			continue
		case reflect.Interface:
			return nil
		case reflect.Struct:
			idx, ok := fieldIndex(t, segs[0])
			if !ok {
				return fmt.Errorf("unknown field %q in %s", segs[0], path)
			}
			t = t.FieldByIndex(idx).Type
		case reflect.Map:
			if t.Key().Kind() != reflect.String {
				return fmt.Errorf("cannot address %q in %s", segs[0], path)
			}
			t = t.Elem()
		default:
			return fmt.Errorf("cannot address %q in %s: %s is not a container", segs[0], path, t)
		}
		segs = segs[1:]
	}
	return nil
}

// Values returns every value reached by path from v. Slices met on the way
// fan out to their elements; when expandLeaf is set a slice at the end of the
// path fans out too. A nil pointer at the end of the path yields an invalid
// reflect.Value, read as nil by Interface.
func Values(v reflect.Value, path string, expandLeaf bool) []reflect.Value {
	var out []reflect.Value
	collect(v, Split(path), expandLeaf, &out)
	return out
}

func collect(v reflect.Value, segs []string, expandLeaf bool, out *[]reflect.Value) {
	v = indirect(v)
	if len(segs) == 0 {
		if expandLeaf && v.IsValid() && isList(v) {
			for i := 0; i < v.Len(); i++ {
				collect(v.Index(i), nil, false, out)
			}
			return
		}
		*out = append(*out, v)
		return
	}
	if !v.IsValid() {
		return
	}

	switch v.Kind() {
	case reflect.Struct:
		idx, ok := fieldIndex(v.Type(), segs[0])
		if !ok {
			return
		}
		collect(v.FieldByIndex(idx), segs[1:], expandLeaf, out)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return
		}
		mv := v.MapIndex(reflect.ValueOf(segs[0]).Convert(v.Type().Key()))
		if mv.IsValid() {
			collect(mv, segs[1:], expandLeaf, out)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			collect(v.Index(i), segs, expandLeaf, out)
		}
	}
}

func isList(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice:
		return v.Type().Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return true
	}
	return false
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// Interface unwraps v, mapping invalid values to nil.
func Interface(v reflect.Value) any {
	v = indirect(v)
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

// First returns the first value reached by path, or nil.
func First(v reflect.Value, path string) any {
	vals := Values(v, path, false)
	if len(vals) == 0 {
		return nil
	}
	return Interface(vals[0])
}

// Set assigns value to the field at path below the addressable value v.
// Nil pointers and maps on the way are allocated.
func Set(v reflect.Value, path string, value any) error {
	segs := Split(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty field path")
	}
	return set(v, segs, value, path)
}

func set(v reflect.Value, segs []string, value any, path string) error {
	if len(segs) == 0 {
		return assign(v, value, path)
	}
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			if !v.CanSet() {
				return fmt.Errorf("cannot set %s", path)
			}
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		idx, ok := fieldIndex(v.Type(), segs[0])
		if !ok {
			return fmt.Errorf("unknown field %q in %s", segs[0], path)
		}
		return set(v.FieldByIndex(idx), segs[1:], value, path)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("cannot address %q in %s", segs[0], path)
		}
		if v.IsNil() {
			v.Set(reflect.MakeMap(v.Type()))
		}
		key := reflect.ValueOf(segs[0]).Convert(v.Type().Key())
		elem := reflect.New(v.Type().Elem()).Elem()
		if cur := v.MapIndex(key); cur.IsValid() {
			elem.Set(cur)
		}
		if err := set(elem, segs[1:], value, path); err != nil {
			return err
		}
		v.SetMapIndex(key, elem)
		return nil
	}
	return fmt.Errorf("cannot address %q in %s: %s is not a struct or map", segs[0], path, v.Type())
}

func assign(dst reflect.Value, value any, path string) error {
	if !dst.CanSet() {
		return fmt.Errorf("cannot set %s", path)
	}
	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(value)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if dst.Kind() == reflect.Pointer && src.Type().AssignableTo(dst.Type().Elem()) {
		p := reflect.New(dst.Type().Elem())
		p.Elem().Set(src)
		dst.Set(p)
		return nil
	}
	if convertible(src, dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s (%s)", value, path, dst.Type())
}

func convertible(src reflect.Value, t reflect.Type) bool {
	if !src.Type().ConvertibleTo(t) {
		return false
	}
	sk, tk := kindClass(src.Kind()), kindClass(t.Kind())
	if sk == "" || sk != tk {
		return false
	}
	if sk == "number" && isFloat(src.Kind()) && !isFloat(t.Kind()) {
		f := src.Float()
		return f == float64(int64(f))
	}
	return true
}

func kindClass(k reflect.Kind) string {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	}
	return ""
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// Copy copies the value at path from src into dst, both of the same type.
// Containers on the way are created in dst; a slice on the path is copied
// whole.
func Copy(dst, src reflect.Value, path string) {
	copyPath(dst, src, Split(path))
}

func copyPath(dst, src reflect.Value, segs []string) {
	if len(segs) == 0 {
		dst.Set(src)
		return
	}
	switch src.Kind() {
	case reflect.Pointer:
		if src.IsNil() {
			return
		}
		if dst.IsNil() {
			dst.Set(reflect.New(src.Type().Elem()))
		}
		copyPath(dst.Elem(), src.Elem(), segs)
	case reflect.Struct:
		idx, ok := fieldIndex(src.Type(), segs[0])
		if !ok {
			return
		}
		copyPath(dst.FieldByIndex(idx), src.FieldByIndex(idx), segs[1:])
	case reflect.Map:
		if src.IsNil() || src.Type().Key().Kind() != reflect.String {
			return
		}
		key := reflect.ValueOf(segs[0]).Convert(src.Type().Key())
		mv := src.MapIndex(key)
		if !mv.IsValid() {
			return
		}
		if dst.IsNil() {
			dst.Set(reflect.MakeMap(src.Type()))
		}
		elem := reflect.New(src.Type().Elem()).Elem()
		if cur := dst.MapIndex(key); cur.IsValid() {
			elem.Set(cur)
		}
		copyPath(elem, mv, segs[1:])
		dst.SetMapIndex(key, elem)
	default:
		dst.Set(src)
	}
}

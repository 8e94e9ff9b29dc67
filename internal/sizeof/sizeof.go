// Package sizeof approximates the resident byte footprint of a value.
//
// The estimate is intentionally cheap and rough: it exists to drive
// memory-pressure eviction, not to account allocations precisely.
// Strings count 2 bytes per character, booleans 4, numbers 8. Mappings and
// structs sum their fields; long sequences are sampled and extrapolated.
package sizeof

import (
	"reflect"
	"unicode/utf8"
)

const (
	// maxDepth bounds the walk; deeper subtrees contribute 0.
	maxDepth = 10

	// sampleLen is the prefix measured for long sequences before linear
	// extrapolation over the full length.
	sampleLen = 50

	boolBytes   = 4
	numberBytes = 8
)

// Estimate returns a nonnegative approximation of the bytes held by v.
// It terminates on cyclic graphs: a reference seen earlier on the current
// path contributes 0 on revisit.
func Estimate(v any) int64 {
	if v == nil {
		return 0
	}
	visited := make(map[uintptr]struct{})
	return walk(reflect.ValueOf(v), 0, visited)
}

func walk(v reflect.Value, depth int, visited map[uintptr]struct{}) int64 {
	if !v.IsValid() || depth > maxDepth {
		return 0
	}

	switch v.Kind() {
	case reflect.Bool:
		return boolBytes

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return numberBytes

	case reflect.Complex64, reflect.Complex128:
		return 2 * numberBytes

	case reflect.String:
		return 2 * int64(utf8.RuneCountInString(v.String()))

	case reflect.Pointer:
		if v.IsNil() {
			return 0
		}
		ptr := v.Pointer()
		if _, seen := visited[ptr]; seen {
			return 0
		}
		visited[ptr] = struct{}{}
		n := walk(v.Elem(), depth, visited)
		delete(visited, ptr)
		return n

	case reflect.Interface:
		if v.IsNil() {
			return 0
		}
		return walk(v.Elem(), depth, visited)

	case reflect.Slice:
		if v.IsNil() {
			return 0
		}
		ptr := v.Pointer()
		if _, seen := visited[ptr]; seen {
			return 0
		}
		visited[ptr] = struct{}{}
		n := sequence(v, depth, visited)
		delete(visited, ptr)
		return n

	case reflect.Array:
		return sequence(v, depth, visited)

	case reflect.Map:
		if v.IsNil() {
			return 0
		}
		ptr := v.Pointer()
		if _, seen := visited[ptr]; seen {
			return 0
		}
		visited[ptr] = struct{}{}
		var n int64
		iter := v.MapRange()
		for iter.Next() {
			n += walk(iter.Key(), depth+1, visited)
			n += walk(iter.Value(), depth+1, visited)
		}
		delete(visited, ptr)
		return n

	case reflect.Struct:
		var n int64
		for i := 0; i < v.NumField(); i++ {
			// Field name weight, then the field value itself.
			n += 2 * int64(len(v.Type().Field(i).Name))
			n += walk(v.Field(i), depth+1, visited)
		}
		return n

	default:
		// Funcs, channels and other opaque kinds carry no measurable payload.
		return 0
	}
}

// sequence sums element sizes. Sequences of sampleLen or more elements are
// measured on their prefix and extrapolated linearly.
func sequence(v reflect.Value, depth int, visited map[uintptr]struct{}) int64 {
	length := v.Len()
	if length == 0 {
		return 0
	}
	measured := length
	if length >= sampleLen {
		measured = sampleLen
	}
	var n int64
	for i := 0; i < measured; i++ {
		n += walk(v.Index(i), depth+1, visited)
	}
	if measured < length {
		n = n * int64(length) / int64(measured)
	}
	return n
}

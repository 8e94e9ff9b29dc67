// Package fingerprint derives deterministic string keys from arbitrary inputs.
//
// Two inputs that are structurally equal modulo map-key ordering produce the
// same fingerprint. The pipeline renders the input into a canonical string
// ({k1:v1,k2:v2} for mappings, [a,b,c] for sequences, primitives in their
// textual form) and hashes it with a 128-bit digest emitted as lowercase hex.
package fingerprint

import (
	"crypto/md5"
	"encoding"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// MaxDepth bounds the canonicalization walk. Structures nested deeper are
// rejected rather than truncated, so distinct inputs cannot silently share
// a fingerprint.
const MaxDepth = 10

var (
	// ErrTooDeep is returned when the input nests beyond MaxDepth.
	ErrTooDeep = errors.New("fingerprint: structure exceeds max depth")

	// ErrUnsupported is returned for values with no canonical text form
	// (functions, channels, unsafe pointers).
	ErrUnsupported = errors.New("fingerprint: unsupported value type")
)

// Key returns the fingerprint for v: the 128-bit digest of its canonical
// form, as 32 lowercase hex characters.
func Key(v any) (string, error) {
	s, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}

// Canonical renders v into its canonical string form. Mapping entries are
// ordered lexicographically by key and entries with absent (nil) values are
// dropped; sequence order is preserved.
func Canonical(v any) (string, error) {
	var b strings.Builder
	if err := render(&b, reflect.ValueOf(v), 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func render(b *strings.Builder, v reflect.Value, depth int) error {
	if !v.IsValid() {
		b.WriteString("null")
		return nil
	}
	if k := v.Kind(); (k == reflect.Pointer || k == reflect.Interface) && v.IsNil() {
		b.WriteString("null")
		return nil
	}

	// Types with a defined textual encoding take precedence over their
	// structural form (time.Time, net.IP, custom ID types).
	if v.CanInterface() {
		if tm, ok := v.Interface().(encoding.TextMarshaler); ok {
			data, err := tm.MarshalText()
			if err != nil {
				return fmt.Errorf("fingerprint: %T.MarshalText: %w", v.Interface(), err)
			}
			b.Write(data)
			return nil
		}
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return render(b, v.Elem(), depth)

	case reflect.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(v.Int(), 10))
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString(strconv.FormatUint(v.Uint(), 10))
		return nil

	case reflect.Float32, reflect.Float64:
		b.WriteString(formatFloat(v.Float()))
		return nil

	case reflect.String:
		b.WriteString(v.String())
		return nil

	case reflect.Slice, reflect.Array:
		if depth >= MaxDepth {
			return ErrTooDeep
		}
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := render(b, v.Index(i), depth+1); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil

	case reflect.Map:
		if depth >= MaxDepth {
			return ErrTooDeep
		}
		return renderMap(b, v, depth)

	case reflect.Struct:
		if depth >= MaxDepth {
			return ErrTooDeep
		}
		return renderStruct(b, v, depth)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, v.Kind())
	}
}

// renderMap writes {k1:v1,k2:v2} with keys sorted lexicographically by their
// own canonical form. Entries whose value is an absent (nil) pointer,
// interface, map, or slice are dropped.
func renderMap(b *strings.Builder, v reflect.Value, depth int) error {
	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		mv := iter.Value()
		if absent(mv) {
			continue
		}
		var kb strings.Builder
		if err := render(&kb, iter.Key(), depth+1); err != nil {
			return err
		}
		entries = append(entries, entry{key: kb.String(), val: mv})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.key)
		b.WriteByte(':')
		if err := render(b, e.val, depth+1); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

// renderStruct treats a struct as a mapping of its exported fields, sorted
// by field name. Unexported fields are skipped; they are not part of the
// value's observable shape.
func renderStruct(b *strings.Builder, v reflect.Value, depth int) error {
	t := v.Type()
	type entry struct {
		name string
		val  reflect.Value
	}
	entries := make([]entry, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		fv := v.Field(i)
		if absent(fv) {
			continue
		}
		entries = append(entries, entry{name: f.Name, val: fv})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.name)
		b.WriteByte(':')
		if err := render(b, e.val, depth+1); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

// absent reports whether a mapping value should be dropped from the
// canonical form, mirroring how absent entries do not change a key.
func absent(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// formatFloat renders integer-valued floats without a fractional part and
// keeps full precision for everything else. Large magnitudes stay in plain
// base-10, never scientific notation.
func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Package deepcopy produces detached copies of cached values.
package deepcopy

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Clone returns a deep copy of v via a msgpack round-trip. The copy shares
// no mutable state with the original, so callers may modify it freely
// without affecting the cached value.
//
// Values msgpack cannot encode (functions, channels) return an error;
// callers decide whether to fall back to the shared reference.
func Clone[V any](v V) (V, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("deepcopy: marshal: %w", err)
	}
	var out V
	if err := msgpack.Unmarshal(data, &out); err != nil {
		var zero V
		return zero, fmt.Errorf("deepcopy: unmarshal: %w", err)
	}
	return out, nil
}

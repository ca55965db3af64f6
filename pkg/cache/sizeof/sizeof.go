// Package sizeof estimates the memory footprint of cached values for
// budget accounting. Estimates are approximate but stable for a given value.
package sizeof

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// scalarSize is charged for every numeric scalar regardless of width.
const scalarSize = 8

// minSize is the floor charged per entry, so empty values still fill a tier.
const minSize = 1

// Estimate returns the byte size charged for v.
//
// Strings count their UTF-8 length, numeric scalars a fixed 8 bytes and
// numeric slices or arrays their raw buffer size. Anything else is measured by
// its JSON encoding. No value is charged less than one byte.
func Estimate(v any) (int64, error) {
	n, err := estimate(v)
	if err != nil {
		return 0, err
	}
	return max(n, minSize), nil
}

func estimate(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		return int64(len(x)), nil
	case []byte:
		return int64(len(x)), nil
	case json.RawMessage:
		return int64(len(x)), nil
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr,
		float32, float64:
		return scalarSize, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return int64(rv.Len()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return scalarSize, nil
	case reflect.Slice, reflect.Array:
		if isNumeric(rv.Type().Elem().Kind()) {
			return int64(rv.Len()) * int64(rv.Type().Elem().Size()), nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("estimate size: %w", err)
	}
	return int64(len(data)), nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
)

// tagged pairs a value with its Go type so that values sharing a JSON
// encoding, such as 1 and 1.0 or []byte("hi") and "aGk=", hash apart.
type tagged struct {
	T string `json:"t"`
	V any    `json:"v"`
}

// GenerateKey derives a cache key from call arguments. Keyword order does not
// matter since map keys are encoded sorted.
func GenerateKey(args []any, kwargs map[string]any) string {
	tArgs := make([]any, len(args))
	for i, a := range args {
		tArgs[i] = tag(a)
	}
	tKwargs := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		tKwargs[k] = tag(v)
	}

	payload := struct {
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs"`
	}{tArgs, tKwargs}

	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v|%#v", tArgs, tKwargs))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func tag(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	typ := rv.Type().String()
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return tagged{typ, rv.Bytes()}
		}
		fallthrough
	case reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = tag(rv.Index(i).Interface())
		}
		return tagged{typ, items}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = tag(iter.Value().Interface())
		}
		return tagged{typ, m}
	}
	return tagged{typ, v}
}

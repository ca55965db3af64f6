package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKeyStable(t *testing.T) {
	a := GenerateKey([]any{"prompt", 3}, map[string]any{"model": "llama3", "temperature": 0.2})
	b := GenerateKey([]any{"prompt", 3}, map[string]any{"temperature": 0.2, "model": "llama3"})

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestGenerateKeyDistinguishesArguments(t *testing.T) {
	inputs := []struct {
		args   []any
		kwargs map[string]any
	}{
		{nil, nil},
		{[]any{"a"}, nil},
		{[]any{"a", "b"}, nil},
		{[]any{"ab"}, nil},
		{nil, map[string]any{"a": "b"}},
		{[]any{"a"}, map[string]any{"x": 1}},
		{[]any{"a"}, map[string]any{"x": "1"}},
		{[]any{map[string]any{"x": 1}}, nil},
	}
	keys := make(map[string]bool)
	for _, in := range inputs {
		keys[GenerateKey(in.args, in.kwargs)] = true
	}
	assert.Len(t, keys, 8)
}

func TestGenerateKeyDistinguishesTypes(t *testing.T) {
	assert.NotEqual(t, GenerateKey([]any{1}, nil), GenerateKey([]any{1.0}, nil))
	assert.NotEqual(t, GenerateKey([]any{[]byte("hi")}, nil), GenerateKey([]any{"aGk="}, nil))
	assert.NotEqual(t, GenerateKey(nil, map[string]any{"n": int64(2)}), GenerateKey(nil, map[string]any{"n": 2.0}))
	assert.NotEqual(t,
		GenerateKey([]any{map[string]any{"x": []any{1}}}, nil),
		GenerateKey([]any{map[string]any{"x": []any{1.0}}}, nil))
	assert.Equal(t, GenerateKey([]any{[]byte("hi")}, nil), GenerateKey([]any{[]byte("hi")}, nil))
}

func TestGenerateKeyNilEqualsEmpty(t *testing.T) {
	assert.Equal(t, GenerateKey(nil, nil), GenerateKey([]any{}, map[string]any{}))
}

func TestGenerateKeyUnmarshalableArgument(t *testing.T) {
	ch := make(chan int)
	k := GenerateKey([]any{ch}, nil)
	assert.Len(t, k, 64)
}

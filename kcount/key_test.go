package kcount

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestBucketKeyIsOrderIndependent(t *testing.T) {
	a := []KeyedValue{
		{ID: "user", Value: "u1"},
		{ID: "card", Value: map[string]any{"bin": "4242", "country": "DE"}},
	}
	b := []KeyedValue{a[1], a[0]}

	k1, err := BucketKey(42, "fn-1", a)
	assert.NoError(t, err)
	k2, err := BucketKey(42, "fn-1", b)
	assert.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Equal(t, 32, len(k1))
}

func TestBucketKeyDistinguishesInputs(t *testing.T) {
	base := []KeyedValue{{ID: "user", Value: "u1"}}
	k, err := BucketKey(1, "fn", base)
	assert.NoError(t, err)

	tests := []struct {
		name   string
		bucket int64
		fn     string
		values []KeyedValue
	}{
		{"other bucket", 2, "fn", base},
		{"other counter", 1, "fn-2", base},
		{"other value", 1, "fn", []KeyedValue{{ID: "user", Value: "u2"}}},
		{"no values", 1, "fn", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			other, err := BucketKey(tc.bucket, tc.fn, tc.values)
			assert.NoError(t, err)
			assert.NotEqual(t, k, other)
		})
	}
}

func TestStableJSONNormalizesStrings(t *testing.T) {
	composed, err := StableJSON("café")
	assert.NoError(t, err)
	decomposed, err := StableJSON("café")
	assert.NoError(t, err)
	assert.Equal(t, composed, decomposed)

	raw, err := StableJSON(map[string]any{"b": 1, "a": "<x>"})
	assert.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1}`, string(raw))
}

func TestElementKey(t *testing.T) {
	k1, err := ElementKey([]KeyedValue{{ID: "a", Value: "x"}, {ID: "b", Value: "y"}})
	assert.NoError(t, err)
	k2, err := ElementKey([]KeyedValue{{ID: "b", Value: "y"}, {ID: "a", Value: "x"}})
	assert.NoError(t, err)
	assert.Equal(t, k1, k2)
}

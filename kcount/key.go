package kcount

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// KeyedValue is a resolved dependency value tagged with the id of the data
// path it came from. Values are ordered by ID before hashing so the order of
// inputs in a graph never changes a key.
type KeyedValue struct {
	ID    string
	Value any
}

// StableJSON encodes v deterministically: object keys sorted, strings NFC
// normalized, no HTML escaping and times as RFC3339 with nanoseconds.
func StableJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalize(v)); err != nil {
		return nil, fmt.Errorf("stable json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = normalize(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[norm.NFC.String(k)] = normalize(el)
		}
		return out
	}
	return v
}

// sortedJSON encodes the values of kvs ordered by ID, then by encoding.
func sortedJSON(kvs []KeyedValue) ([]byte, error) {
	type encoded struct {
		id  string
		raw json.RawMessage
	}
	items := make([]encoded, len(kvs))
	for i, kv := range kvs {
		raw, err := StableJSON(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("value of %s: %w", kv.ID, err)
		}
		items[i] = encoded{id: kv.ID, raw: raw}
	}
	slices.SortFunc(items, func(a, b encoded) int {
		if c := cmp.Compare(a.id, b.id); c != 0 {
			return c
		}
		return bytes.Compare(a.raw, b.raw)
	})

	raws := make([]json.RawMessage, len(items))
	for i, it := range items {
		raws[i] = it.raw
	}
	return json.Marshal(raws)
}

// BucketKey is sha256(timeBucket | counterID | sorted count-by values).
func BucketKey(timeBucket int64, counterID string, countBy []KeyedValue) ([]byte, error) {
	values, err := sortedJSON(countBy)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(strconv.AppendInt(nil, timeBucket, 10))
	h.Write([]byte{'|'})
	h.Write([]byte(counterID))
	h.Write([]byte{'|'})
	h.Write(values)
	return h.Sum(nil), nil
}

// ElementKey is the sketch element for a set of count-unique values.
func ElementKey(unique []KeyedValue) ([]byte, error) {
	values, err := sortedJSON(unique)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(values)
	return sum[:], nil
}

// BucketKeys returns the keys of the given buckets, in the same order.
func BucketKeys(buckets []int64, counterID string, countBy []KeyedValue) ([][]byte, error) {
	keys := make([][]byte, len(buckets))
	for i, b := range buckets {
		key, err := BucketKey(b, counterID, countBy)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

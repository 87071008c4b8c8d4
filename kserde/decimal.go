package kserde

import (
	"fmt"
	"strconv"
)

// DecimalInt64Serializer encodes int64 as a base-10 ASCII string, the format
// counting stores use for plain counters.
var DecimalInt64Serializer = func(data int64) ([]byte, error) {
	return strconv.AppendInt(nil, data, 10), nil
}

// DecimalInt64Deserializer parses a base-10 ASCII integer. Empty input is 0.
var DecimalInt64Deserializer = func(data []byte) (int64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decimal int64 deserialization: %w", err)
	}
	return v, nil
}

// DecimalInt64 is a SerDe for int64 counters stored as decimal strings.
var DecimalInt64 = Serde[int64]{
	Serializer:   DecimalInt64Serializer,
	Deserializer: DecimalInt64Deserializer,
}

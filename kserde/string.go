package kserde

// KeySerializer encodes a record key. An empty key becomes a nil key so the
// producer picks the partition.
var KeySerializer Serializer[string] = func(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	return []byte(key), nil
}

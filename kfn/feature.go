package kfn

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/birdayz/trench/kschema"
)

// FeatureRow is one audit row for the analytical sink. Exactly one typed
// value column is set for scalar features. Error is set instead when the
// value did not match the feature schema.
type FeatureRow struct {
	EventID     string       `json:"eventId"`
	EventType   string       `json:"eventType"`
	Timestamp   time.Time    `json:"timestamp"`
	FnID        string       `json:"fnId"`
	FeatureID   string       `json:"featureId"`
	FeatureType kschema.Kind `json:"featureType"`
	EntityType  string       `json:"entityType,omitempty"`
	EntityID    string       `json:"entityId,omitempty"`

	// Value is the JSON encoding of the parsed value.
	Value       string   `json:"value,omitempty"`
	ValueInt    *int64   `json:"valueInt,omitempty"`
	ValueFloat  *float64 `json:"valueFloat,omitempty"`
	ValueString *string  `json:"valueString,omitempty"`
	ValueBool   *bool    `json:"valueBool,omitempty"`
	Error       *string  `json:"error,omitempty"`
}

// setValue fills the value columns from a parsed value.
func (r *FeatureRow) setValue(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.Value = string(raw)

	switch val := v.(type) {
	case int32:
		n := int64(val)
		r.ValueInt = &n
	case int64:
		r.ValueInt = &val
	case float64:
		r.ValueFloat = &val
	case string:
		r.ValueString = &val
	case bool:
		r.ValueBool = &val
	case time.Time:
		s := val.UTC().Format(time.RFC3339Nano)
		r.ValueString = &s
	case kschema.Entity:
		s := val.String()
		r.ValueString = &s
	}
	return nil
}

// FeatureKey is the counting-store key of a cached entity feature.
func FeatureKey(featureID string, entity kschema.Entity) []byte {
	h := sha256.New()
	h.Write([]byte("feature|"))
	h.Write([]byte(featureID))
	h.Write([]byte{'|'})
	h.Write([]byte(entity.Type))
	h.Write([]byte{'|'})
	h.Write([]byte(entity.ID))
	return h.Sum(nil)
}

package kfn

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// JSONDecoder returns a decode func for DecodeConfig/DecodeInputs over raw
// JSON. Empty input decodes to the zero value.
func JSONDecoder(raw json.RawMessage) func(any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return func(v any) error {
		return json.Unmarshal(raw, v)
	}
}

// YAMLDecoder is JSONDecoder for a YAML node.
func YAMLDecoder(node *yaml.Node) func(any) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	return node.Decode
}

func (d *FnDef) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID           string          `json:"id"`
		Type         FnType          `json:"type"`
		Name         string          `json:"name"`
		ReturnSchema json.RawMessage `json:"returnSchema"`
		Config       json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	kind, err := Lookup(raw.Type)
	if err != nil {
		return fmt.Errorf("function %q: %w", raw.ID, err)
	}
	config, err := kind.DecodeConfig(JSONDecoder(raw.Config))
	if err != nil {
		return fmt.Errorf("function %q: %w", raw.ID, err)
	}

	*d = FnDef{ID: raw.ID, Type: raw.Type, Name: raw.Name, Config: config}
	if dec := JSONDecoder(raw.ReturnSchema); dec != nil {
		if err := dec(&d.ReturnSchema); err != nil {
			return fmt.Errorf("function %q: return schema: %w", raw.ID, err)
		}
	}
	return nil
}

func (d *FnDef) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ID           string    `yaml:"id"`
		Type         FnType    `yaml:"type"`
		Name         string    `yaml:"name"`
		ReturnSchema yaml.Node `yaml:"returnSchema"`
		Config       yaml.Node `yaml:"config"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	kind, err := Lookup(raw.Type)
	if err != nil {
		return fmt.Errorf("function %q: %w", raw.ID, err)
	}
	config, err := kind.DecodeConfig(YAMLDecoder(&raw.Config))
	if err != nil {
		return fmt.Errorf("function %q: %w", raw.ID, err)
	}

	*d = FnDef{ID: raw.ID, Type: raw.Type, Name: raw.Name, Config: config}
	if dec := YAMLDecoder(&raw.ReturnSchema); dec != nil {
		if err := dec(&d.ReturnSchema); err != nil {
			return fmt.Errorf("function %q: return schema: %w", raw.ID, err)
		}
	}
	return nil
}

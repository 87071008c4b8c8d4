package kschema

import "fmt"

// Entity references a real-world actor or object, e.g. {User, "42"}.
type Entity struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

func (e Entity) String() string {
	return fmt.Sprintf("%s:%s", e.Type, e.ID)
}

// Location is a geographic coordinate.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

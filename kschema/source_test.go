package kschema

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

func TestSourceType(t *testing.T) {
	cases := []struct {
		name   string
		schema *Schema
	}{
		{"boolean", Of(TypeBoolean)},
		{"int64", Of(TypeInt64)},
		{"url", Of(TypeURL)},
		{"date", Of(TypeDate)},
		{"location", Of(TypeLocation)},
		{"entity", EntityOf("User")},
		{"object", ObjectOf(map[string]*Schema{
			"name":      Of(TypeString),
			"age":       Optional(Of(TypeInt32)),
			"tags":      ArrayOf(Of(TypeString)),
			"home-town": Of(TypeLocation),
			"pair":      TupleOf(Of(TypeString), Of(TypeFloat64)),
		})},
		{"union", UnionOf(Of(TypeString), Of(TypeNull))},
	}

	var b strings.Builder
	for _, tc := range cases {
		b.WriteString(tc.name)
		b.WriteString(": ")
		b.WriteString(MustNew(tc.schema).SourceType())
		b.WriteString("\n")
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "source_types", []byte(b.String()))
}

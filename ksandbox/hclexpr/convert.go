package hclexpr

import (
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kschema"
	"github.com/zclconf/go-cty/cty"
)

func eventToCty(e kfn.Event) (cty.Value, error) {
	data := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	return toCty(map[string]any{
		"id":        e.ID,
		"type":      e.Type,
		"timestamp": e.Timestamp,
		"data":      data,
	})
}

// toCty converts resolved values. Objects become cty objects and slices
// become tuples, so elements may differ in type.
func toCty(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return val, nil
	case bool:
		return cty.BoolVal(val), nil
	case string:
		return cty.StringVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int32:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case uint64:
		return cty.NumberUIntVal(val), nil
	case float32:
		return cty.NumberFloatVal(float64(val)), nil
	case float64:
		return cty.NumberFloatVal(val), nil
	case json.Number:
		n, err := cty.ParseNumberVal(val.String())
		if err != nil {
			return cty.NilVal, fmt.Errorf("number %q: %w", val, err)
		}
		return n, nil
	case time.Time:
		return cty.StringVal(val.UTC().Format(time.RFC3339Nano)), nil
	case kschema.Entity:
		return cty.ObjectVal(map[string]cty.Value{
			"type": cty.StringVal(val.Type),
			"id":   cty.StringVal(val.ID),
		}), nil
	case kschema.Location:
		return cty.ObjectVal(map[string]cty.Value{
			"lat": cty.NumberFloatVal(val.Lat),
			"lng": cty.NumberFloatVal(val.Lng),
		}), nil
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, elem := range val {
			c, err := toCty(elem)
			if err != nil {
				return cty.NilVal, fmt.Errorf("%s: %w", k, err)
			}
			attrs[k] = c
		}
		return cty.ObjectVal(attrs), nil
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(val))
		for i, elem := range val {
			c, err := toCty(elem)
			if err != nil {
				return cty.NilVal, fmt.Errorf("[%d]: %w", i, err)
			}
			elems[i] = c
		}
		return cty.TupleVal(elems), nil
	case []string:
		anys := make([]any, len(val))
		for i, s := range val {
			anys[i] = s
		}
		return toCty(anys)
	}
	return cty.NilVal, fmt.Errorf("unsupported value of type %T", v)
}

// fromCty converts an expression result. Whole numbers that fit become
// int64, other numbers float64.
func fromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("result is unknown")
	}
	v, _ = v.Unmark()

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			native, err := fromCty(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			native, err := fromCty(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported result type %s", ty.FriendlyName())
}

func sortStrings(s []string) []string {
	slices.Sort(s)
	return s
}

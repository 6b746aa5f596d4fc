package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Operator is a leaf filter operator.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpRegex       Operator = "regex"
	OpSearch      Operator = "search"
)

// LogicalOperator combines child filters.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and"
	LogicalOr  LogicalOperator = "or"
	LogicalNot LogicalOperator = "not"
)

// FilterNode is a node of the boolean filter tree. Exactly one of the two
// forms is populated: a leaf (Field/Operator/Value) or a composite
// (Logical/Children). The zero Logical value marks a leaf.
type FilterNode struct {
	Field    string
	Operator Operator
	Value    FilterValue

	Logical  LogicalOperator
	Children []*FilterNode
}

// IsLeaf reports whether the node is a field filter.
func (n *FilterNode) IsLeaf() bool {
	return n.Logical == ""
}

// filterNodeJSON is the wire shape of a FilterNode. A leaf carries
// field/operator/value, a composite carries operator/filters.
type filterNodeJSON struct {
	Field    string          `json:"field,omitempty"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value,omitempty"`
	Filters  []*FilterNode   `json:"filters,omitempty"`
}

// UnmarshalJSON resolves the leaf/composite union from the request body.
func (n *FilterNode) UnmarshalJSON(data []byte) error {
	var raw filterNodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Field != "" {
		n.Field = raw.Field
		n.Operator = Operator(strings.ToLower(raw.Operator))
		if len(raw.Value) > 0 {
			if err := n.Value.UnmarshalJSON(raw.Value); err != nil {
				return fmt.Errorf("field %q: %w", raw.Field, err)
			}
		} else {
			n.Value = FilterValue{Kind: KindNull}
		}
		return nil
	}

	switch LogicalOperator(strings.ToLower(raw.Operator)) {
	case LogicalAnd, LogicalOr, LogicalNot:
		n.Logical = LogicalOperator(strings.ToLower(raw.Operator))
		n.Children = raw.Filters
		return nil
	default:
		return fmt.Errorf("unknown logical operator %q", raw.Operator)
	}
}

// MarshalJSON emits the same wire shape the unmarshaler accepts. It is also
// the canonical encoding used for cache key hashing.
func (n *FilterNode) MarshalJSON() ([]byte, error) {
	if n.IsLeaf() {
		val, err := n.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return json.Marshal(filterNodeJSON{
			Field:    n.Field,
			Operator: string(n.Operator),
			Value:    val,
		})
	}
	return json.Marshal(filterNodeJSON{
		Operator: string(n.Logical),
		Filters:  n.Children,
	})
}

// ValueKind tags the runtime type of a filter literal.
type ValueKind string

const (
	KindNull        ValueKind = "null"
	KindString      ValueKind = "string"
	KindInt         ValueKind = "int"
	KindFloat       ValueKind = "float"
	KindBool        ValueKind = "bool"
	KindStringArray ValueKind = "string_array"
	KindIntArray    ValueKind = "int_array"
	KindFloatArray  ValueKind = "float_array"
)

// FilterValue is a typed filter literal. The kind is inferred from the JSON
// representation; datetime values arrive as RFC 3339 strings and are coerced
// against the field type during compilation.
type FilterValue struct {
	Kind    ValueKind
	Str     string
	Int     int64
	Float   float64
	Bool    bool
	Strings []string
	Ints    []int64
	Floats  []float64
}

// UnmarshalJSON infers the value kind. Numbers are decoded via json.Number
// so integers and floats stay distinguishable.
func (v *FilterValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch val := raw.(type) {
	case nil:
		v.Kind = KindNull
	case string:
		v.Kind = KindString
		v.Str = val
	case bool:
		v.Kind = KindBool
		v.Bool = val
	case json.Number:
		if i, err := val.Int64(); err == nil && !strings.ContainsAny(val.String(), ".eE") {
			v.Kind = KindInt
			v.Int = i
			return nil
		}
		f, err := val.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %q", val.String())
		}
		v.Kind = KindFloat
		v.Float = f
	case []any:
		return v.unmarshalArray(val)
	default:
		return fmt.Errorf("unsupported filter value type %T", raw)
	}
	return nil
}

// unmarshalArray requires homogeneous element types.
func (v *FilterValue) unmarshalArray(elems []any) error {
	if len(elems) == 0 {
		v.Kind = KindStringArray
		v.Strings = []string{}
		return nil
	}

	switch elems[0].(type) {
	case string:
		v.Kind = KindStringArray
		v.Strings = make([]string, 0, len(elems))
		for _, e := range elems {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("mixed-type array values are not supported")
			}
			v.Strings = append(v.Strings, s)
		}
	case json.Number:
		ints := make([]int64, 0, len(elems))
		floats := make([]float64, 0, len(elems))
		isInt := true
		for _, e := range elems {
			num, ok := e.(json.Number)
			if !ok {
				return fmt.Errorf("mixed-type array values are not supported")
			}
			if isInt {
				if i, err := num.Int64(); err == nil && !strings.ContainsAny(num.String(), ".eE") {
					ints = append(ints, i)
				} else {
					isInt = false
				}
			}
			f, err := num.Float64()
			if err != nil {
				return fmt.Errorf("invalid number %q in array", num.String())
			}
			floats = append(floats, f)
		}
		if isInt {
			v.Kind = KindIntArray
			v.Ints = ints
		} else {
			v.Kind = KindFloatArray
			v.Floats = floats
		}
	default:
		return fmt.Errorf("unsupported array element type %T", elems[0])
	}
	return nil
}

// MarshalJSON emits the native JSON representation.
func (v FilterValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull, "":
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindStringArray:
		return json.Marshal(v.Strings)
	case KindIntArray:
		return json.Marshal(v.Ints)
	case KindFloatArray:
		return json.Marshal(v.Floats)
	}
	return nil, fmt.Errorf("unknown value kind %q", v.Kind)
}

// IsArray reports whether the value carries multiple elements.
func (v FilterValue) IsArray() bool {
	switch v.Kind {
	case KindStringArray, KindIntArray, KindFloatArray:
		return true
	}
	return false
}

// matchesFieldType reports whether a scalar value is assignable to the
// field's declared type. Integers widen to float fields; datetime fields
// accept RFC 3339 strings.
func (v FilterValue) matchesFieldType(t FieldType) bool {
	switch t {
	case FieldTypeString:
		return v.Kind == KindString
	case FieldTypeInt:
		return v.Kind == KindInt
	case FieldTypeFloat:
		return v.Kind == KindFloat || v.Kind == KindInt
	case FieldTypeBool:
		return v.Kind == KindBool
	case FieldTypeDateTime:
		if v.Kind != KindString {
			return false
		}
		_, err := time.Parse(time.RFC3339, v.Str)
		return err == nil
	case FieldTypeStringArray:
		// Leaf operators on array columns take a single element to probe for.
		return v.Kind == KindString
	}
	return false
}

// arrayMatchesFieldType reports whether an array value's elements are
// assignable to the field's declared type (used by in/not_in).
func (v FilterValue) arrayMatchesFieldType(t FieldType) bool {
	switch t {
	case FieldTypeString:
		return v.Kind == KindStringArray
	case FieldTypeInt:
		return v.Kind == KindIntArray
	case FieldTypeFloat:
		return v.Kind == KindFloatArray || v.Kind == KindIntArray
	case FieldTypeDateTime:
		if v.Kind != KindStringArray {
			return false
		}
		for _, s := range v.Strings {
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return false
			}
		}
		return true
	}
	return false
}

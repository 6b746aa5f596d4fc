package search

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterNodeUnmarshalLeaf(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		field    string
		operator Operator
		value    FilterValue
	}{
		{
			name:     "string equality",
			input:    `{"field": "model", "operator": "eq", "value": "gpt-4"}`,
			field:    "model",
			operator: OpEq,
			value:    FilterValue{Kind: KindString, Str: "gpt-4"},
		},
		{
			name:     "integer comparison",
			input:    `{"field": "total_tokens", "operator": "gt", "value": 1000}`,
			field:    "total_tokens",
			operator: OpGt,
			value:    FilterValue{Kind: KindInt, Int: 1000},
		},
		{
			name:     "float comparison",
			input:    `{"field": "total_cost_usd", "operator": "lte", "value": 0.25}`,
			field:    "total_cost_usd",
			operator: OpLte,
			value:    FilterValue{Kind: KindFloat, Float: 0.25},
		},
		{
			name:     "null value",
			input:    `{"field": "error_message", "operator": "eq", "value": null}`,
			field:    "error_message",
			operator: OpEq,
			value:    FilterValue{Kind: KindNull},
		},
		{
			name:     "absent value",
			input:    `{"field": "error_message", "operator": "ne"}`,
			field:    "error_message",
			operator: OpNe,
			value:    FilterValue{Kind: KindNull},
		},
		{
			name:     "string array value",
			input:    `{"field": "provider", "operator": "in", "value": ["openai", "anthropic"]}`,
			field:    "provider",
			operator: OpIn,
			value:    FilterValue{Kind: KindStringArray, Strings: []string{"openai", "anthropic"}},
		},
		{
			name:     "int array value",
			input:    `{"field": "status_code", "operator": "in", "value": [429, 500, 503]}`,
			field:    "status_code",
			operator: OpIn,
			value:    FilterValue{Kind: KindIntArray, Ints: []int64{429, 500, 503}},
		},
		{
			name:     "uppercase operator is normalized",
			input:    `{"field": "model", "operator": "EQ", "value": "gpt-4"}`,
			field:    "model",
			operator: OpEq,
			value:    FilterValue{Kind: KindString, Str: "gpt-4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var node FilterNode
			require.NoError(t, json.Unmarshal([]byte(tt.input), &node))

			assert.True(t, node.IsLeaf())
			assert.Equal(t, tt.field, node.Field)
			assert.Equal(t, tt.operator, node.Operator)
			assert.Equal(t, tt.value, node.Value)
		})
	}
}

func TestFilterNodeUnmarshalComposite(t *testing.T) {
	input := `{
		"operator": "and",
		"filters": [
			{"field": "provider", "operator": "eq", "value": "openai"},
			{
				"operator": "or",
				"filters": [
					{"field": "status_code", "operator": "gte", "value": 500},
					{"field": "error_message", "operator": "ne", "value": null}
				]
			}
		]
	}`

	var node FilterNode
	require.NoError(t, json.Unmarshal([]byte(input), &node))

	assert.False(t, node.IsLeaf())
	assert.Equal(t, LogicalAnd, node.Logical)
	require.Len(t, node.Children, 2)

	assert.True(t, node.Children[0].IsLeaf())
	assert.Equal(t, "provider", node.Children[0].Field)

	nested := node.Children[1]
	assert.Equal(t, LogicalOr, nested.Logical)
	require.Len(t, nested.Children, 2)
	assert.Equal(t, OpGte, nested.Children[0].Operator)
	assert.Equal(t, KindNull, nested.Children[1].Value.Kind)
}

func TestFilterNodeUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown logical operator", `{"operator": "xor", "filters": []}`},
		{"composite without operator", `{"filters": [{"field": "model", "operator": "eq", "value": "x"}]}`},
		{"object value", `{"field": "model", "operator": "eq", "value": {"nested": true}}`},
		{"mixed array value", `{"field": "provider", "operator": "in", "value": ["openai", 42]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var node FilterNode
			assert.Error(t, json.Unmarshal([]byte(tt.input), &node))
		})
	}
}

func TestFilterNodeMarshalRoundTrip(t *testing.T) {
	input := `{
		"operator": "not",
		"filters": [
			{"field": "tags", "operator": "contains", "value": "production"}
		]
	}`

	var node FilterNode
	require.NoError(t, json.Unmarshal([]byte(input), &node))

	encoded, err := json.Marshal(&node)
	require.NoError(t, err)

	var again FilterNode
	require.NoError(t, json.Unmarshal(encoded, &again))
	assert.Equal(t, node, again)
}

func TestFilterValueNumberKinds(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  FilterValue
	}{
		{"integer stays int", `42`, FilterValue{Kind: KindInt, Int: 42}},
		{"decimal is float", `42.0`, FilterValue{Kind: KindFloat, Float: 42.0}},
		{"exponent is float", `1e3`, FilterValue{Kind: KindFloat, Float: 1000}},
		{"negative int", `-7`, FilterValue{Kind: KindInt, Int: -7}},
		{"bool", `true`, FilterValue{Kind: KindBool, Bool: true}},
		{"float array", `[1.5, 2.5]`, FilterValue{Kind: KindFloatArray, Floats: []float64{1.5, 2.5}}},
		{"int array with one float widens all", `[1, 2.5]`, FilterValue{Kind: KindFloatArray, Floats: []float64{1, 2.5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v FilterValue
			require.NoError(t, json.Unmarshal([]byte(tt.input), &v))
			assert.Equal(t, tt.want, v)
		})
	}
}

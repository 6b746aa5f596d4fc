package search

// FieldType categorizes a whitelisted field for operator and value checking.
type FieldType string

const (
	FieldTypeString      FieldType = "string"
	FieldTypeInt         FieldType = "int"
	FieldTypeFloat       FieldType = "float"
	FieldTypeBool        FieldType = "bool"
	FieldTypeDateTime    FieldType = "datetime"
	FieldTypeStringArray FieldType = "string_array"
)

// FieldSpec describes a single queryable column of the trace table.
// Column is the only identifier ever interpolated into SQL; it is defined
// here at compile time and never derived from user input.
type FieldSpec struct {
	Column       string
	Type         FieldType
	Sortable     bool
	Searchable   bool
	SearchColumn string // tsvector column used by the search operator
}

// tieBreakColumn is appended to every ORDER BY to guarantee a total order
// for keyset pagination. It must be unique per row.
const tieBreakColumn = "trace_id"

// fieldTable is the static whitelist of queryable fields. It is built once
// at package initialization and never mutated. Unknown fields fail closed.
var fieldTable = map[string]FieldSpec{
	"ts":                {Column: "ts", Type: FieldTypeDateTime, Sortable: true},
	"trace_id":          {Column: "trace_id", Type: FieldTypeString, Sortable: true},
	"span_id":           {Column: "span_id", Type: FieldTypeString},
	"parent_span_id":    {Column: "parent_span_id", Type: FieldTypeString},
	"project_id":        {Column: "project_id", Type: FieldTypeString},
	"session_id":        {Column: "session_id", Type: FieldTypeString},
	"user_id":           {Column: "user_id", Type: FieldTypeString},
	"provider":          {Column: "provider", Type: FieldTypeString, Sortable: true},
	"model":             {Column: "model", Type: FieldTypeString, Sortable: true},
	"operation_type":    {Column: "operation_type", Type: FieldTypeString},
	"input_text":        {Column: "input_text", Type: FieldTypeString, Searchable: true, SearchColumn: "input_text_search"},
	"output_text":       {Column: "output_text", Type: FieldTypeString, Searchable: true, SearchColumn: "output_text_search"},
	"prompt_tokens":     {Column: "prompt_tokens", Type: FieldTypeInt},
	"completion_tokens": {Column: "completion_tokens", Type: FieldTypeInt},
	"total_tokens":      {Column: "total_tokens", Type: FieldTypeInt, Sortable: true},
	"input_cost_usd":    {Column: "input_cost_usd", Type: FieldTypeFloat},
	"output_cost_usd":   {Column: "output_cost_usd", Type: FieldTypeFloat},
	"total_cost_usd":    {Column: "total_cost_usd", Type: FieldTypeFloat, Sortable: true},
	"duration_ms":       {Column: "duration_ms", Type: FieldTypeInt, Sortable: true},
	"ttft_ms":           {Column: "ttft_ms", Type: FieldTypeInt},
	"tokens_per_second": {Column: "tokens_per_second", Type: FieldTypeFloat},
	"status_code":       {Column: "status_code", Type: FieldTypeInt, Sortable: true},
	"error_message":     {Column: "error_message", Type: FieldTypeString},
	"environment":       {Column: "environment", Type: FieldTypeString, Sortable: true},
	"tags":              {Column: "tags", Type: FieldTypeStringArray},
}

// defaultProjection lists the columns returned when a request does not ask
// for a specific field set. Order is fixed so compiled SQL is deterministic.
var defaultProjection = []string{
	"ts", "trace_id", "span_id", "parent_span_id",
	"project_id", "session_id", "user_id",
	"provider", "model", "operation_type",
	"input_text", "output_text",
	"prompt_tokens", "completion_tokens", "total_tokens",
	"input_cost_usd", "output_cost_usd", "total_cost_usd",
	"duration_ms", "ttft_ms", "tokens_per_second",
	"status_code", "error_message", "environment", "tags",
}

// LookupField returns the spec for a whitelisted field name.
func LookupField(name string) (FieldSpec, bool) {
	spec, ok := fieldTable[name]
	return spec, ok
}

// IsSortableField reports whether the field may appear in ORDER BY.
func IsSortableField(name string) bool {
	spec, ok := fieldTable[name]
	return ok && spec.Sortable
}

// isNumericOrTime reports whether range comparisons apply to the type.
func (t FieldType) isNumericOrTime() bool {
	switch t {
	case FieldTypeInt, FieldTypeFloat, FieldTypeDateTime:
		return true
	}
	return false
}

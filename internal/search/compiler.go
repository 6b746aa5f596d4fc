package search

import (
	"fmt"
	"strings"
	"time"
)

// traceTable is the hypertable all search queries run against.
const traceTable = "llm_traces"

// tenantColumn carries the scope injected by the authorization layer. It is
// compiled as the leading conjunct of every query and is never sourced from
// user input.
const tenantColumn = "project_id"

// TenantScope is the opaque scope supplied by the authorization layer.
type TenantScope struct {
	ProjectID string
}

// CompileOptions is the input to Compile. Filter must already have passed
// ValidateFilter; Cursor must come from DecodeCursor.
type CompileOptions struct {
	Filter   *FilterNode
	SortBy   string
	SortDesc bool
	Limit    int
	Fields   []string
	Cursor   *CursorState
	Scope    TenantScope
}

// CompiledQuery is a parameterized SQL statement. The SQL text contains only
// whitelisted identifiers and $n placeholders, so it is safe to log as the
// query shape; bound values live exclusively in Args.
type CompiledQuery struct {
	SQL  string
	Args []any
}

// compiler accumulates bound arguments while the tree is lowered to SQL.
type compiler struct {
	args []any
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return fmt.Sprintf("$%d", len(c.args))
}

// quoteIdentifier wraps an identifier in double quotes, escaping embedded
// quotes. All identifiers reaching this point come from the static whitelist.
func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// Compile lowers a validated search request into a parameterized SELECT.
func Compile(opts CompileOptions) (*CompiledQuery, error) {
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "ts"
	}
	sortSpec, ok := LookupField(sortBy)
	if !ok || !sortSpec.Sortable {
		return nil, newValidationError(ErrInvalidSortField, "field %q is not sortable", sortBy)
	}

	c := &compiler{}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(projectionSQL(opts.Fields, sortBy))
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdentifier(traceTable))

	var conjuncts []string

	if opts.Scope.ProjectID != "" {
		conjuncts = append(conjuncts,
			fmt.Sprintf("%s = %s", quoteIdentifier(tenantColumn), c.bind(opts.Scope.ProjectID)))
	}

	if opts.Cursor != nil {
		keyset, err := c.cursorConjunct(opts.Cursor, sortSpec, opts.SortDesc)
		if err != nil {
			return nil, err
		}
		conjuncts = append(conjuncts, keyset)
	}

	if opts.Filter != nil {
		cond, err := c.compileNode(opts.Filter)
		if err != nil {
			return nil, err
		}
		conjuncts = append(conjuncts, "("+cond+")")
	}

	if len(conjuncts) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conjuncts, " AND "))
	}

	dir := "ASC"
	if opts.SortDesc {
		dir = "DESC"
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(quoteIdentifier(sortSpec.Column))
	sb.WriteString(" ")
	sb.WriteString(dir)
	if sortSpec.Column != tieBreakColumn {
		sb.WriteString(", ")
		sb.WriteString(quoteIdentifier(tieBreakColumn))
		sb.WriteString(" ")
		sb.WriteString(dir)
	}

	sb.WriteString(" LIMIT ")
	sb.WriteString(c.bind(opts.Limit))

	return &CompiledQuery{SQL: sb.String(), Args: c.args}, nil
}

// projectionSQL intersects the requested fields with the whitelist and
// force-includes the sort and tie-break columns needed to derive the next
// cursor. An absent or fully invalid field list falls back to the default
// projection.
func projectionSQL(fields []string, sortBy string) string {
	selected := fields
	if len(selected) == 0 {
		selected = defaultProjection
	}

	seen := make(map[string]bool, len(selected)+2)
	var cols []string
	add := func(name string) {
		spec, ok := LookupField(name)
		if !ok || seen[name] {
			return
		}
		seen[name] = true
		cols = append(cols, quoteIdentifier(spec.Column))
	}

	for _, f := range selected {
		add(f)
	}
	if len(cols) == 0 {
		for _, f := range defaultProjection {
			add(f)
		}
	}
	add(sortBy)
	add(tieBreakColumn)

	return strings.Join(cols, ", ")
}

// cursorConjunct emits the keyset predicate that resumes strictly past the
// cursor position: row-wise (sort, tie_break) comparison in the direction
// of the sort.
func (c *compiler) cursorConjunct(cursor *CursorState, sortSpec FieldSpec, sortDesc bool) (string, error) {
	if cursor.Desc != sortDesc {
		return "", newValidationError(ErrInvalidCursor,
			"cursor direction does not match requested sort direction")
	}
	if !cursor.SortValue.matchesFieldType(sortSpec.Type) {
		return "", newValidationError(ErrInvalidCursor,
			"cursor sort value does not match sort field %q", sortSpec.Column)
	}

	op := ">"
	if sortDesc {
		op = "<"
	}

	sortArg, err := bindValue(cursor.SortValue, sortSpec.Type)
	if err != nil {
		return "", newValidationError(ErrInvalidCursor, "cursor sort value is malformed")
	}

	return fmt.Sprintf("(%s, %s) %s (%s, %s)",
		quoteIdentifier(sortSpec.Column), quoteIdentifier(tieBreakColumn), op,
		c.bind(sortArg), c.bind(cursor.TieBreak)), nil
}

// compileNode lowers a filter node to a SQL condition. Composite nodes
// compile into parenthesized boolean groups. Empty groups cannot arrive from
// user input (validation rejects them) but may be produced by internal
// pruning; the documented policy is TRUE for an empty AND and FALSE for an
// empty OR.
func (c *compiler) compileNode(n *FilterNode) (string, error) {
	if n.IsLeaf() {
		return c.compileLeaf(n)
	}

	if len(n.Children) == 0 {
		switch n.Logical {
		case LogicalAnd:
			return "TRUE", nil
		case LogicalOr:
			return "FALSE", nil
		default:
			return "", newValidationError(ErrInvalidOperator,
				"logical operator %q requires a child filter", n.Logical)
		}
	}

	parts := make([]string, 0, len(n.Children))
	for _, child := range n.Children {
		cond, err := c.compileNode(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+cond+")")
	}

	switch n.Logical {
	case LogicalAnd:
		return strings.Join(parts, " AND "), nil
	case LogicalOr:
		return strings.Join(parts, " OR "), nil
	case LogicalNot:
		return "NOT " + parts[0], nil
	}
	return "", newValidationError(ErrInvalidOperator, "unknown logical operator %q", n.Logical)
}

// compileLeaf lowers a field filter. The column identifier comes from the
// whitelist table; every value becomes a bound parameter.
func (c *compiler) compileLeaf(n *FilterNode) (string, error) {
	spec, ok := LookupField(n.Field)
	if !ok {
		return "", newValidationError(ErrInvalidField, "unknown field %q", n.Field)
	}
	col := quoteIdentifier(spec.Column)

	switch n.Operator {
	case OpEq:
		if n.Value.Kind == KindNull {
			return col + " IS NULL", nil
		}
		return c.comparison(col, "=", n.Value, spec.Type)
	case OpNe:
		if n.Value.Kind == KindNull {
			return col + " IS NOT NULL", nil
		}
		return c.comparison(col, "<>", n.Value, spec.Type)
	case OpGt:
		return c.comparison(col, ">", n.Value, spec.Type)
	case OpGte:
		return c.comparison(col, ">=", n.Value, spec.Type)
	case OpLt:
		return c.comparison(col, "<", n.Value, spec.Type)
	case OpLte:
		return c.comparison(col, "<=", n.Value, spec.Type)

	case OpIn:
		arg, err := bindArrayValue(n.Value, spec.Type)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = ANY(%s)", col, c.bind(arg)), nil
	case OpNotIn:
		arg, err := bindArrayValue(n.Value, spec.Type)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s = ANY(%s))", col, c.bind(arg)), nil

	case OpContains:
		if spec.Type == FieldTypeStringArray {
			return fmt.Sprintf("%s @> %s", col, c.bind([]string{n.Value.Str})), nil
		}
		return fmt.Sprintf("%s ILIKE %s", col, c.bind("%"+n.Value.Str+"%")), nil
	case OpNotContains:
		if spec.Type == FieldTypeStringArray {
			return fmt.Sprintf("NOT (%s @> %s)", col, c.bind([]string{n.Value.Str})), nil
		}
		return fmt.Sprintf("%s NOT ILIKE %s", col, c.bind("%"+n.Value.Str+"%")), nil

	case OpStartsWith:
		return fmt.Sprintf("%s ILIKE %s", col, c.bind(n.Value.Str+"%")), nil
	case OpEndsWith:
		return fmt.Sprintf("%s ILIKE %s", col, c.bind("%"+n.Value.Str)), nil
	case OpRegex:
		return fmt.Sprintf("%s ~* %s", col, c.bind(n.Value.Str)), nil

	case OpSearch:
		// Redirect to the precomputed tsvector column; plainto_tsquery parses
		// multi-word input without exposing tsquery syntax to the caller.
		return fmt.Sprintf("%s @@ plainto_tsquery('english', %s)",
			quoteIdentifier(spec.SearchColumn), c.bind(n.Value.Str)), nil
	}

	return "", newValidationError(ErrInvalidOperator,
		"unknown operator %q on field %q", n.Operator, n.Field)
}

func (c *compiler) comparison(col, op string, v FilterValue, t FieldType) (string, error) {
	arg, err := bindValue(v, t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", col, op, c.bind(arg)), nil
}

// bindValue converts a scalar filter literal to its native Go value for
// parameter binding, coercing RFC 3339 strings for datetime columns.
func bindValue(v FilterValue, t FieldType) (any, error) {
	switch v.Kind {
	case KindString:
		if t == FieldTypeDateTime {
			ts, err := time.Parse(time.RFC3339, v.Str)
			if err != nil {
				return nil, newValidationError(ErrTypeMismatch,
					"value %q is not a valid RFC 3339 timestamp", v.Str)
			}
			return ts, nil
		}
		return v.Str, nil
	case KindInt:
		if t == FieldTypeFloat {
			return float64(v.Int), nil
		}
		return v.Int, nil
	case KindFloat:
		return v.Float, nil
	case KindBool:
		return v.Bool, nil
	}
	return nil, newValidationError(ErrTypeMismatch, "value kind %q cannot be bound", v.Kind)
}

// bindArrayValue converts an array literal for a col = ANY($n) predicate.
func bindArrayValue(v FilterValue, t FieldType) (any, error) {
	switch v.Kind {
	case KindStringArray:
		if t == FieldTypeDateTime {
			times := make([]time.Time, 0, len(v.Strings))
			for _, s := range v.Strings {
				ts, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return nil, newValidationError(ErrTypeMismatch,
						"value %q is not a valid RFC 3339 timestamp", s)
				}
				times = append(times, ts)
			}
			return times, nil
		}
		return v.Strings, nil
	case KindIntArray:
		if t == FieldTypeFloat {
			floats := make([]float64, 0, len(v.Ints))
			for _, i := range v.Ints {
				floats = append(floats, float64(i))
			}
			return floats, nil
		}
		return v.Ints, nil
	case KindFloatArray:
		return v.Floats, nil
	}
	return nil, newValidationError(ErrTypeMismatch, "value kind %q is not an array", v.Kind)
}

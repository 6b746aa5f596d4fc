package search

// DefaultMaxFilterDepth bounds filter tree nesting when no limit is configured.
const DefaultMaxFilterDepth = 10

// ValidateFilter walks the filter tree and enforces the field, operator,
// type, arity and depth rules. Traversal uses an explicit worklist with a
// depth counter instead of native recursion so the depth bound is
// deterministic and independent of runtime stack limits.
func ValidateFilter(root *FilterNode, maxDepth int) error {
	if root == nil {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxFilterDepth
	}

	type item struct {
		node  *FilterNode
		depth int
	}
	stack := []item{{node: root, depth: 1}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.depth > maxDepth {
			return newValidationError(ErrMaxDepthExceeded,
				"filter tree exceeds maximum depth of %d", maxDepth)
		}

		if cur.node.IsLeaf() {
			if err := validateLeaf(cur.node); err != nil {
				return err
			}
			continue
		}

		switch cur.node.Logical {
		case LogicalAnd, LogicalOr:
			if len(cur.node.Children) == 0 {
				return newValidationError(ErrInvalidOperator,
					"logical operator %q requires at least one child filter", cur.node.Logical)
			}
		case LogicalNot:
			if len(cur.node.Children) != 1 {
				return newValidationError(ErrInvalidOperator,
					"logical operator %q requires exactly one child filter, got %d",
					cur.node.Logical, len(cur.node.Children))
			}
		default:
			return newValidationError(ErrInvalidOperator,
				"unknown logical operator %q", cur.node.Logical)
		}

		for _, child := range cur.node.Children {
			if child == nil {
				return newValidationError(ErrInvalidOperator,
					"logical operator %q has a null child filter", cur.node.Logical)
			}
			stack = append(stack, item{node: child, depth: cur.depth + 1})
		}
	}

	return nil
}

// validateLeaf checks a field filter against the whitelist table.
func validateLeaf(n *FilterNode) error {
	spec, ok := LookupField(n.Field)
	if !ok {
		return newValidationError(ErrInvalidField, "unknown field %q", n.Field)
	}

	switch n.Operator {
	case OpEq, OpNe:
		if spec.Type == FieldTypeStringArray {
			return operatorNotAllowed(n.Operator, n.Field)
		}
		if n.Value.Kind != KindNull && !n.Value.matchesFieldType(spec.Type) {
			return typeMismatch(n, spec)
		}

	case OpGt, OpGte, OpLt, OpLte:
		if !spec.Type.isNumericOrTime() {
			return operatorNotAllowed(n.Operator, n.Field)
		}
		if !n.Value.matchesFieldType(spec.Type) {
			return typeMismatch(n, spec)
		}

	case OpIn, OpNotIn:
		if spec.Type == FieldTypeStringArray {
			return operatorNotAllowed(n.Operator, n.Field)
		}
		if !n.Value.IsArray() {
			return newValidationError(ErrTypeMismatch,
				"operator %q on field %q requires an array value", n.Operator, n.Field)
		}
		if !n.Value.arrayMatchesFieldType(spec.Type) {
			return typeMismatch(n, spec)
		}

	case OpContains, OpNotContains:
		if spec.Type != FieldTypeString && spec.Type != FieldTypeStringArray {
			return operatorNotAllowed(n.Operator, n.Field)
		}
		if n.Value.Kind != KindString {
			return newValidationError(ErrTypeMismatch,
				"operator %q on field %q requires a string value", n.Operator, n.Field)
		}

	case OpStartsWith, OpEndsWith, OpRegex:
		if spec.Type != FieldTypeString {
			return operatorNotAllowed(n.Operator, n.Field)
		}
		if n.Value.Kind != KindString {
			return newValidationError(ErrTypeMismatch,
				"operator %q on field %q requires a string value", n.Operator, n.Field)
		}

	case OpSearch:
		if !spec.Searchable {
			return newValidationError(ErrInvalidOperator,
				"field %q does not support full-text search", n.Field)
		}
		if n.Value.Kind != KindString {
			return newValidationError(ErrTypeMismatch,
				"operator %q on field %q requires a string value", n.Operator, n.Field)
		}

	default:
		return newValidationError(ErrInvalidOperator,
			"unknown operator %q on field %q", n.Operator, n.Field)
	}

	return nil
}

func operatorNotAllowed(op Operator, field string) *ValidationError {
	return newValidationError(ErrInvalidOperator,
		"operator %q is not allowed on field %q", op, field)
}

func typeMismatch(n *FilterNode, spec FieldSpec) *ValidationError {
	return newValidationError(ErrTypeMismatch,
		"value kind %q does not match %s field %q", n.Value.Kind, spec.Type, n.Field)
}

package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileBasicQuery(t *testing.T) {
	filter := mustParseFilter(t, `{"field": "model", "operator": "eq", "value": "gpt-4"}`)

	compiled, err := Compile(CompileOptions{
		Filter: filter,
		Fields: []string{"model"},
		Limit:  50,
		Scope:  TenantScope{ProjectID: "proj-1"},
	})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "model", "ts", "trace_id" FROM "llm_traces"`+
			` WHERE "project_id" = $1 AND ("model" = $2)`+
			` ORDER BY "ts" ASC, "trace_id" ASC LIMIT $3`,
		compiled.SQL)
	assert.Equal(t, []any{"proj-1", "gpt-4", 50}, compiled.Args)
}

func TestCompileLeafOperators(t *testing.T) {
	tests := []struct {
		name     string
		filter   string
		wantCond string
		wantArg  any
	}{
		{
			"ne", `{"field": "provider", "operator": "ne", "value": "openai"}`,
			`"provider" <> $2`, "openai",
		},
		{
			"gt int", `{"field": "total_tokens", "operator": "gt", "value": 1000}`,
			`"total_tokens" > $2`, int64(1000),
		},
		{
			"int widens to float column", `{"field": "total_cost_usd", "operator": "gte", "value": 1}`,
			`"total_cost_usd" >= $2`, float64(1),
		},
		{
			"in", `{"field": "provider", "operator": "in", "value": ["openai", "anthropic"]}`,
			`"provider" = ANY($2)`, []string{"openai", "anthropic"},
		},
		{
			"not_in", `{"field": "status_code", "operator": "not_in", "value": [200, 201]}`,
			`NOT ("status_code" = ANY($2))`, []int64{200, 201},
		},
		{
			"contains on string", `{"field": "output_text", "operator": "contains", "value": "refusal"}`,
			`"output_text" ILIKE $2`, "%refusal%",
		},
		{
			"not_contains on string", `{"field": "output_text", "operator": "not_contains", "value": "refusal"}`,
			`"output_text" NOT ILIKE $2`, "%refusal%",
		},
		{
			"contains on tags", `{"field": "tags", "operator": "contains", "value": "production"}`,
			`"tags" @> $2`, []string{"production"},
		},
		{
			"starts_with", `{"field": "model", "operator": "starts_with", "value": "gpt"}`,
			`"model" ILIKE $2`, "gpt%",
		},
		{
			"ends_with", `{"field": "model", "operator": "ends_with", "value": "turbo"}`,
			`"model" ILIKE $2`, "%turbo",
		},
		{
			"regex", `{"field": "model", "operator": "regex", "value": "^gpt-4.*"}`,
			`"model" ~* $2`, "^gpt-4.*",
		},
		{
			"search redirects to tsvector column",
			`{"field": "input_text", "operator": "search", "value": "quarterly report"}`,
			`"input_text_search" @@ plainto_tsquery('english', $2)`, "quarterly report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := Compile(CompileOptions{
				Filter: mustParseFilter(t, tt.filter),
				Fields: []string{"trace_id"},
				Limit:  10,
				Scope:  TenantScope{ProjectID: "proj-1"},
			})
			require.NoError(t, err)

			assert.Contains(t, compiled.SQL, "("+tt.wantCond+")")
			require.Len(t, compiled.Args, 3)
			assert.Equal(t, tt.wantArg, compiled.Args[1])
		})
	}
}

func TestCompileNullChecks(t *testing.T) {
	t.Run("eq null becomes IS NULL", func(t *testing.T) {
		compiled, err := Compile(CompileOptions{
			Filter: mustParseFilter(t, `{"field": "error_message", "operator": "eq", "value": null}`),
			Fields: []string{"trace_id"},
			Limit:  10,
			Scope:  TenantScope{ProjectID: "proj-1"},
		})
		require.NoError(t, err)
		assert.Contains(t, compiled.SQL, `("error_message" IS NULL)`)
		// Only the scope and limit are bound.
		assert.Equal(t, []any{"proj-1", 10}, compiled.Args)
	})

	t.Run("ne null becomes IS NOT NULL", func(t *testing.T) {
		compiled, err := Compile(CompileOptions{
			Filter: mustParseFilter(t, `{"field": "error_message", "operator": "ne", "value": null}`),
			Fields: []string{"trace_id"},
			Limit:  10,
			Scope:  TenantScope{ProjectID: "proj-1"},
		})
		require.NoError(t, err)
		assert.Contains(t, compiled.SQL, `("error_message" IS NOT NULL)`)
	})
}

func TestCompileDatetimeCoercion(t *testing.T) {
	compiled, err := Compile(CompileOptions{
		Filter: mustParseFilter(t, `{"field": "ts", "operator": "gte", "value": "2026-08-01T00:00:00Z"}`),
		Fields: []string{"trace_id"},
		Limit:  10,
		Scope:  TenantScope{ProjectID: "proj-1"},
	})
	require.NoError(t, err)

	require.Len(t, compiled.Args, 3)
	ts, ok := compiled.Args[1].(time.Time)
	require.True(t, ok, "datetime literal should bind as time.Time")
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), ts.UTC())
}

func TestCompileCompositeNesting(t *testing.T) {
	filter := mustParseFilter(t, `{
		"operator": "and",
		"filters": [
			{"field": "provider", "operator": "eq", "value": "openai"},
			{"operator": "or", "filters": [
				{"field": "status_code", "operator": "gte", "value": 500},
				{"field": "error_message", "operator": "ne", "value": null}
			]}
		]
	}`)

	compiled, err := Compile(CompileOptions{
		Filter: filter,
		Fields: []string{"trace_id"},
		Limit:  10,
		Scope:  TenantScope{ProjectID: "proj-1"},
	})
	require.NoError(t, err)

	assert.Contains(t, compiled.SQL,
		`(("provider" = $2) AND (("status_code" >= $3) OR ("error_message" IS NOT NULL)))`)
}

func TestCompileNotWrapsChild(t *testing.T) {
	filter := mustParseFilter(t, `{
		"operator": "not",
		"filters": [{"field": "environment", "operator": "eq", "value": "staging"}]
	}`)

	compiled, err := Compile(CompileOptions{
		Filter: filter,
		Fields: []string{"trace_id"},
		Limit:  10,
		Scope:  TenantScope{ProjectID: "proj-1"},
	})
	require.NoError(t, err)

	assert.Contains(t, compiled.SQL, `(NOT ("environment" = $2))`)
}

func TestCompileEmptyGroupPolicy(t *testing.T) {
	t.Run("empty and compiles to TRUE", func(t *testing.T) {
		compiled, err := Compile(CompileOptions{
			Filter: &FilterNode{Logical: LogicalAnd},
			Fields: []string{"trace_id"},
			Limit:  10,
			Scope:  TenantScope{ProjectID: "proj-1"},
		})
		require.NoError(t, err)
		assert.Contains(t, compiled.SQL, "(TRUE)")
	})

	t.Run("empty or compiles to FALSE", func(t *testing.T) {
		compiled, err := Compile(CompileOptions{
			Filter: &FilterNode{Logical: LogicalOr},
			Fields: []string{"trace_id"},
			Limit:  10,
			Scope:  TenantScope{ProjectID: "proj-1"},
		})
		require.NoError(t, err)
		assert.Contains(t, compiled.SQL, "(FALSE)")
	})
}

func TestCompileKeysetCursor(t *testing.T) {
	t.Run("descending resumes below the cursor", func(t *testing.T) {
		compiled, err := Compile(CompileOptions{
			SortBy:   "duration_ms",
			SortDesc: true,
			Fields:   []string{"duration_ms"},
			Limit:    3,
			Cursor: &CursorState{
				SortValue: FilterValue{Kind: KindInt, Int: 100},
				TieBreak:  "trace-9",
				Desc:      true,
			},
			Scope: TenantScope{ProjectID: "proj-1"},
		})
		require.NoError(t, err)

		assert.Equal(t,
			`SELECT "duration_ms", "trace_id" FROM "llm_traces"`+
				` WHERE "project_id" = $1 AND ("duration_ms", "trace_id") < ($2, $3)`+
				` ORDER BY "duration_ms" DESC, "trace_id" DESC LIMIT $4`,
			compiled.SQL)
		assert.Equal(t, []any{"proj-1", int64(100), "trace-9", 3}, compiled.Args)
	})

	t.Run("ascending resumes above the cursor", func(t *testing.T) {
		compiled, err := Compile(CompileOptions{
			SortBy: "duration_ms",
			Fields: []string{"duration_ms"},
			Limit:  3,
			Cursor: &CursorState{
				SortValue: FilterValue{Kind: KindInt, Int: 100},
				TieBreak:  "trace-9",
			},
			Scope: TenantScope{ProjectID: "proj-1"},
		})
		require.NoError(t, err)
		assert.Contains(t, compiled.SQL, `("duration_ms", "trace_id") > ($2, $3)`)
	})

	t.Run("direction mismatch is rejected", func(t *testing.T) {
		_, err := Compile(CompileOptions{
			SortBy:   "duration_ms",
			SortDesc: true,
			Limit:    3,
			Cursor: &CursorState{
				SortValue: FilterValue{Kind: KindInt, Int: 100},
				TieBreak:  "trace-9",
				Desc:      false,
			},
			Scope: TenantScope{ProjectID: "proj-1"},
		})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, ErrInvalidCursor, vErr.Code)
	})

	t.Run("sort value type mismatch is rejected", func(t *testing.T) {
		_, err := Compile(CompileOptions{
			SortBy: "duration_ms",
			Limit:  3,
			Cursor: &CursorState{
				SortValue: FilterValue{Kind: KindString, Str: "fast"},
				TieBreak:  "trace-9",
			},
			Scope: TenantScope{ProjectID: "proj-1"},
		})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, ErrInvalidCursor, vErr.Code)
	})
}

func TestCompileProjection(t *testing.T) {
	t.Run("unknown fields are dropped silently", func(t *testing.T) {
		compiled, err := Compile(CompileOptions{
			Fields: []string{"model", "bogus_column", "model"},
			Limit:  10,
			Scope:  TenantScope{ProjectID: "proj-1"},
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(compiled.SQL, `SELECT "model", "ts", "trace_id" FROM`))
		assert.NotContains(t, compiled.SQL, "bogus_column")
	})

	t.Run("fully invalid projection falls back to defaults", func(t *testing.T) {
		compiled, err := Compile(CompileOptions{
			Fields: []string{"bogus_column"},
			Limit:  10,
			Scope:  TenantScope{ProjectID: "proj-1"},
		})
		require.NoError(t, err)
		for _, f := range defaultProjection {
			assert.Contains(t, compiled.SQL, quoteIdentifier(f))
		}
	})

	t.Run("sort and tie-break columns are force-included", func(t *testing.T) {
		compiled, err := Compile(CompileOptions{
			SortBy: "total_cost_usd",
			Fields: []string{"model"},
			Limit:  10,
			Scope:  TenantScope{ProjectID: "proj-1"},
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(compiled.SQL,
			`SELECT "model", "total_cost_usd", "trace_id" FROM`))
	})
}

func TestCompileRejectsInvalidSort(t *testing.T) {
	for _, sortBy := range []string{"prompt_tokens", "ts; DROP TABLE llm_traces", "password_hash"} {
		_, err := Compile(CompileOptions{
			SortBy: sortBy,
			Limit:  10,
			Scope:  TenantScope{ProjectID: "proj-1"},
		})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr, "sort_by %q", sortBy)
		assert.Equal(t, ErrInvalidSortField, vErr.Code)
	}
}

func TestCompileAdversarialValues(t *testing.T) {
	// Hostile values must only ever reach the database as bound parameters.
	payloads := []string{
		`'; DROP TABLE llm_traces; --`,
		`" OR "1"="1`,
		`$1; DELETE FROM llm_traces`,
		`%'; UPDATE llm_traces SET model = 'x`,
	}

	for _, payload := range payloads {
		node := &FilterNode{
			Field:    "model",
			Operator: OpEq,
			Value:    FilterValue{Kind: KindString, Str: payload},
		}
		require.NoError(t, ValidateFilter(node, DefaultMaxFilterDepth))

		compiled, err := Compile(CompileOptions{
			Filter: node,
			Fields: []string{"model"},
			Limit:  10,
			Scope:  TenantScope{ProjectID: "proj-1"},
		})
		require.NoError(t, err)

		assert.NotContains(t, compiled.SQL, payload)
		assert.NotContains(t, compiled.SQL, "DROP")
		assert.NotContains(t, compiled.SQL, "DELETE")
		assert.Contains(t, compiled.Args, payload)
	}
}

func TestCompileUnknownFieldFailsClosed(t *testing.T) {
	_, err := Compile(CompileOptions{
		Filter: &FilterNode{
			Field:    `model"; DROP TABLE llm_traces; --`,
			Operator: OpEq,
			Value:    FilterValue{Kind: KindString, Str: "x"},
		},
		Limit: 10,
		Scope: TenantScope{ProjectID: "proj-1"},
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, ErrInvalidField, vErr.Code)
}

package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheKeyFor(t *testing.T, req SearchRequest, scope TenantScope) string {
	t.Helper()
	key, err := CacheKey(req, scope)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, cacheKeyPrefix))
	return key
}

func TestCacheKeyIsDeterministic(t *testing.T) {
	scope := TenantScope{ProjectID: "proj-1"}
	req := SearchRequest{
		Filter: mustParseFilter(t, `{"field": "model", "operator": "eq", "value": "gpt-4"}`),
		SortBy: "ts",
		Limit:  50,
	}

	assert.Equal(t, cacheKeyFor(t, req, scope), cacheKeyFor(t, req, scope))
}

func TestCacheKeyIgnoresChildOrder(t *testing.T) {
	scope := TenantScope{ProjectID: "proj-1"}

	a := SearchRequest{Filter: mustParseFilter(t, `{
		"operator": "and",
		"filters": [
			{"field": "provider", "operator": "eq", "value": "openai"},
			{"field": "status_code", "operator": "gte", "value": 500}
		]
	}`)}
	b := SearchRequest{Filter: mustParseFilter(t, `{
		"operator": "and",
		"filters": [
			{"field": "status_code", "operator": "gte", "value": 500},
			{"field": "provider", "operator": "eq", "value": "openai"}
		]
	}`)}

	assert.Equal(t, cacheKeyFor(t, a, scope), cacheKeyFor(t, b, scope))
}

func TestCacheKeyIgnoresProjectionOrderAndUnknowns(t *testing.T) {
	scope := TenantScope{ProjectID: "proj-1"}

	a := SearchRequest{Fields: []string{"model", "provider", "ts"}}
	b := SearchRequest{Fields: []string{"ts", "provider", "model", "bogus_column", "model"}}

	assert.Equal(t, cacheKeyFor(t, a, scope), cacheKeyFor(t, b, scope))
}

func TestCacheKeyDefaultsSortField(t *testing.T) {
	scope := TenantScope{ProjectID: "proj-1"}

	implicit := SearchRequest{Limit: 50}
	explicit := SearchRequest{Limit: 50, SortBy: "ts"}

	assert.Equal(t, cacheKeyFor(t, implicit, scope), cacheKeyFor(t, explicit, scope))
}

func TestCacheKeyDistinguishesRequests(t *testing.T) {
	scope := TenantScope{ProjectID: "proj-1"}
	base := SearchRequest{
		Filter: mustParseFilter(t, `{"field": "model", "operator": "eq", "value": "gpt-4"}`),
		SortBy: "ts",
		Limit:  50,
	}
	baseKey := cacheKeyFor(t, base, scope)

	t.Run("different tenant", func(t *testing.T) {
		assert.NotEqual(t, baseKey, cacheKeyFor(t, base, TenantScope{ProjectID: "proj-2"}))
	})

	t.Run("different filter value", func(t *testing.T) {
		other := base
		other.Filter = mustParseFilter(t, `{"field": "model", "operator": "eq", "value": "gpt-5"}`)
		assert.NotEqual(t, baseKey, cacheKeyFor(t, other, scope))
	})

	t.Run("different sort direction", func(t *testing.T) {
		other := base
		other.SortDesc = true
		assert.NotEqual(t, baseKey, cacheKeyFor(t, other, scope))
	})

	t.Run("different limit", func(t *testing.T) {
		other := base
		other.Limit = 100
		assert.NotEqual(t, baseKey, cacheKeyFor(t, other, scope))
	})

	t.Run("different page", func(t *testing.T) {
		token, err := EncodeCursor(CursorState{
			SortValue: FilterValue{Kind: KindString, Str: "2026-08-29T10:00:00Z"},
			TieBreak:  "trace-42",
		})
		require.NoError(t, err)

		other := base
		other.Cursor = token
		assert.NotEqual(t, baseKey, cacheKeyFor(t, other, scope))
	})

	t.Run("and versus or", func(t *testing.T) {
		leaf := `{"field": "model", "operator": "eq", "value": "gpt-4"}`
		andReq := SearchRequest{Filter: mustParseFilter(t, `{"operator": "and", "filters": [`+leaf+`]}`)}
		orReq := SearchRequest{Filter: mustParseFilter(t, `{"operator": "or", "filters": [`+leaf+`]}`)}
		assert.NotEqual(t, cacheKeyFor(t, andReq, scope), cacheKeyFor(t, orReq, scope))
	})
}

func TestCacheKeySurfacesUnencodableFilter(t *testing.T) {
	// A value kind outside the known set cannot reach CacheKey through
	// validation; if one does anyway, the error must surface rather than
	// silently producing a colliding key.
	req := SearchRequest{Filter: &FilterNode{
		Field:    "model",
		Operator: OpEq,
		Value:    FilterValue{Kind: "bogus"},
	}}

	_, err := CacheKey(req, TenantScope{ProjectID: "proj-1"})
	require.Error(t, err)
}

func TestNormalizeFilterDoesNotMutateInput(t *testing.T) {
	filter := mustParseFilter(t, `{
		"operator": "or",
		"filters": [
			{"field": "status_code", "operator": "gte", "value": 500},
			{"field": "provider", "operator": "eq", "value": "openai"}
		]
	}`)

	_ = normalizeFilter(filter)

	assert.Equal(t, "status_code", filter.Children[0].Field)
	assert.Equal(t, "provider", filter.Children[1].Field)
}

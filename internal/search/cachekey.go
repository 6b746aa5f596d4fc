package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

const cacheKeyPrefix = "traces:search:"

// canonicalRequest is the hashed representation of a search request. Field
// order is fixed by the struct, the filter tree is normalized, and the
// projection is sorted, so structurally identical requests produce identical
// keys regardless of input JSON key ordering.
type canonicalRequest struct {
	Tenant   string      `json:"tenant"`
	Filter   *FilterNode `json:"filter"`
	SortBy   string      `json:"sort_by"`
	SortDesc bool        `json:"sort_desc"`
	Limit    int         `json:"limit"`
	Fields   []string    `json:"fields"`
	Cursor   string      `json:"cursor"`
}

// CacheKey derives the deterministic cache key for a search request within a
// tenant scope. The cursor token participates in the key so each page caches
// independently.
func CacheKey(req SearchRequest, scope TenantScope) (string, error) {
	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "ts"
	}

	canon := canonicalRequest{
		Tenant:   scope.ProjectID,
		Filter:   normalizeFilter(req.Filter),
		SortBy:   sortBy,
		SortDesc: req.SortDesc,
		Limit:    req.Limit,
		Fields:   canonicalFields(req.Fields),
		Cursor:   req.Cursor,
	}

	raw, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(raw)
	return cacheKeyPrefix + hex.EncodeToString(sum[:]), nil
}

// normalizeFilter returns a copy of the tree with AND/OR children ordered by
// their canonical encoding, so logically identical trees hash identically.
// NOT keeps its single child as-is.
func normalizeFilter(n *FilterNode) *FilterNode {
	if n == nil || n.IsLeaf() {
		return n
	}

	children := make([]*FilterNode, 0, len(n.Children))
	for _, child := range n.Children {
		children = append(children, normalizeFilter(child))
	}

	if n.Logical == LogicalAnd || n.Logical == LogicalOr {
		encoded := make(map[*FilterNode]string, len(children))
		for _, child := range children {
			raw, err := json.Marshal(child)
			if err != nil {
				// Marshal of a well-formed node cannot fail; fall back to
				// insertion order rather than dropping the child.
				raw = nil
			}
			encoded[child] = string(raw)
		}
		sort.SliceStable(children, func(i, j int) bool {
			return encoded[children[i]] < encoded[children[j]]
		})
	}

	return &FilterNode{Logical: n.Logical, Children: children}
}

// canonicalFields intersects the projection with the whitelist, dedupes and
// sorts it.
func canonicalFields(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := LookupField(f); !ok || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

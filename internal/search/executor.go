package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// SearchRequest is the wire shape consumed by the executor. It is produced
// by the HTTP layer, validated here, and discarded per call.
type SearchRequest struct {
	Filter   *FilterNode `json:"filter"`
	SortBy   string      `json:"sort_by"`
	SortDesc bool        `json:"sort_desc"`
	Limit    int         `json:"limit"`
	Cursor   string      `json:"cursor"`
	Fields   []string    `json:"fields"`
}

// SearchResponse is the assembled result of one search call.
type SearchResponse struct {
	Rows            []map[string]any `json:"rows"`
	NextCursor      *string          `json:"next_cursor"`
	HasMore         bool             `json:"has_more"`
	ExecutionTimeMs float64          `json:"execution_time_ms"`
	Cached          bool             `json:"cached"`
}

// Store is the single storage primitive the executor depends on: execute a
// parameterized query, get back a row batch.
type Store interface {
	Query(ctx context.Context, sql string, args []any) ([]map[string]any, error)
}

// Cache is the minimal capability interface for the result cache. A failing
// or absent cache must never fail a request.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MetricsSink receives per-call timing and cache outcome for monitoring.
type MetricsSink interface {
	RecordSearch(duration time.Duration, cached bool, err error)
}

// ExecutorConfig bounds query cost and cache behavior. CacheTTL applies to
// pages of settled historical data, CacheTTLRecent to pages that may still
// receive new rows.
type ExecutorConfig struct {
	MaxFilterDepth int
	DefaultLimit   int
	MaxLimit       int
	CacheTTL       time.Duration
	CacheTTLRecent time.Duration
	CacheTimeout   time.Duration
}

// Executor orchestrates validation, cursor decoding, cache lookup, query
// compilation, store execution and response assembly. It holds no mutable
// state; all correctness comes from the immutable field table and the purity
// of the compiler.
type Executor struct {
	store   Store
	cache   Cache
	metrics MetricsSink
	cfg     ExecutorConfig
}

// NewExecutor creates a search executor. cache and metrics may be nil.
func NewExecutor(store Store, cache Cache, metrics MetricsSink, cfg ExecutorConfig) *Executor {
	if cfg.MaxFilterDepth <= 0 {
		cfg.MaxFilterDepth = DefaultMaxFilterDepth
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 1000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.CacheTTLRecent <= 0 {
		cfg.CacheTTLRecent = time.Minute
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = 50 * time.Millisecond
	}
	return &Executor{store: store, cache: cache, metrics: metrics, cfg: cfg}
}

// cacheEntry is the serialized form of a cached page.
type cacheEntry struct {
	Rows       []map[string]any `json:"rows"`
	NextCursor *string          `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// Search runs one cursor-paginated search within the given tenant scope.
// Validation failures return a *ValidationError before any store access;
// store failures surface as *QueryExecutionError.
func (e *Executor) Search(ctx context.Context, req SearchRequest, scope TenantScope) (*SearchResponse, error) {
	start := time.Now()

	if req.Limit == 0 {
		req.Limit = e.cfg.DefaultLimit
	}
	if req.Limit < 1 || req.Limit > e.cfg.MaxLimit {
		return nil, newValidationError(ErrInvalidLimit,
			"limit must be between 1 and %d, got %d", e.cfg.MaxLimit, req.Limit)
	}

	if req.SortBy == "" {
		req.SortBy = "ts"
	}
	if !IsSortableField(req.SortBy) {
		return nil, newValidationError(ErrInvalidSortField, "field %q is not sortable", req.SortBy)
	}

	if err := ValidateFilter(req.Filter, e.cfg.MaxFilterDepth); err != nil {
		return nil, err
	}

	var cursor *CursorState
	if req.Cursor != "" {
		var err error
		cursor, err = DecodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
	}

	// CacheKey marshals a tree that already passed validation, so a failure
	// here is an invariant violation, not an expected runtime condition. The
	// call still proceeds, just uncached.
	key, err := CacheKey(req, scope)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build cache key, proceeding uncached")
		key = ""
	}

	if entry, ok := e.cacheGet(ctx, key); ok {
		resp := &SearchResponse{
			Rows:            entry.Rows,
			NextCursor:      entry.NextCursor,
			HasMore:         entry.HasMore,
			ExecutionTimeMs: elapsedMs(start),
			Cached:          true,
		}
		e.observe(time.Since(start), true, nil)
		return resp, nil
	}

	// Fetch one extra row to detect whether another page exists.
	compiled, err := Compile(CompileOptions{
		Filter:   req.Filter,
		SortBy:   req.SortBy,
		SortDesc: req.SortDesc,
		Limit:    req.Limit + 1,
		Fields:   req.Fields,
		Cursor:   cursor,
		Scope:    scope,
	})
	if err != nil {
		return nil, err
	}

	rows, err := e.store.Query(ctx, compiled.SQL, compiled.Args)
	if err != nil {
		// The compiled SQL carries only whitelisted identifiers and $n
		// placeholders, so logging it never leaks bound values.
		log.Error().Err(err).Str("query_shape", compiled.SQL).Msg("Trace search query failed")
		e.observe(time.Since(start), false, err)
		return nil, &QueryExecutionError{Err: err}
	}

	hasMore := len(rows) > req.Limit
	if hasMore {
		rows = rows[:req.Limit]
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	var nextCursor *string
	if hasMore && len(rows) > 0 {
		// A page reporting has_more must carry the cursor to fetch it; an
		// underivable cursor fails the request rather than stranding the
		// client (or the cache) with the inconsistent pair.
		token, err := nextCursorFromRow(rows[len(rows)-1], req.SortBy, req.SortDesc)
		if err != nil {
			log.Error().Err(err).Str("sort_by", req.SortBy).Msg("Failed to derive next cursor")
			e.observe(time.Since(start), false, err)
			return nil, &QueryExecutionError{Err: fmt.Errorf("derive next cursor: %w", err)}
		}
		nextCursor = &token
	}

	e.cacheSet(ctx, key, cacheEntry{Rows: rows, NextCursor: nextCursor, HasMore: hasMore}, e.ttlFor(req.Filter))

	resp := &SearchResponse{
		Rows:            rows,
		NextCursor:      nextCursor,
		HasMore:         hasMore,
		ExecutionTimeMs: elapsedMs(start),
		Cached:          false,
	}
	e.observe(time.Since(start), false, nil)
	return resp, nil
}

// cacheGet reads a cached page. Lookups run under a short timeout; errors
// and timeouts degrade to a miss.
func (e *Executor) cacheGet(ctx context.Context, key string) (*cacheEntry, bool) {
	if e.cache == nil || key == "" {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CacheTimeout)
	defer cancel()

	payload, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Cache read failed, proceeding uncached")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		log.Warn().Err(err).Msg("Discarding corrupt cache entry")
		return nil, false
	}
	return &entry, true
}

// cacheSet stores a page best-effort. The write context is detached from
// caller cancellation: the key is deterministic and the value idempotent, so
// completing the write after the caller is gone is harmless.
func (e *Executor) cacheSet(ctx context.Context, key string, entry cacheEntry, ttl time.Duration) {
	if e.cache == nil || key == "" {
		return
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to serialize cache entry")
		return
	}

	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CacheTimeout)
	defer cancel()

	if err := e.cache.Set(setCtx, key, payload, ttl); err != nil {
		log.Warn().Err(err).Msg("Cache write failed")
	}
}

// ttlFor selects the cache TTL for a page. A query whose time window reaches
// into the last hour can still receive new rows and gets the short TTL; a
// query bounded to settled history gets the long one.
func (e *Executor) ttlFor(filter *FilterNode) time.Duration {
	if upper, ok := tsUpperBound(filter); ok && time.Since(upper) >= time.Hour {
		return e.cfg.CacheTTL
	}
	return e.cfg.CacheTTLRecent
}

// tsUpperBound finds the latest upper bound placed on the timestamp field
// anywhere in the filter tree.
func tsUpperBound(n *FilterNode) (time.Time, bool) {
	if n == nil {
		return time.Time{}, false
	}

	if n.IsLeaf() {
		if n.Field != "ts" || (n.Operator != OpLt && n.Operator != OpLte) {
			return time.Time{}, false
		}
		ts, err := time.Parse(time.RFC3339, n.Value.Str)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}

	var latest time.Time
	found := false
	for _, child := range n.Children {
		if ts, ok := tsUpperBound(child); ok {
			if !found || ts.After(latest) {
				latest = ts
				found = true
			}
		}
	}
	return latest, found
}

func (e *Executor) observe(d time.Duration, cached bool, err error) {
	if e.metrics != nil {
		e.metrics.RecordSearch(d, cached, err)
	}
}

// nextCursorFromRow derives the next page token from the last retained row.
func nextCursorFromRow(row map[string]any, sortBy string, desc bool) (string, error) {
	spec, _ := LookupField(sortBy)

	sortValue, err := filterValueOf(row[spec.Column])
	if err != nil {
		return "", fmt.Errorf("sort column %q: %w", spec.Column, err)
	}

	tieBreak, ok := row[tieBreakColumn].(string)
	if !ok || tieBreak == "" {
		return "", fmt.Errorf("row is missing tie-break column %q", tieBreakColumn)
	}

	return EncodeCursor(CursorState{SortValue: sortValue, TieBreak: tieBreak, Desc: desc})
}

// filterValueOf converts a scanned column value into a cursor-safe literal.
// Timestamps are carried as RFC 3339 strings so tokens stay stable across
// serialization boundaries.
func filterValueOf(v any) (FilterValue, error) {
	switch val := v.(type) {
	case string:
		return FilterValue{Kind: KindString, Str: val}, nil
	case time.Time:
		return FilterValue{Kind: KindString, Str: val.Format(time.RFC3339Nano)}, nil
	case int64:
		return FilterValue{Kind: KindInt, Int: val}, nil
	case int32:
		return FilterValue{Kind: KindInt, Int: int64(val)}, nil
	case int:
		return FilterValue{Kind: KindInt, Int: int64(val)}, nil
	case float64:
		return FilterValue{Kind: KindFloat, Float: val}, nil
	case float32:
		return FilterValue{Kind: KindFloat, Float: float64(val)}, nil
	}
	return FilterValue{}, fmt.Errorf("unsupported sort value type %T", v)
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

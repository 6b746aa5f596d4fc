package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/traceloom-io/traceloom/internal/database"
	"github.com/traceloom-io/traceloom/internal/search"
)

// projectScopeHeader carries the tenant scope resolved by the upstream
// authorization layer. It is stripped and re-set at the edge, so its value
// is never user-controlled by the time it reaches this handler.
const projectScopeHeader = "X-Project-ID"

// SearchHandlerConfig tunes the handler's single-trace cache.
type SearchHandlerConfig struct {
	TraceCacheTTL  time.Duration
	CacheOpTimeout time.Duration
}

// SearchHandler serves the trace search and lookup endpoints.
type SearchHandler struct {
	executor *search.Executor
	store    *database.TraceStore
	cache    search.Cache
	cfg      SearchHandlerConfig
}

// NewSearchHandler creates the search endpoints handler. cache may be nil.
func NewSearchHandler(executor *search.Executor, db *database.Connection, cache search.Cache, cfg SearchHandlerConfig) *SearchHandler {
	if cfg.TraceCacheTTL <= 0 {
		cfg.TraceCacheTTL = 5 * time.Minute
	}
	if cfg.CacheOpTimeout <= 0 {
		cfg.CacheOpTimeout = 50 * time.Millisecond
	}
	return &SearchHandler{
		executor: executor,
		store:    database.NewTraceStore(db),
		cache:    cache,
		cfg:      cfg,
	}
}

// Search handles POST /api/v1/traces/search.
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return SendErrorWithCode(c, fiber.StatusUnauthorized, "Missing project scope", "MISSING_SCOPE")
	}

	var req search.SearchRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return SendErrorWithCode(c, fiber.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err), "INVALID_BODY")
	}

	resp, err := h.executor.Search(c.Context(), req, scope)
	if err != nil {
		return sendSearchError(c, err)
	}

	log.Info().
		Str("request_id", getRequestID(c)).
		Str("project_id", scope.ProjectID).
		Int("rows", len(resp.Rows)).
		Bool("has_more", resp.HasMore).
		Bool("cached", resp.Cached).
		Float64("execution_time_ms", resp.ExecutionTimeMs).
		Msg("Trace search completed")

	return c.JSON(resp)
}

// GetTraceByID handles GET /api/v1/traces/:trace_id.
func (h *SearchHandler) GetTraceByID(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return SendErrorWithCode(c, fiber.StatusUnauthorized, "Missing project scope", "MISSING_SCOPE")
	}

	traceID := c.Params("trace_id")
	if traceID == "" {
		return SendErrorWithCode(c, fiber.StatusBadRequest, "trace_id is required", "INVALID_TRACE_ID")
	}

	start := time.Now()
	cacheKey := fmt.Sprintf("trace:%s:%s", scope.ProjectID, traceID)

	if row, ok := h.cachedTrace(c.Context(), cacheKey); ok {
		return c.JSON(fiber.Map{
			"trace":             row,
			"cached":            true,
			"execution_time_ms": float64(time.Since(start).Microseconds()) / 1000.0,
		})
	}

	rows, err := h.store.Query(c.Context(), singleTraceSQL(), []any{scope.ProjectID, traceID})
	if err != nil {
		log.Error().Err(err).Str("trace_id", traceID).Msg("Trace lookup failed")
		return SendErrorWithCode(c, fiber.StatusInternalServerError, "Failed to fetch trace", "QUERY_EXECUTION_ERROR")
	}
	if len(rows) == 0 {
		return SendErrorWithCode(c, fiber.StatusNotFound, fmt.Sprintf("Trace %q not found", traceID), "NOT_FOUND")
	}

	h.storeTrace(c.Context(), cacheKey, rows[0])

	return c.JSON(fiber.Map{
		"trace":             rows[0],
		"cached":            false,
		"execution_time_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

// requestScope extracts the tenant scope injected by the authorization layer.
func requestScope(c *fiber.Ctx) (search.TenantScope, error) {
	projectID := strings.TrimSpace(c.Get(projectScopeHeader))
	if projectID == "" {
		return search.TenantScope{}, fmt.Errorf("missing %s header", projectScopeHeader)
	}
	return search.TenantScope{ProjectID: projectID}, nil
}

func (h *SearchHandler) cachedTrace(ctx context.Context, key string) (map[string]any, bool) {
	if h.cache == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.CacheOpTimeout)
	defer cancel()

	payload, ok, err := h.cache.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			log.Warn().Err(err).Msg("Trace cache read failed")
		}
		return nil, false
	}

	var row map[string]any
	if err := json.Unmarshal(payload, &row); err != nil {
		log.Warn().Err(err).Msg("Discarding corrupt trace cache entry")
		return nil, false
	}
	return row, true
}

func (h *SearchHandler) storeTrace(ctx context.Context, key string, row map[string]any) {
	if h.cache == nil {
		return
	}

	payload, err := json.Marshal(row)
	if err != nil {
		return
	}

	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.CacheOpTimeout)
	defer cancel()

	if err := h.cache.Set(setCtx, key, payload, h.cfg.TraceCacheTTL); err != nil {
		log.Warn().Err(err).Msg("Trace cache write failed")
	}
}

// singleTraceSQL returns the newest span of a trace within the scope.
func singleTraceSQL() string {
	return `SELECT * FROM "llm_traces" WHERE "project_id" = $1 AND "trace_id" = $2 ORDER BY "ts" DESC LIMIT 1`
}

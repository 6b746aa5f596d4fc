package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// TraceStore exposes the single storage primitive the search executor
// needs: execute a parameterized query and return a row batch. It satisfies
// the executor's Store interface.
type TraceStore struct {
	conn *Connection
}

// NewTraceStore creates a trace store over an established connection.
func NewTraceStore(conn *Connection) *TraceStore {
	return &TraceStore{conn: conn}
}

// Query runs a compiled search query and scans the result into generic row
// maps keyed by column name. The connection is acquired from the pool for
// the duration of the call and released on every exit path by rows.Close.
func (s *TraceStore) Query(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to scan row values")
			continue
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading results: %w", err)
	}

	return result, nil
}

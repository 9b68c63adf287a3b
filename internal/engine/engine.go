package engine

import (
	"context"
	"strings"

	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"github.com/jackc/pgx/v5"
)

// Batch is a set of rows loaded into the engine in one step. Columns fixes the column order;
// a row without a value for a column loads it as NULL.
type Batch struct {
	Columns []string
	Rows    []models.Row
}

// TypeOverrides forces a column type (VARCHAR, DOUBLE) instead of letting the engine infer one.
// The loader supplies one for every column it loads.
type TypeOverrides map[string]string

// QueryEngine is an in-process analytical SQL engine.
type QueryEngine interface {
	// Load creates table from batch.
	Load(ctx context.Context, table string, batch Batch, overrides TypeOverrides) error
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	Close() error
}

// Factory creates a fresh, empty engine.
type Factory func(ctx context.Context) (QueryEngine, error)

const (
	TypeText   = "VARCHAR"
	TypeDouble = "DOUBLE"
)

// QuoteIdent quotes a table or column name for use in SQL text.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

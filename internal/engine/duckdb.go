package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ThiagoRGoveia/spend-analytics/internal/parser"
	"github.com/marcboeker/go-duckdb/v2"
)

type Options struct {
	Threads     int
	MemoryLimit string
	// TempDir receives the CSV files staged for each batch. Empty means the OS temp dir.
	TempDir string
}

// DuckDB is an in-memory DuckDB database behind a single connection, so session settings
// apply to every statement.
type DuckDB struct {
	connector *duckdb.Connector
	db        *sql.DB
	tempDir   string
}

func NewDuckDB(ctx context.Context, opts Options) (*DuckDB, error) {
	var settings []string
	if opts.Threads > 0 {
		settings = append(settings, fmt.Sprintf("SET threads = %d", opts.Threads))
	}
	if opts.MemoryLimit != "" {
		settings = append(settings, "SET memory_limit = "+quoteString(opts.MemoryLimit))
	}

	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		for _, s := range settings {
			if _, err := execer.ExecContext(context.Background(), s, nil); err != nil {
				return fmt.Errorf("error applying %q: %w", s, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		connector.Close()
		return nil, fmt.Errorf("connect duckdb: %w", err)
	}

	return &DuckDB{connector: connector, db: db, tempDir: opts.TempDir}, nil
}

// NewDuckDBFactory returns a Factory producing engines configured with opts.
func NewDuckDBFactory(opts Options) Factory {
	return func(ctx context.Context) (QueryEngine, error) {
		return NewDuckDB(ctx, opts)
	}
}

// Load stages the batch as a CSV file and creates table from it with read_csv. Columns named in
// overrides get that type; any other column is inferred as VARCHAR, DOUBLE or BIGINT.
func (d *DuckDB) Load(ctx context.Context, table string, batch Batch, overrides TypeOverrides) error {
	path, err := d.writeBatchCSV(batch)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	var types []string
	for _, col := range batch.Columns {
		if t, ok := overrides[col]; ok {
			types = append(types, fmt.Sprintf("%s: %s", quoteString(col), quoteString(t)))
		}
	}
	typesClause := ""
	if len(types) > 0 {
		typesClause = fmt.Sprintf(", types = {%s}", strings.Join(types, ", "))
	}

	query := fmt.Sprintf(
		`CREATE TABLE %s AS SELECT * FROM read_csv(%s, header = true, delim = ',', quote = '"', escape = '"', sample_size = -1, auto_type_candidates = ['VARCHAR', 'DOUBLE', 'BIGINT']%s)`,
		QuoteIdent(table), quoteString(path), typesClause,
	)
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("error loading %d rows into %s: %w", len(batch.Rows), table, err)
	}
	return nil
}

func (d *DuckDB) writeBatchCSV(batch Batch) (string, error) {
	file, err := os.CreateTemp(d.tempDir, "spend-batch-*.csv")
	if err != nil {
		return "", fmt.Errorf("error creating batch file: %w", err)
	}
	path := file.Name()

	writer := csv.NewWriter(file)
	err = writer.Write(batch.Columns)
	record := make([]string, len(batch.Columns))
	for _, row := range batch.Rows {
		if err != nil {
			break
		}
		for i, col := range batch.Columns {
			record[i] = parser.Stringify(row[col])
		}
		err = writer.Write(record)
	}
	if err == nil {
		writer.Flush()
		err = writer.Error()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("error writing batch file: %w", err)
	}

	return path, nil
}

func (d *DuckDB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

func (d *DuckDB) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("error reading result columns: %w", err)
	}

	var result []map[string]any
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("error scanning result row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over result rows: %w", err)
	}

	return result, nil
}

func (d *DuckDB) Close() error {
	dbErr := d.db.Close()
	connErr := d.connector.Close()
	if dbErr != nil {
		return dbErr
	}
	if connErr != nil {
		return connErr
	}
	log.Println("DuckDB engine closed.")
	return nil
}

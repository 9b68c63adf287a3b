package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThiagoRGoveia/spend-analytics/internal/database"
	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"github.com/ThiagoRGoveia/spend-analytics/internal/parser"
)

const (
	MainTable    = "spend"
	stagingTable = "spend_staging"
	// SourceColumn holds the name of the file each row came from.
	SourceColumn = "source_file"
)

// Snapshot is a ready engine together with the shape of its main table.
type Snapshot struct {
	Engine  QueryEngine
	Table   string
	Columns map[string]string
}

// HasColumn reports whether the main table has the column.
func (s *Snapshot) HasColumn(name string) bool {
	_, ok := s.Columns[name]
	return ok
}

// Loader rebuilds the analytical engine from the row store.
type Loader struct {
	store     database.RowStore
	factory   Factory
	profile   models.ColumnProfile
	batchSize int

	// initMu serializes Initialize and Close; mu guards the published snapshot only.
	initMu   sync.Mutex
	mu       sync.RWMutex
	current  *Isolated
	snapshot *Snapshot
}

func NewLoader(store database.RowStore, factory Factory, profile models.ColumnProfile, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Loader{
		store:     store,
		factory:   factory,
		profile:   profile,
		batchSize: batchSize,
	}
}

// Initialize tears down any previous engine and loads the whole store into a fresh one.
// Caller cancellation is ignored once started. On failure the new engine is released too and
// the loader stays unready.
func (l *Loader) Initialize(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	l.initMu.Lock()
	defer l.initMu.Unlock()

	l.teardown()

	start := time.Now()
	eng, err := l.factory(ctx)
	if err != nil {
		return &models.EngineInitError{Stage: "create", Err: err}
	}
	iso := NewIsolated(eng)

	snapshot, err := l.load(ctx, iso)
	if err != nil {
		if closeErr := iso.Close(); closeErr != nil {
			log.Printf("Error releasing engine after failed initialization: %v", closeErr)
		}
		log.Printf("Engine initialization failed: %v", err)
		return err
	}

	l.mu.Lock()
	l.current = iso
	l.snapshot = snapshot
	l.mu.Unlock()

	log.Printf("Engine ready with %d columns in %v", len(snapshot.Columns), time.Since(start))
	return nil
}

// Acquire returns the ready engine or a *models.QueryError wrapping models.ErrEngineNotReady.
func (l *Loader) Acquire() (*Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snapshot == nil {
		return nil, &models.QueryError{Op: "acquire", Err: models.ErrEngineNotReady}
	}
	return l.snapshot, nil
}

func (l *Loader) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot != nil
}

// Close releases the engine, returning once it is fully gone. Initialize may be called again.
func (l *Loader) Close() error {
	l.initMu.Lock()
	defer l.initMu.Unlock()
	return l.teardown()
}

func (l *Loader) teardown() error {
	l.mu.Lock()
	old := l.current
	l.current = nil
	l.snapshot = nil
	l.mu.Unlock()

	if old == nil {
		return nil
	}
	if err := old.Close(); err != nil {
		log.Printf("Error closing engine: %v", err)
		return err
	}
	log.Println("Engine torn down.")
	return nil
}

// overrides types every column of the batch: monetary columns are DOUBLE, everything else
// VARCHAR, so text never goes through numeric inference.
func (l *Loader) overrides(columns []string) TypeOverrides {
	asDouble := make(map[string]bool)
	for _, c := range l.profile.MonetaryColumns() {
		asDouble[c] = true
	}
	for _, c := range l.profile.TextOverrides {
		asDouble[c] = false
	}

	o := make(TypeOverrides, len(columns))
	for _, c := range columns {
		if asDouble[c] {
			o[c] = TypeDouble
		} else {
			o[c] = TypeText
		}
	}
	return o
}

func (l *Loader) load(ctx context.Context, eng QueryEngine) (*Snapshot, error) {
	total, err := l.store.Count(ctx)
	if err != nil {
		return nil, &models.EngineInitError{Stage: "count", Err: err}
	}

	if total == 0 {
		if err := eng.Exec(ctx, l.emptyTableDDL()); err != nil {
			return nil, &models.EngineInitError{Stage: "schema", Err: err}
		}
		log.Printf("Created empty table %s from the column profile", MainTable)
	}

	batchNum := 0
	for offset := 0; offset < total; offset += l.batchSize {
		batchNum++
		page, err := l.store.ReadPage(ctx, offset, l.batchSize)
		if err != nil {
			return nil, &models.EngineInitError{Stage: "read", Batch: batchNum, Err: err}
		}
		if len(page) == 0 {
			break
		}

		batch := toBatch(page)
		overrides := l.overrides(batch.Columns)
		if batchNum == 1 {
			err = eng.Load(ctx, MainTable, batch, overrides)
		} else {
			err = l.appendBatch(ctx, eng, batch, overrides)
		}
		if err != nil {
			return nil, &models.EngineInitError{Stage: "load", Batch: batchNum, Err: err}
		}
		log.Printf("Loaded batch %d (%d rows) into %s", batchNum, len(page), MainTable)
	}

	count, err := countRows(ctx, eng, MainTable)
	if err != nil {
		return nil, &models.EngineInitError{Stage: "verify", Err: err}
	}
	if count != int64(total) {
		return nil, &models.EngineInitError{Stage: "verify", Err: fmt.Errorf("engine holds %d rows, store holds %d", count, total)}
	}

	columns, err := tableColumns(ctx, eng, MainTable)
	if err != nil {
		return nil, &models.EngineInitError{Stage: "describe", Err: err}
	}

	return &Snapshot{Engine: eng, Table: MainTable, Columns: columns}, nil
}

func (l *Loader) emptyTableDDL() string {
	defs := []string{QuoteIdent(SourceColumn) + " " + TypeText}
	for _, c := range l.profile.DisplayColumns() {
		defs = append(defs, QuoteIdent(c)+" "+TypeText)
	}
	for _, c := range l.profile.MonetaryColumns() {
		defs = append(defs, QuoteIdent(c)+" "+TypeDouble)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(MainTable), strings.Join(defs, ", "))
}

// appendBatch loads a batch into a staging table, adds the columns the main table lacks and
// moves the rows over by column name.
func (l *Loader) appendBatch(ctx context.Context, eng QueryEngine, batch Batch, overrides TypeOverrides) error {
	main, staging := QuoteIdent(MainTable), QuoteIdent(stagingTable)

	if err := eng.Exec(ctx, "DROP TABLE IF EXISTS "+staging); err != nil {
		return fmt.Errorf("error dropping staging table: %w", err)
	}
	if err := eng.Load(ctx, stagingTable, batch, overrides); err != nil {
		return err
	}

	mainCols, err := tableColumns(ctx, eng, MainTable)
	if err != nil {
		return err
	}
	for _, col := range batch.Columns {
		if _, ok := mainCols[col]; ok {
			continue
		}
		if err := eng.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", main, QuoteIdent(col), overrides[col])); err != nil {
			return fmt.Errorf("error adding column %s: %w", col, err)
		}
	}

	if err := eng.Exec(ctx, fmt.Sprintf("INSERT INTO %s BY NAME SELECT * FROM %s", main, staging)); err != nil {
		return fmt.Errorf("error appending staging rows: %w", err)
	}
	if err := eng.Exec(ctx, "DROP TABLE "+staging); err != nil {
		return fmt.Errorf("error dropping staging table: %w", err)
	}
	return nil
}

// toBatch tags every row with its source file. Incoming keys that clash with a name the engine
// reserves are renamed with a numeric suffix.
func toBatch(page []models.PersistedRow) Batch {
	seen := map[string]bool{SourceColumn: true}
	var names []string
	rows := make([]models.Row, len(page))
	for i, p := range page {
		row := make(models.Row, len(p.Values)+1)
		for k, v := range p.Values {
			if isReserved(k) {
				k = freeName(k, p.Values)
			}
			row[k] = v
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
		row[SourceColumn] = p.Source
		rows[i] = row
	}
	sort.Strings(names)
	return Batch{Columns: append([]string{SourceColumn}, names...), Rows: rows}
}

// isReserved reports whether name would collide with the source tag or the engine's rowid.
// Engine identifiers are case-insensitive.
func isReserved(name string) bool {
	return strings.EqualFold(name, SourceColumn) || strings.EqualFold(name, "rowid")
}

func freeName(name string, taken models.Row) string {
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

func countRows(ctx context.Context, eng QueryEngine, table string) (int64, error) {
	rows, err := eng.Query(ctx, "SELECT COUNT(*) AS n FROM "+QuoteIdent(table))
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 {
		return 0, fmt.Errorf("count returned %d rows", len(rows))
	}
	return ToInt64(rows[0]["n"]), nil
}

func tableColumns(ctx context.Context, eng QueryEngine, table string) (map[string]string, error) {
	rows, err := eng.Query(ctx,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position",
		table)
	if err != nil {
		return nil, fmt.Errorf("error describing %s: %w", table, err)
	}
	cols := make(map[string]string, len(rows))
	for _, r := range rows {
		cols[parser.Stringify(r["column_name"])] = parser.Stringify(r["data_type"])
	}
	return cols, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThiagoRGoveia/spend-analytics/internal/database"
	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Load(ctx context.Context, table string, batch Batch, overrides TypeOverrides) error {
	args := m.Called(table, len(batch.Rows))
	return args.Error(0)
}

func (m *mockEngine) Exec(ctx context.Context, query string, a ...any) error {
	args := m.Called(query)
	return args.Error(0)
}

func (m *mockEngine) Query(ctx context.Context, query string, a ...any) ([]map[string]any, error) {
	args := m.Called(query)
	rows, _ := args.Get(0).([]map[string]any)
	return rows, args.Error(1)
}

func (m *mockEngine) Close() error {
	args := m.Called()
	return args.Error(0)
}

func seedStore(t *testing.T, records []models.Record) *database.SQLiteStore {
	t.Helper()
	store, err := database.OpenSQLiteStore(filepath.Join(t.TempDir(), "spend.db"), 100)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.ReplaceAll(context.Background(), records, nil, "fp")
	require.NoError(t, err)
	return store
}

func duckFactory(t *testing.T) Factory {
	return NewDuckDBFactory(Options{Threads: 1, TempDir: t.TempDir()})
}

func spendRecords(n int) []models.Record {
	records := make([]models.Record, n)
	for i := range records {
		records[i] = models.Record{
			Source: "a.csv",
			Values: models.Row{
				"Proveedor":     fmt.Sprintf("S%d", i),
				"Cód. Región":   "0012",
				"Importe Total": float64(i) + 0.5,
			},
		}
	}
	return records
}

func TestLoader_Initialize(t *testing.T) {
	ctx := context.Background()
	profile := models.DefaultColumnProfile()

	for _, n := range []int{2, 3, 4, 7} {
		t.Run(fmt.Sprintf("should load %d rows with a batch size of 3", n), func(t *testing.T) {
			loader := NewLoader(seedStore(t, spendRecords(n)), duckFactory(t), profile, 3)
			defer loader.Close()

			require.NoError(t, loader.Initialize(ctx))

			snap, err := loader.Acquire()
			require.NoError(t, err)
			count, err := countRows(ctx, snap.Engine, snap.Table)
			require.NoError(t, err)
			assert.Equal(t, int64(n), count)
			assert.Equal(t, TypeText, snap.Columns["Cód. Región"])
			assert.Equal(t, TypeDouble, snap.Columns["Importe Total"])
			assert.Equal(t, TypeText, snap.Columns[SourceColumn])
		})
	}

	t.Run("should keep text overrides and insertion order", func(t *testing.T) {
		loader := NewLoader(seedStore(t, spendRecords(5)), duckFactory(t), profile, 2)
		defer loader.Close()
		require.NoError(t, loader.Initialize(ctx))

		snap, err := loader.Acquire()
		require.NoError(t, err)
		rows, err := snap.Engine.Query(ctx, `SELECT "Proveedor" AS p, "Cód. Región" AS r FROM spend ORDER BY rowid`)
		require.NoError(t, err)

		require.Len(t, rows, 5)
		for i, r := range rows {
			assert.Equal(t, fmt.Sprintf("S%d", i), r["p"])
			assert.Equal(t, "0012", r["r"])
		}
	})

	t.Run("should keep numeric-looking text verbatim across batches", func(t *testing.T) {
		codes := []string{"1.10", "007", "12345678901234567890", "1e5", "abc"}
		records := make([]models.Record, len(codes))
		for i, code := range codes {
			records[i] = models.Record{Source: "a.csv", Values: models.Row{"Proveedor": "A", "Código": code, "Importe Total": 1.5}}
		}
		records[4].Values["Extra"] = "5"

		for _, batchSize := range []int{2, 10} {
			loader := NewLoader(seedStore(t, records), duckFactory(t), profile, batchSize)
			require.NoError(t, loader.Initialize(ctx))

			snap, err := loader.Acquire()
			require.NoError(t, err)
			assert.Equal(t, TypeText, snap.Columns["Código"])
			assert.Equal(t, TypeText, snap.Columns["Extra"])
			assert.Equal(t, TypeDouble, snap.Columns["Importe Total"])
			tables, err := snap.Engine.Query(ctx, "SELECT table_name FROM information_schema.tables WHERE table_name = ?", stagingTable)
			require.NoError(t, err)
			assert.Empty(t, tables)

			rows, err := snap.Engine.Query(ctx, `SELECT "Código" AS c, "Extra" AS e FROM spend ORDER BY rowid`)
			require.NoError(t, err)
			require.Len(t, rows, len(codes))
			for i, code := range codes {
				assert.Equal(t, code, rows[i]["c"], "batch size %d", batchSize)
			}
			assert.Nil(t, rows[0]["e"])
			assert.Equal(t, "5", rows[4]["e"])
			require.NoError(t, loader.Close())
		}
	})

	t.Run("should rename incoming columns that clash with reserved names", func(t *testing.T) {
		records := []models.Record{
			{Source: "a.csv", Values: models.Row{"Proveedor": "A", "source_file": "mine", "rowid": "9"}},
			{Source: "a.csv", Values: models.Row{"Proveedor": "B", "source_file": "mine", "rowid": "1"}},
			{Source: "b.csv", Values: models.Row{"Proveedor": "C", "source_file": "mine", "rowid": "5"}},
		}
		loader := NewLoader(seedStore(t, records), duckFactory(t), profile, 2)
		defer loader.Close()
		require.NoError(t, loader.Initialize(ctx))

		snap, err := loader.Acquire()
		require.NoError(t, err)
		rows, err := snap.Engine.Query(ctx, `SELECT "Proveedor" AS p, source_file AS s, "source_file_1" AS own, "rowid_1" AS r FROM spend ORDER BY rowid`)
		require.NoError(t, err)

		require.Len(t, rows, 3)
		assert.Equal(t, []any{"A", "B", "C"}, []any{rows[0]["p"], rows[1]["p"], rows[2]["p"]})
		assert.Equal(t, "b.csv", rows[2]["s"])
		assert.Equal(t, "mine", rows[2]["own"])
		assert.Equal(t, "9", rows[0]["r"])
	})

	t.Run("should create the profile table for an empty store", func(t *testing.T) {
		loader := NewLoader(seedStore(t, nil), duckFactory(t), profile, 3)
		defer loader.Close()

		require.NoError(t, loader.Initialize(ctx))

		snap, err := loader.Acquire()
		require.NoError(t, err)
		for _, c := range append(profile.DisplayColumns(), profile.MonetaryColumns()...) {
			assert.True(t, snap.HasColumn(c), c)
		}
		assert.Equal(t, TypeDouble, snap.Columns["Importe Pedido"])
	})

	t.Run("should tear the engine down when a later batch fails", func(t *testing.T) {
		eng := &mockEngine{}
		eng.On("Load", MainTable, 2).Return(nil).Once()
		eng.On("Exec", `DROP TABLE IF EXISTS "spend_staging"`).Return(nil).Once()
		eng.On("Load", stagingTable, 2).Return(errors.New("out of memory")).Once()
		eng.On("Close").Return(nil).Once()
		factory := func(ctx context.Context) (QueryEngine, error) { return eng, nil }
		loader := NewLoader(seedStore(t, spendRecords(5)), factory, profile, 2)

		err := loader.Initialize(ctx)

		var initErr *models.EngineInitError
		require.True(t, errors.As(err, &initErr))
		assert.Equal(t, "load", initErr.Stage)
		assert.Equal(t, 2, initErr.Batch)
		assert.False(t, loader.Ready())
		eng.AssertExpectations(t)
		eng.AssertNumberOfCalls(t, "Close", 1)
	})

	t.Run("should fail verification when the engine count differs", func(t *testing.T) {
		eng := &mockEngine{}
		eng.On("Load", MainTable, 3).Return(nil)
		eng.On("Query", `SELECT COUNT(*) AS n FROM "spend"`).Return([]map[string]any{{"n": int64(2)}}, nil)
		eng.On("Close").Return(nil).Once()
		factory := func(ctx context.Context) (QueryEngine, error) { return eng, nil }
		loader := NewLoader(seedStore(t, spendRecords(3)), factory, profile, 10)

		err := loader.Initialize(ctx)

		var initErr *models.EngineInitError
		require.True(t, errors.As(err, &initErr))
		assert.Equal(t, "verify", initErr.Stage)
		assert.False(t, loader.Ready())
		eng.AssertExpectations(t)
	})

	t.Run("should report factory failures", func(t *testing.T) {
		factory := func(ctx context.Context) (QueryEngine, error) { return nil, errors.New("no memory") }
		loader := NewLoader(seedStore(t, nil), factory, profile, 10)

		err := loader.Initialize(ctx)

		var initErr *models.EngineInitError
		require.True(t, errors.As(err, &initErr))
		assert.Equal(t, "create", initErr.Stage)
	})

	t.Run("should ignore caller cancellation", func(t *testing.T) {
		loader := NewLoader(seedStore(t, spendRecords(4)), duckFactory(t), profile, 2)
		defer loader.Close()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		require.NoError(t, loader.Initialize(cancelled))
		assert.True(t, loader.Ready())
	})
}

func TestLoader_Lifecycle(t *testing.T) {
	ctx := context.Background()
	profile := models.DefaultColumnProfile()
	loader := NewLoader(seedStore(t, spendRecords(3)), duckFactory(t), profile, 2)

	t.Run("should not be ready before initialization", func(t *testing.T) {
		_, err := loader.Acquire()

		var queryErr *models.QueryError
		require.True(t, errors.As(err, &queryErr))
		assert.ErrorIs(t, err, models.ErrEngineNotReady)
	})

	t.Run("should close a held snapshot on teardown and allow reinitialization", func(t *testing.T) {
		require.NoError(t, loader.Initialize(ctx))
		held, err := loader.Acquire()
		require.NoError(t, err)

		require.NoError(t, loader.Close())

		assert.False(t, loader.Ready())
		_, err = held.Engine.Query(ctx, "SELECT 1")
		assert.ErrorIs(t, err, models.ErrEngineClosed)

		require.NoError(t, loader.Initialize(ctx))
		snap, err := loader.Acquire()
		require.NoError(t, err)
		count, err := countRows(ctx, snap.Engine, snap.Table)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
		require.NoError(t, loader.Close())
	})

	t.Run("should replace the engine on repeated initialization", func(t *testing.T) {
		require.NoError(t, loader.Initialize(ctx))
		first, err := loader.Acquire()
		require.NoError(t, err)

		require.NoError(t, loader.Initialize(ctx))
		second, err := loader.Acquire()
		require.NoError(t, err)

		assert.NotSame(t, first, second)
		_, err = first.Engine.Query(ctx, "SELECT 1")
		assert.ErrorIs(t, err, models.ErrEngineClosed)
		require.NoError(t, loader.Close())
	})
}

func TestIsolated(t *testing.T) {
	ctx := context.Background()

	t.Run("should forward calls and close the engine once", func(t *testing.T) {
		eng := &mockEngine{}
		eng.On("Exec", "CREATE TABLE t (a INTEGER)").Return(nil)
		eng.On("Query", "SELECT a FROM t").Return([]map[string]any{{"a": int32(1)}}, nil)
		eng.On("Close").Return(nil).Once()
		iso := NewIsolated(eng)

		require.NoError(t, iso.Exec(ctx, "CREATE TABLE t (a INTEGER)"))
		rows, err := iso.Query(ctx, "SELECT a FROM t")
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"a": int32(1)}}, rows)

		require.NoError(t, iso.Close())
		require.NoError(t, iso.Close())
		eng.AssertNumberOfCalls(t, "Close", 1)

		err = iso.Exec(ctx, "SELECT 1")
		assert.ErrorIs(t, err, models.ErrEngineClosed)
	})

	t.Run("should let a caller stop waiting for a slow call", func(t *testing.T) {
		release := make(chan struct{})
		eng := &mockEngine{}
		eng.On("Exec", "slow").Run(func(mock.Arguments) { <-release }).Return(nil)
		eng.On("Close").Return(nil)
		iso := NewIsolated(eng)

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := iso.Exec(waitCtx, "slow")

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		close(release)
		require.NoError(t, iso.Close())
	})

	t.Run("should surface the engine close error", func(t *testing.T) {
		eng := &mockEngine{}
		eng.On("Close").Return(errors.New("busy"))
		iso := NewIsolated(eng)

		assert.EqualError(t, iso.Close(), "busy")
	})
}

func TestValueConversions(t *testing.T) {
	t.Run("should convert native integers and decimals", func(t *testing.T) {
		assert.Equal(t, int64(7), ToInt64(int32(7)))
		assert.Equal(t, int64(9), ToInt64(big.NewInt(9)))
		assert.Equal(t, int64(0), ToInt64(nil))
		assert.Equal(t, 12.5, ToFloat64(duckdb.Decimal{Width: 5, Scale: 1, Value: big.NewInt(125)}))
		assert.Equal(t, 3.0, ToFloat64(uint16(3)))
		assert.Equal(t, 0.0, ToFloat64(nil))
	})

	t.Run("should quote identifiers", func(t *testing.T) {
		assert.Equal(t, `"Cód. Región"`, QuoteIdent("Cód. Región"))
		assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
	})
}

func TestLoader_Overrides(t *testing.T) {
	loader := NewLoader(nil, nil, models.DefaultColumnProfile(), 10)

	t.Run("should type monetary columns as double and everything else as text", func(t *testing.T) {
		overrides := loader.overrides([]string{SourceColumn, "Importe Total", "Región", "Nº Pedido", "Anything"})

		assert.Equal(t, TypeOverrides{
			SourceColumn:    TypeText,
			"Importe Total": TypeDouble,
			"Región":        TypeText,
			"Nº Pedido":     TypeText,
			"Anything":      TypeText,
		}, overrides)
	})

	t.Run("should suffix reserved names case-insensitively", func(t *testing.T) {
		batch := toBatch([]models.PersistedRow{
			{Source: "a.csv", Values: models.Row{"ROWID": "1", "Source_File": "x", "Source_File_1": "y"}},
		})

		assert.Equal(t, []string{SourceColumn, "ROWID_1", "Source_File_1", "Source_File_2"}, batch.Columns)
		assert.Equal(t, "a.csv", batch.Rows[0][SourceColumn])
		assert.Equal(t, "x", batch.Rows[0]["Source_File_2"])
	})
}

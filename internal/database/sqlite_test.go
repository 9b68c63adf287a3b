package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, chunkSize int) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "spend.db"), chunkSize)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func makeRecords(n int, source string) []models.Record {
	records := make([]models.Record, n)
	for i := range records {
		records[i] = models.Record{
			Source: source,
			Values: models.Row{"Proveedor": fmt.Sprintf("S%d", i), "Importe Total": float64(i)},
		}
	}
	return records
}

func TestSQLiteStore_ReplaceAll(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	timeNow = func() time.Time { return fixed }
	t.Cleanup(func() { timeNow = time.Now })

	t.Run("should store rows across chunk boundaries and write metadata", func(t *testing.T) {
		store := openTestStore(t, 3)
		sources := []models.SourceFile{{Name: "a.csv", Checksum: "abc", Rows: 7}}

		meta, err := store.ReplaceAll(ctx, makeRecords(7, "a.csv"), sources, "fp-1")

		require.NoError(t, err)
		assert.Equal(t, 7, meta.RowCount)
		assert.Equal(t, fixed, meta.LastUpdated)
		assert.NotEmpty(t, meta.UploadID)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, count)

		stored, err := store.GetMetadata(ctx)
		require.NoError(t, err)
		assert.Equal(t, meta, stored)
	})

	t.Run("should replace the previous dataset entirely", func(t *testing.T) {
		store := openTestStore(t, 2)
		first, err := store.ReplaceAll(ctx, makeRecords(5, "old.csv"), nil, "fp-old")
		require.NoError(t, err)

		second, err := store.ReplaceAll(ctx, makeRecords(2, "new.csv"), nil, "fp-new")
		require.NoError(t, err)

		page, err := store.ReadPage(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, page, 2)
		for _, r := range page {
			assert.Equal(t, "new.csv", r.Source)
		}
		assert.NotEqual(t, first.UploadID, second.UploadID)
		assert.Equal(t, []models.SourceFile{}, second.Sources)
	})

	t.Run("should keep prior data intact when the replace fails", func(t *testing.T) {
		store := openTestStore(t, 2)
		before, err := store.ReplaceAll(ctx, makeRecords(3, "good.csv"), nil, "fp-good")
		require.NoError(t, err)

		bad := makeRecords(4, "bad.csv")
		bad[3].Values["broken"] = make(chan int)
		meta, err := store.ReplaceAll(ctx, bad, nil, "fp-bad")

		assert.Nil(t, meta)
		var storageErr *models.StorageError
		require.True(t, errors.As(err, &storageErr))
		assert.Equal(t, "replace", storageErr.Op)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		after, err := store.GetMetadata(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("should fail without touching data when the context is cancelled", func(t *testing.T) {
		store := openTestStore(t, 2)
		_, err := store.ReplaceAll(ctx, makeRecords(2, "good.csv"), nil, "fp")
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = store.ReplaceAll(cancelled, makeRecords(5, "other.csv"), nil, "fp2")

		assert.Error(t, err)
		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("should accept an empty dataset", func(t *testing.T) {
		store := openTestStore(t, 2)

		meta, err := store.ReplaceAll(ctx, nil, nil, "")

		require.NoError(t, err)
		assert.Equal(t, 0, meta.RowCount)
	})

	t.Run("should cap oversized chunks below the sqlite variable limit", func(t *testing.T) {
		store := openTestStore(t, 50000)
		assert.Equal(t, MaxChunkSize, store.chunkSize)

		meta, err := store.ReplaceAll(ctx, makeRecords(MaxChunkSize+10, "big.csv"), nil, "fp-big")

		require.NoError(t, err)
		assert.Equal(t, MaxChunkSize+10, meta.RowCount)
	})
}

func TestSQLiteStore_ReadPage(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 4)
	_, err := store.ReplaceAll(ctx, makeRecords(10, "a.csv"), nil, "fp")
	require.NoError(t, err)

	t.Run("should page in insertion order", func(t *testing.T) {
		var suppliers []string
		for offset := 0; ; offset += 4 {
			page, err := store.ReadPage(ctx, offset, 4)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			for _, r := range page {
				suppliers = append(suppliers, r.Values["Proveedor"].(string))
			}
		}

		require.Len(t, suppliers, 10)
		for i, s := range suppliers {
			assert.Equal(t, fmt.Sprintf("S%d", i), s)
		}
	})

	t.Run("should decode payload values", func(t *testing.T) {
		page, err := store.ReadPage(ctx, 3, 1)

		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, models.Row{"Proveedor": "S3", "Importe Total": 3.0}, page[0].Values)
		assert.Equal(t, "a.csv", page[0].Source)
	})

	t.Run("should return nothing past the end or for a zero limit", func(t *testing.T) {
		page, err := store.ReadPage(ctx, 50, 5)
		require.NoError(t, err)
		assert.Empty(t, page)

		page, err = store.ReadPage(ctx, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestSQLiteStore_Clear(t *testing.T) {
	ctx := context.Background()

	t.Run("should remove rows and metadata", func(t *testing.T) {
		store := openTestStore(t, 2)
		_, err := store.ReplaceAll(ctx, makeRecords(3, "a.csv"), nil, "fp")
		require.NoError(t, err)

		require.NoError(t, store.Clear(ctx))

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
		meta, err := store.GetMetadata(ctx)
		require.NoError(t, err)
		assert.Nil(t, meta)
	})

	t.Run("should return nil metadata for a fresh store", func(t *testing.T) {
		store := openTestStore(t, 2)

		meta, err := store.GetMetadata(ctx)

		require.NoError(t, err)
		assert.Nil(t, meta)
	})
}

func TestOpenSQLiteStore(t *testing.T) {
	t.Run("should keep data across reopen", func(t *testing.T) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "spend.db")

		store, err := OpenSQLiteStore(path, 0)
		require.NoError(t, err)
		_, err = store.ReplaceAll(ctx, makeRecords(4, "a.csv"), nil, "fp")
		require.NoError(t, err)
		require.NoError(t, store.Close())

		reopened, err := OpenSQLiteStore(path, 0)
		require.NoError(t, err)
		defer reopened.Close()

		count, err := reopened.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, count)
	})

	t.Run("should fail for an unreachable path", func(t *testing.T) {
		_, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "missing", "dir", "spend.db"), 0)

		var storageErr *models.StorageError
		assert.True(t, errors.As(err, &storageErr))
	})
}

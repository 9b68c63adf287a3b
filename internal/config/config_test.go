package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should apply defaults when nothing is set", func(t *testing.T) {
		cfg, err := New()

		require.NoError(t, err)
		assert.Equal(t, "spend.db", cfg.StorePath)
		assert.Equal(t, 1000, cfg.StoreChunkSize)
		assert.Equal(t, 5000, cfg.EngineBatchSize)
		assert.Equal(t, "8080", cfg.APIPort)
		assert.Equal(t, models.DefaultColumnProfile(), cfg.Columns)
	})

	t.Run("should read overrides from the environment", func(t *testing.T) {
		t.Setenv("SPEND_STORE_PATH", "/tmp/x.db")
		t.Setenv("ENGINE_BATCH_SIZE", "2000")
		t.Setenv("NUM_PARSER_WORKERS", "2")

		cfg, err := New()

		require.NoError(t, err)
		assert.Equal(t, "/tmp/x.db", cfg.StorePath)
		assert.Equal(t, 2000, cfg.EngineBatchSize)
		assert.Equal(t, 2, cfg.NumParserWorkers)
	})

	t.Run("should reject non integer values", func(t *testing.T) {
		t.Setenv("STORE_CHUNK_SIZE", "lots")

		_, err := New()

		assert.ErrorContains(t, err, "STORE_CHUNK_SIZE")
	})

	t.Run("should reject store chunks past the sqlite variable limit", func(t *testing.T) {
		t.Setenv("STORE_CHUNK_SIZE", "16384")

		_, err := New()

		assert.ErrorContains(t, err, "STORE_CHUNK_SIZE must be at most 16383")
	})

	t.Run("should accept the largest store chunk", func(t *testing.T) {
		t.Setenv("STORE_CHUNK_SIZE", "16383")

		cfg, err := New()

		require.NoError(t, err)
		assert.Equal(t, 16383, cfg.StoreChunkSize)
	})

	t.Run("should reject non positive batch sizes", func(t *testing.T) {
		t.Setenv("ENGINE_BATCH_SIZE", "0")

		_, err := New()

		assert.Error(t, err)
	})

	t.Run("should overlay a yaml column profile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "columns.yaml")
		content := "supplier: Vendor\ntotal: Amount\ntext_overrides:\n  - Plant Code\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		t.Setenv("COLUMN_PROFILE", path)

		cfg, err := New()

		require.NoError(t, err)
		assert.Equal(t, "Vendor", cfg.Columns.Supplier)
		assert.Equal(t, "Amount", cfg.Columns.Total)
		assert.Equal(t, "Periodo", cfg.Columns.Period, "keys absent from the file keep their default")
		assert.Equal(t, []string{"Plant Code"}, cfg.Columns.TextOverrides)
	})

	t.Run("should fail on a missing profile file", func(t *testing.T) {
		t.Setenv("COLUMN_PROFILE", filepath.Join(t.TempDir(), "nope.yaml"))

		_, err := New()

		assert.Error(t, err)
	})
}

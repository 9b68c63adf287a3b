package database

import (
	"context"

	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
)

// RowStore is the durable, transactional source of truth for the uploaded dataset.
type RowStore interface {
	// ReplaceAll swaps the whole dataset and its metadata in one transaction.
	ReplaceAll(ctx context.Context, records []models.Record, sources []models.SourceFile, fingerprint string) (*models.Metadata, error)
	// ReadPage returns rows in insertion order.
	ReadPage(ctx context.Context, offset, limit int) ([]models.PersistedRow, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	// GetMetadata returns nil when the store was never populated.
	GetMetadata(ctx context.Context) (*models.Metadata, error)
	Close() error
}

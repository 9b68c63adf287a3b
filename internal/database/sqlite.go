package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var timeNow = time.Now

const defaultChunkSize = 1000

// MaxChunkSize keeps a multi-row insert (two parameters per row) under SQLite's 32766
// variable limit.
const MaxChunkSize = 16383

// SQLiteStore keeps rows as JSON payloads in a local SQLite file. It holds a single connection,
// which makes it single-writer and lets a replace appear atomic to every reader.
type SQLiteStore struct {
	db        *sql.DB
	chunkSize int
}

// OpenSQLiteStore opens (creating if needed) the store at path and migrates its schema.
func OpenSQLiteStore(path string, chunkSize int) (*SQLiteStore, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	chunkSize = min(chunkSize, MaxChunkSize)

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &models.StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, chunkSize: chunkSize}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, &models.StorageError{Op: "migrate", Err: err}
	}

	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS spend_rows (
		id INTEGER PRIMARY KEY,
		source TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS dataset_metadata (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_updated TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		upload_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		sources TEXT NOT NULL
	);`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("error creating row store tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Printf("Error rolling back transaction: %v", err)
	}
}

func (s *SQLiteStore) ReplaceAll(ctx context.Context, records []models.Record, sources []models.SourceFile, fingerprint string) (*models.Metadata, error) {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &models.StorageError{Op: "replace", Err: fmt.Errorf("error beginning transaction: %w", err)}
	}
	defer rollback(tx)

	if err := clearTx(ctx, tx); err != nil {
		return nil, &models.StorageError{Op: "replace", Err: err}
	}

	for offset := 0; offset < len(records); offset += s.chunkSize {
		end := min(offset+s.chunkSize, len(records))
		if err := insertChunk(ctx, tx, records[offset:end]); err != nil {
			return nil, &models.StorageError{Op: "replace", Err: fmt.Errorf("error inserting rows %d-%d: %w", offset, end, err)}
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM spend_rows`).Scan(&count); err != nil {
		return nil, &models.StorageError{Op: "replace", Err: fmt.Errorf("error counting rows: %w", err)}
	}
	if count != len(records) {
		return nil, &models.StorageError{Op: "replace", Err: fmt.Errorf("inserted %d rows, expected %d", count, len(records))}
	}

	if sources == nil {
		sources = []models.SourceFile{}
	}
	meta := &models.Metadata{
		LastUpdated: timeNow().UTC(),
		RowCount:    count,
		UploadID:    uuid.NewString(),
		Fingerprint: fingerprint,
		Sources:     sources,
	}
	if err := writeMetadata(ctx, tx, meta); err != nil {
		return nil, &models.StorageError{Op: "replace", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &models.StorageError{Op: "replace", Err: fmt.Errorf("error committing transaction: %w", err)}
	}

	log.Printf("Replaced dataset with %d rows in %v", count, time.Since(start))
	return meta, nil
}

func clearTx(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM spend_rows`); err != nil {
		return fmt.Errorf("error clearing rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_metadata`); err != nil {
		return fmt.Errorf("error clearing metadata: %w", err)
	}
	return nil
}

func insertChunk(ctx context.Context, tx *sql.Tx, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*2)
	for i, r := range records {
		payload, err := json.Marshal(r.Values)
		if err != nil {
			return fmt.Errorf("error encoding row from %s: %w", r.Source, err)
		}
		placeholders[i] = "(?, ?)"
		args = append(args, r.Source, string(payload))
	}

	query := `INSERT INTO spend_rows (source, payload) VALUES ` + strings.Join(placeholders, ", ")
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func writeMetadata(ctx context.Context, tx *sql.Tx, meta *models.Metadata) error {
	sources, err := json.Marshal(meta.Sources)
	if err != nil {
		return fmt.Errorf("error encoding sources: %w", err)
	}

	query := `
	INSERT INTO dataset_metadata (id, last_updated, row_count, upload_id, fingerprint, sources)
	VALUES (1, ?, ?, ?, ?, ?);`

	if _, err := tx.ExecContext(ctx, query, meta.LastUpdated.Format(time.RFC3339Nano), meta.RowCount, meta.UploadID, meta.Fingerprint, string(sources)); err != nil {
		return fmt.Errorf("error writing metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadPage(ctx context.Context, offset, limit int) ([]models.PersistedRow, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, source, payload FROM spend_rows ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, &models.StorageError{Op: "read page", Err: err}
	}
	defer rows.Close()

	page := make([]models.PersistedRow, 0, limit)
	for rows.Next() {
		var (
			row     models.PersistedRow
			payload string
		)
		if err := rows.Scan(&row.ID, &row.Source, &payload); err != nil {
			return nil, &models.StorageError{Op: "read page", Err: fmt.Errorf("error scanning row: %w", err)}
		}
		if err := json.Unmarshal([]byte(payload), &row.Values); err != nil {
			return nil, &models.StorageError{Op: "read page", Err: fmt.Errorf("error decoding row %d: %w", row.ID, err)}
		}
		page = append(page, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "read page", Err: fmt.Errorf("error iterating over rows: %w", err)}
	}

	return page, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spend_rows`).Scan(&count); err != nil {
		return 0, &models.StorageError{Op: "count", Err: err}
	}
	return count, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.StorageError{Op: "clear", Err: fmt.Errorf("error beginning transaction: %w", err)}
	}
	defer rollback(tx)

	if err := clearTx(ctx, tx); err != nil {
		return &models.StorageError{Op: "clear", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &models.StorageError{Op: "clear", Err: fmt.Errorf("error committing transaction: %w", err)}
	}

	log.Println("Row store cleared.")
	return nil
}

func (s *SQLiteStore) GetMetadata(ctx context.Context) (*models.Metadata, error) {
	query := `
	SELECT last_updated, row_count, upload_id, fingerprint, sources
	FROM dataset_metadata
	WHERE id = 1;`

	var (
		meta        models.Metadata
		lastUpdated string
		sources     string
	)
	err := s.db.QueryRowContext(ctx, query).Scan(&lastUpdated, &meta.RowCount, &meta.UploadID, &meta.Fingerprint, &sources)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &models.StorageError{Op: "get metadata", Err: err}
	}

	meta.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated)
	if err != nil {
		return nil, &models.StorageError{Op: "get metadata", Err: fmt.Errorf("error parsing last_updated %q: %w", lastUpdated, err)}
	}
	if err := json.Unmarshal([]byte(sources), &meta.Sources); err != nil {
		return nil, &models.StorageError{Op: "get metadata", Err: fmt.Errorf("error decoding sources: %w", err)}
	}

	return &meta, nil
}

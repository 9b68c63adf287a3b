package ingestion

import (
	"context"
	"log"
	"time"

	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"github.com/ThiagoRGoveia/spend-analytics/internal/parser"
	"github.com/ThiagoRGoveia/spend-analytics/pkg/checksum"
	"golang.org/x/sync/errgroup"
)

// Upload is one file handed over by the user.
type Upload struct {
	Name    string
	Content []byte
}

// Batch is the normalized result of one ingestion call.
type Batch struct {
	Records     []models.Record
	Sources     []models.SourceFile
	Fingerprint string
}

// Ingestor turns uploads into normalized records.
type Ingestor interface {
	Ingest(ctx context.Context, uploads []Upload) (*Batch, error)
}

type IngestionService struct {
	normalizer *parser.Normalizer
	numWorkers int
}

func NewIngestionService(profile models.ColumnProfile, numWorkers int) *IngestionService {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &IngestionService{
		normalizer: parser.NewNormalizer(profile.MonetaryColumns()),
		numWorkers: numWorkers,
	}
}

type fileResult struct {
	records []models.Record
	source  models.SourceFile
}

// Ingest decodes every upload and concatenates their rows in file, sheet, row order. Files are
// decoded concurrently; if any file fails the whole batch fails and no records are returned.
func (s *IngestionService) Ingest(ctx context.Context, uploads []Upload) (*Batch, error) {
	start := time.Now()
	results := make([]fileResult, len(uploads))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.numWorkers)
	for i, upload := range uploads {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Printf("Parser worker started file %s (%d bytes)", upload.Name, len(upload.Content))
			res, err := s.parseUpload(upload)
			if err != nil {
				return err
			}
			results[i] = res
			log.Printf("Parser worker finished file %s: %d rows", upload.Name, len(res.records))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := &Batch{Sources: make([]models.SourceFile, 0, len(results))}
	total := 0
	for _, r := range results {
		total += len(r.records)
	}
	batch.Records = make([]models.Record, 0, total)

	checksums := make([]string, 0, len(results))
	for _, r := range results {
		batch.Records = append(batch.Records, r.records...)
		batch.Sources = append(batch.Sources, r.source)
		checksums = append(checksums, r.source.Checksum)
	}
	batch.Fingerprint = checksum.CombineChecksums(checksums)

	log.Printf("Ingested %d rows from %d files in %v", len(batch.Records), len(uploads), time.Since(start))
	return batch, nil
}

func (s *IngestionService) parseUpload(upload Upload) (fileResult, error) {
	sheets, err := parser.ParseFile(upload.Name, upload.Content, s.normalizer.IsMonetary)
	if err != nil {
		return fileResult{}, &models.IngestionError{File: upload.Name, Err: err}
	}

	var records []models.Record
	for _, sheet := range sheets {
		for _, raw := range sheet.Rows {
			records = append(records, models.Record{
				Source: upload.Name,
				Values: s.normalizer.NormalizeRow(raw),
			})
		}
	}

	return fileResult{
		records: records,
		source: models.SourceFile{
			Name:     upload.Name,
			Checksum: checksum.GetBytesChecksum(upload.Content),
			Rows:     len(records),
		},
	}, nil
}

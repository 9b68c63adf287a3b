package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/ThiagoRGoveia/spend-analytics/internal/ingestion"
	"github.com/ThiagoRGoveia/spend-analytics/internal/lifecycle"
	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
)

const defaultRowsLimit = 100

// Dataset is the lifecycle surface the handlers drive.
type Dataset interface {
	Analyze(ctx context.Context, uploads []ingestion.Upload) (*models.Metadata, error)
	Update(ctx context.Context, uploads []ingestion.Upload) (*models.Metadata, error)
	Purge(ctx context.Context) error
	Refresh(ctx context.Context) error
	Status(ctx context.Context) (lifecycle.Status, error)
	State() lifecycle.State
	Subscribe() (<-chan lifecycle.Event, func())
}

// Queries is the read surface the handlers expose.
type Queries interface {
	AggregateKPIs(ctx context.Context, filters models.FilterSelection) (models.KPIAggregate, error)
	RowsPage(ctx context.Context, filters models.FilterSelection, offset, limit int) ([]models.Row, error)
	DistinctValues(ctx context.Context) (models.DistinctValueSets, error)
}

type SpendService struct {
	dataset Dataset
	queries Queries
}

func NewSpendService(dataset Dataset, queries Queries) *SpendService {
	return &SpendService{dataset: dataset, queries: queries}
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var (
		ingestionErr *models.IngestionError
		storageErr   *models.StorageError
		initErr      *models.EngineInitError
		queryErr     *models.QueryError
	)
	switch {
	case errors.Is(err, models.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &ingestionErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError
	case errors.As(err, &initErr), errors.As(err, &queryErr):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("Error handling %s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func bindFilters(c echo.Context) (models.FilterSelection, error) {
	var filters models.FilterSelection
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &filters); err != nil {
		return filters, echo.NewHTTPError(http.StatusBadRequest, "Invalid filter parameters")
	}
	return filters, nil
}

func getPaginationParams(c echo.Context, defaultLimit int) (int, int) {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *SpendService) GetStatus(c echo.Context) error {
	status, err := s.dataset.Status(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *SpendService) GetKPIs(c echo.Context) error {
	filters, err := bindFilters(c)
	if err != nil {
		return err
	}
	kpis, err := s.queries.AggregateKPIs(c.Request().Context(), filters)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, kpis)
}

func (s *SpendService) GetRows(c echo.Context) error {
	filters, err := bindFilters(c)
	if err != nil {
		return err
	}
	limit, offset := getPaginationParams(c, defaultRowsLimit)
	ctx := c.Request().Context()

	rows, err := s.queries.RowsPage(ctx, filters, offset, limit)
	if err != nil {
		return respondError(c, err)
	}
	kpis, err := s.queries.AggregateKPIs(ctx, filters)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"data":   rows,
		"total":  kpis.RowCount,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *SpendService) GetDistinct(c echo.Context) error {
	sets, err := s.queries.DistinctValues(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sets)
}

// PostUpload runs the initial analysis when no dataset exists yet, otherwise replaces it.
func (s *SpendService) PostUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Expected a multipart form with one or more 'files'")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "At least one file is required in 'files'")
	}

	uploads := make([]ingestion.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Failed to open %s", fh.Filename))
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Failed to read %s", fh.Filename))
		}
		uploads = append(uploads, ingestion.Upload{Name: fh.Filename, Content: content})
	}

	ctx := c.Request().Context()
	var meta *models.Metadata
	if s.dataset.State() == lifecycle.StateUpload {
		meta, err = s.dataset.Analyze(ctx, uploads)
	} else {
		meta, err = s.dataset.Update(ctx, uploads)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, meta)
}

func (s *SpendService) PostRefresh(c echo.Context) error {
	if err := s.dataset.Refresh(c.Request().Context()); err != nil {
		return respondError(c, err)
	}
	return s.GetStatus(c)
}

func (s *SpendService) DeleteData(c echo.Context) error {
	if err := s.dataset.Purge(c.Request().Context()); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetEvents streams dataset events as server-sent events until the client goes away.
func (s *SpendService) GetEvents(c echo.Context) error {
	events, cancel := s.dataset.Subscribe()
	defer cancel()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

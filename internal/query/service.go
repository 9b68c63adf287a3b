package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThiagoRGoveia/spend-analytics/internal/engine"
	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"github.com/ThiagoRGoveia/spend-analytics/internal/parser"
)

// EngineSource hands out the current ready engine.
type EngineSource interface {
	Acquire() (*engine.Snapshot, error)
}

// Service answers the read operations behind the dashboard: KPI aggregation, filtered rows and
// the distinct values offered by each filter.
type Service struct {
	engines    EngineSource
	profile    models.ColumnProfile
	normalizer *parser.Normalizer
}

func NewService(engines EngineSource, profile models.ColumnProfile) *Service {
	return &Service{
		engines:    engines,
		profile:    profile,
		normalizer: parser.NewNormalizer(profile.MonetaryColumns()),
	}
}

// whereClause ANDs one bound equality predicate per non-empty filter. A filter on a column the
// table lacks matches nothing.
func (s *Service) whereClause(snap *engine.Snapshot, filters models.FilterSelection) (string, []any) {
	predicates := filters.Predicates()
	if len(predicates) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(predicates))
	args := make([]any, 0, len(predicates))
	for _, p := range predicates {
		col := s.profile.FilterColumn(p.Field)
		if col == "" || !snap.HasColumn(col) {
			clauses = append(clauses, "FALSE")
			continue
		}
		clauses = append(clauses, fmt.Sprintf("CAST(%s AS VARCHAR) = ?", engine.QuoteIdent(col)))
		args = append(args, p.Value)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func sumExpr(snap *engine.Snapshot, col, alias string) string {
	if col == "" || !snap.HasColumn(col) {
		return "0 AS " + alias
	}
	return fmt.Sprintf("COALESCE(SUM(TRY_CAST(%s AS DOUBLE)), 0) AS %s", engine.QuoteIdent(col), alias)
}

func distinctCountExpr(snap *engine.Snapshot, col, alias string) string {
	if col == "" || !snap.HasColumn(col) {
		return "0 AS " + alias
	}
	return fmt.Sprintf("COUNT(DISTINCT NULLIF(CAST(%s AS VARCHAR), '')) AS %s", engine.QuoteIdent(col), alias)
}

func (s *Service) AggregateKPIs(ctx context.Context, filters models.FilterSelection) (models.KPIAggregate, error) {
	snap, err := s.engines.Acquire()
	if err != nil {
		return models.KPIAggregate{}, err
	}

	where, args := s.whereClause(snap, filters)
	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join([]string{
		sumExpr(snap, s.profile.Ordered, "ordered"),
		sumExpr(snap, s.profile.Invoiced, "invoiced"),
		sumExpr(snap, s.profile.Delivered, "delivered"),
		sumExpr(snap, s.profile.Total, "total"),
		distinctCountExpr(snap, s.profile.Supplier, "suppliers"),
		distinctCountExpr(snap, s.profile.Order, "orders"),
		"COUNT(*) AS row_count",
	}, ", "), engine.QuoteIdent(snap.Table), where)

	rows, err := snap.Engine.Query(ctx, query, args...)
	if err != nil {
		return models.KPIAggregate{}, &models.QueryError{Op: "aggregate kpis", Err: err}
	}
	if len(rows) != 1 {
		return models.KPIAggregate{}, &models.QueryError{Op: "aggregate kpis", Err: fmt.Errorf("expected one result row, got %d", len(rows))}
	}

	r := rows[0]
	return models.KPIAggregate{
		TotalOrdered:   engine.ToFloat64(r["ordered"]),
		TotalInvoiced:  engine.ToFloat64(r["invoiced"]),
		TotalDelivered: engine.ToFloat64(r["delivered"]),
		Total:          engine.ToFloat64(r["total"]),
		Suppliers:      engine.ToInt64(r["suppliers"]),
		Orders:         engine.ToInt64(r["orders"]),
		RowCount:       engine.ToInt64(r["row_count"]),
	}, nil
}

// FilteredRows returns every matching row in insertion order.
func (s *Service) FilteredRows(ctx context.Context, filters models.FilterSelection) ([]models.Row, error) {
	return s.RowsPage(ctx, filters, 0, 0)
}

// RowsPage returns one page of matching rows in insertion order. A non-positive limit means
// no limit. Values follow the ingestion rules: monetary columns are numbers, the rest strings.
func (s *Service) RowsPage(ctx context.Context, filters models.FilterSelection, offset, limit int) ([]models.Row, error) {
	snap, err := s.engines.Acquire()
	if err != nil {
		return nil, err
	}

	where, args := s.whereClause(snap, filters)
	query := fmt.Sprintf("SELECT * FROM %s%s ORDER BY rowid", engine.QuoteIdent(snap.Table), where)
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(offset, 0))
	}

	rows, err := snap.Engine.Query(ctx, query, args...)
	if err != nil {
		return nil, &models.QueryError{Op: "filtered rows", Err: err}
	}

	result := make([]models.Row, len(rows))
	for i, r := range rows {
		row := make(models.Row, len(r))
		for col, v := range r {
			row[col] = engine.NormalizeValue(s.normalizer, col, v)
		}
		result[i] = row
	}
	return result, nil
}

// DistinctValues lists, per filter field, the sorted distinct non-empty values of the whole
// table. Filters never apply here.
func (s *Service) DistinctValues(ctx context.Context) (models.DistinctValueSets, error) {
	snap, err := s.engines.Acquire()
	if err != nil {
		return nil, err
	}

	sets := make(models.DistinctValueSets, len(models.FilterFields))
	for _, field := range models.FilterFields {
		col := s.profile.FilterColumn(field)
		if col == "" || !snap.HasColumn(col) {
			sets[field] = []string{}
			continue
		}

		query := fmt.Sprintf(
			"SELECT DISTINCT CAST(%[1]s AS VARCHAR) AS v FROM %[2]s WHERE NULLIF(CAST(%[1]s AS VARCHAR), '') IS NOT NULL ORDER BY v",
			engine.QuoteIdent(col), engine.QuoteIdent(snap.Table),
		)
		rows, err := snap.Engine.Query(ctx, query)
		if err != nil {
			return nil, &models.QueryError{Op: "distinct values", Err: fmt.Errorf("column %s: %w", col, err)}
		}

		values := make([]string, 0, len(rows))
		for _, r := range rows {
			values = append(values, parser.Stringify(r["v"]))
		}
		sets[field] = values
	}
	return sets, nil
}

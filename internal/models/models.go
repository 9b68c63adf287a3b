package models

import (
	"time"
)

// Row maps header text to a cell value. Before normalization values may be of any type;
// after normalization monetary columns hold float64 and every other column holds a string.
type Row = map[string]any

// Record is a normalized row tagged with the file it came from, not yet persisted.
type Record struct {
	Source string `json:"source"`
	Values Row    `json:"values"`
}

// PersistedRow is a Record as stored by the row store. IDs grow in insertion order.
type PersistedRow struct {
	ID     int64  `json:"id"`
	Source string `json:"source"`
	Values Row    `json:"values"`
}

type SourceFile struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
	Rows     int    `json:"rows"`
}

// Metadata is the singleton describing the stored dataset.
type Metadata struct {
	LastUpdated time.Time    `json:"lastUpdated"`
	RowCount    int          `json:"rowCount"`
	UploadID    string       `json:"uploadId,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Sources     []SourceFile `json:"sources,omitempty"`
}

type FilterField string

const (
	FilterPeriod      FilterField = "period"
	FilterCategory    FilterField = "category"
	FilterSupplier    FilterField = "supplier"
	FilterRegion      FilterField = "region"
	FilterStatus      FilterField = "status"
	FilterSubcategory FilterField = "subcategory"
)

// FilterFields lists every filterable field in presentation order.
var FilterFields = []FilterField{
	FilterPeriod,
	FilterCategory,
	FilterSupplier,
	FilterRegion,
	FilterStatus,
	FilterSubcategory,
}

// FilterSelection holds one optional equality predicate per filter field. An empty value
// imposes no predicate.
type FilterSelection struct {
	Period      string `json:"period,omitempty" query:"period"`
	Category    string `json:"category,omitempty" query:"category"`
	Supplier    string `json:"supplier,omitempty" query:"supplier"`
	Region      string `json:"region,omitempty" query:"region"`
	Status      string `json:"status,omitempty" query:"status"`
	Subcategory string `json:"subcategory,omitempty" query:"subcategory"`
}

type Predicate struct {
	Field FilterField
	Value string
}

// Predicates returns the non-empty predicates in FilterFields order.
func (f FilterSelection) Predicates() []Predicate {
	values := map[FilterField]string{
		FilterPeriod:      f.Period,
		FilterCategory:    f.Category,
		FilterSupplier:    f.Supplier,
		FilterRegion:      f.Region,
		FilterStatus:      f.Status,
		FilterSubcategory: f.Subcategory,
	}

	predicates := make([]Predicate, 0, len(FilterFields))
	for _, field := range FilterFields {
		if v := values[field]; v != "" {
			predicates = append(predicates, Predicate{Field: field, Value: v})
		}
	}
	return predicates
}

func (f FilterSelection) IsEmpty() bool {
	return len(f.Predicates()) == 0
}

type KPIAggregate struct {
	TotalOrdered   float64 `json:"totalOrdered"`
	TotalInvoiced  float64 `json:"totalInvoiced"`
	TotalDelivered float64 `json:"totalDelivered"`
	Total          float64 `json:"total"`
	Suppliers      int64   `json:"suppliers"`
	Orders         int64   `json:"orders"`
	RowCount       int64   `json:"rowCount"`
}

// DistinctValueSets holds, per filter field, the sorted distinct non-empty values of the whole table.
type DistinctValueSets map[FilterField][]string

package engine

import (
	"math/big"

	"github.com/ThiagoRGoveia/spend-analytics/internal/parser"
	"github.com/marcboeker/go-duckdb/v2"
)

// ToFloat64 converts a native engine result (integers, HUGEINT, DECIMAL, floats) to float64.
// NULL is 0.
func ToFloat64(v any) float64 {
	if d, ok := v.(duckdb.Decimal); ok {
		return d.Float64()
	}
	return parser.ParseAmount(v)
}

// ToInt64 converts a native engine integer result to int64. NULL is 0.
func ToInt64(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case int64:
		return x
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case int:
		return int64(x)
	case uint64:
		return int64(x)
	case uint32:
		return int64(x)
	case uint16:
		return int64(x)
	case uint8:
		return int64(x)
	case *big.Int:
		if x == nil {
			return 0
		}
		return x.Int64()
	default:
		return int64(ToFloat64(v))
	}
}

// NormalizeValue maps an engine value to the representation rows had at ingestion.
func NormalizeValue(n *parser.Normalizer, column string, v any) any {
	if d, ok := v.(duckdb.Decimal); ok {
		v = d.Float64()
	}
	return n.NormalizeValue(column, v)
}

package parser

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// Normalizer coerces cell values: monetary columns become float64, everything else a string.
type Normalizer struct {
	monetary map[string]bool
}

func NewNormalizer(monetaryColumns []string) *Normalizer {
	set := make(map[string]bool, len(monetaryColumns))
	for _, c := range monetaryColumns {
		set[c] = true
	}
	return &Normalizer{monetary: set}
}

func (n *Normalizer) IsMonetary(column string) bool {
	return n.monetary[column]
}

// NormalizeRow returns a new row with every value coerced. Keys are preserved as-is.
func (n *Normalizer) NormalizeRow(raw map[string]any) map[string]any {
	row := make(map[string]any, len(raw))
	for col, v := range raw {
		row[col] = n.NormalizeValue(col, v)
	}
	return row
}

func (n *Normalizer) NormalizeValue(column string, v any) any {
	if n.monetary[column] {
		return ParseAmount(v)
	}
	return Stringify(v)
}

// ParseAmount parses a locale formatted amount. Whitespace is dropped and a comma is taken as
// the decimal separator. Anything unparsable is 0.
func ParseAmount(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case *big.Int:
		if x == nil {
			return 0
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return finite(f)
	case decimal.Decimal:
		f, _ := x.Float64()
		return finite(f)
	case string:
		return parseAmountString(x)
	default:
		return parseAmountString(fmt.Sprint(x))
	}
}

func parseAmountString(s string) float64 {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return finite(f)
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Stringify renders any cell value as text. nil becomes "".
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

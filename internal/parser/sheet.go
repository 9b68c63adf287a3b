package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const emptyHeader = "__EMPTY"

var zipSignature = []byte("PK\x03\x04")

// Sheet is one decoded worksheet. Rows hold raw, not yet normalized, cell values keyed by header.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []map[string]any
}

type Format int

const (
	FormatDelimited Format = iota
	FormatWorkbook
	FormatLegacyWorkbook
)

// DetectFormat decides how a file is decoded, from its signature first and its extension second.
func DetectFormat(name string, content []byte) Format {
	if bytes.HasPrefix(content, zipSignature) {
		return FormatWorkbook
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return FormatWorkbook
	case ".xls":
		return FormatLegacyWorkbook
	}
	return FormatDelimited
}

// ParseFile decodes any supported file. preferRaw reports the headers whose workbook cells must
// be read unformatted.
func ParseFile(name string, content []byte, preferRaw func(header string) bool) ([]Sheet, error) {
	switch DetectFormat(name, content) {
	case FormatWorkbook:
		return ParseWorkbook(content, preferRaw)
	case FormatLegacyWorkbook:
		return nil, fmt.Errorf("legacy .xls workbooks are not supported, save the file as .xlsx or .csv")
	default:
		return ParseDelimited(content)
	}
}

// rowsFromGrid turns a cell grid into keyed rows. The first row with any content is the header.
// raw, when given, is aligned with formatted and supplies the value for headers preferRaw accepts.
func rowsFromGrid(formatted, raw [][]string, preferRaw func(string) bool) ([]string, []map[string]any) {
	start := -1
	for i, r := range formatted {
		if hasContent(r) {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, nil
	}

	headers := normalizeHeaders(formatted[start])
	useRaw := make([]bool, len(headers))
	if raw != nil && preferRaw != nil {
		for i, h := range headers {
			useRaw[i] = preferRaw(h)
		}
	}

	var rows []map[string]any
	for i := start + 1; i < len(formatted); i++ {
		cells := formatted[i]
		if !hasContent(cells) {
			continue
		}

		row := make(map[string]any, len(headers))
		for c, header := range headers {
			value := cellAt(cells, c)
			if useRaw[c] && i < len(raw) {
				if rv := cellAt(raw[i], c); rv != "" {
					value = rv
				}
			}
			if value == "" {
				continue
			}
			row[header] = value
		}
		rows = append(rows, row)
	}
	return headers, rows
}

// normalizeHeaders applies NFC, trims, names blank headers and suffixes duplicates.
func normalizeHeaders(cells []string) []string {
	headers := make([]string, len(cells))
	seen := make(map[string]int, len(cells))
	for i, cell := range cells {
		h := strings.TrimSpace(norm.NFC.String(cell))
		if h == "" {
			h = emptyHeader
		}
		if n := seen[h]; n > 0 {
			for {
				candidate := fmt.Sprintf("%s_%d", h, n)
				n++
				if seen[candidate] == 0 {
					seen[h] = n
					h = candidate
					break
				}
			}
		}
		seen[h]++
		headers[i] = h
	}
	return headers
}

func hasContent(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

func cellAt(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

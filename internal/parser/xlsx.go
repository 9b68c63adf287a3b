package parser

import (
	"bytes"
	"fmt"
	"log"

	"github.com/xuri/excelize/v2"
)

// ParseWorkbook decodes every sheet of an OOXML workbook, in workbook order.
func ParseWorkbook(content []byte, preferRaw func(header string) bool) ([]Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("WARN: failed to close workbook: %v", err)
		}
	}()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		formatted, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read rows from sheet %s: %w", name, err)
		}

		// Display formats (thousand separators, currency symbols) would break amount parsing,
		// so money columns are read from the stored value.
		var raw [][]string
		if preferRaw != nil {
			raw, err = f.GetRows(name, excelize.Options{RawCellValue: true})
			if err != nil {
				return nil, fmt.Errorf("failed to read raw rows from sheet %s: %w", name, err)
			}
		}

		headers, rows := rowsFromGrid(formatted, raw, preferRaw)
		sheets = append(sheets, Sheet{Name: name, Headers: headers, Rows: rows})
	}

	return sheets, nil
}

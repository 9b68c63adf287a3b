package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var candidateDelimiters = []rune{',', ';', '\t', '|'}

// ParseDelimited decodes delimited text into raw rows. Delimited files hold a single unnamed
// sheet, so the result always has one element.
func ParseDelimited(content []byte) ([]Sheet, error) {
	text, err := decodeText(content)
	if err != nil {
		return nil, err
	}

	if bytes.IndexByte(text, 0) != -1 {
		return nil, fmt.Errorf("content is binary, not delimited text")
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = sniffDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record from delimited text: %w", err)
		}
		records = append(records, record)
	}

	headers, rows := rowsFromGrid(records, nil, nil)
	return []Sheet{{Headers: headers, Rows: rows}}, nil
}

// decodeText strips a UTF-8 BOM and falls back to Windows-1252 for legacy exports.
func decodeText(content []byte) ([]byte, error) {
	if utf8.Valid(content) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), content)
		if err != nil {
			return nil, fmt.Errorf("failed to decode utf-8 text: %w", err)
		}
		return out, nil
	}

	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode windows-1252 text: %w", err)
	}
	return out, nil
}

// sniffDelimiter picks the candidate seen most often on the first line, outside quotes.
func sniffDelimiter(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i != -1 {
		line = text[:i]
	}

	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, r := range string(line) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best := candidateDelimiters[0]
	for _, d := range candidateDelimiters[1:] {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

// Package tabular parses uploaded tabular files into a header plus raw rows.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Table is a parsed tabular file. Rows keep their raw string cells; the
// feature codec decides how each column is interpreted.
type Table struct {
	Header []string
	Rows   [][]string
}

// Parse reads CSV bytes into a Table. The first record is the header.
// Ragged rows fail the parse: a structurally broken file cannot be scored.
func Parse(data []byte) (*Table, error) {
	reader := csv.NewReader(bytes.NewReader(data))

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) == 0 {
		return nil, errors.New("header has no columns")
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(rows), err)
		}
		rows = append(rows, record)
	}

	if len(rows) == 0 {
		return nil, errors.New("file has a header but no data rows")
	}

	return &Table{Header: header, Rows: rows}, nil
}

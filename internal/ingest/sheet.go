// Package ingest reads spreadsheet exports into raw rows for the normalizer.
// No interpretation happens here: header cells become keys exactly as
// written, value cells become strings, and the normalizer downstream deals
// with the inconsistencies.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/reqtrack/reqtrack/internal/normalize"
)

// ReadFile dispatches on extension: .xlsx goes through excelize, everything
// else is treated as CSV.
func ReadFile(path string) ([]normalize.Row, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ReadXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadXLSX reads the first sheet of an xlsx workbook. The first row is the
// header; every following row becomes one Row keyed by the header cells.
func ReadXLSX(path string) ([]normalize.Row, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}

	records, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	return rowsFromRecords(records), nil
}

// ReadCSV reads comma-separated rows, first record as header.
func ReadCSV(r io.Reader) ([]normalize.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // exports often have ragged rows

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	return rowsFromRecords(records), nil
}

func rowsFromRecords(records [][]string) []normalize.Row {
	if len(records) < 2 {
		return nil
	}

	header := records[0]
	rows := make([]normalize.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(normalize.Row, len(header))
		empty := true
		for i, key := range header {
			if key == "" {
				continue
			}
			var val string
			if i < len(rec) {
				val = rec[i]
			}
			row[key] = val
			if strings.TrimSpace(val) != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

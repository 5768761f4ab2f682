package calibration

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Row is one raw line of an uploaded calibration chart, before parsing.
type Row struct {
	Dip    string `json:"dip"`
	Volume string `json:"volume"`
}

// Normalize turns raw upload rows into a table.
//
// Rows that do not parse to a non-negative (dip, volume) pair are skipped.
// When a dip value repeats, the last row wins. The result is sorted by dip.
func Normalize(rows []Row) (Table, error) {
	byDip := make(map[string]Point, len(rows))
	for _, r := range rows {
		p, ok := parseRow(r)
		if !ok {
			continue
		}
		byDip[p.DipMM.String()] = p
	}
	if len(byDip) == 0 {
		return nil, ErrEmptyCalibrationData
	}

	table := make(Table, 0, len(byDip))
	for _, p := range byDip {
		table = append(table, p)
	}
	table.sort()
	return table, nil
}

func parseRow(r Row) (Point, bool) {
	dip, err := decimal.NewFromString(strings.TrimSpace(r.Dip))
	if err != nil {
		return Point{}, false
	}
	vol, err := decimal.NewFromString(strings.TrimSpace(r.Volume))
	if err != nil {
		return Point{}, false
	}
	p := Point{DipMM: dip, Volume: vol}
	return p, p.Valid()
}

// ParseCSV reads "dip,volume" lines. A header line is tolerated because it
// fails to parse and is skipped by Normalize.
func ParseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read calibration csv: %w", err)
		}
		rows = append(rows, recordToRow(rec))
	}
	return rows, nil
}

// ParseXLSX reads the first sheet of a workbook, columns A (dip) and B (volume).
func ParseXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open calibration workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyCalibrationData
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, recordToRow(rec))
	}
	return rows, nil
}

func recordToRow(rec []string) Row {
	var row Row
	if len(rec) > 0 {
		row.Dip = rec[0]
	}
	if len(rec) > 1 {
		row.Volume = rec[1]
	}
	return row
}

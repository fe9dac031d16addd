package storage

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/concentra-hq/concentra/internal/errs"
	"github.com/concentra-hq/concentra/internal/table"
)

// DelimitedOptions controls delimited-text ingestion.
type DelimitedOptions struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// MaxBytes rejects files above this size with PayloadTooLarge; zero
	// disables the check.
	MaxBytes int64
}

// ReadDelimited reads a delimited text file into a string-typed table. The
// first record is the header row. Empty cells become null; quoted empty
// strings are indistinguishable in the delimited format and are treated the
// same way. Leading zeros survive because every cell stays a string until the
// normalizer coerces it.
func ReadDelimited(path string, opts DelimitedOptions) (*table.Table, []string, error) {
	if opts.MaxBytes > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, nil, errs.NotFound("File not found: %s", path)
		}
		if info.Size() > opts.MaxBytes {
			return nil, nil, errs.PayloadTooLarge("File exceeds maximum size of %d bytes", opts.MaxBytes)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errs.NotFound("File not found: %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if opts.Comma != 0 {
		r.Comma = opts.Comma
	}
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, errs.Validation("Failed to parse delimited file: %v", err)
	}
	if len(records) == 0 {
		return nil, nil, errs.Validation("File contains no data")
	}

	headers := records[0]
	return cellsToTable(headers, records[1:])
}

// cellsToTable builds a string-typed column store from header + data rows.
// Short rows are padded with nulls; long rows are truncated to the header.
func cellsToTable(headers []string, rows [][]string) (*table.Table, []string, error) {
	t := table.New()
	for ci, h := range headers {
		vals := make([]table.Value, len(rows))
		for ri, row := range rows {
			if ci >= len(row) || row[ci] == "" {
				vals[ri] = table.Null()
			} else {
				vals[ri] = table.String(row[ci])
			}
		}
		name := h
		if name == "" {
			name = fmt.Sprintf("column_%d", ci+1)
		}
		col := &table.Column{Name: name, Type: table.TypeString, Values: vals}
		if err := t.AddColumn(col); err != nil {
			// Raw headers may collide; suffix until unique. The normalizer
			// applies its own deduplication to the cleaned names later.
			for i := 2; ; i++ {
				col.Name = fmt.Sprintf("%s_%d", name, i)
				if err := t.AddColumn(col); err == nil {
					break
				}
			}
		}
	}
	return t, headers, nil
}

// WriteDelimited writes a table as comma-delimited text. Null cells render as
// empty fields.
func WriteDelimited(t *table.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Names()); err != nil {
		return err
	}

	cols := t.Columns()
	record := make([]string, len(cols))
	for ri := 0; ri < t.NumRows(); ri++ {
		for ci, c := range cols {
			record[ci] = c.Values[ri].Text()
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

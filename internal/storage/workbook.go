package storage

import (
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/concentra-hq/concentra/internal/errs"
	"github.com/concentra-hq/concentra/internal/table"
)

// Sheet pairs a worksheet name with its table; WriteSpreadsheet preserves the
// given order.
type Sheet struct {
	Name  string
	Table *table.Table
}

// ReadSpreadsheet reads one sheet of an xlsx/xls workbook into a string-typed
// table. An empty sheet name selects the first sheet.
func ReadSpreadsheet(path, sheet string, maxBytes int64) (*table.Table, []string, error) {
	if maxBytes > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, nil, errs.NotFound("File not found: %s", path)
		}
		if info.Size() > maxBytes {
			return nil, nil, errs.PayloadTooLarge("File exceeds maximum size of %d bytes", maxBytes)
		}
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, errs.Validation("Failed to open workbook: %v", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil, errs.Validation("Workbook contains no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, errs.Validation("Sheet '%s' not found in workbook", sheet)
	}
	if len(rows) == 0 {
		return nil, nil, errs.Validation("Sheet '%s' contains no data", sheet)
	}

	// Pad ragged rows to the widest row so column extraction is rectangular.
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	headers := make([]string, width)
	copy(headers, rows[0])
	for i, h := range headers {
		if h == "" {
			headers[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	return cellsToTable(headers, rows[1:])
}

// WriteSpreadsheet writes ordered sheets to an xlsx workbook.
func WriteSpreadsheet(sheets []Sheet, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	for si, sheet := range sheets {
		if si == 0 {
			// Rename the default sheet rather than leaving an empty Sheet1.
			if err := f.SetSheetName("Sheet1", sheet.Name); err != nil {
				return err
			}
		} else {
			if _, err := f.NewSheet(sheet.Name); err != nil {
				return err
			}
		}
		if err := writeSheet(f, sheet.Name, sheet.Table); err != nil {
			return err
		}
	}

	return f.SaveAs(path)
}

func writeSheet(f *excelize.File, name string, t *table.Table) error {
	header := make([]any, t.NumCols())
	for i, n := range t.Names() {
		header[i] = n
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}

	cols := t.Columns()
	for ri := 0; ri < t.NumRows(); ri++ {
		row := make([]any, len(cols))
		for ci, c := range cols {
			row[ci] = c.Values[ri].Interface()
		}
		cell, err := excelize.CoordinatesToCellName(1, ri+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

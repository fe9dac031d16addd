// Package export renders concentration result documents as flat CSV and
// multi-sheet workbook artifacts. Both outputs reflect the JSON document
// faithfully; periods that failed with a non-positive total contribute no
// data rows.
package export

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/concentra-hq/concentra/internal/concentration"
	"github.com/concentra-hq/concentra/internal/storage"
)

var csvHeader = []string{"period", "threshold", "count", "value", "pct_of_total"}

// WriteCSV renders the flat export: one row per (period, threshold) in period
// order with TOTAL last, then the transitional trailing GroupBy record.
func WriteCSV(res *concentration.Result, path string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, pr := range res.ByPeriod {
		if err := writePeriodRows(w, pr, res.Thresholds); err != nil {
			return err
		}
	}
	if err := writePeriodRows(w, res.Totals, res.Thresholds); err != nil {
		return err
	}

	// Transitional trailer for legacy consumers; they ignore extra columns.
	if err := w.Write([]string{"GroupBy", res.GroupBy}); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return storage.WriteFileAtomic(path, buf.Bytes())
}

func writePeriodRows(w *csv.Writer, pr concentration.PeriodResult, thresholds []int) error {
	if pr.Error != "" {
		return nil
	}
	for _, x := range thresholds {
		m, ok := pr.Concentration[x]
		if !ok {
			continue
		}
		row := []string{
			pr.Period,
			strconv.Itoa(x),
			strconv.Itoa(m.Count),
			strconv.FormatFloat(m.Value, 'f', -1, 64),
			strconv.FormatFloat(m.PctOfTotal, 'f', 1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

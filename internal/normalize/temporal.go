package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/concentra-hq/concentra/internal/table"
)

// PeriodKeyColumn is the derived column added when a grain is detected.
const PeriodKeyColumn = "period_key"

var (
	timeCandidateName = regexp.MustCompile(`(?i)(^|_)(date|dt|as_of|posting_date|transaction_date|year|month|quarter|fiscal_period)(_|$)`)
	yearValue         = regexp.MustCompile(`^(19|20)\d{2}$`)
	yearMonthValue    = regexp.MustCompile(`^\d{4}-\d{1,2}$|^\d{1,2}/\d{4}$`)
	quarterValue      = regexp.MustCompile(`(?i)^Q[1-4]$`)

	yearColName    = regexp.MustCompile(`(?i)(^|_)year(_|$)`)
	monthColName   = regexp.MustCompile(`(?i)(^|_)month(_|$)`)
	quarterColName = regexp.MustCompile(`(?i)(^|_)quarter(_|$)`)
)

// temporal holds the outcome of temporal detection over a normalized table.
type temporal struct {
	grain      Grain
	candidates []Grain
	timeCols   []string
	dateCol    string
	yearCol    string
	monthCol   string
	quarterCol string
}

// detectTemporal finds time candidate columns and selects the period grain by
// precedence: date > year+month > year+quarter > year > none.
func detectTemporal(t *table.Table) temporal {
	det := temporal{grain: GrainNone}

	for _, c := range t.Columns() {
		candidate := timeCandidateName.MatchString(c.Name)
		if !candidate {
			candidate = valuesLookTemporal(c)
		}
		if !candidate {
			continue
		}
		det.timeCols = append(det.timeCols, c.Name)

		switch {
		case c.Type == table.TypeDatetime && det.dateCol == "":
			det.dateCol = c.Name
		case yearColName.MatchString(c.Name) && det.yearCol == "" && validYears(c):
			det.yearCol = c.Name
		case monthColName.MatchString(c.Name) && det.monthCol == "" && validMonths(c):
			det.monthCol = c.Name
		case quarterColName.MatchString(c.Name) && det.quarterCol == "" && validQuarters(c):
			det.quarterCol = c.Name
		}
	}

	// Candidate grains in precedence order; the selected grain is the first
	// computable one, keeping the candidate list prefix-closed.
	if det.dateCol != "" || (det.yearCol != "" && det.monthCol != "") {
		det.candidates = append(det.candidates, GrainYearMonth)
	}
	if det.yearCol != "" && det.quarterCol != "" {
		det.candidates = append(det.candidates, GrainYearQuarter)
	}
	if det.yearCol != "" {
		det.candidates = append(det.candidates, GrainYear)
	}
	if len(det.candidates) > 0 {
		det.grain = det.candidates[0]
	}
	return det
}

// valuesLookTemporal samples a column's non-null values for year, year-month
// or quarter shapes.
func valuesLookTemporal(c *table.Column) bool {
	matched, checked := 0, 0
	for _, v := range c.Values {
		if v.IsNull() {
			continue
		}
		checked++
		s := strings.TrimSpace(v.Text())
		if yearValue.MatchString(s) || yearMonthValue.MatchString(s) || quarterValue.MatchString(s) {
			matched++
		}
		if checked >= 100 {
			break
		}
	}
	return checked > 0 && float64(matched)/float64(checked) >= 0.7
}

func validYears(c *table.Column) bool {
	return validRange(c, 1900, 2100)
}

func validMonths(c *table.Column) bool {
	return validRange(c, 1, 12)
}

func validQuarters(c *table.Column) bool {
	ok, checked := 0, 0
	for _, v := range c.Values {
		if v.IsNull() {
			continue
		}
		checked++
		if _, valid := quarterOf(v); valid {
			ok++
		}
	}
	return checked > 0 && float64(ok)/float64(checked) >= 0.7
}

func validRange(c *table.Column, lo, hi float64) bool {
	ok, checked := 0, 0
	for _, v := range c.Values {
		if v.IsNull() {
			continue
		}
		checked++
		if f, isNum := v.AsFloat(); isNum && f >= lo && f <= hi && f == float64(int64(f)) {
			ok++
		} else if f, err := strconv.ParseFloat(strings.TrimSpace(v.Text()), 64); err == nil && f >= lo && f <= hi {
			ok++
		}
	}
	return checked > 0 && float64(ok)/float64(checked) >= 0.7
}

// quarterOf extracts 1..4 from numeric values or Q1..Q4 tokens.
func quarterOf(v table.Value) (int, bool) {
	if f, ok := v.AsFloat(); ok && f >= 1 && f <= 4 && f == float64(int64(f)) {
		return int(f), true
	}
	s := strings.ToUpper(strings.TrimSpace(v.Text()))
	if quarterValue.MatchString(s) {
		q, _ := strconv.Atoi(s[1:])
		return q, true
	}
	return 0, false
}

func intOf(v table.Value) (int, bool) {
	if f, ok := v.AsFloat(); ok && f == float64(int64(f)) {
		return int(f), true
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v.Text())); err == nil {
		return n, true
	}
	return 0, false
}

// derivePeriodKey builds the period_key column for the selected grain.
// Formats: YYYY-M02 (zero-padded month), YYYY-Q1..Q4, YYYY. Rows whose
// components are missing get null keys.
func (det temporal) derivePeriodKey(t *table.Table) *table.Column {
	n := t.NumRows()
	vals := make([]table.Value, n)
	for i := range vals {
		vals[i] = table.Null()
	}

	switch det.grain {
	case GrainYearMonth:
		if det.dateCol != "" {
			col, _ := t.Column(det.dateCol)
			for i, v := range col.Values {
				if v.IsNull() {
					continue
				}
				ts := v.Time()
				vals[i] = table.String(fmt.Sprintf("%04d-M%02d", ts.Year(), int(ts.Month())))
			}
		} else {
			yc, _ := t.Column(det.yearCol)
			mc, _ := t.Column(det.monthCol)
			for i := 0; i < n; i++ {
				y, yok := intOf(yc.Values[i])
				m, mok := intOf(mc.Values[i])
				if yok && mok && m >= 1 && m <= 12 {
					vals[i] = table.String(fmt.Sprintf("%04d-M%02d", y, m))
				}
			}
		}
	case GrainYearQuarter:
		yc, _ := t.Column(det.yearCol)
		qc, _ := t.Column(det.quarterCol)
		for i := 0; i < n; i++ {
			y, yok := intOf(yc.Values[i])
			q, qok := quarterOf(qc.Values[i])
			if yok && qok {
				vals[i] = table.String(fmt.Sprintf("%04d-Q%d", y, q))
			}
		}
	case GrainYear:
		yc, _ := t.Column(det.yearCol)
		for i := 0; i < n; i++ {
			if y, ok := intOf(yc.Values[i]); ok {
				vals[i] = table.String(fmt.Sprintf("%04d", y))
			}
		}
	default:
		return nil
	}

	return &table.Column{Name: PeriodKeyColumn, Type: table.TypeString, Values: vals}
}

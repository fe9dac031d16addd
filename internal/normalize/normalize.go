// Package normalize transforms a string-typed ingest table into a typed table
// plus the detected schema document: header cleanup, value coercion with
// per-column counters, role assignment, anomaly statistics, temporal
// detection and period-key derivation. The pipeline is deterministic; the
// same input always yields the same table, schema and warnings.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concentra-hq/concentra/internal/table"
)

// Numeric coercion keeps a column only when at most half the non-null cells
// fail to parse.
const maxNumericFailureRate = 0.5

var (
	negativeFlagged = regexp.MustCompile(`(?i)(^|_)(revenue|sales|turnover)(_|$)`)
	negativeAllowed = regexp.MustCompile(`(?i)(cost|expense|profit|margin|adjustment|net_income)`)
)

// Result bundles the typed table, the schema document and the warnings the
// normalizer produced.
type Result struct {
	Table    *table.Table
	Schema   *Schema
	Warnings []string
}

// Normalize runs the full pipeline over a raw table whose cells are strings
// or nulls. Column names in the input are the original headers.
func Normalize(raw *table.Table) (*Result, error) {
	headers := raw.Names()
	cleaned, mapping := CleanHeaders(headers)

	typed := table.New()
	columns := make([]ColumnSchema, 0, len(cleaned))
	var warnings []string
	datasetCurrencies := make(map[string]struct{})

	for ci, rawCol := range raw.Columns() {
		name := cleaned[ci]
		strs, nulls := stringCells(rawCol)

		col, cs, colWarnings := normalizeColumn(name, strs, nulls)
		cs.OriginalName = mapping[name]
		warnings = append(warnings, colWarnings...)
		for _, cur := range cs.CurrenciesDetected {
			datasetCurrencies[cur] = struct{}{}
		}

		if err := typed.AddColumn(col); err != nil {
			return nil, fmt.Errorf("normalize: %w", err)
		}
		columns = append(columns, cs)
	}

	if len(datasetCurrencies) > 1 {
		warnings = append(warnings, "Multi-currency data detected")
	}
	warnings = dedupe(warnings)

	det := detectTemporal(typed)
	if pk := det.derivePeriodKey(typed); pk != nil {
		if err := typed.AddColumn(pk); err != nil {
			return nil, fmt.Errorf("normalize: %w", err)
		}
		columns = append(columns, ColumnSchema{
			Name:         PeriodKeyColumn,
			OriginalName: PeriodKeyColumn,
			Dtype:        string(table.TypeString),
			Role:         RoleCategorical,
			Cardinality:  pk.Cardinality(),
			NullRate:     nullRate(pk),
			Coercions:    map[string]int{},
		})
	}

	schema := &Schema{
		GeneratedAt:           time.Now().UTC().Format(time.RFC3339),
		Columns:               columns,
		PeriodGrain:           det.grain,
		PeriodGrainCandidates: det.candidates,
		TimeCandidates:        det.timeCols,
		SelectedTimeColumn:    det.dateCol,
		Warnings:              warnings,
		Notes:                 []string{},
		Metadata: Metadata{
			RowCount:           typed.NumRows(),
			ColumnCount:        typed.NumCols(),
			MultiCurrency:      len(datasetCurrencies) > 1,
			CurrenciesDetected: sortedKeys(datasetCurrencies),
			HasTimeDimension:   det.grain != GrainNone,
		},
	}
	if schema.PeriodGrainCandidates == nil {
		schema.PeriodGrainCandidates = []Grain{}
	}
	if schema.TimeCandidates == nil {
		schema.TimeCandidates = []string{}
	}
	if schema.Warnings == nil {
		schema.Warnings = []string{}
	}

	log.Debug().
		Int("rows", typed.NumRows()).
		Int("columns", typed.NumCols()).
		Str("period_grain", string(det.grain)).
		Int("warnings", len(warnings)).
		Msg("normalization complete")

	return &Result{Table: typed, Schema: schema, Warnings: warnings}, nil
}

// normalizeColumn coerces one column through the numeric → datetime →
// boolean → string cascade and assembles its schema entry.
func normalizeColumn(name string, strs []string, nulls []bool) (*table.Column, ColumnSchema, []string) {
	var warnings []string
	rowCount := len(strs)
	percentTyped := isPercentHeader(name)

	cs := ColumnSchema{Name: name, Coercions: map[string]int{}}

	num := coerceNumeric(strs, nulls, percentTyped)
	attempted := num.parsed + num.failed
	if num.parsed > 0 && attempted > 0 && float64(num.failed)/float64(attempted) <= maxNumericFailureRate {
		vals := make([]table.Value, rowCount)
		for i := range vals {
			if num.ok[i] {
				vals[i] = table.Float(num.values[i])
			} else {
				vals[i] = table.Null()
			}
		}
		col := &table.Column{Name: name, Type: table.TypeFloat, Values: vals}

		cs.Dtype = string(table.TypeFloat)
		cs.Role = RoleNumeric
		mergeCounters(cs.Coercions, num.counters)
		cs.DecimalConvention = num.decimalConvention()
		cs.CurrenciesDetected = sortedKeys(num.currencies)
		cs.MultiCurrency = len(num.currencies) > 1

		if cs.DecimalConvention == "mixed" {
			warnings = append(warnings, fmt.Sprintf("Mixed decimal conventions within column '%s'", name))
		}
		if cs.MultiCurrency {
			warnings = append(warnings, "Multi-currency data detected")
		}
		if hasNegatives(vals) && negativeFlagged.MatchString(name) && !negativeAllowed.MatchString(name) {
			warnings = append(warnings, fmt.Sprintf("Unexpected negative values in column '%s'", name))
		}

		finishColumnSchema(&cs, col, rowCount)
		return col, cs, warnings
	}

	if isDatetimeHeader(name) || timeCandidateName.MatchString(name) {
		dt := coerceDatetime(strs, nulls)
		if dt.parsed > 0 {
			vals := make([]table.Value, rowCount)
			for i := range vals {
				if dt.ok[i] {
					vals[i] = table.Time(dt.values[i])
				} else {
					vals[i] = table.Null()
				}
			}
			col := &table.Column{Name: name, Type: table.TypeDatetime, Values: vals}

			cs.Dtype = string(table.TypeDatetime)
			cs.Role = RoleDatetime
			cs.Coercions[CoercionDatetimeParsed] = dt.parsed
			if dt.ambiguous {
				warnings = append(warnings, "Ambiguous date formats; defaulted to dayfirst=False")
			}
			finishColumnSchema(&cs, col, rowCount)
			return col, cs, warnings
		}
	}

	if b, ok := coerceBoolean(strs, nulls); ok {
		vals := make([]table.Value, rowCount)
		for i := range vals {
			if b.ok[i] {
				vals[i] = table.Bool(b.values[i])
			} else {
				vals[i] = table.Null()
			}
		}
		col := &table.Column{Name: name, Type: table.TypeBoolean, Values: vals}

		cs.Dtype = string(table.TypeBoolean)
		cs.Role = RoleBoolean
		cs.Coercions[CoercionBooleanCoerced] = b.coerced
		finishColumnSchema(&cs, col, rowCount)
		return col, cs, warnings
	}

	// String column; preserve cells verbatim, including leading zeros.
	vals := make([]table.Value, rowCount)
	for i := range vals {
		if nulls[i] {
			vals[i] = table.Null()
		} else {
			vals[i] = table.String(strs[i])
		}
	}
	col := &table.Column{Name: name, Type: table.TypeString, Values: vals}

	cs.Dtype = string(table.TypeString)
	if num.failed > 0 {
		cs.Coercions[CoercionFailedNumeric] = num.failed
	}
	finishColumnSchema(&cs, col, rowCount)
	if cs.Role == "" {
		if col.Cardinality() == rowCount && rowCount > 0 {
			cs.Role = RoleIdentifier
		} else {
			cs.Role = RoleCategorical
		}
	}
	return col, cs, warnings
}

// finishColumnSchema fills cardinality, null rate and anomaly statistics.
func finishColumnSchema(cs *ColumnSchema, col *table.Column, rowCount int) {
	cs.Cardinality = col.Cardinality()
	cs.NullRate = nullRate(col)

	anomalies := map[string]any{
		"null_count":  col.NullCount(),
		"null_rate":   cs.NullRate,
		"cardinality": cs.Cardinality,
	}
	if cs.NullRate > 0.5 {
		anomalies["high_null_rate"] = true
	}
	if rowCount > 100 && cs.Cardinality < 5 {
		anomalies["low_cardinality"] = true
	}
	if col.Type == table.TypeFloat {
		if count, rate := outlierStats(col); count > 0 {
			anomalies["outlier_count"] = count
			anomalies["outlier_rate"] = rate
		}
	}
	cs.Anomalies = anomalies
}

// outlierStats counts values more than three standard deviations from the
// column mean.
func outlierStats(col *table.Column) (int, float64) {
	var xs []float64
	for _, v := range col.Values {
		if f, ok := v.AsFloat(); ok {
			xs = append(xs, f)
		}
	}
	if len(xs) < 2 {
		return 0, 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	std := math.Sqrt(variance / float64(len(xs)-1))
	if std == 0 {
		return 0, 0
	}
	count := 0
	for _, x := range xs {
		if math.Abs(x-mean) > 3*std {
			count++
		}
	}
	return count, float64(count) / float64(len(xs))
}

func stringCells(c *table.Column) ([]string, []bool) {
	strs := make([]string, c.Len())
	nulls := make([]bool, c.Len())
	for i, v := range c.Values {
		if v.IsNull() {
			nulls[i] = true
			continue
		}
		strs[i] = v.Text()
	}
	return strs, nulls
}

func nullRate(c *table.Column) float64 {
	if c.Len() == 0 {
		return 0
	}
	return float64(c.NullCount()) / float64(c.Len())
}

func hasNegatives(vals []table.Value) bool {
	for _, v := range vals {
		if f, ok := v.AsFloat(); ok && f < 0 {
			return true
		}
	}
	return false
}

func mergeCounters(dst, src map[string]int) {
	for k, v := range src {
		if v != 0 {
			dst[k] = v
		}
	}
}

func dedupe(xs []string) []string {
	seen := make(map[string]struct{}, len(xs))
	out := xs[:0]
	for _, x := range xs {
		if _, dup := seen[x]; dup {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

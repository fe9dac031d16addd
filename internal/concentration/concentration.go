// Package concentration computes ranked concentration distributions over a
// normalized table: entities are grouped and summed, ranked by aggregate
// value, and bucketed against percentage thresholds per period and overall.
package concentration

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/concentra-hq/concentra/internal/errs"
	"github.com/concentra-hq/concentra/internal/normalize"
	"github.com/concentra-hq/concentra/internal/table"
)

// DefaultThresholds applies when a request supplies none.
var DefaultThresholds = []int{10, 20, 50}

const (
	maxThresholds = 10
	headLimit     = 10

	// ErrNonPositiveTotal is the per-period error for totals at or below zero.
	ErrNonPositiveTotal = "Total value is non-positive; cannot compute concentration"
)

// Metrics is one threshold bucket: how many top-ranked entities fall within
// the cumulative threshold, their summed value and share of the total.
type Metrics struct {
	Count      int     `json:"count"`
	Value      float64 `json:"value"`
	PctOfTotal float64 `json:"pct_of_total"`
}

// PeriodResult is the concentration outcome for one period key, or for the
// overall aggregate when Period is "TOTAL".
type PeriodResult struct {
	Period        string           `json:"period"`
	Total         float64          `json:"total"`
	TotalEntities int              `json:"total_entities,omitempty"`
	Error         string           `json:"error,omitempty"`
	Concentration Bucket           `json:"concentration,omitempty"`
	Head          []map[string]any `json:"head,omitempty"`
}

// ExportLinks points at the rendered artifacts; nil when an export failed.
type ExportLinks struct {
	CSV  string `json:"csv"`
	XLSX string `json:"xlsx"`
}

// Result is the full concentration document persisted for a dataset.
type Result struct {
	DatasetID   string         `json:"dataset_id"`
	PeriodGrain string         `json:"period_grain"`
	GroupBy     string         `json:"group_by"`
	ValueColumn string         `json:"value_column"`
	TimeColumn  string         `json:"time_column,omitempty"`
	Thresholds  []int          `json:"thresholds"`
	Warnings    []string       `json:"warnings"`
	ByPeriod    []PeriodResult `json:"by_period"`
	Totals      PeriodResult   `json:"totals"`
	ExportLinks *ExportLinks   `json:"export_links"`
}

// Options parameterizes one analysis run.
type Options struct {
	GroupBy    string
	Value      string
	TimeColumn string // optional; falls back to the derived period key
	Thresholds []int  // optional; validated, sorted, deduplicated

	// LargeDatasetThreshold triggers a performance warning when the entity
	// count exceeds it. Zero disables the check.
	LargeDatasetThreshold int
}

// ValidateThresholds checks range and count, then sorts ascending and
// deduplicates. Empty input yields the defaults.
func ValidateThresholds(ts []int) ([]int, error) {
	if len(ts) == 0 {
		out := make([]int, len(DefaultThresholds))
		copy(out, DefaultThresholds)
		return out, nil
	}
	if len(ts) > maxThresholds {
		return nil, errs.Validation("At most %d thresholds allowed", maxThresholds).
			WithDetails(map[string]any{"thresholds": ts})
	}
	for _, t := range ts {
		if t < 1 || t > 100 {
			return nil, errs.Validation("Threshold %d out of range [1,100]", t).
				WithDetails(map[string]any{"thresholds": ts})
		}
	}
	seen := make(map[int]struct{}, len(ts))
	out := make([]int, 0, len(ts))
	for _, t := range ts {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Ints(out)
	return out, nil
}

// Analyze runs the concentration algorithm over the typed table. The schema
// supplies the period grain and the derived time column fallback.
func Analyze(t *table.Table, sch *normalize.Schema, opts Options) (*Result, error) {
	groupCol, ok := t.Column(opts.GroupBy)
	if !ok {
		return nil, errs.Validation("Column '%s' not found in dataset", opts.GroupBy)
	}
	valueCol, ok := t.Column(opts.Value)
	if !ok {
		return nil, errs.Validation("Column '%s' not found in dataset", opts.Value)
	}
	if valueCol.Type != table.TypeFloat && valueCol.Type != table.TypeInteger {
		return nil, errs.Validation("Column '%s' is not numeric", opts.Value)
	}

	thresholds, err := ValidateThresholds(opts.Thresholds)
	if err != nil {
		return nil, err
	}

	timeName := opts.TimeColumn
	if timeName == "" {
		if _, has := t.Column(normalize.PeriodKeyColumn); has {
			timeName = normalize.PeriodKeyColumn
		}
	}
	var timeCol *table.Column
	if timeName != "" {
		timeCol, ok = t.Column(timeName)
		if !ok {
			return nil, errs.Validation("Column '%s' not found in dataset", timeName)
		}
	}

	res := &Result{
		PeriodGrain: string(sch.PeriodGrain),
		GroupBy:     opts.GroupBy,
		ValueColumn: opts.Value,
		TimeColumn:  timeName,
		Thresholds:  thresholds,
		Warnings:    []string{},
		ByPeriod:    []PeriodResult{},
	}

	// Aggregate value per entity, overall and per period. Rows with a null
	// period contribute to the total only.
	overall := make(map[string]float64)
	periods := make(map[string]map[string]float64)
	for i := 0; i < t.NumRows(); i++ {
		ev := groupCol.Values[i]
		if ev.IsNull() {
			continue
		}
		entity := ev.Text()
		amount, isNum := valueCol.Values[i].AsFloat()
		if !isNum {
			continue
		}
		overall[entity] += amount

		if timeCol == nil {
			continue
		}
		pv := timeCol.Values[i]
		if pv.IsNull() {
			continue
		}
		period := pv.Text()
		if periods[period] == nil {
			periods[period] = make(map[string]float64)
		}
		periods[period][entity] += amount
	}

	if opts.LargeDatasetThreshold > 0 && len(overall) > opts.LargeDatasetThreshold {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Large dataset: %d entities exceed configured threshold", len(overall)))
	}

	for _, period := range sortedPeriods(periods) {
		pr := computePeriod(period, periods[period], thresholds, opts.GroupBy, opts.Value)
		res.ByPeriod = append(res.ByPeriod, pr)
	}

	res.Totals = computePeriod("TOTAL", overall, thresholds, opts.GroupBy, opts.Value)
	res.Totals.TotalEntities = len(overall)

	log.Debug().
		Str("group_by", opts.GroupBy).
		Str("value", opts.Value).
		Int("entities", len(overall)).
		Int("periods", len(periods)).
		Msg("concentration computed")

	return res, nil
}

type rankedEntity struct {
	name  string
	value float64
}

// computePeriod ranks one period's entities and fills the threshold buckets.
// Ranking is value descending with ties broken by entity name ascending;
// reported percentages are rounded to one decimal, threshold inclusion uses
// the unrounded cumulative percentage.
func computePeriod(period string, agg map[string]float64, thresholds []int, groupBy, valueName string) PeriodResult {
	pr := PeriodResult{Period: period}

	ranked := make([]rankedEntity, 0, len(agg))
	for name, v := range agg {
		ranked = append(ranked, rankedEntity{name: name, value: v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].value != ranked[j].value {
			return ranked[i].value > ranked[j].value
		}
		return ranked[i].name < ranked[j].name
	})

	cumsum := make([]float64, len(ranked))
	running := 0.0
	for i, e := range ranked {
		running += e.value
		cumsum[i] = running
	}
	// The total is the ranked running sum, not a separate accumulation in map
	// order: float addition is non-associative, and the last cumulative
	// percentage must land on exactly 100 so boundary thresholds stay
	// deterministic.
	total := running
	pr.Total = total

	if total <= 0 {
		pr.Error = ErrNonPositiveTotal
		return pr
	}

	cumPct := make([]float64, len(ranked))
	for i := range ranked {
		cumPct[i] = cumsum[i] / total * 100
	}

	pr.Concentration = make(Bucket, len(thresholds))
	for _, x := range thresholds {
		count := 0
		for i := range ranked {
			if cumPct[i] <= float64(x) {
				count = i + 1
			} else {
				break
			}
		}
		if count < 1 {
			count = 1
		}
		value := cumsum[count-1]
		pr.Concentration[x] = Metrics{
			Count:      count,
			Value:      value,
			PctOfTotal: round1(value / total * 100),
		}
	}

	n := len(ranked)
	if n > headLimit {
		n = headLimit
	}
	pr.Head = make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		pr.Head = append(pr.Head, map[string]any{
			groupBy:          ranked[i].name,
			valueName:        ranked[i].value,
			"cumsum":         cumsum[i],
			"cumulative_pct": round1(cumPct[i]),
		})
	}
	return pr
}

func sortedPeriods(m map[string]map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

package export

import (
	"fmt"
	"strings"

	"github.com/concentra-hq/concentra/internal/concentration"
	"github.com/concentra-hq/concentra/internal/storage"
	"github.com/concentra-hq/concentra/internal/table"
)

// WriteWorkbook renders the three-sheet xlsx artifact: Summary (per-period
// threshold metrics), Top_Entities (flattened head rows) and Parameters.
// Missing threshold buckets become empty cells, never zeros.
func WriteWorkbook(res *concentration.Result, path string) error {
	summary, err := summarySheet(res)
	if err != nil {
		return err
	}
	entities, err := entitiesSheet(res)
	if err != nil {
		return err
	}
	params, err := parametersSheet(res)
	if err != nil {
		return err
	}

	return storage.WriteSpreadsheet([]storage.Sheet{
		{Name: "Summary", Table: summary},
		{Name: "Top_Entities", Table: entities},
		{Name: "Parameters", Table: params},
	}, path)
}

func summarySheet(res *concentration.Result) (*table.Table, error) {
	rows := append([]concentration.PeriodResult{}, res.ByPeriod...)
	rows = append(rows, res.Totals)

	periods := make([]table.Value, len(rows))
	totals := make([]table.Value, len(rows))
	buckets := make(map[int][3][]table.Value, len(res.Thresholds))
	for _, x := range res.Thresholds {
		buckets[x] = [3][]table.Value{
			make([]table.Value, len(rows)),
			make([]table.Value, len(rows)),
			make([]table.Value, len(rows)),
		}
	}

	for ri, pr := range rows {
		periods[ri] = table.String(pr.Period)
		totals[ri] = table.Float(pr.Total)
		for _, x := range res.Thresholds {
			cells := buckets[x]
			if m, ok := pr.Concentration[x]; ok {
				cells[0][ri] = table.Int(int64(m.Count))
				cells[1][ri] = table.Float(m.Value)
				cells[2][ri] = table.Float(m.PctOfTotal)
			} else {
				cells[0][ri] = table.Null()
				cells[1][ri] = table.Null()
				cells[2][ri] = table.Null()
			}
			buckets[x] = cells
		}
	}

	t := table.New()
	if err := t.AddColumn(&table.Column{Name: "period", Type: table.TypeString, Values: periods}); err != nil {
		return nil, err
	}
	if err := t.AddColumn(&table.Column{Name: "total", Type: table.TypeFloat, Values: totals}); err != nil {
		return nil, err
	}
	for _, x := range res.Thresholds {
		cells := buckets[x]
		cols := []*table.Column{
			{Name: fmt.Sprintf("top_%d_count", x), Type: table.TypeInteger, Values: cells[0]},
			{Name: fmt.Sprintf("top_%d_value", x), Type: table.TypeFloat, Values: cells[1]},
			{Name: fmt.Sprintf("top_%d_pct", x), Type: table.TypeFloat, Values: cells[2]},
		}
		for _, c := range cols {
			if err := t.AddColumn(c); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

func entitiesSheet(res *concentration.Result) (*table.Table, error) {
	var period, entity, value, cumsum, cumPct []table.Value

	appendRows := func(pr concentration.PeriodResult) {
		for _, row := range pr.Head {
			period = append(period, table.String(pr.Period))
			entity = append(entity, anyToValue(row[res.GroupBy]))
			value = append(value, anyToValue(row[res.ValueColumn]))
			cumsum = append(cumsum, anyToValue(row["cumsum"]))
			cumPct = append(cumPct, anyToValue(row["cumulative_pct"]))
		}
	}
	for _, pr := range res.ByPeriod {
		appendRows(pr)
	}
	appendRows(res.Totals)

	t := table.New()
	cols := []*table.Column{
		{Name: "period", Type: table.TypeString, Values: period},
		{Name: "entity", Type: table.TypeString, Values: entity},
		{Name: "value", Type: table.TypeFloat, Values: value},
		{Name: "cumsum", Type: table.TypeFloat, Values: cumsum},
		{Name: "cumulative_pct", Type: table.TypeFloat, Values: cumPct},
	}
	for _, c := range cols {
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parametersSheet(res *concentration.Result) (*table.Table, error) {
	thresholds := make([]string, len(res.Thresholds))
	for i, x := range res.Thresholds {
		thresholds[i] = fmt.Sprintf("%d", x)
	}

	names := []string{"Group By", "Value Column", "Time Column", "Thresholds"}
	values := []string{res.GroupBy, res.ValueColumn, res.TimeColumn, strings.Join(thresholds, ", ")}

	t := table.New()
	pv := make([]table.Value, len(names))
	vv := make([]table.Value, len(values))
	for i := range names {
		pv[i] = table.String(names[i])
		vv[i] = table.String(values[i])
	}
	if err := t.AddColumn(&table.Column{Name: "Parameter", Type: table.TypeString, Values: pv}); err != nil {
		return nil, err
	}
	if err := t.AddColumn(&table.Column{Name: "Value", Type: table.TypeString, Values: vv}); err != nil {
		return nil, err
	}
	return t, nil
}

func anyToValue(v any) table.Value {
	switch x := v.(type) {
	case nil:
		return table.Null()
	case string:
		return table.String(x)
	case float64:
		return table.Float(x)
	case int:
		return table.Int(int64(x))
	case int64:
		return table.Int(x)
	case bool:
		return table.Bool(x)
	default:
		return table.String(fmt.Sprintf("%v", x))
	}
}

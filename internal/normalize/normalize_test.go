package normalize

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concentra-hq/concentra/internal/table"
)

func rawTable(t *testing.T, cols map[string][]string, order []string) *table.Table {
	t.Helper()
	tbl := table.New()
	for _, name := range order {
		cells := cols[name]
		vals := make([]table.Value, len(cells))
		for i, s := range cells {
			if s == "" {
				vals[i] = table.Null()
			} else {
				vals[i] = table.String(s)
			}
		}
		require.NoError(t, tbl.AddColumn(&table.Column{Name: name, Type: table.TypeString, Values: vals}))
	}
	return tbl
}

func TestNormalize_TypesAndRoles(t *testing.T) {
	tbl := rawTable(t, map[string][]string{
		"Customer ID": {"C-001", "C-002", "C-003"},
		"Revenue":     {"$1,000", "$2,500.50", "(300)"},
		"Active":      {"yes", "no", "yes"},
		"Region":      {"north", "south", "north"},
	}, []string{"Customer ID", "Revenue", "Active", "Region"})

	res, err := Normalize(tbl)
	require.NoError(t, err)

	id, ok := res.Schema.Column("customer_id")
	require.True(t, ok)
	assert.Equal(t, RoleIdentifier, id.Role)
	assert.Equal(t, "Customer ID", id.OriginalName)

	rev, ok := res.Schema.Column("revenue")
	require.True(t, ok)
	assert.Equal(t, RoleNumeric, rev.Role)
	assert.Equal(t, 2, rev.Coercions[CoercionCurrencyRemoved])
	assert.Equal(t, 1, rev.Coercions[CoercionParenthesesToNegative])

	col, ok := res.Table.Column("revenue")
	require.True(t, ok)
	assert.Equal(t, table.TypeFloat, col.Type)
	assert.InDelta(t, -300, col.Values[2].Float(), 1e-9)

	active, ok := res.Schema.Column("active")
	require.True(t, ok)
	assert.Equal(t, RoleBoolean, active.Role)

	region, ok := res.Schema.Column("region")
	require.True(t, ok)
	assert.Equal(t, RoleCategorical, region.Role)
	assert.Equal(t, 2, region.Cardinality)
}

func TestNormalize_PeriodKeyFromYearMonth(t *testing.T) {
	// S2: year + month components derive a year_month period key.
	tbl := rawTable(t, map[string][]string{
		"entity":  {"ACME", "BETA", "ACME", "BETA"},
		"revenue": {"100", "200", "300", "400"},
		"year":    {"2024", "2024", "2024", "2024"},
		"month":   {"1", "1", "2", "2"},
	}, []string{"entity", "revenue", "year", "month"})

	res, err := Normalize(tbl)
	require.NoError(t, err)

	assert.Equal(t, GrainYearMonth, res.Schema.PeriodGrain)
	assert.True(t, res.Schema.Metadata.HasTimeDimension)

	pk, ok := res.Table.Column(PeriodKeyColumn)
	require.True(t, ok)
	assert.Equal(t, "2024-M01", pk.Values[0].Str())
	assert.Equal(t, "2024-M02", pk.Values[2].Str())
}

func TestNormalize_PeriodKeyFromDate(t *testing.T) {
	tbl := rawTable(t, map[string][]string{
		"entity":       {"A", "B"},
		"revenue":      {"10", "20"},
		"posting_date": {"2024-01-15", "2024-02-20"},
	}, []string{"entity", "revenue", "posting_date"})

	res, err := Normalize(tbl)
	require.NoError(t, err)

	assert.Equal(t, GrainYearMonth, res.Schema.PeriodGrain)
	assert.Equal(t, "posting_date", res.Schema.SelectedTimeColumn)

	pk, ok := res.Table.Column(PeriodKeyColumn)
	require.True(t, ok)
	assert.Equal(t, "2024-M01", pk.Values[0].Str())
	assert.Equal(t, "2024-M02", pk.Values[1].Str())
}

func TestNormalize_PeriodKeyQuarterAndYear(t *testing.T) {
	t.Run("year_quarter", func(t *testing.T) {
		tbl := rawTable(t, map[string][]string{
			"entity":  {"A", "B"},
			"revenue": {"10", "20"},
			"year":    {"2023", "2023"},
			"quarter": {"Q1", "Q4"},
		}, []string{"entity", "revenue", "year", "quarter"})

		res, err := Normalize(tbl)
		require.NoError(t, err)
		assert.Equal(t, GrainYearQuarter, res.Schema.PeriodGrain)

		pk, ok := res.Table.Column(PeriodKeyColumn)
		require.True(t, ok)
		assert.Equal(t, "2023-Q1", pk.Values[0].Str())
		assert.Equal(t, "2023-Q4", pk.Values[1].Str())
	})

	t.Run("year_only", func(t *testing.T) {
		tbl := rawTable(t, map[string][]string{
			"entity":  {"A", "B"},
			"revenue": {"10", "20"},
			"year":    {"2022", "2023"},
		}, []string{"entity", "revenue", "year"})

		res, err := Normalize(tbl)
		require.NoError(t, err)
		assert.Equal(t, GrainYear, res.Schema.PeriodGrain)

		pk, ok := res.Table.Column(PeriodKeyColumn)
		require.True(t, ok)
		assert.Equal(t, "2022", pk.Values[0].Str())
	})

	t.Run("none", func(t *testing.T) {
		tbl := rawTable(t, map[string][]string{
			"entity":  {"A", "B"},
			"revenue": {"10", "20"},
		}, []string{"entity", "revenue"})

		res, err := Normalize(tbl)
		require.NoError(t, err)
		assert.Equal(t, GrainNone, res.Schema.PeriodGrain)
		_, ok := res.Table.Column(PeriodKeyColumn)
		assert.False(t, ok)
	})
}

func TestNormalize_NegativeValuePolicy(t *testing.T) {
	tbl := rawTable(t, map[string][]string{
		"revenue":    {"100", "-50"},
		"net_income": {"-30", "20"},
		"cost":       {"-10", "-20"},
	}, []string{"revenue", "net_income", "cost"})

	res, err := Normalize(tbl)
	require.NoError(t, err)

	assert.Contains(t, res.Warnings, "Unexpected negative values in column 'revenue'")
	for _, w := range res.Warnings {
		assert.NotContains(t, w, "net_income")
		assert.NotContains(t, w, "cost")
	}
}

func TestNormalize_MultiCurrencyWarning(t *testing.T) {
	tbl := rawTable(t, map[string][]string{
		"amount": {"$100", "€200"},
	}, []string{"amount"})

	res, err := Normalize(tbl)
	require.NoError(t, err)

	assert.Contains(t, res.Warnings, "Multi-currency data detected")
	assert.True(t, res.Schema.Metadata.MultiCurrency)
	assert.Equal(t, []string{"$", "€"}, res.Schema.Metadata.CurrenciesDetected)

	// Emitted once even though both the column and the dataset detect it.
	count := 0
	for _, w := range res.Warnings {
		if w == "Multi-currency data detected" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestNormalize_MixedDecimalWarning(t *testing.T) {
	tbl := rawTable(t, map[string][]string{
		"amount": {"1,234.50", "2,5"},
	}, []string{"amount"})

	res, err := Normalize(tbl)
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "Mixed decimal conventions within column 'amount'")
}

func TestNormalize_AmbiguousDateWarning(t *testing.T) {
	tbl := rawTable(t, map[string][]string{
		"txn_date": {"2024-03-15", "03/20/2024"},
	}, []string{"txn_date"})

	res, err := Normalize(tbl)
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "Ambiguous date formats; defaulted to dayfirst=False")
}

func TestNormalize_NumericFailureGate(t *testing.T) {
	// Over 50% failures keeps the column as strings.
	tbl := rawTable(t, map[string][]string{
		"mixed": {"100", "abc", "def"},
	}, []string{"mixed"})

	res, err := Normalize(tbl)
	require.NoError(t, err)

	col, ok := res.Table.Column("mixed")
	require.True(t, ok)
	assert.Equal(t, table.TypeString, col.Type)

	cs, ok := res.Schema.Column("mixed")
	require.True(t, ok)
	assert.Equal(t, 2, cs.Coercions[CoercionFailedNumeric])
}

func TestNormalize_BooleanCoverageGate(t *testing.T) {
	// One unmappable token among three drops coverage below 95%.
	tbl := rawTable(t, map[string][]string{
		"flagged": {"yes", "no", "maybe"},
	}, []string{"flagged"})

	res, err := Normalize(tbl)
	require.NoError(t, err)

	col, ok := res.Table.Column("flagged")
	require.True(t, ok)
	assert.Equal(t, table.TypeString, col.Type)
}

func TestNormalize_NullHandling(t *testing.T) {
	tbl := rawTable(t, map[string][]string{
		"value": {"10", "", "30", ""},
	}, []string{"value"})

	res, err := Normalize(tbl)
	require.NoError(t, err)

	cs, ok := res.Schema.Column("value")
	require.True(t, ok)
	assert.InDelta(t, 0.5, cs.NullRate, 1e-9)
	assert.Equal(t, 2, cs.Anomalies["null_count"])
}

func TestNormalize_Deterministic(t *testing.T) {
	cols := map[string][]string{
		"entity": {"A", "B", "C"},
		"value":  {"$1,000", "(200)", "3k"},
		"year":   {"2024", "2024", "2024"},
	}
	order := []string{"entity", "value", "year"}

	first, err := Normalize(rawTable(t, cols, order))
	require.NoError(t, err)
	second, err := Normalize(rawTable(t, cols, order))
	require.NoError(t, err)

	assert.Equal(t, first.Warnings, second.Warnings)
	assert.Equal(t, first.Schema.PeriodGrain, second.Schema.PeriodGrain)
	for i := range first.Schema.Columns {
		assert.Equal(t, first.Schema.Columns[i].Role, second.Schema.Columns[i].Role, fmt.Sprintf("column %d", i))
	}
}

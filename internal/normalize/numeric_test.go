package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coerceOne(t *testing.T, raw string) (float64, *numericOutcome) {
	t.Helper()
	out := coerceNumeric([]string{raw}, []bool{false}, false)
	require.Equal(t, 1, out.parsed, "cell %q should parse", raw)
	return out.values[0], out
}

func TestParseCell_EULocaleCurrencyParentheses(t *testing.T) {
	v, out := coerceOne(t, "(1.234,50) €")
	assert.InDelta(t, -1234.50, v, 1e-9)
	assert.Equal(t, 1, out.counters[CoercionCurrencyRemoved])
	assert.Equal(t, 1, out.counters[CoercionParenthesesToNegative])
}

func TestParseCell_PlainAndSigns(t *testing.T) {
	cases := map[string]float64{
		"1000":    1000,
		"-42.5":   -42.5,
		"1,234":   1234,
		"100-":    -100,
		"−7":      -7, // unicode minus
		"(250)":   -250,
		"1 234":   1234,
		"1'234.5": 1234.5,
	}
	for raw, want := range cases {
		v, _ := coerceOne(t, raw)
		assert.InDelta(t, want, v, 1e-9, raw)
	}
}

func TestParseCell_CurrencySymbolsAndCodes(t *testing.T) {
	for raw, want := range map[string]float64{
		"$1,000.50": 1000.50,
		"€500":      500,
		"£75":       75,
		"¥900":      900,
		"1000 CHF":  1000,
		"USD 250":   250,
	} {
		v, out := coerceOne(t, raw)
		assert.InDelta(t, want, v, 1e-9, raw)
		assert.Equal(t, 1, out.counters[CoercionCurrencyRemoved], raw)
	}
}

func TestParseCell_ScaleSuffixes(t *testing.T) {
	for raw, want := range map[string]float64{
		"5k":    5e3,
		"5K":    5e3,
		"2.5m":  2.5e6,
		"2.5M":  2.5e6,
		"3mm":   3e6,
		"1b":    1e9,
		"1.2bn": 1.2e9,
	} {
		v, out := coerceOne(t, raw)
		assert.InDelta(t, want, v, 1e-6, raw)
		assert.Equal(t, 1, out.counters[CoercionScalingApplied], raw)
	}
}

func TestParseCell_Percent(t *testing.T) {
	v, out := coerceOne(t, "12.5%")
	assert.InDelta(t, 0.125, v, 1e-9)
	assert.Equal(t, 1, out.counters[CoercionPercentNormalized])
}

func TestCoerceNumeric_PercentTypedHeader(t *testing.T) {
	require.True(t, isPercentHeader("margin_pct"))
	require.False(t, isPercentHeader("revenue"))

	out := coerceNumeric([]string{"45", "0.3"}, []bool{false, false}, true)
	require.Equal(t, 2, out.parsed)
	assert.InDelta(t, 0.45, out.values[0], 1e-9, "values in (1,100] divide by 100")
	assert.InDelta(t, 0.3, out.values[1], 1e-9, "values in [0,1] stay as-is")
}

func TestCoerceNumeric_DecimalConventions(t *testing.T) {
	out := coerceNumeric([]string{"1.234,50", "2,5"}, []bool{false, false}, false)
	assert.InDelta(t, 1234.50, out.values[0], 1e-9)
	assert.InDelta(t, 2.5, out.values[1], 1e-9)
	assert.Equal(t, "EU", out.decimalConvention())

	mixed := coerceNumeric([]string{"1,234.50", "2,5"}, []bool{false, false}, false)
	assert.Equal(t, "mixed", mixed.decimalConvention())
}

func TestCoerceNumeric_DotThousands(t *testing.T) {
	v, _ := coerceOne(t, "1.234.567")
	assert.InDelta(t, 1234567, v, 1e-9)
}

func TestCoerceNumeric_FailureTracking(t *testing.T) {
	out := coerceNumeric([]string{"100", "abc", "", "200"}, []bool{false, false, true, false}, false)
	assert.Equal(t, 2, out.parsed)
	assert.Equal(t, 1, out.failed)
	assert.Equal(t, 1, out.counters[CoercionFailedNumeric])
	assert.True(t, out.nulls[2])
}

func TestCoerceNumeric_MultiCurrency(t *testing.T) {
	out := coerceNumeric([]string{"$100", "€200"}, []bool{false, false}, false)
	assert.Len(t, out.currencies, 2)
}

func TestParseCell_UnicodeMinusCounter(t *testing.T) {
	_, out := coerceOne(t, "−15")
	assert.Equal(t, 1, out.counters[CoercionUnicodeMinusNormalized])
}

package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// numericOutcome accumulates the per-column result of numeric coercion.
type numericOutcome struct {
	values             []float64 // parallel to the input; valid only where ok
	ok                 []bool
	nulls              []bool
	counters           map[string]int
	currencies         map[string]struct{}
	conventionsSeen    map[string]struct{}
	parsed             int
	failed             int
}

var (
	currencySymbols = regexp.MustCompile(`[$€£¥]`)
	currencyCodes   = regexp.MustCompile(`\b(CHF|USD|EUR|GBP|JPY)\b`)
	scaleSuffix     = regexp.MustCompile(`^(.*?[0-9])\s*(k|K|m|M|mm|b|B|bn)$`)
	commaDecimal    = regexp.MustCompile(`,\d{1,2}$`)
	dotThousands    = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
	thousandsSep    = strings.NewReplacer(" ", "", " ", "", " ", "", "'", "")
	percentHeader   = regexp.MustCompile(`(?i)(percent|pct|percentage)`)
)

func scaleFor(suffix string) float64 {
	switch suffix {
	case "k", "K":
		return 1e3
	case "m", "M", "mm":
		return 1e6
	case "b", "B", "bn":
		return 1e9
	}
	return 1
}

// coerceNumeric attempts to parse every non-null cell of a string column as a
// number, tracking the coercions applied. The column converts only when the
// failure rate among non-null cells stays at or below 50%.
func coerceNumeric(values []string, isNull []bool, percentTyped bool) *numericOutcome {
	out := &numericOutcome{
		values:          make([]float64, len(values)),
		ok:              make([]bool, len(values)),
		nulls:           make([]bool, len(values)),
		counters:        make(map[string]int),
		currencies:      make(map[string]struct{}),
		conventionsSeen: make(map[string]struct{}),
	}
	copy(out.nulls, isNull)

	for i, raw := range values {
		if isNull[i] || strings.TrimSpace(raw) == "" {
			out.nulls[i] = true
			continue
		}
		v, ok := out.parseCell(raw, percentTyped)
		if ok {
			out.values[i] = v
			out.ok[i] = true
			out.parsed++
		} else {
			out.failed++
			out.counters[CoercionFailedNumeric]++
		}
	}
	return out
}

// parseCell applies the full preprocessing pipeline to one cell: whitespace
// and unicode-minus normalization, sign detection, currency stripping, scale
// suffixes, decimal-convention inference and percent handling.
func (out *numericOutcome) parseCell(raw string, percentTyped bool) (float64, bool) {
	s := strings.TrimSpace(raw)

	// Fast path: already a plain float.
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if percentTyped && v > 1 && v <= 100 {
			out.counters[CoercionPercentNormalized]++
			return v / 100, true
		}
		return v, true
	}

	if strings.Contains(s, "−") {
		s = strings.ReplaceAll(s, "−", "-")
		out.counters[CoercionUnicodeMinusNormalized]++
	}

	// Currency markers come off before sign detection so forms like
	// "(1.234,50) €" keep their parentheses pair intact.
	if syms := currencySymbols.FindAllString(s, -1); len(syms) > 0 {
		for _, sym := range syms {
			out.currencies[sym] = struct{}{}
		}
		s = strings.TrimSpace(currencySymbols.ReplaceAllString(s, ""))
		out.counters[CoercionCurrencyRemoved]++
	}
	if code := currencyCodes.FindString(s); code != "" {
		out.currencies[code] = struct{}{}
		s = strings.TrimSpace(currencyCodes.ReplaceAllString(s, ""))
		out.counters[CoercionCurrencyRemoved]++
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[1 : len(s)-1])
		negative = true
		out.counters[CoercionParenthesesToNegative]++
	}

	if strings.HasSuffix(s, "-") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "-"))
		negative = !negative
	}
	if strings.HasPrefix(s, "-") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
		negative = !negative
	}

	percent := false
	if strings.HasSuffix(s, "%") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		percent = true
	}

	scale := 1.0
	if m := scaleSuffix.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
		scale = scaleFor(m[2])
		out.counters[CoercionScalingApplied]++
	}

	s = thousandsSep.Replace(s)

	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")
	switch {
	case hasDot && hasComma:
		// The rightmost punctuation is the decimal separator.
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			s = strings.ReplaceAll(s, ",", "")
			out.conventionsSeen["US"] = struct{}{}
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
			out.conventionsSeen["EU"] = struct{}{}
		}
	case hasComma:
		if commaDecimal.MatchString(s) {
			s = strings.ReplaceAll(s, ",", ".")
			out.conventionsSeen["EU"] = struct{}{}
		} else {
			s = strings.ReplaceAll(s, ",", "")
			out.conventionsSeen["US"] = struct{}{}
		}
	case hasDot:
		if dotThousands.MatchString(s) {
			s = strings.ReplaceAll(s, ".", "")
			out.conventionsSeen["EU"] = struct{}{}
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}

	v *= scale
	if negative {
		v = -v
	}
	if percent {
		out.counters[CoercionPercentNormalized]++
		v /= 100
	} else if percentTyped && v > 1 && v <= 100 {
		out.counters[CoercionPercentNormalized]++
		v /= 100
	}
	return v, true
}

// decimalConvention summarizes the conventions seen in a column.
func (out *numericOutcome) decimalConvention() string {
	switch len(out.conventionsSeen) {
	case 0:
		return ""
	case 1:
		for c := range out.conventionsSeen {
			return c
		}
	}
	return "mixed"
}

// isPercentHeader reports whether a normalized header marks a percent column.
func isPercentHeader(name string) bool {
	return percentHeader.MatchString(name)
}

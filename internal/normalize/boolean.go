package normalize

import "strings"

// Boolean coercion requires at least this share of non-null cells to map.
const booleanCoverage = 0.95

var booleanTokens = map[string]bool{
	"true": true, "false": false,
	"yes": true, "no": false,
	"y": true, "n": false,
	"1": true, "0": false,
}

// booleanOutcome is the per-column result of boolean coercion.
type booleanOutcome struct {
	values  []bool
	ok      []bool
	coerced int
}

// coerceBoolean maps recognized tokens case-insensitively. The column only
// converts when coverage among non-null cells reaches the threshold.
func coerceBoolean(values []string, isNull []bool) (*booleanOutcome, bool) {
	out := &booleanOutcome{
		values: make([]bool, len(values)),
		ok:     make([]bool, len(values)),
	}
	nonNull := 0
	for i, raw := range values {
		if isNull[i] {
			continue
		}
		nonNull++
		b, ok := booleanTokens[strings.ToLower(strings.TrimSpace(raw))]
		if !ok {
			continue
		}
		out.values[i] = b
		out.ok[i] = true
		out.coerced++
	}
	if nonNull == 0 || float64(out.coerced)/float64(nonNull) < booleanCoverage {
		return out, false
	}
	return out, true
}

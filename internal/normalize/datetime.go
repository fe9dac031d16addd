package normalize

import (
	"regexp"
	"strings"
	"time"
)

// Layouts attempted in order; month-first before day-first per the
// dayfirst=false policy.
var datetimeLayouts = []struct {
	layout string
	class  string
}{
	{time.RFC3339, "iso"},
	{"2006-01-02 15:04:05", "iso"},
	{"2006-01-02T15:04:05", "iso"},
	{"2006-01-02", "iso"},
	{"2006/01/02", "iso"},
	{"01/02/2006", "slash"},
	{"1/2/2006", "slash"},
	{"01-02-2006", "dash"},
	{"2006-01", "yearmonth"},
	{"Jan 2, 2006", "textual"},
	{"2 Jan 2006", "textual"},
	{"02-Jan-2006", "textual"},
	{"January 2, 2006", "textual"},
}

var datetimeHeader = regexp.MustCompile(`(?i)(^|_)(date|dt|time|timestamp|created|updated|modified|as_of|posting_date|transaction_date)(_|$)`)

// datetimeOutcome is the per-column result of datetime coercion.
type datetimeOutcome struct {
	values    []time.Time
	ok        []bool
	parsed    int
	failed    int
	ambiguous bool
}

// parseDatetime tries the known layouts and returns the parsed time plus the
// layout class used, so mixed classes within one column can be flagged.
func parseDatetime(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	for _, l := range datetimeLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return t.UTC(), l.class, true
		}
	}
	return time.Time{}, "", false
}

// coerceDatetime parses every non-null cell strictly, mapping failures to
// null. A column mixing layout classes is marked ambiguous.
func coerceDatetime(values []string, isNull []bool) *datetimeOutcome {
	out := &datetimeOutcome{
		values: make([]time.Time, len(values)),
		ok:     make([]bool, len(values)),
	}
	classes := make(map[string]struct{})
	for i, raw := range values {
		if isNull[i] {
			continue
		}
		t, class, ok := parseDatetime(raw)
		if !ok {
			out.failed++
			continue
		}
		out.values[i] = t
		out.ok[i] = true
		out.parsed++
		classes[class] = struct{}{}
	}
	out.ambiguous = len(classes) > 1
	return out
}

// isDatetimeHeader reports whether a normalized name suggests a datetime
// column, gating the coercion attempt.
func isDatetimeHeader(name string) bool {
	return datetimeHeader.MatchString(name)
}

package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatetime_Layouts(t *testing.T) {
	cases := map[string]time.Time{
		"2024-03-15":          time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		"2024-03-15 10:30:00": time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		"03/15/2024":          time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		"Jan 2, 2024":         time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		got, _, ok := parseDatetime(raw)
		require.True(t, ok, raw)
		assert.True(t, want.Equal(got), raw)
	}
}

func TestParseDatetime_MonthFirst(t *testing.T) {
	// 01/02/2024 reads as January 2nd under the dayfirst=false policy.
	got, _, ok := parseDatetime("01/02/2024")
	require.True(t, ok)
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 2, got.Day())
}

func TestCoerceDatetime_StrictErrorToNull(t *testing.T) {
	out := coerceDatetime([]string{"2024-03-15", "not a date", ""}, []bool{false, false, true})
	assert.Equal(t, 1, out.parsed)
	assert.Equal(t, 1, out.failed)
	assert.True(t, out.ok[0])
	assert.False(t, out.ok[1])
	assert.False(t, out.ambiguous)
}

func TestCoerceDatetime_AmbiguousMixedFormats(t *testing.T) {
	out := coerceDatetime([]string{"2024-03-15", "03/20/2024"}, []bool{false, false})
	assert.Equal(t, 2, out.parsed)
	assert.True(t, out.ambiguous)
}

func TestIsDatetimeHeader(t *testing.T) {
	assert.True(t, isDatetimeHeader("posting_date"))
	assert.True(t, isDatetimeHeader("as_of"))
	assert.True(t, isDatetimeHeader("created"))
	assert.False(t, isDatetimeHeader("revenue"))
	assert.False(t, isDatetimeHeader("candidate"))
}

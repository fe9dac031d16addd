package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concentra-hq/concentra/internal/table"
)

func typedTable(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New()
	require.NoError(t, tbl.AddColumn(&table.Column{Name: "entity", Type: table.TypeString, Values: []table.Value{
		table.String("ACME"), table.Null(), table.String("BETA"),
	}}))
	require.NoError(t, tbl.AddColumn(&table.Column{Name: "revenue", Type: table.TypeFloat, Values: []table.Value{
		table.Float(1000.5), table.Float(-300), table.Null(),
	}}))
	require.NoError(t, tbl.AddColumn(&table.Column{Name: "active", Type: table.TypeBoolean, Values: []table.Value{
		table.Bool(true), table.Bool(false), table.Null(),
	}}))
	require.NoError(t, tbl.AddColumn(&table.Column{Name: "as_of", Type: table.TypeDatetime, Values: []table.Value{
		table.Time(time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)), table.Null(), table.Time(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
	}}))
	return tbl
}

func TestColumnarRoundTrip(t *testing.T) {
	tbl := typedTable(t)
	path := filepath.Join(t.TempDir(), "normalized.parquet")

	require.NoError(t, WriteColumnar(tbl, path))

	back, err := ReadColumnar(path)
	require.NoError(t, err)

	assert.Equal(t, tbl.NumRows(), back.NumRows())
	assert.ElementsMatch(t, tbl.Names(), back.Names())

	for _, name := range tbl.Names() {
		orig, _ := tbl.Column(name)
		got, ok := back.Column(name)
		require.True(t, ok, name)
		assert.Equal(t, orig.Type, got.Type, name)

		for i := range orig.Values {
			assert.Equal(t, orig.Values[i].IsNull(), got.Values[i].IsNull(), "%s[%d] null position", name, i)
			if orig.Values[i].IsNull() {
				continue
			}
			switch orig.Type {
			case table.TypeFloat:
				assert.Equal(t, orig.Values[i].Float(), got.Values[i].Float(), "%s[%d]", name, i)
			case table.TypeDatetime:
				assert.True(t, orig.Values[i].Time().Equal(got.Values[i].Time()), "%s[%d]", name, i)
			default:
				assert.Equal(t, orig.Values[i].Interface(), got.Values[i].Interface(), "%s[%d]", name, i)
			}
		}
	}
}

func TestColumnarRoundTrip_ManyRowsWithNulls(t *testing.T) {
	// Spans multiple read batches; alternating nulls catch any state carried
	// between batch rows, and leading-zero codes must come back verbatim.
	const rows = 3000
	codes := make([]table.Value, rows)
	amounts := make([]table.Value, rows)
	for i := 0; i < rows; i++ {
		codes[i] = table.String(fmt.Sprintf("%05d", i))
		if i%2 == 0 {
			amounts[i] = table.Float(float64(i) + 0.25)
		} else {
			amounts[i] = table.Null()
		}
	}
	tbl := table.New()
	require.NoError(t, tbl.AddColumn(&table.Column{Name: "code", Type: table.TypeString, Values: codes}))
	require.NoError(t, tbl.AddColumn(&table.Column{Name: "amount", Type: table.TypeFloat, Values: amounts}))

	path := filepath.Join(t.TempDir(), "normalized.parquet")
	require.NoError(t, WriteColumnar(tbl, path))

	back, err := ReadColumnar(path)
	require.NoError(t, err)
	require.Equal(t, rows, back.NumRows())

	code, _ := back.Column("code")
	amount, _ := back.Column("amount")
	assert.Equal(t, "00000", code.Values[0].Str())
	assert.Equal(t, "02999", code.Values[rows-1].Str())
	for i := 0; i < rows; i++ {
		if i%2 == 0 {
			require.False(t, amount.Values[i].IsNull(), "row %d", i)
			require.Equal(t, float64(i)+0.25, amount.Values[i].Float(), "row %d", i)
		} else {
			require.True(t, amount.Values[i].IsNull(), "row %d", i)
		}
	}
}

func TestWriteColumnar_NoTornFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "normalized.parquet")
	require.NoError(t, WriteColumnar(typedTable(t), path))

	entries, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be renamed away")
}

func TestReadColumnar_Missing(t *testing.T) {
	_, err := ReadColumnar(filepath.Join(t.TempDir(), "absent.parquet"))
	assert.Error(t, err)
}

package storage

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/concentra-hq/concentra/internal/errs"
	"github.com/concentra-hq/concentra/internal/table"
)

const readBatchSize = 1024

// WriteColumnar persists a typed table as a parquet file. Writes go through a
// temp file + rename so a cancelled request never leaves a torn artifact.
// Datetimes are stored as millisecond timestamps; every column is optional so
// null positions survive the round trip.
func WriteColumnar(t *table.Table, path string) error {
	group := parquet.Group{}
	for _, c := range t.Columns() {
		group[c.Name] = parquet.Optional(nodeForType(c.Type))
	}
	schema := parquet.NewSchema("dataset", group)

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errs.Internal(err, "Failed to create columnar file")
	}

	w := parquet.NewGenericWriter[map[string]any](f, schema)
	rows := make([]map[string]any, 0, t.NumRows())
	cols := t.Columns()
	for ri := 0; ri < t.NumRows(); ri++ {
		row := make(map[string]any, len(cols))
		for _, c := range cols {
			v := c.Values[ri]
			if v.IsNull() {
				continue
			}
			switch c.Type {
			case table.TypeFloat:
				f64, _ := v.AsFloat()
				row[c.Name] = f64
			case table.TypeInteger:
				row[c.Name] = v.Int()
			case table.TypeBoolean:
				row[c.Name] = v.Bool()
			case table.TypeDatetime:
				row[c.Name] = v.Time().UnixMilli()
			default:
				row[c.Name] = v.Text()
			}
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return errs.Internal(err, "Failed to write columnar data")
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errs.Internal(err, "Failed to finalize columnar file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Internal(err, "Failed to close columnar file")
	}
	return os.Rename(tmpPath, path)
}

// ReadColumnar loads a parquet file back into a typed table. Column order
// follows the file schema.
func ReadColumnar(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.NotFound("Columnar file not found: %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.Internal(err, "Failed to stat columnar file")
	}
	// Map destinations carry no schema of their own, so the reader needs the
	// file's schema up front.
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, errs.Internal(err, "Failed to open columnar file")
	}

	reader := parquet.NewGenericReader[map[string]any](f, pf.Schema())
	defer reader.Close()

	fields := pf.Schema().Fields()

	names := make([]string, len(fields))
	types := make([]table.Type, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
		types[i] = typeForNode(field)
	}

	columns := make([][]table.Value, len(fields))
	batch := make([]map[string]any, readBatchSize)
	for {
		// The reader assigns into the destination maps, so each entry must be
		// a fresh non-nil map; reuse would also leak keys from prior batches
		// into rows with nulls.
		for i := range batch {
			batch[i] = make(map[string]any, len(names))
		}
		n, err := reader.Read(batch)
		for _, row := range batch[:n] {
			for ci, name := range names {
				columns[ci] = append(columns[ci], decodeCell(row[name], types[ci]))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Internal(err, "Failed to read columnar data")
		}
		if n == 0 {
			break
		}
	}

	out := table.New()
	for i, name := range names {
		if err := out.AddColumn(&table.Column{Name: name, Type: types[i], Values: columns[i]}); err != nil {
			return nil, fmt.Errorf("rebuild table: %w", err)
		}
	}
	return out, nil
}

func nodeForType(t table.Type) parquet.Node {
	switch t {
	case table.TypeFloat:
		return parquet.Leaf(parquet.DoubleType)
	case table.TypeInteger:
		return parquet.Int(64)
	case table.TypeBoolean:
		return parquet.Leaf(parquet.BooleanType)
	case table.TypeDatetime:
		return parquet.Timestamp(parquet.Millisecond)
	default:
		return parquet.String()
	}
}

func typeForNode(n parquet.Node) table.Type {
	typ := n.Type()
	if lt := typ.LogicalType(); lt != nil {
		if lt.Timestamp != nil {
			return table.TypeDatetime
		}
		if lt.UTF8 != nil {
			return table.TypeString
		}
	}
	switch typ.Kind() {
	case parquet.Double, parquet.Float:
		return table.TypeFloat
	case parquet.Int64, parquet.Int32:
		return table.TypeInteger
	case parquet.Boolean:
		return table.TypeBoolean
	default:
		return table.TypeString
	}
}

func decodeCell(v any, t table.Type) table.Value {
	if v == nil {
		return table.Null()
	}
	switch t {
	case table.TypeFloat:
		switch x := v.(type) {
		case float64:
			return table.Float(x)
		case float32:
			return table.Float(float64(x))
		case int64:
			return table.Float(float64(x))
		}
	case table.TypeInteger:
		switch x := v.(type) {
		case int64:
			return table.Int(x)
		case int32:
			return table.Int(int64(x))
		}
	case table.TypeBoolean:
		if x, ok := v.(bool); ok {
			return table.Bool(x)
		}
	case table.TypeDatetime:
		switch x := v.(type) {
		case int64:
			return table.Time(time.UnixMilli(x).UTC())
		case time.Time:
			return table.Time(x.UTC())
		}
	default:
		switch x := v.(type) {
		case string:
			return table.String(x)
		case []byte:
			return table.String(string(x))
		}
	}
	return table.String(fmt.Sprint(v))
}

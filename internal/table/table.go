// Package table provides the in-memory column-store shared by the
// normalizer, the concentration engine and the storage layer. A cell is a
// tagged variant over {int64, float64, bool, timestamp, string, null} so the
// rest of the system never relies on reflection.
package table

import (
	"fmt"
	"time"
)

// Type is the physical type of a column.
type Type string

const (
	TypeString   Type = "string"
	TypeInteger  Type = "integer"
	TypeFloat    Type = "float"
	TypeBoolean  Type = "boolean"
	TypeDatetime Type = "datetime"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
	KindString
)

// Value is a single typed cell. Null is first-class and distinct from the
// empty string.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	t    time.Time
	s    string
}

func Null() Value              { return Value{kind: KindNull} }
func Int(v int64) Value        { return Value{kind: KindInt, i: v} }
func Float(v float64) Value    { return Value{kind: KindFloat, f: v} }
func Bool(v bool) Value        { return Value{kind: KindBool, b: v} }
func Time(v time.Time) Value   { return Value{kind: KindTime, t: v} }
func String(v string) Value    { return Value{kind: KindString, s: v} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Int() int64        { return v.i }
func (v Value) Float() float64    { return v.f }
func (v Value) Bool() bool        { return v.b }
func (v Value) Time() time.Time   { return v.t }
func (v Value) Str() string       { return v.s }

// AsFloat returns the numeric view of the value and whether one exists.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Text renders the value for grouping, exports and tie-breaking. Null renders
// as the empty string; callers that need the distinction use IsNull.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return trimFloat(v.f)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindTime:
		return v.t.Format(time.RFC3339)
	default:
		return v.s
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// Interface returns the Go-native value for JSON/export edges; nil for null.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	default:
		return v.s
	}
}

// Column is a named typed array of values.
type Column struct {
	Name   string
	Type   Type
	Values []Value
}

// Len returns the number of cells in the column.
func (c *Column) Len() int { return len(c.Values) }

// NullCount counts null cells.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v.IsNull() {
			n++
		}
	}
	return n
}

// Cardinality counts distinct non-null values by string form.
func (c *Column) Cardinality() int {
	seen := make(map[string]struct{}, len(c.Values))
	for _, v := range c.Values {
		if v.IsNull() {
			continue
		}
		seen[v.Text()] = struct{}{}
	}
	return len(seen)
}

// Table is an ordered collection of equally sized columns.
type Table struct {
	cols  []*Column
	index map[string]int
}

// New creates an empty table.
func New() *Table {
	return &Table{index: make(map[string]int)}
}

// AddColumn appends a column. Column lengths must agree with the table;
// adding a duplicate name or mismatched length is a programming error.
func (t *Table) AddColumn(c *Column) error {
	if _, dup := t.index[c.Name]; dup {
		return fmt.Errorf("duplicate column %q", c.Name)
	}
	if len(t.cols) > 0 && c.Len() != t.NumRows() {
		return fmt.Errorf("column %q has %d rows, table has %d", c.Name, c.Len(), t.NumRows())
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Columns returns the columns in insertion order.
func (t *Table) Columns() []*Column { return t.cols }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if len(t.cols) == 0 {
		return 0
	}
	return t.cols[0].Len()
}

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.cols) }

// Select returns a new table containing only the rows whose index appears in
// idx, preserving column order.
func (t *Table) Select(idx []int) *Table {
	out := New()
	for _, c := range t.cols {
		vals := make([]Value, 0, len(idx))
		for _, i := range idx {
			vals = append(vals, c.Values[i])
		}
		out.AddColumn(&Column{Name: c.Name, Type: c.Type, Values: vals})
	}
	return out
}

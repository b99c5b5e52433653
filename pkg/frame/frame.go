// Package frame is a small column-ordered table used to reshape form exports
// into relational rows. A nil cell is the absent value.
//
// Frames are treated as values: every transform returns a new frame and never
// writes into its receiver, so a frame handed out of a bundle can be shared by
// any number of transforms.
package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Frame is an ordered set of named columns over rows of cells.
type Frame struct {
	cols  []string
	index map[string]int
	rows  [][]any
}

// New builds a frame from column names and rows. Short rows are padded with
// absent cells; rows are copied.
func New(cols []string, rows [][]any) *Frame {
	f := empty(cols)
	f.rows = make([][]any, 0, len(rows))
	for _, r := range rows {
		f.rows = append(f.rows, f.fit(r))
	}
	return f
}

// FromRecords builds a frame from maps, taking column order from cols.
func FromRecords(cols []string, recs []map[string]any) *Frame {
	f := empty(cols)
	for _, rec := range recs {
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = rec[c]
		}
		f.rows = append(f.rows, row)
	}
	return f
}

func empty(cols []string) *Frame {
	f := &Frame{
		cols:  append([]string(nil), cols...),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range f.cols {
		f.index[c] = i
	}
	return f
}

func (f *Frame) fit(r []any) []any {
	row := make([]any, len(f.cols))
	copy(row, r)
	return row
}

// Columns returns a copy of the column names in order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.cols...)
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.rows)
}

// Has reports whether the frame carries column col.
func (f *Frame) Has(col string) bool {
	_, ok := f.index[col]
	return ok
}

// Require returns an error naming the first missing column.
func (f *Frame) Require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !f.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("missing columns %s", strings.Join(missing, ", "))
	}
	return nil
}

// Row returns an accessor for row i.
func (f *Frame) Row(i int) Row {
	return Row{f: f, i: i}
}

// Value returns the cell at row i, column col, or nil when col is unknown.
func (f *Frame) Value(i int, col string) any {
	j, ok := f.index[col]
	if !ok {
		return nil
	}
	return f.rows[i][j]
}

// Values returns a copy of row i in column order.
func (f *Frame) Values(i int) []any {
	return append([]any(nil), f.rows[i]...)
}

// Column returns a copy of one column.
func (f *Frame) Column(col string) []any {
	j, ok := f.index[col]
	if !ok {
		return nil
	}
	out := make([]any, len(f.rows))
	for i, r := range f.rows {
		out[i] = r[j]
	}
	return out
}

// Clone returns a deep copy of the row slices.
func (f *Frame) Clone() *Frame {
	return New(f.cols, f.rows)
}

// Select projects cols in the given order.
func (f *Frame) Select(cols ...string) (*Frame, error) {
	if err := f.Require(cols...); err != nil {
		return nil, err
	}
	out := empty(cols)
	out.rows = make([][]any, len(f.rows))
	for i, r := range f.rows {
		row := make([]any, len(cols))
		for k, c := range cols {
			row[k] = r[f.index[c]]
		}
		out.rows[i] = row
	}
	return out, nil
}

// Drop removes cols; unknown names are ignored.
func (f *Frame) Drop(cols ...string) *Frame {
	skip := make(map[string]bool, len(cols))
	for _, c := range cols {
		skip[c] = true
	}
	var keep []string
	for _, c := range f.cols {
		if !skip[c] {
			keep = append(keep, c)
		}
	}
	out, _ := f.Select(keep...)
	return out
}

// Rename renames columns by the from→to mapping.
func (f *Frame) Rename(m map[string]string) *Frame {
	cols := make([]string, len(f.cols))
	for i, c := range f.cols {
		if to, ok := m[c]; ok {
			cols[i] = to
		} else {
			cols[i] = c
		}
	}
	return New(cols, f.rows)
}

// WithColumn sets column name to fn(row), appending it when new.
func (f *Frame) WithColumn(name string, fn func(Row) any) *Frame {
	cols := f.cols
	j, ok := f.index[name]
	if !ok {
		cols = append(append([]string(nil), f.cols...), name)
		j = len(cols) - 1
	}
	out := empty(cols)
	out.rows = make([][]any, len(f.rows))
	for i, r := range f.rows {
		row := make([]any, len(cols))
		copy(row, r)
		row[j] = fn(Row{f: f, i: i})
		out.rows[i] = row
	}
	return out
}

// WithConst sets column name to v on every row.
func (f *Frame) WithConst(name string, v any) *Frame {
	return f.WithColumn(name, func(Row) any { return v })
}

// Filter keeps the rows for which keep returns true.
func (f *Frame) Filter(keep func(Row) bool) *Frame {
	out := empty(f.cols)
	for i, r := range f.rows {
		if keep(Row{f: f, i: i}) {
			out.rows = append(out.rows, append([]any(nil), r...))
		}
	}
	return out
}

// Each calls fn for every row in order.
func (f *Frame) Each(fn func(Row)) {
	for i := range f.rows {
		fn(Row{f: f, i: i})
	}
}

// Concat stacks frames vertically. The column set is the union in
// first-seen order; cells missing from a frame are absent.
func Concat(frames ...*Frame) *Frame {
	var cols []string
	seen := map[string]bool{}
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		for _, c := range fr.cols {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	out := empty(cols)
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		for _, r := range fr.rows {
			row := make([]any, len(cols))
			for j, c := range fr.cols {
				row[out.index[c]] = r[j]
			}
			out.rows = append(out.rows, row)
		}
	}
	return out
}

// Key renders a cell as a join key. Integral floats render without a
// fraction so that 107 and 107.0 meet; absent renders as "".
func Key(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return Format(v)
	}
}

// Format renders a cell for files and log lines.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case TimeOfDay:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// IsAbsent reports whether v is the absent value (nil or NaN).
func IsAbsent(v any) bool {
	if v == nil {
		return true
	}
	if x, ok := v.(float64); ok && math.IsNaN(x) {
		return true
	}
	return false
}

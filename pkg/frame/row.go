package frame

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is a read-only view of one frame row.
type Row struct {
	f *Frame
	i int
}

// Index returns the row position in its frame.
func (r Row) Index() int { return r.i }

// Get returns the cell in col, or nil.
func (r Row) Get(col string) any {
	return r.f.Value(r.i, col)
}

// Absent reports whether col is absent on this row.
func (r Row) Absent(col string) bool {
	return IsAbsent(r.Get(col))
}

// String returns the trimmed text form of col; absent is "".
func (r Row) String(col string) string {
	return strings.TrimSpace(Format(r.Get(col)))
}

// Float returns col as a float when it is numeric or numeric text.
func (r Row) Float(col string) (float64, bool) {
	return toFloat(r.Get(col))
}

// Int returns col as an integer when it holds an integral number.
func (r Row) Int(col string) (int64, bool) {
	v, ok := toFloat(r.Get(col))
	if !ok || v != math.Trunc(v) {
		return 0, false
	}
	return int64(v), true
}

// Time returns col as a timestamp.
func (r Row) Time(col string) (time.Time, bool) {
	t, ok := r.Get(col).(time.Time)
	return t, ok
}

// Values returns a copy of the row cells in column order.
func (r Row) Values() []any {
	return r.f.Values(r.i)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay time.Duration

// ClockOf extracts the time of day from t.
func ClockOf(t time.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second)
}

func (c TimeOfDay) String() string {
	d := time.Duration(c)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Value binds a time of day as HH:MM:SS text.
func (c TimeOfDay) Value() (driver.Value, error) {
	return c.String(), nil
}

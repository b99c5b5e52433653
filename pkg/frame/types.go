package frame

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/itchyny/timefmt-go"
	"github.com/pkg/errors"
)

// ErrUnknownType is returned when a type spec names a type Coerce does not know.
var ErrUnknownType = errors.New("unknown field type")

// Kind is the storage kind a type spec entry coerces to.
type Kind int

const (
	KindText Kind = iota
	KindInt
	KindFloat
	KindDateTime
	KindBool
)

// ParseKind maps the type names found in type-spec manifests.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "text", "string", "str", "object", "memo":
		return KindText, nil
	case "int", "integer", "int64", "long", "short", "byte":
		return KindInt, nil
	case "float", "double", "float64", "single", "number", "numeric":
		return KindFloat, nil
	case "datetime", "date", "time", "datetime64", "timestamp":
		return KindDateTime, nil
	case "bool", "boolean", "yesno":
		return KindBool, nil
	}
	return 0, errors.Wrapf(ErrUnknownType, "%q", name)
}

// TypeSpec is the field → type → date format triple, one entry per index.
type TypeSpec struct {
	Field          []string `yaml:"Field"`
	Type           []string `yaml:"Type"`
	DateTimeFormat []string `yaml:"DateTimeFormat"`
}

// Validate checks that the three lists line up and every type is known.
func (s TypeSpec) Validate() error {
	if len(s.Field) != len(s.Type) {
		return errors.Errorf("type spec: %d fields, %d types", len(s.Field), len(s.Type))
	}
	if len(s.DateTimeFormat) != 0 && len(s.DateTimeFormat) != len(s.Field) {
		return errors.Errorf("type spec: %d fields, %d date formats", len(s.Field), len(s.DateTimeFormat))
	}
	for _, t := range s.Type {
		if _, err := ParseKind(t); err != nil {
			return err
		}
	}
	return nil
}

// KindOf returns the declared kind of field.
func (s TypeSpec) KindOf(field string) (Kind, bool) {
	for i, f := range s.Field {
		if f == field {
			k, err := ParseKind(s.Type[i])
			return k, err == nil
		}
	}
	return 0, false
}

func (s TypeSpec) format(i int) string {
	if i < len(s.DateTimeFormat) {
		return strings.TrimSpace(s.DateTimeFormat[i])
	}
	return ""
}

// Coerce converts each spec field present in f to its declared kind.
// Numeric cells that do not parse become absent; a date that does not
// match its format is an error.
func (f *Frame) Coerce(spec TypeSpec) (*Frame, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	out := f
	for i, field := range spec.Field {
		if !out.Has(field) {
			continue
		}
		kind, _ := ParseKind(spec.Type[i])
		layout := spec.format(i)
		var convErr error
		out = out.WithColumn(field, func(r Row) any {
			v, err := coerceCell(r.Get(field), kind, layout)
			if err != nil && convErr == nil {
				convErr = errors.Wrapf(err, "field %s row %d", field, r.Index())
			}
			return v
		})
		if convErr != nil {
			return nil, convErr
		}
	}
	return out, nil
}

func coerceCell(v any, kind Kind, layout string) (any, error) {
	if IsAbsent(v) {
		return nil, nil
	}
	switch kind {
	case KindText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return Format(v), nil
	case KindFloat:
		if x, ok := toFloat(v); ok {
			return x, nil
		}
		return nil, nil
	case KindInt:
		if x, ok := v.(int64); ok {
			return x, nil
		}
		x, ok := toFloat(v)
		if !ok || x != math.Trunc(x) {
			return nil, nil
		}
		return int64(x), nil
	case KindBool:
		return parseBool(v), nil
	case KindDateTime:
		return coerceTime(v, layout)
	}
	return nil, ErrUnknownType
}

func parseBool(v any) any {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "y", "true", "t", "1":
			return true
		case "no", "n", "false", "f", "0":
			return false
		}
		return nil
	}
	if n, ok := toFloat(v); ok {
		return n != 0
	}
	return nil
}

func coerceTime(v any, layout string) (any, error) {
	timeOnly := isTimeOnly(layout)
	switch x := v.(type) {
	case time.Time:
		if timeOnly {
			return ClockOf(x), nil
		}
		return x, nil
	case TimeOfDay:
		return x, nil
	case float64, int64:
		// Survey exports epoch milliseconds for date questions.
		ms, _ := toFloat(x)
		t := time.UnixMilli(int64(ms)).UTC()
		if timeOnly {
			return ClockOf(t), nil
		}
		return t, nil
	}
	s := strings.TrimSpace(Format(v))
	if layout == "" {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return nil, errors.Errorf("no date format for %q", s)
	}
	t, err := timefmt.Parse(s, layout)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %q with %q", s, layout)
	}
	if timeOnly {
		return ClockOf(t), nil
	}
	if isDateOnly(layout) {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return t, nil
}

var (
	dateDirectives = []string{"%Y", "%y", "%m", "%d", "%b", "%B", "%j", "%D", "%F", "%x", "%c", "%e", "%a", "%A"}
	timeDirectives = []string{"%H", "%I", "%M", "%S", "%T", "%R", "%X", "%p", "%c"}
)

func hasAny(layout string, directives []string) bool {
	for _, d := range directives {
		if strings.Contains(layout, d) {
			return true
		}
	}
	return false
}

func isTimeOnly(layout string) bool {
	return layout != "" && hasAny(layout, timeDirectives) && !hasAny(layout, dateDirectives)
}

func isDateOnly(layout string) bool {
	return hasAny(layout, dateDirectives) && !hasAny(layout, timeDirectives)
}

// NormalizeNulls replaces NaN cells and the literal text "nan" with absent.
func (f *Frame) NormalizeNulls() *Frame {
	out := empty(f.cols)
	out.rows = make([][]any, len(f.rows))
	for i, r := range f.rows {
		row := make([]any, len(r))
		for j, v := range r {
			if s, ok := v.(string); ok && s == "nan" {
				continue
			}
			if !IsAbsent(v) {
				row[j] = v
			}
		}
		out.rows[i] = row
	}
	return out
}

// NaNToNone replaces NaN floats in col with absent. Binding a NaN to a text
// column would otherwise store the driver's NaN spelling.
func (f *Frame) NaNToNone(col string) *Frame {
	if !f.Has(col) {
		return f
	}
	return f.WithColumn(col, func(r Row) any {
		v := r.Get(col)
		if IsAbsent(v) {
			return nil
		}
		return v
	})
}

package etl

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/pkg/errors"
)

// ExplodeMultiSelect splits the comma-separated codes in field into one row
// per code and resolves each code to define through lk. Rows with no
// selection contribute nothing. Any code missing from lk fails the step and
// the offending rows are written to sideFile.
func ExplodeMultiSelect(env *Env, f *frame.Frame, field, define string, lk Lookup, sideFile string) (*frame.Frame, error) {
	if err := f.Require(field); err != nil {
		return nil, errors.Wrap(err, "multi-select")
	}
	exploded := f.Explode(field, ",").DropAbsent(field)
	return ResolveLookup(env, lk, exploded, field, define, sideFile)
}

// Category maps a wide count column to its canonical code.
type Category struct {
	Column string
	Code   string
}

// Categories builds identity mappings for cols.
func Categories(cols ...string) []Category {
	out := make([]Category, len(cols))
	for i, c := range cols {
		out[i] = Category{Column: c, Code: c}
	}
	return out
}

// StackOptions drives StackCounts.
type StackOptions struct {
	IDs        []string
	Categories []Category
	// The other triple: a count, a chosen code and a free-text description.
	Other        string
	DefineOther  string
	SpecifyOther string
	// Recognized holds the codes DefineOther may resolve to.
	Recognized mapset.Set[string]

	CodeField  string // default MatureCode
	CountField string // default Enumeration
	NoteField  string // default QCNotes
}

// UndefinedCode marks a count whose other category is not a known code.
const UndefinedCode = "ND"

func (o *StackOptions) defaults() {
	if o.CodeField == "" {
		o.CodeField = "MatureCode"
	}
	if o.CountField == "" {
		o.CountField = "Enumeration"
	}
	if o.NoteField == "" {
		o.NoteField = "QCNotes"
	}
	if o.Recognized == nil {
		o.Recognized = mapset.NewThreadUnsafeSet[string]()
	}
}

// StackCounts melts the category columns of a wide count form into
// (ids..., code, count, note) rows, dropping absent counts. The other triple
// adds a row with the chosen code when it is recognized, or an ND row noting
// the free text when it is not. Output order is the melted categories, then
// resolved others, then undefined others.
func StackCounts(f *frame.Frame, opts StackOptions) (*frame.Frame, error) {
	opts.defaults()
	cols := make([]string, len(opts.Categories))
	codes := make(map[string]string, len(opts.Categories))
	for i, c := range opts.Categories {
		cols[i] = c.Column
		codes[c.Column] = c.Code
	}
	melted, err := f.Melt(opts.IDs, cols, opts.CodeField, opts.CountField)
	if err != nil {
		return nil, errors.Wrap(err, "stack counts")
	}
	stacked := melted.DropAbsent(opts.CountField).
		WithColumn(opts.CodeField, func(r frame.Row) any { return codes[r.String(opts.CodeField)] }).
		WithConst(opts.NoteField, nil)

	if opts.Other == "" || !f.Has(opts.Other) {
		return stacked, nil
	}
	if err := f.Require(opts.DefineOther); err != nil {
		return nil, errors.Wrap(err, "stack counts")
	}
	outCols := stacked.Columns()
	var resolved, undefined []map[string]any
	f.DropAbsent(opts.Other).Each(func(r frame.Row) {
		rec := make(map[string]any, len(outCols))
		for _, id := range opts.IDs {
			rec[id] = r.Get(id)
		}
		rec[opts.CountField] = r.Get(opts.Other)
		if code := r.String(opts.DefineOther); opts.Recognized.Contains(code) {
			rec[opts.CodeField] = code
			resolved = append(resolved, rec)
			return
		}
		text := r.String(opts.SpecifyOther)
		if text == "" {
			text = r.String(opts.DefineOther)
		}
		rec[opts.CodeField] = UndefinedCode
		rec[opts.NoteField] = "Taxon Not Defined: " + text
		undefined = append(undefined, rec)
	})
	return frame.Concat(stacked,
		frame.FromRecords(outCols, resolved),
		frame.FromRecords(outCols, undefined)), nil
}

// SideFlags keeps ids plus flags for the rows where any flag is present.
func SideFlags(f *frame.Frame, ids, flags []string) (*frame.Frame, error) {
	sel, err := f.Select(append(append([]string(nil), ids...), flags...)...)
	if err != nil {
		return nil, errors.Wrap(err, "side flags")
	}
	return sel.Filter(func(r frame.Row) bool {
		for _, c := range flags {
			if n, ok := r.Float(c); ok {
				if n != 0 {
					return true
				}
				continue
			}
			if YesNo(r.Get(c)) == true {
				return true
			}
		}
		return false
	}), nil
}

// AssertPartition fails with CountMismatch unless parts sum to total.
func AssertPartition(op string, total int, parts ...int) error {
	sum := 0
	for _, p := range parts {
		sum += p
	}
	if sum != total {
		return Failf(CountMismatch, op, "partitions sum to %d, expected %d", sum, total)
	}
	return nil
}

// YesNo maps yes/no answers to booleans; anything else is absent.
func YesNo(v any) any {
	switch x := v.(type) {
	case bool:
		return x
	case nil:
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(frame.Format(v))) {
	case "yes", "y", "true", "1":
		return true
	case "no", "n", "false", "0":
		return false
	}
	return nil
}

// InvertedYesNo is YesNo with the answers swapped. The form asks these
// questions in the negative.
func InvertedYesNo(v any) any {
	b, ok := YesNo(v).(bool)
	if !ok {
		return nil
	}
	return !b
}

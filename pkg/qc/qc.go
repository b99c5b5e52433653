// Package qc recomputes derived fields after a load frame is built and
// rewrites the ones that disagree, leaving a flag token and a dated note on
// every corrected row.
package qc

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hazyhaar/fieldetl/pkg/etl"
	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Token is appended to the flag column of every corrected row.
const Token = "CFCETL"

// WeightTolerance is the smallest difference that triggers a weight rewrite.
const WeightTolerance = 0.001

// Columns names the fields the validators read and write.
type Columns struct {
	Flag  string // QCFlag
	Notes string // QCNotes

	ForkLength       string
	LengthCategoryID string
	TotalWeight      string
	BagWeight        string
	Weight           string
}

// DefaultColumns matches the fish measurement table.
var DefaultColumns = Columns{
	Flag:             "QCFlag",
	Notes:            "QCNotes",
	ForkLength:       "ForkLength",
	LengthCategoryID: "LengthCategoryID",
	TotalWeight:      "TotalWeight",
	BagWeight:        "BagWeight",
	Weight:           "Weight",
}

// LengthCategory is one row of the length-category lookup.
type LengthCategory struct {
	Low, High float64
	ID        any
}

// Input carries what the validators need besides the frame.
type Input struct {
	Columns Columns
	// LengthCategories is required by the LengthCategoryID validator and
	// searched in order.
	LengthCategories []LengthCategory
}

type validator func(env *etl.Env, f *frame.Frame, in Input) (*frame.Frame, int, error)

var validators = map[string]validator{
	"LengthCategoryID": validateLengthCategory,
	"Weight":           validateWeight,
}

// Fields lists the field names Validate accepts.
func Fields() []string {
	names := make([]string, 0, len(validators))
	for k := range validators {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate runs the validator of every field in order. It returns the
// corrected frame and whether any row changed. An unknown field fails with
// etl.UnknownOption.
func Validate(env *etl.Env, f *frame.Frame, fields []string, in Input) (*frame.Frame, bool, error) {
	if in.Columns == (Columns{}) {
		in.Columns = DefaultColumns
	}
	changed := false
	for _, field := range fields {
		v, ok := validators[field]
		if !ok {
			return nil, false, etl.Failf(etl.UnknownOption, "qc", "unknown QC field %q", field)
		}
		out, n, err := v(env, f, in)
		if err != nil {
			return nil, false, errors.Wrapf(err, "qc %s", field)
		}
		env.Metrics.QCCorrected(field, n)
		env.Log.Info("QC validation", zap.String("field", field), zap.Int("corrected", n))
		if n > 0 {
			changed = true
		}
		f = out
	}
	return f, changed, nil
}

// ReadLengthCategories converts a lookup frame with low, high and id columns.
func ReadLengthCategories(lk *frame.Frame, low, high, id string) ([]LengthCategory, error) {
	if err := lk.Require(low, high, id); err != nil {
		return nil, errors.Wrap(err, "length categories")
	}
	var out []LengthCategory
	var bad error
	lk.Each(func(r frame.Row) {
		lo, ok1 := r.Float(low)
		hi, ok2 := r.Float(high)
		if !ok1 || !ok2 {
			if bad == nil {
				bad = errors.Errorf("length category row %d has no numeric bounds", r.Index())
			}
			return
		}
		out = append(out, LengthCategory{Low: lo, High: hi, ID: r.Get(id)})
	})
	return out, bad
}

func validateLengthCategory(env *etl.Env, f *frame.Frame, in Input) (*frame.Frame, int, error) {
	c := in.Columns
	if in.LengthCategories == nil {
		return nil, 0, etl.Failf(etl.UnresolvedLookup, "qc", "length category lookup not loaded")
	}
	if err := f.Require(c.ForkLength); err != nil {
		return nil, 0, err
	}
	return rewrite(env, f, c, c.LengthCategoryID, "Length Category", func(r frame.Row) (any, bool) {
		var want any
		if fl, ok := r.Float(c.ForkLength); ok {
			for _, lc := range in.LengthCategories {
				if lc.Low <= fl && fl <= lc.High {
					want = lc.ID
					break
				}
			}
		}
		return want, frame.Key(want) != frame.Key(r.Get(c.LengthCategoryID))
	})
}

func validateWeight(env *etl.Env, f *frame.Frame, in Input) (*frame.Frame, int, error) {
	c := in.Columns
	if err := f.Require(c.TotalWeight, c.BagWeight); err != nil {
		return nil, 0, err
	}
	return rewrite(env, f, c, c.Weight, "Weight", func(r frame.Row) (any, bool) {
		total, ok1 := r.Float(c.TotalWeight)
		bag, ok2 := r.Float(c.BagWeight)
		if !ok1 || !ok2 {
			return nil, false
		}
		qc := round(total-bag, 6)
		stored, ok := r.Float(c.Weight)
		if !ok {
			return nil, false
		}
		return qc, math.Abs(stored-qc) >= WeightTolerance-1e-9
	})
}

// rewrite applies check to every row; rows it reports as changed get the new
// value in field and an extended audit trail.
func rewrite(env *etl.Env, f *frame.Frame, c Columns, field, label string, check func(frame.Row) (any, bool)) (*frame.Frame, int, error) {
	n := 0
	values := make([]any, f.Len())
	hit := make([]bool, f.Len())
	f.Each(func(r frame.Row) {
		values[r.Index()] = r.Get(field)
		if v, changed := check(r); changed {
			values[r.Index()] = v
			hit[r.Index()] = true
			n++
		}
	})
	if n == 0 {
		return f, 0, nil
	}
	note := Note(label, env.Now())
	out := f.WithColumn(field, func(r frame.Row) any { return values[r.Index()] }).
		WithColumn(c.Flag, func(r frame.Row) any {
			if !hit[r.Index()] {
				return r.Get(c.Flag)
			}
			return AppendFlag(r.Get(c.Flag))
		}).
		WithColumn(c.Notes, func(r frame.Row) any {
			if !hit[r.Index()] {
				return r.Get(c.Notes)
			}
			return AppendNote(r.Get(c.Notes), note)
		})
	return out, n, nil
}

// Note is the dated sentence recorded for a correction of label.
func Note(label string, day time.Time) string {
	return fmt.Sprintf("Updated - %s during initial ETL QC Validation - %s", label, day.Format("2006-01-02"))
}

// AppendFlag adds Token to a ;-delimited flag set.
func AppendFlag(flag any) any {
	cur := strings.TrimSpace(frame.Format(flag))
	if frame.IsAbsent(flag) || cur == "" {
		return Token
	}
	tokens := mapset.NewThreadUnsafeSet[string]()
	for _, t := range strings.Split(cur, ";") {
		tokens.Add(strings.TrimSpace(t))
	}
	if tokens.Contains(Token) {
		return cur
	}
	return cur + ";" + Token
}

// AppendNote adds sentence to a |-delimited note log.
func AppendNote(notes any, sentence string) any {
	cur := strings.TrimSpace(frame.Format(notes))
	if frame.IsAbsent(notes) || cur == "" {
		return sentence
	}
	return cur + " | " + sentence
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

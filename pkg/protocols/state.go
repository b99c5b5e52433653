package protocols

import (
	"context"
	"embed"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/fieldetl/pkg/bundle"
	"github.com/hazyhaar/fieldetl/pkg/etl"
	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/hazyhaar/fieldetl/pkg/loader"
	"github.com/hazyhaar/fieldetl/pkg/publish"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed typespecs/*.yaml
var typespecs embed.FS

// TypeSpecs returns the per-form type specs of protocol, keyed by form
// fragment.
func TypeSpecs(id ID) (map[string]frame.TypeSpec, error) {
	data, err := typespecs.ReadFile("typespecs/" + string(id) + ".yaml")
	if err != nil {
		return nil, etl.Fail(etl.UnknownOption, "type specs", err)
	}
	specs := make(map[string]frame.TypeSpec)
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, errors.Wrapf(err, "parse %s type specs", id)
	}
	for form, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, etl.Fail(etl.UnknownOption, "type specs "+form, err)
		}
	}
	return specs, nil
}

// State is what the steps of one run share: the bundle, the surrogate maps
// parents publish, and lookups read so far.
type State struct {
	Env       *etl.Env
	Bundle    *bundle.Bundle
	Publisher publish.Publisher

	specs   map[string]frame.TypeSpec
	typed   frame.TypeSpec
	forms   map[string]*frame.Frame
	maps    map[string]*etl.SurrogateMap
	lookups map[string]etl.Lookup
	stash   map[string]*frame.Frame
}

// NewState prepares the shared state for a run of p.
func NewState(env *etl.Env, p Protocol, b *bundle.Bundle, pub publish.Publisher) (*State, error) {
	specs, err := TypeSpecs(p.ID())
	if err != nil {
		return nil, err
	}
	return &State{
		Env:       env,
		Bundle:    b,
		Publisher: pub,
		specs:     specs,
		typed:     mergeSpecs(specs),
		forms:     make(map[string]*frame.Frame),
		maps:      make(map[string]*etl.SurrogateMap),
		lookups:   make(map[string]etl.Lookup),
		stash:     make(map[string]*frame.Frame),
	}, nil
}

// Form returns the bundle frame whose key contains fragment, with nulls
// normalized and the form's type spec applied.
func (st *State) Form(fragment string) (*frame.Frame, error) {
	if f, ok := st.forms[fragment]; ok {
		return f, nil
	}
	key, raw, err := st.Bundle.Find(fragment)
	if err != nil {
		return nil, etl.Fail(etl.BundleRead, "form "+fragment, err)
	}
	f := raw.NormalizeNulls()
	if spec, ok := st.specs[fragment]; ok {
		if f, err = f.Coerce(spec); err != nil {
			if etl.ClassOf(err) == etl.UnknownOption {
				return nil, etl.Fail(etl.UnknownOption, "coerce "+key, err)
			}
			return nil, etl.Fail(etl.BundleRead, "coerce "+key, err)
		}
	}
	st.forms[fragment] = f
	return f, nil
}

// Map returns a surrogate map published by an earlier step.
func (st *State) Map(name string) (*etl.SurrogateMap, error) {
	m, ok := st.maps[name]
	if !ok {
		return nil, etl.Failf(etl.UnresolvedLookup, "surrogates", "%s not loaded yet", name)
	}
	return m, nil
}

// SetMap publishes a surrogate map for later steps.
func (st *State) SetMap(name string, m *etl.SurrogateMap) { st.maps[name] = m }

// Lookup reads a lookup table once per run.
func (st *State) Lookup(ctx context.Context, table, key, value string) (etl.Lookup, error) {
	name := table + "." + key + "." + value
	if lk, ok := st.lookups[name]; ok {
		return lk, nil
	}
	lk, err := etl.ReadLookup(ctx, st.Env, table, key, value, "SELECT * FROM "+loader.QuoteIdent(table))
	if err != nil {
		return etl.Lookup{}, err
	}
	st.lookups[name] = lk
	return lk, nil
}

// Table reads a whole table as a frame.
func (st *State) Table(ctx context.Context, query string) (*frame.Frame, error) {
	f, err := st.Env.Loader.ReadTable(ctx, query)
	if err != nil {
		return nil, etl.Fail(etl.Database, "read", err)
	}
	return f, nil
}

// load clears NaN cells, stamps the processing level on f and appends it to
// table. Blank cells of numeric form fields are bound as NULL.
func (st *State) load(ctx context.Context, f *frame.Frame, table string) ([]int64, error) {
	for _, c := range f.Columns() {
		f = f.NaNToNone(c)
	}
	f = st.Env.StampProcessingLevel(f)
	ids, err := st.Env.Loader.AppendTyped(ctx, f, table, loader.InsertSQL(table, f.Columns()), st.typed)
	if err != nil {
		return ids, etl.Fail(etl.Database, "load "+table, err)
	}
	return ids, nil
}

// reject writes rows to sideFile and returns the unresolved-lookup failure
// that ends the step.
func (st *State) reject(op string, rows *frame.Frame, sideFile string) error {
	e := &etl.Error{Class: etl.UnresolvedLookup, Op: op, Err: errors.Errorf("%d unresolved rows", rows.Len())}
	path, err := st.Env.WriteSideFile(sideFile, rows)
	if err != nil {
		st.Env.Log.Warn("side file not written", zap.String("name", sideFile), zap.Error(err))
	} else {
		e.SideFile = path
	}
	return e
}

// mergeSpecs folds the form specs of a protocol into one field → type list.
// The first form in name order wins for a field declared twice.
func mergeSpecs(specs map[string]frame.TypeSpec) frame.TypeSpec {
	forms := make([]string, 0, len(specs))
	for form := range specs {
		forms = append(forms, form)
	}
	sort.Strings(forms)
	var out frame.TypeSpec
	seen := make(map[string]bool)
	for _, form := range forms {
		s := specs[form]
		for i, field := range s.Field {
			if seen[field] {
				continue
			}
			seen[field] = true
			out.Field = append(out.Field, field)
			out.Type = append(out.Type, s.Type[i])
		}
	}
	return out
}

// col maps a source column to a target column.
type col struct{ to, from string }

// project selects and renames columns. Columns named in optional may be
// missing from f and come out absent.
func project(f *frame.Frame, cols []col, optional ...string) (*frame.Frame, error) {
	opt := make(map[string]bool, len(optional))
	for _, o := range optional {
		opt[o] = true
	}
	src := f
	for _, c := range cols {
		if !src.Has(c.from) {
			if !opt[c.from] {
				return nil, etl.Failf(etl.BundleRead, "project", "missing column %s", c.from)
			}
			src = src.WithConst(c.from, nil)
		}
	}
	from := make([]string, len(cols))
	to := make([]string, len(cols))
	for i, c := range cols {
		from[i], to[i] = c.from, c.to
	}
	sel, err := src.Select(from...)
	if err != nil {
		return nil, etl.Fail(etl.BundleRead, "project", err)
	}
	return frame.New(to, rowsOf(sel)), nil
}

// withColumns adds every missing column of cols to f as absent.
func withColumns(f *frame.Frame, cols ...string) *frame.Frame {
	for _, c := range cols {
		if !f.Has(c) {
			f = f.WithConst(c, nil)
		}
	}
	return f
}

// mapColumn replaces col with fn of its value when the column exists.
func mapColumn(f *frame.Frame, col string, fn func(any) any) *frame.Frame {
	if !f.Has(col) {
		return f
	}
	return f.WithColumn(col, func(r frame.Row) any { return fn(r.Get(col)) })
}

func rowsOf(f *frame.Frame) [][]any {
	rows := make([][]any, f.Len())
	for i := range rows {
		rows[i] = f.Values(i)
	}
	return rows
}

// same maps each name to itself.
func same(names ...string) []col {
	out := make([]col, len(names))
	for i, n := range names {
		out[i] = col{to: n, from: n}
	}
	return out
}

// asTime reads a timestamp stored either natively or as SQLite text.
func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		for _, layout := range []string{
			"2006-01-02 15:04:05.999999999-07:00",
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05Z07:00",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, strings.TrimSpace(x)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// day truncates t to its calendar date.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

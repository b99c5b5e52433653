package etl

import (
	"context"
	"fmt"

	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SurrogateMap maps natural ids to the surrogate keys a parent load assigned.
type SurrogateMap struct {
	Table string
	ids   map[string]int64
}

// NewSurrogateMap returns an empty map for table.
func NewSurrogateMap(table string) *SurrogateMap {
	return &SurrogateMap{Table: table, ids: make(map[string]int64)}
}

// Publish pairs the natural ids in f[natCol] with the surrogates returned by
// the loader for the same rows.
func Publish(table string, f *frame.Frame, natCol string, ids []int64) (*SurrogateMap, error) {
	if f.Len() != len(ids) {
		return nil, Failf(CountMismatch, "publish "+table,
			"%d rows but %d surrogates", f.Len(), len(ids))
	}
	if err := f.Require(natCol); err != nil {
		return nil, errors.Wrapf(err, "publish %s", table)
	}
	m := NewSurrogateMap(table)
	f.Each(func(r frame.Row) {
		if k := frame.Key(r.Get(natCol)); k != "" {
			m.ids[k] = ids[r.Index()]
		}
	})
	return m, nil
}

// MapFromFrame builds a map from a natural-id column and a surrogate column
// read back from the database.
func MapFromFrame(table string, f *frame.Frame, natCol, idCol string) (*SurrogateMap, error) {
	if err := f.Require(natCol, idCol); err != nil {
		return nil, errors.Wrapf(err, "map %s", table)
	}
	m := NewSurrogateMap(table)
	f.Each(func(r frame.Row) {
		id, ok := r.Int(idCol)
		if k := frame.Key(r.Get(natCol)); ok && k != "" {
			m.ids[k] = id
		}
	})
	return m, nil
}

// Get returns the surrogate for natural id nat.
func (m *SurrogateMap) Get(nat any) (int64, bool) {
	id, ok := m.ids[frame.Key(nat)]
	return id, ok
}

// Len returns the number of mapped ids.
func (m *SurrogateMap) Len() int { return len(m.ids) }

// Resolve sets outCol to the surrogate of natCol on every row. Any row
// without a surrogate fails the step; the unresolved rows go to sideFile
// when one is named.
func (m *SurrogateMap) Resolve(env *Env, f *frame.Frame, natCol, outCol, sideFile string) (*frame.Frame, error) {
	if err := f.Require(natCol); err != nil {
		return nil, errors.Wrapf(err, "resolve %s", m.Table)
	}
	out := f.WithColumn(outCol, func(r frame.Row) any {
		if id, ok := m.Get(r.Get(natCol)); ok {
			return id
		}
		return nil
	})
	missing := out.Filter(func(r frame.Row) bool { return r.Absent(outCol) })
	if missing.Len() == 0 {
		return out, nil
	}
	op := fmt.Sprintf("resolve %s.%s", m.Table, outCol)
	return nil, unresolved(env, UnresolvedLookup, op, missing, sideFile)
}

// Lookup names a domain table and its key and value columns.
type Lookup struct {
	Name  string
	Table *frame.Frame
	Key   string
	Value string
}

// ReadLookup reads a lookup table through the run's loader.
func ReadLookup(ctx context.Context, env *Env, name, key, value, query string) (Lookup, error) {
	f, err := env.Loader.ReadTable(ctx, query)
	if err != nil {
		return Lookup{}, Fail(Database, "read "+name, err)
	}
	return Lookup{Name: name, Table: f, Key: key, Value: value}, nil
}

// ResolveLookup defines column define on work from lk, matching
// work[workKey] to the lookup key. Rows whose key is present but does not
// match exactly one lookup row fail the step and are written to sideFile.
// Rows with an absent key keep an absent define. The side file carries the
// offending rows as they were before the join.
func ResolveLookup(env *Env, lk Lookup, work *frame.Frame, workKey, define, sideFile string) (*frame.Frame, error) {
	op := fmt.Sprintf("lookup %s.%s", lk.Name, lk.Key)
	out, err := frame.LookupJoin(lk.Table, lk.Key, lk.Value, work, workKey, define)
	if errors.Is(err, frame.ErrAmbiguousLookup) {
		return nil, Fail(UnresolvedLookup, op, err)
	}
	if err != nil {
		return nil, Classify(op, err)
	}
	resolved := out.Column(define)
	missing := work.Filter(func(r frame.Row) bool {
		return frame.Key(r.Get(workKey)) != "" && frame.IsAbsent(resolved[r.Index()])
	})
	if missing.Len() == 0 {
		return out, nil
	}
	return nil, unresolved(env, UnresolvedLookup, op, missing, sideFile)
}

func unresolved(env *Env, class Class, op string, rows *frame.Frame, sideFile string) error {
	e := &Error{Class: class, Op: op, Err: errors.Errorf("%d unresolved rows", rows.Len())}
	if sideFile != "" {
		path, err := env.WriteSideFile(sideFile, rows)
		if err != nil {
			env.Log.Warn("side file not written", zap.String("name", sideFile), zap.Error(err))
		} else {
			e.SideFile = path
		}
	}
	return e
}

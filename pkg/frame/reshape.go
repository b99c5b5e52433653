package frame

import (
	"strings"

	"github.com/pkg/errors"
)

// Join suffixes applied to colliding column names.
const (
	SuffixSource = "_src"
	SuffixLookup = "_lk"
)

// ErrAmbiguousLookup is returned when one lookup key maps to several values.
var ErrAmbiguousLookup = errors.New("ambiguous lookup key")

// Explode splits col on sep and emits one row per token. Tokens are
// trimmed; empty tokens are dropped. An absent cell yields one row with an
// absent token.
func (f *Frame) Explode(col, sep string) *Frame {
	j, ok := f.index[col]
	if !ok {
		return f.Clone()
	}
	out := empty(f.cols)
	for _, r := range f.rows {
		if IsAbsent(r[j]) {
			out.rows = append(out.rows, append([]any(nil), r...))
			continue
		}
		emitted := false
		for _, tok := range strings.Split(Format(r[j]), sep) {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			row := append([]any(nil), r...)
			row[j] = tok
			out.rows = append(out.rows, row)
			emitted = true
		}
		if !emitted {
			row := append([]any(nil), r...)
			row[j] = nil
			out.rows = append(out.rows, row)
		}
	}
	return out
}

// Melt turns the value columns into rows of (ids..., varName, valueName).
// Output is grouped by value column, then by input row.
func (f *Frame) Melt(ids, values []string, varName, valueName string) (*Frame, error) {
	if err := f.Require(ids...); err != nil {
		return nil, err
	}
	if err := f.Require(values...); err != nil {
		return nil, err
	}
	cols := append(append([]string(nil), ids...), varName, valueName)
	out := empty(cols)
	for _, v := range values {
		vj := f.index[v]
		for _, r := range f.rows {
			row := make([]any, 0, len(cols))
			for _, id := range ids {
				row = append(row, r[f.index[id]])
			}
			row = append(row, v, r[vj])
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}

// DropAbsent removes rows where any of cols is absent.
func (f *Frame) DropAbsent(cols ...string) *Frame {
	return f.Filter(func(r Row) bool {
		for _, c := range cols {
			if r.Absent(c) {
				return false
			}
		}
		return true
	})
}

// Distinct projects cols and keeps the first row of each key.
func (f *Frame) Distinct(cols ...string) (*Frame, error) {
	sel, err := f.Select(cols...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	return sel.Filter(func(r Row) bool {
		k := rowKey(r.Values())
		if seen[k] {
			return false
		}
		seen[k] = true
		return true
	}), nil
}

// ValueCounts counts rows per key of col.
func (f *Frame) ValueCounts(col string) map[string]int {
	counts := make(map[string]int)
	f.Each(func(r Row) { counts[Key(r.Get(col))]++ })
	return counts
}

func rowKey(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = Key(v)
	}
	return strings.Join(parts, "\x1f")
}

// LeftJoin joins other onto f where Key(f[leftKey]) == Key(other[rightKey]).
// Non-key columns present on both sides are suffixed with SuffixSource on
// the left and SuffixLookup on the right. Multiple matches repeat the left
// row; absent keys never match.
func (f *Frame) LeftJoin(other *Frame, leftKey, rightKey string) (*Frame, error) {
	if err := f.Require(leftKey); err != nil {
		return nil, err
	}
	if err := other.Require(rightKey); err != nil {
		return nil, errors.Wrap(err, "lookup")
	}
	cols := make([]string, 0, len(f.cols)+len(other.cols))
	for _, c := range f.cols {
		if other.Has(c) && c != leftKey {
			cols = append(cols, c+SuffixSource)
		} else {
			cols = append(cols, c)
		}
	}
	var rightCols []int
	for j, c := range other.cols {
		if c == rightKey && c == leftKey {
			continue
		}
		if f.Has(c) {
			cols = append(cols, c+SuffixLookup)
		} else {
			cols = append(cols, c)
		}
		rightCols = append(rightCols, j)
	}

	byKey := make(map[string][]int)
	rk := other.index[rightKey]
	for i, r := range other.rows {
		k := Key(r[rk])
		if k == "" {
			continue
		}
		byKey[k] = append(byKey[k], i)
	}

	out := empty(cols)
	lk := f.index[leftKey]
	for _, r := range f.rows {
		matches := byKey[Key(r[lk])]
		if Key(r[lk]) == "" || len(matches) == 0 {
			row := make([]any, len(cols))
			copy(row, r)
			out.rows = append(out.rows, row)
			continue
		}
		for _, m := range matches {
			row := make([]any, len(cols))
			copy(row, r)
			for k, j := range rightCols {
				row[len(f.cols)+k] = other.rows[m][j]
			}
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}

// LookupJoin resolves define on work from lookup: work[workKey] is matched
// to lookup[lookupKey] and define takes lookup[lookupValue]. Unmatched rows
// get an absent define. Row count and order of work are preserved.
func LookupJoin(lookup *Frame, lookupKey, lookupValue string, work *Frame, workKey, define string) (*Frame, error) {
	if err := lookup.Require(lookupKey, lookupValue); err != nil {
		return nil, errors.Wrap(err, "lookup")
	}
	if err := work.Require(workKey); err != nil {
		return nil, err
	}

	// The resolved column travels as <define>_lk so it cannot collide with
	// any working column; a pre-existing define becomes <define>_src.
	resolved := define + SuffixLookup
	joinKey := lookupKey + SuffixLookup + "_key"
	right := lookup.WithColumn(resolved, func(r Row) any { return r.Get(lookupValue) }).
		WithColumn(joinKey, func(r Row) any { return r.Get(lookupKey) })
	right, _ = right.Distinct(joinKey, resolved)
	for k, n := range right.ValueCounts(joinKey) {
		if k != "" && n > 1 {
			return nil, errors.Wrapf(ErrAmbiguousLookup, "%s=%s", lookupKey, k)
		}
	}

	left, leftKey := work, workKey
	if work.Has(define) {
		left = work.Rename(map[string]string{define: define + SuffixSource})
		if workKey == define {
			leftKey = define + SuffixSource
		}
	}
	joined, err := left.LeftJoin(right, leftKey, joinKey)
	if err != nil {
		return nil, err
	}

	// Project the winner back onto define, in define's original position.
	cols := work.Columns()
	if !work.Has(define) {
		cols = append(cols, define)
	}
	out := empty(cols)
	out.rows = make([][]any, len(joined.rows))
	ri := joined.index[resolved]
	for i, r := range joined.rows {
		row := make([]any, len(cols))
		for k, c := range cols {
			if c == define {
				row[k] = r[ri]
				continue
			}
			row[k] = r[joined.index[c]]
		}
		out.rows[i] = row
	}
	return out, nil
}

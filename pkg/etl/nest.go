package etl

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/hazyhaar/fieldetl/pkg/loader"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NestMaster names the parent nest table and its columns.
type NestMaster struct {
	Table      string // tbl_NestMaster
	ID         string // surrogate column
	NestID     string // natural nest id
	FirstEvent string // surrogate of the first event the nest was seen on
	Location   string
}

// DefaultNestMaster is the nest parent table of the plover schema.
var DefaultNestMaster = NestMaster{
	Table:      "tbl_NestMaster",
	ID:         "NestMasterID",
	NestID:     "NestID",
	FirstEvent: "FirstEventID",
	Location:   "LocationID",
}

// SeedNestMaster inserts one parent row per nest id in visits that the
// parent table does not already hold. visits must carry the nest id, the
// event surrogate (eventCol) and the location surrogate under the names of
// nm; the first event is the lowest event surrogate per nest. It returns
// the number of rows inserted and the nest id → surrogate map of the whole
// table after seeding.
func SeedNestMaster(ctx context.Context, env *Env, visits *frame.Frame, eventCol string, nm NestMaster) (int, *SurrogateMap, error) {
	if err := visits.Require(nm.NestID, eventCol, nm.Location); err != nil {
		return 0, nil, errors.Wrap(err, "seed nests")
	}
	existing, err := env.Loader.ReadTable(ctx, fmt.Sprintf("SELECT %s FROM %s",
		loader.QuoteIdent(nm.NestID), loader.QuoteIdent(nm.Table)))
	if err != nil {
		return 0, nil, Fail(Database, "seed nests", err)
	}
	present := make(map[string]bool, existing.Len())
	existing.Each(func(r frame.Row) { present[frame.Key(r.Get(nm.NestID))] = true })

	type seed struct {
		event    int64
		location any
	}
	var order []string
	seeds := make(map[string]*seed)
	visits.Each(func(r frame.Row) {
		k := frame.Key(r.Get(nm.NestID))
		ev, ok := r.Int(eventCol)
		if k == "" || !ok || present[k] {
			return
		}
		s, seen := seeds[k]
		if !seen {
			order = append(order, k)
			seeds[k] = &seed{event: ev, location: r.Get(nm.Location)}
			return
		}
		if ev < s.event {
			s.event, s.location = ev, r.Get(nm.Location)
		}
	})

	rows := make([][]any, len(order))
	for i, k := range order {
		rows[i] = []any{k, seeds[k].event, seeds[k].location}
	}
	fresh := env.StampProcessingLevel(frame.New([]string{nm.NestID, nm.FirstEvent, nm.Location}, rows))
	if fresh.Len() > 0 {
		if _, err := env.Loader.AppendFrame(ctx, fresh, nm.Table); err != nil {
			return 0, nil, Fail(Database, "seed nests", err)
		}
	}
	env.Log.Info("nest master seeded", zap.Int("new", fresh.Len()), zap.Int("existing", len(present)))

	all, err := env.Loader.ReadTable(ctx, fmt.Sprintf("SELECT %s, %s FROM %s",
		loader.QuoteIdent(nm.NestID), loader.QuoteIdent(nm.ID), loader.QuoteIdent(nm.Table)))
	if err != nil {
		return 0, nil, Fail(Database, "seed nests", err)
	}
	m, err := MapFromFrame(nm.Table, all, nm.NestID, nm.ID)
	if err != nil {
		return 0, nil, err
	}
	return fresh.Len(), m, nil
}

// UpdateNestRepeats applies repeat rows to target in place, keyed on
// joinField, through a temporary copy of the rows. Only natural ids that
// occur once in repeats are applied; ids repeated within the load are
// returned untouched.
func UpdateNestRepeats(ctx context.Context, env *Env, repeats *frame.Frame, target, joinField string) (applied int, skipped []string, err error) {
	if err := repeats.Require(joinField); err != nil {
		return 0, nil, errors.Wrap(err, "nest repeats")
	}
	counts := repeats.ValueCounts(joinField)
	single := repeats.Filter(func(r frame.Row) bool {
		return counts[frame.Key(r.Get(joinField))] == 1 && !r.Absent(joinField)
	})
	for k, n := range counts {
		if n > 1 && k != "" {
			skipped = append(skipped, k)
		}
	}
	sort.Strings(skipped)
	if len(skipped) > 0 {
		env.Log.Warn("nest repeats with several rows left unapplied", zap.Strings("nest_ids", skipped))
	}
	if single.Len() == 0 {
		return 0, skipped, nil
	}

	temp := "tmp_" + target
	err = env.Loader.With(func(db *sql.DB) error {
		if err := loader.CreateTableFromFrame(ctx, db, single, temp); err != nil {
			return err
		}
		defer func() {
			if err := loader.Exec(ctx, db, "DROP TABLE IF EXISTS "+loader.QuoteIdent(temp)); err != nil {
				env.Log.Warn("temp table not dropped", zap.String("table", temp), zap.Error(err))
			}
		}()
		return loader.Exec(ctx, db, loader.BuildUpdateSQL(single, target, temp, joinField))
	})
	if err != nil {
		return 0, skipped, Fail(Database, "nest repeats", err)
	}
	env.Log.Info("nest repeats applied", zap.String("table", target), zap.Int("rows", single.Len()))
	return single.Len(), skipped, nil
}

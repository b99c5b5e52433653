package protocols

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/fieldetl/pkg/bundle"
	"github.com/hazyhaar/fieldetl/pkg/etl"
	"github.com/hazyhaar/fieldetl/pkg/loader"
	"github.com/hazyhaar/fieldetl/pkg/logsink"
	"github.com/hazyhaar/fieldetl/pkg/publish"
	"github.com/hazyhaar/fieldetl/pkg/schema"
	"go.uber.org/zap"
)

// Dispatch runs the module of env.Config.Protocol over an ingested bundle.
// pub may be nil, in which case nothing is published.
func Dispatch(ctx context.Context, env *etl.Env, b *bundle.Bundle, pub publish.Publisher) error {
	return execute(ctx, env, pub, func() (*bundle.Bundle, error) { return b, nil })
}

// RunArchive ingests archive into the run workspace and dispatches it.
func RunArchive(ctx context.Context, env *etl.Env, archive string, opts bundle.Options, pub publish.Publisher) error {
	return execute(ctx, env, pub, func() (*bundle.Bundle, error) {
		name := BundleName(env.Config.Protocol, env.Config.Year)
		b, err := bundle.Ingest(archive, name, logsink.WorkspaceDir(env.Config.OutputDir), opts)
		if err == nil {
			return b, nil
		}
		if etl.ClassOf(err) == etl.UnknownOption {
			return nil, etl.Fail(etl.UnknownOption, "ingest", err)
		}
		return nil, etl.Fail(etl.BundleRead, "ingest", err)
	})
}

// BundleName is the directory stem a protocol's archive is unpacked under.
func BundleName(protocol string, year int) string {
	return fmt.Sprintf("%s_%d", protocol, year)
}

func execute(ctx context.Context, env *etl.Env, pub publish.Publisher, ingest func() (*bundle.Bundle, error)) error {
	p, err := Get(env.Config.Protocol)
	if err != nil {
		env.Log.Warn("unknown protocol", zap.String("protocol", env.Config.Protocol), zap.Strings("known", knownNames()))
		return err
	}
	run := etl.NewRun(env)
	ledger := hasLedger(ctx, env)
	if ledger {
		ledgerBegin(ctx, env)
	}
	err = steps(ctx, env, run, p, pub, ingest)
	if ledger {
		ledgerFinish(ctx, env, run, err)
	}
	return err
}

// hasLedger reports whether the target database carries the run ledger.
// Databases created outside initdb may not.
func hasLedger(ctx context.Context, env *etl.Env) bool {
	var ok bool
	err := env.Loader.With(func(db *sql.DB) error {
		var err error
		ok, err = loader.TableExists(ctx, db, schema.LedgerTable)
		return err
	})
	if err != nil {
		env.Log.Warn("run ledger not checked", zap.Error(err))
		return false
	}
	if !ok {
		env.Log.Info("run ledger absent, run not recorded", zap.String("table", schema.LedgerTable))
	}
	return ok
}

func steps(ctx context.Context, env *etl.Env, run *etl.Run, p Protocol, pub publish.Publisher, ingest func() (*bundle.Bundle, error)) error {
	b, err := ingest()
	if err != nil {
		return run.Fail(err)
	}
	if err := run.Ingested(); err != nil {
		return run.Fail(err)
	}
	env.Log.Info("bundle ingested", zap.Strings("forms", b.Names()))
	st, err := NewState(env, p, b, pub)
	if err != nil {
		return run.Fail(err)
	}
	for _, s := range p.Steps() {
		if err := run.Step(ctx, s.Name, s.Kind, func(ctx context.Context) error { return s.Run(ctx, st) }); err != nil {
			return err
		}
	}
	return run.Done()
}

func ledgerBegin(ctx context.Context, env *etl.Env) {
	err := env.Loader.With(func(db *sql.DB) error {
		return schema.BeginRun(ctx, db, schema.RunRecord{
			RunID:     env.RunID,
			Protocol:  env.Config.Protocol,
			Year:      env.Config.Year,
			User:      env.Config.User,
			State:     string(etl.StateNew),
			StartedAt: env.Now().Unix(),
		})
	})
	if err != nil {
		env.Log.Warn("run ledger not updated", zap.Error(err))
	}
}

func ledgerFinish(ctx context.Context, env *etl.Env, run *etl.Run, runErr error) {
	err := env.Loader.With(func(db *sql.DB) error {
		return schema.FinishRun(ctx, db, env.RunID, string(run.State()), runErr)
	})
	if err != nil {
		env.Log.Warn("run ledger not updated", zap.Error(err))
	}
}

func knownNames() []string {
	out := make([]string, len(Known))
	for i, k := range Known {
		out[i] = string(k)
	}
	return out
}

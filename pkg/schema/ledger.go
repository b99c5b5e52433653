package schema

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// LedgerTable holds one row per run.
const LedgerTable = "etl_runs"

const ledgerDDL = `CREATE TABLE IF NOT EXISTS etl_runs (
	run_id      TEXT PRIMARY KEY,
	protocol    TEXT NOT NULL,
	year        INTEGER NOT NULL,
	run_user    TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	last_error  TEXT
)`

// RunRecord is one row of the run ledger.
type RunRecord struct {
	RunID      string
	Protocol   string
	Year       int
	User       string
	State      string
	StartedAt  int64
	FinishedAt *int64
	LastError  *string
}

// BeginRun records a run start. A repeated run id keeps its first row.
func BeginRun(ctx context.Context, db *sql.DB, r RunRecord) error {
	const q = `INSERT OR IGNORE INTO etl_runs
		(run_id, protocol, year, run_user, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if r.StartedAt == 0 {
		r.StartedAt = time.Now().Unix()
	}
	if _, err := db.ExecContext(ctx, q, r.RunID, r.Protocol, r.Year, r.User, r.State, r.StartedAt); err != nil {
		return errors.Wrapf(err, "begin run %s", r.RunID)
	}
	return nil
}

// FinishRun stores the terminal state of a run and its error, if any.
func FinishRun(ctx context.Context, db *sql.DB, runID, state string, runErr error) error {
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	_, err := db.ExecContext(ctx,
		`UPDATE etl_runs SET state = ?, finished_at = ?, last_error = ? WHERE run_id = ?`,
		state, time.Now().Unix(), msg, runID)
	if err != nil {
		return errors.Wrapf(err, "finish run %s", runID)
	}
	return nil
}

// GetRun returns the ledger row for runID.
func GetRun(ctx context.Context, db *sql.DB, runID string) (*RunRecord, error) {
	r := &RunRecord{}
	err := db.QueryRowContext(ctx, `SELECT run_id, protocol, year, run_user, state, started_at, finished_at, last_error
		FROM etl_runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.Protocol, &r.Year, &r.User, &r.State, &r.StartedAt, &r.FinishedAt, &r.LastError)
	if err != nil {
		return nil, errors.Wrapf(err, "get run %s", runID)
	}
	return r, nil
}

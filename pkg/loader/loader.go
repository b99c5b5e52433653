// Package loader appends frames to the target SQLite database one committed
// row at a time, and carries the schema helpers the transforms need.
package loader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/hazyhaar/fieldetl/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// Open opens the database at path with WAL, a busy timeout and foreign keys.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s", path)
	}
	return db, nil
}

// OpenFunc acquires a connection for a single loader call.
type OpenFunc func() (*sql.DB, error)

// Loader appends frames to one database. Every call acquires its own
// connection and closes it before returning.
type Loader struct {
	open    OpenFunc
	log     *zap.Logger
	metrics *metrics.Recorder
}

// New returns a loader for the database file at path.
func New(path string, log *zap.Logger, rec *metrics.Recorder) *Loader {
	return NewWithOpener(func() (*sql.DB, error) { return Open(path) }, log, rec)
}

// NewWithOpener returns a loader that acquires connections from open.
func NewWithOpener(open OpenFunc, log *zap.Logger, rec *metrics.Recorder) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{open: open, log: log, metrics: rec}
}

// With runs fn with a connection scoped to the call.
func (l *Loader) With(fn func(db *sql.DB) error) error {
	db, err := l.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

// Append inserts every row of f into table with insertSQL, which must carry
// one placeholder per frame column in column order. Each row is committed
// before the next is bound. The returned ids are the rowids assigned to each
// row, in frame order.
func (l *Loader) Append(ctx context.Context, f *frame.Frame, table, insertSQL string) ([]int64, error) {
	return l.append(ctx, f, table, insertSQL, nil)
}

// AppendTyped is Append with numeric-typed empty cells bound as NULL.
func (l *Loader) AppendTyped(ctx context.Context, f *frame.Frame, table, insertSQL string, spec frame.TypeSpec) ([]int64, error) {
	numeric := make(map[string]bool)
	for _, c := range f.Columns() {
		if k, ok := spec.KindOf(c); ok && (k == frame.KindInt || k == frame.KindFloat) {
			numeric[c] = true
		}
	}
	return l.append(ctx, f, table, insertSQL, numeric)
}

func (l *Loader) append(ctx context.Context, f *frame.Frame, table, insertSQL string, numeric map[string]bool) ([]int64, error) {
	cols := f.Columns()
	ids := make([]int64, 0, f.Len())
	err := l.With(func(db *sql.DB) error {
		for i := 0; i < f.Len(); i++ {
			args := make([]any, len(cols))
			for j, c := range cols {
				args[j] = bindValue(f.Value(i, c), numeric[c])
			}
			id, err := insertRow(ctx, db, insertSQL, args)
			if err != nil {
				return errors.Wrapf(err, "insert %s row %d %s", table, i, formatTuple(args))
			}
			ids = append(ids, id)
			l.log.Info("inserted", zap.String("table", table), zap.String("values", formatTuple(args)))
		}
		return nil
	})
	l.metrics.RowsInserted(table, len(ids))
	l.log.Info(fmt.Sprintf("Record Count Verification: Expected=%d, Inserted=%d", f.Len(), len(ids)),
		zap.String("table", table))
	return ids, err
}

func insertRow(ctx context.Context, db *sql.DB, stmt string, args []any) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin")
	}
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	// Tables without a rowid report no id; the row is still committed.
	id, _ := res.LastInsertId()
	return id, nil
}

func bindValue(v any, numeric bool) any {
	if frame.IsAbsent(v) {
		return nil
	}
	if s, ok := v.(string); ok && numeric && strings.TrimSpace(s) == "" {
		return nil
	}
	return v
}

func formatTuple(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == nil {
			parts[i] = "None"
			continue
		}
		parts[i] = frame.Format(a)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// QuoteIdent quotes a table or column name.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// InsertSQL builds an insert into table with one placeholder per column.
func InsertSQL(table string, cols []string) string {
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

// AppendFrame inserts f into table using every frame column.
func (l *Loader) AppendFrame(ctx context.Context, f *frame.Frame, table string) ([]int64, error) {
	return l.Append(ctx, f, table, InsertSQL(table, f.Columns()))
}

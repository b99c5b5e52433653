package loader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/pkg/errors"
)

// Exec runs one ad-hoc statement.
func Exec(ctx context.Context, db *sql.DB, stmt string, args ...any) error {
	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrapf(err, "exec %s", firstLine(stmt))
	}
	return nil
}

// TableExists reports whether a table named name exists.
func TableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	return masterHas(ctx, db, "table", name)
}

// QueryExists reports whether a saved query (view) named name exists.
func QueryExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	return masterHas(ctx, db, "view", name)
}

func masterHas(ctx context.Context, db *sql.DB, kind, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, kind, name).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "lookup %s %s", kind, name)
	}
	return n > 0, nil
}

// CreateQuery saves selectSQL as a view named name.
func CreateQuery(ctx context.Context, db *sql.DB, name, selectSQL string) error {
	return Exec(ctx, db, fmt.Sprintf("CREATE VIEW %s AS %s", QuoteIdent(name), selectSQL))
}

// DeleteQuery drops the view named name if present.
func DeleteQuery(ctx context.Context, db *sql.DB, name string) error {
	return Exec(ctx, db, "DROP VIEW IF EXISTS "+QuoteIdent(name))
}

// SQLType maps a cell to the declared column type used for temp tables.
func SQLType(v any) string {
	switch v.(type) {
	case int64, int:
		return "INTEGER"
	case float64:
		return "DOUBLE"
	case time.Time:
		return "DATETIME"
	case bool:
		return "YESNO"
	}
	return "TEXT"
}

// CreateTableFromFrame replaces table name with the columns and rows of f.
// Column types follow the first present cell of each column.
func CreateTableFromFrame(ctx context.Context, db *sql.DB, f *frame.Frame, name string) error {
	cols := f.Columns()
	defs := make([]string, len(cols))
	for j, c := range cols {
		typ := "TEXT"
		for i := 0; i < f.Len(); i++ {
			if v := f.Value(i, c); !frame.IsAbsent(v) {
				typ = SQLType(v)
				break
			}
		}
		defs[j] = QuoteIdent(c) + " " + typ
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(name)); err != nil {
		return errors.Wrapf(err, "drop %s", name)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(name), strings.Join(defs, ", "))); err != nil {
		return errors.Wrapf(err, "create %s", name)
	}
	stmt := InsertSQL(name, cols)
	for i := 0; i < f.Len(); i++ {
		args := make([]any, len(cols))
		for j, c := range cols {
			args[j] = bindValue(f.Value(i, c), false)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return errors.Wrapf(err, "insert %s row %d", name, i)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// BuildUpdateSQL returns an UPDATE that sets every column of f except
// joinField on target from the same-named column of source, matching rows
// on joinField.
func BuildUpdateSQL(f *frame.Frame, target, source, joinField string) string {
	var sets []string
	for _, c := range f.Columns() {
		if c == joinField {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s.%s", QuoteIdent(c), QuoteIdent(source), QuoteIdent(c)))
	}
	return fmt.Sprintf("UPDATE %s SET %s FROM %s WHERE %s.%s = %s.%s",
		QuoteIdent(target), strings.Join(sets, ", "), QuoteIdent(source),
		QuoteIdent(target), QuoteIdent(joinField), QuoteIdent(source), QuoteIdent(joinField))
}

// ReadTable runs query and returns the result as a frame. Blob cells are
// returned as text.
func ReadTable(ctx context.Context, db *sql.DB, query string, args ...any) (*frame.Frame, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", firstLine(query))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "columns")
	}
	var out [][]any
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "scan")
		}
		for i, c := range cells {
			if b, ok := c.([]byte); ok {
				cells[i] = string(b)
			}
		}
		out = append(out, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows")
	}
	return frame.New(cols, out), nil
}

// ReadTable reads query through a connection scoped to the call.
func (l *Loader) ReadTable(ctx context.Context, query string, args ...any) (*frame.Frame, error) {
	var f *frame.Frame
	err := l.With(func(db *sql.DB) error {
		var err error
		f, err = ReadTable(ctx, db, query, args...)
		return err
	})
	return f, err
}

// Exec runs stmt through a connection scoped to the call.
func (l *Loader) Exec(ctx context.Context, stmt string, args ...any) error {
	return l.With(func(db *sql.DB) error { return Exec(ctx, db, stmt, args...) })
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

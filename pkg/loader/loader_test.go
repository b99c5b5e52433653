package loader

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func tempDB(t *testing.T, ddl string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(ddl)
	require.NoError(t, err)
	return path
}

func TestAppend_ReturnsSurrogatesAndVerifies(t *testing.T) {
	path := tempDB(t, `CREATE TABLE tbl_Event (
		EventID INTEGER PRIMARY KEY AUTOINCREMENT,
		GlobalID TEXT NOT NULL,
		"Start Time" TEXT,
		Count INTEGER)`)
	core, logs := observer.New(zap.InfoLevel)
	l := New(path, zap.New(core), nil)

	f := frame.New([]string{"GlobalID", "Start Time", "Count"}, [][]any{
		{"g1", frame.TimeOfDay(8 * time.Hour), int64(2)},
		{"g2", nil, nil},
	})
	ids, err := l.AppendFrame(context.Background(), f, "tbl_Event")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	got, err := l.ReadTable(context.Background(), `SELECT GlobalID, "Start Time", Count FROM tbl_Event ORDER BY EventID`)
	require.NoError(t, err)
	assert.Equal(t, []any{"08:00:00", nil}, got.Column("Start Time"))
	assert.Equal(t, []any{int64(2), nil}, got.Column("Count"))

	assert.Equal(t, 1, logs.FilterMessage("Record Count Verification: Expected=2, Inserted=2").Len())
	assert.Equal(t, 2, logs.FilterMessage("inserted").Len())
	assert.Equal(t, "(g1, 08:00:00, 2)", logs.FilterMessage("inserted").All()[0].ContextMap()["values"])
}

func TestAppendTyped_EmptyNumericIsNull(t *testing.T) {
	path := tempDB(t, `CREATE TABLE t (Name TEXT, Weight DOUBLE)`)
	l := New(path, nil, nil)
	f := frame.New([]string{"Name", "Weight"}, [][]any{{" ", " "}})
	spec := frame.TypeSpec{Field: []string{"Name", "Weight"}, Type: []string{"Text", "Float"}}

	_, err := l.AppendTyped(context.Background(), f, "t", InsertSQL("t", f.Columns()), spec)
	require.NoError(t, err)

	got, err := l.ReadTable(context.Background(), `SELECT Name, Weight FROM t`)
	require.NoError(t, err)
	assert.Equal(t, " ", got.Value(0, "Name"))
	assert.Nil(t, got.Value(0, "Weight"))
}

func TestAppend_CommitsEachRowBeforeFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	core, logs := observer.New(zap.InfoLevel)
	l := NewWithOpener(func() (*sql.DB, error) { return db, nil }, zap.New(core), nil)

	stmt := InsertSQL("tbl_Count", []string{"EventID", "Enumeration"})
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(stmt)).WithArgs(int64(1), 3.0).WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(stmt)).WithArgs(int64(1), nil).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()
	mock.ExpectClose()

	f := frame.New([]string{"EventID", "Enumeration"}, [][]any{
		{int64(1), 3.0},
		{int64(1), nil},
		{int64(2), 5.0},
	})
	ids, err := l.Append(context.Background(), f, "tbl_Count", stmt)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tbl_Count row 1")
	assert.Equal(t, []int64{10}, ids)
	assert.Equal(t, 1, logs.FilterMessage("Record Count Verification: Expected=3, Inserted=1").Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSQL_QuotesIdentifiers(t *testing.T) {
	got := InsertSQL("tbl_Event", []string{"GlobalID", "Start Time"})
	assert.Equal(t, `INSERT INTO "tbl_Event" ("GlobalID", "Start Time") VALUES (?, ?)`, got)
}

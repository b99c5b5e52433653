package qc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/fieldetl/pkg/etl"
	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/hazyhaar/fieldetl/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 7, 9, 10, 0, 0, 0, time.UTC)

const weightNote = "Updated - Weight during initial ETL QC Validation - 2024-07-09"

func testEnv(t *testing.T) *etl.Env {
	t.Helper()
	dir := t.TempDir()
	env := etl.NewEnv(etl.Config{Protocol: "salmonids", BackendDB: filepath.Join(dir, "b.db"), OutputDir: dir},
		nil, nil, metrics.New("salmonids"))
	env.Now = func() time.Time { return day }
	return env
}

var categories = []LengthCategory{
	{Low: 0, High: 49.99, ID: "L1"},
	{Low: 50, High: 75, ID: "L2"},
	{Low: 75.01, High: 999, ID: "L3"},
}

func TestLengthCategory_UpperBoundInclusive(t *testing.T) {
	tests := []struct {
		name    string
		stored  any
		flagged bool
	}{
		{"wrong category", "L3", true},
		{"absent category", nil, true},
		{"already correct", "L2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := frame.New([]string{"ForkLength", "LengthCategoryID", "QCFlag", "QCNotes"}, [][]any{
				{75.0, tt.stored, nil, nil},
			})
			got, changed, err := Validate(testEnv(t), f, []string{"LengthCategoryID"}, Input{LengthCategories: categories})
			require.NoError(t, err)

			assert.Equal(t, tt.flagged, changed)
			assert.Equal(t, "L2", got.Value(0, "LengthCategoryID"))
			if tt.flagged {
				assert.Equal(t, Token, got.Value(0, "QCFlag"))
				assert.Equal(t, "Updated - Length Category during initial ETL QC Validation - 2024-07-09", got.Value(0, "QCNotes"))
			} else {
				assert.Nil(t, got.Value(0, "QCFlag"))
			}
		})
	}
}

func TestLengthCategory_NoIntervalIsAbsent(t *testing.T) {
	f := frame.New([]string{"ForkLength", "LengthCategoryID"}, [][]any{
		{1200.0, "L3"},
		{nil, nil},
	})
	got, changed, err := Validate(testEnv(t), f, []string{"LengthCategoryID"}, Input{LengthCategories: categories})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{nil, nil}, got.Column("LengthCategoryID"))
	assert.Equal(t, []any{Token, nil}, got.Column("QCFlag"))
}

func TestLengthCategory_NeedsLookup(t *testing.T) {
	f := frame.New([]string{"ForkLength", "LengthCategoryID"}, [][]any{{10.0, nil}})
	_, _, err := Validate(testEnv(t), f, []string{"LengthCategoryID"}, Input{})
	assert.Equal(t, etl.UnresolvedLookup, etl.ClassOf(err))
}

func TestWeight_CorrectionAtTolerance(t *testing.T) {
	f := frame.New([]string{"TotalWeight", "BagWeight", "Weight", "QCFlag", "QCNotes"}, [][]any{
		{12.345, 10.000, 2.344, "LEN", "checked in field"},
	})
	env := testEnv(t)
	got, changed, err := Validate(env, f, []string{"Weight"}, Input{})
	require.NoError(t, err)

	assert.True(t, changed)
	assert.InDelta(t, 2.345, got.Value(0, "Weight"), 1e-9)
	assert.Equal(t, "LEN;CFCETL", got.Value(0, "QCFlag"))
	assert.Equal(t, "checked in field | "+weightNote, got.Value(0, "QCNotes"))

	// The input frame is untouched.
	assert.Equal(t, 2.344, f.Value(0, "Weight"))
}

func TestWeight_BelowToleranceUnchanged(t *testing.T) {
	f := frame.New([]string{"TotalWeight", "BagWeight", "Weight"}, [][]any{
		{12.345, 10.000, 2.3441},
		{"5.5", "1.5", nil},
	})
	got, changed, err := Validate(testEnv(t), f, []string{"Weight"}, Input{})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []any{2.3441, nil}, got.Column("Weight"))
	assert.False(t, got.Has("QCFlag"))
}

func TestValidate_BothFields(t *testing.T) {
	f := frame.New([]string{"ForkLength", "LengthCategoryID", "TotalWeight", "BagWeight", "Weight", "QCFlag", "QCNotes"}, [][]any{
		{60.0, "L1", 3.0, 1.0, 1.0, nil, nil},
	})
	got, changed, err := Validate(testEnv(t), f, []string{"LengthCategoryID", "Weight"}, Input{LengthCategories: categories})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Token, got.Value(0, "QCFlag"))
	assert.Equal(t, "Updated - Length Category during initial ETL QC Validation - 2024-07-09 | "+weightNote,
		got.Value(0, "QCNotes"))
}

func TestValidate_UnknownField(t *testing.T) {
	f := frame.New([]string{"Weight"}, nil)
	_, _, err := Validate(testEnv(t), f, []string{"Girth"}, Input{})
	require.Error(t, err)
	assert.Equal(t, etl.UnknownOption, etl.ClassOf(err))
}

func TestAppendFlag(t *testing.T) {
	assert.Equal(t, "CFCETL", AppendFlag(nil))
	assert.Equal(t, "CFCETL", AppendFlag(" "))
	assert.Equal(t, "A;CFCETL", AppendFlag("A"))
	assert.Equal(t, "A;CFCETL", AppendFlag("A;CFCETL"))
}

func TestReadLengthCategories(t *testing.T) {
	lk := frame.New([]string{"Low", "High", "LengthCategoryID"}, [][]any{
		{"0", "49.99", int64(1)},
		{50.0, 75.0, int64(2)},
	})
	got, err := ReadLengthCategories(lk, "Low", "High", "LengthCategoryID")
	require.NoError(t, err)
	assert.Equal(t, []LengthCategory{{0, 49.99, int64(1)}, {50, 75, int64(2)}}, got)

	_, err = ReadLengthCategories(frame.New([]string{"Low", "High", "ID"}, [][]any{{"x", "1", "a"}}), "Low", "High", "ID")
	assert.Error(t, err)
}

func TestFields(t *testing.T) {
	assert.Equal(t, []string{"LengthCategoryID", "Weight"}, Fields())
}

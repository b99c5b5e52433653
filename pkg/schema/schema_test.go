package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/fieldetl/pkg/loader"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocols(t *testing.T) {
	assert.Equal(t, []string{"eseal", "salmonids", "snpl"}, Protocols())
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	for _, p := range Protocols() {
		t.Run(p, func(t *testing.T) {
			db, err := loader.Open(filepath.Join(t.TempDir(), "backend.db"))
			require.NoError(t, err)
			defer db.Close()

			require.NoError(t, Apply(ctx, db, p))
			// Applying twice is harmless.
			require.NoError(t, Apply(ctx, db, p))

			for _, table := range []string{"tbl_Event", "tbl_EventObserver", "tlu_Contacts", "etl_runs"} {
				ok, err := loader.TableExists(ctx, db, table)
				require.NoError(t, err)
				assert.True(t, ok, table)
			}
		})
	}
}

func TestApply_SeedsMatureCodes(t *testing.T) {
	ctx := context.Background()
	db, err := loader.Open(filepath.Join(t.TempDir(), "backend.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Apply(ctx, db, "eseal"))
	require.NoError(t, Apply(ctx, db, "eseal"))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tlu_ESealMatureCode`).Scan(&n))
	assert.Equal(t, len(MatureCodes), n)
}

func TestApply_SavedQueries(t *testing.T) {
	ctx := context.Background()
	db, err := loader.Open(filepath.Join(t.TempDir(), "backend.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Apply(ctx, db, "snpl"))
	require.NoError(t, Apply(ctx, db, "snpl"))

	for _, q := range Queries("snpl") {
		ok, err := loader.QueryExists(ctx, db, q.Name)
		require.NoError(t, err)
		assert.True(t, ok, q.Name)
	}

	_, err = db.Exec(`INSERT INTO tbl_Locations (LocationCode) VALUES ('OSB');
INSERT INTO tbl_NestMaster (NestID, LocationID, NestFate) VALUES ('N1', 1, 'Hatched');`)
	require.NoError(t, err)
	f, err := loader.ReadTable(ctx, db, `SELECT NestID, NestFate, LocationCode FROM qry_NestFates`)
	require.NoError(t, err)
	require.Equal(t, 1, f.Len())
	assert.Equal(t, []any{"N1", "Hatched", "OSB"}, f.Values(0))
}

func TestQueries_CommonFirst(t *testing.T) {
	names := func(qs []Query) []string {
		var out []string
		for _, q := range qs {
			out = append(out, q.Name)
		}
		return out
	}
	assert.Equal(t, []string{"qry_EventObservers"}, names(Queries("eseal")))
	assert.Equal(t, []string{"qry_EventObservers", "qry_NestFates"}, names(Queries("snpl")))
}

func TestApply_UnknownProtocol(t *testing.T) {
	db, err := loader.Open(filepath.Join(t.TempDir(), "backend.db"))
	require.NoError(t, err)
	defer db.Close()
	err = Apply(context.Background(), db, "marbled-murrelet")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestRunLedger(t *testing.T) {
	ctx := context.Background()
	db, err := loader.Open(filepath.Join(t.TempDir(), "backend.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Apply(ctx, db, "snpl"))

	require.NoError(t, BeginRun(ctx, db, RunRecord{RunID: "r1", Protocol: "snpl", Year: 2024, User: "etl", State: "NEW"}))
	r, err := GetRun(ctx, db, "r1")
	require.NoError(t, err)
	assert.Equal(t, "NEW", r.State)
	assert.Nil(t, r.FinishedAt)

	require.NoError(t, FinishRun(ctx, db, "r1", "FAILED", errors.New("boom")))
	r, err = GetRun(ctx, db, "r1")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", r.State)
	require.NotNil(t, r.LastError)
	assert.Equal(t, "boom", *r.LastError)
	assert.NotNil(t, r.FinishedAt)
}

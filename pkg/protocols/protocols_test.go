package protocols

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/fieldetl/pkg/bundle"
	"github.com/hazyhaar/fieldetl/pkg/etl"
	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/hazyhaar/fieldetl/pkg/loader"
	"github.com/hazyhaar/fieldetl/pkg/publish"
	"github.com/hazyhaar/fieldetl/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

const seedCommon = `
INSERT INTO tlu_Contacts (ContactCode, FirstName, LastName) VALUES ('107', 'Ann', 'Lee'), (NULL, 'Jane', 'Smith');
INSERT INTO tbl_Locations (LocationCode, LocationName) VALUES
	('PR', 'Point Reyes'), ('NBN', 'North Beach North'), ('DPB', 'Drakes Bay'), ('SS1', 'Sub-site 1'),
	('CRK1', 'Olema Creek'), ('OSB', 'Ocean Beach'), ('OSB1', 'Ocean Beach 1');`

type harness struct {
	env  *etl.Env
	dir  string
	logs *observer.ObservedLogs
}

func newHarness(t *testing.T, protocol, seed string) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "backend.db")
	db, err := loader.Open(path)
	require.NoError(t, err)
	require.NoError(t, schema.Apply(ctx, db, protocol))
	_, err = db.Exec(seedCommon + seed)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return &harness{dir: dir}
}

// env returns a fresh run environment, as a new process would build.
func (h *harness) newEnv(protocol string) *etl.Env {
	core, logs := observer.New(zap.InfoLevel)
	h.logs = logs
	env := etl.NewEnv(etl.Config{
		Protocol:  protocol,
		BackendDB: filepath.Join(h.dir, "backend.db"),
		Year:      2024,
		User:      "etl_user",
		OutputDir: h.dir,
	}, zap.New(core), nil, nil)
	env.Now = func() time.Time { return testNow }
	h.env = env
	return env
}

func (h *harness) query(t *testing.T, q string) *frame.Frame {
	t.Helper()
	f, err := h.env.Loader.ReadTable(context.Background(), q)
	require.NoError(t, err)
	return f
}

func (h *harness) count(t *testing.T, table string) int64 {
	t.Helper()
	return h.query(t, "SELECT COUNT(*) AS n FROM "+table).Value(0, "n").(int64)
}

func (h *harness) runState(t *testing.T) string {
	t.Helper()
	return h.query(t, "SELECT state FROM etl_runs WHERE run_id = '"+h.env.RunID+"'").Value(0, "state").(string)
}

func TestRegistry(t *testing.T) {
	var ids []ID
	for _, p := range All() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, Known, ids)

	for _, p := range All() {
		t.Run(string(p.ID()), func(t *testing.T) {
			steps := p.Steps()
			require.NotEmpty(t, steps)
			assert.Equal(t, etl.Parent, steps[0].Kind)
			for _, s := range steps[1:] {
				assert.Equal(t, etl.Child, s.Kind, s.Name)
			}
			specs, err := TypeSpecs(p.ID())
			require.NoError(t, err)
			for form := range specs {
				assert.Contains(t, p.Forms(), form)
			}
			assert.Contains(t, schema.Protocols(), string(p.ID()))
		})
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get("marbled-murrelet")
	require.Error(t, err)
	assert.Equal(t, etl.UnknownOption, etl.ClassOf(err))
}

func TestDispatch_UnknownProtocolWarns(t *testing.T) {
	h := newHarness(t, "snpl", "")
	env := h.newEnv("murrelet")
	err := Dispatch(context.Background(), env, bundle.New(nil), nil)
	assert.Equal(t, etl.UnknownOption, etl.ClassOf(err))
	assert.Equal(t, 1, h.logs.FilterMessage("unknown protocol").Len())
}

func TestDispatch_MissingFormFailsRun(t *testing.T) {
	h := newHarness(t, "eseal", "")
	env := h.newEnv("eseal")
	err := Dispatch(context.Background(), env, bundle.New(nil), nil)
	assert.Equal(t, etl.BundleRead, etl.ClassOf(err))
	assert.Equal(t, "FAILED", h.runState(t))
}

// Elephant seal.

const seedESeal = `
INSERT INTO tlu_Season (SeasonCode, StartDate, EndDate) VALUES ('2024', '2023-12-01 00:00:00', '2024-04-30 00:00:00');`

func esealBundle(surveyDate string) *bundle.Bundle {
	return bundle.New(map[string]*frame.Frame{
		"ElephantSeal_0": frame.New(
			[]string{"GlobalID", "Site", "SurveyDate", "StartTime", "EndTime", "SurveyType", "Visibility",
				"Observers", "ObserversOther", "SubSitesNotSurveyed", "Comments", "CreationDate", "Creator"},
			[][]any{{"g1", "PR", surveyDate, "08:30", "10:00", "Ground", "Good",
				"107, 389", "Jane_Smith", "NBN, DPB", nil, "1/15/2024 11:00", "ann"}}),
		"countsrepeats_1": frame.New(
			[]string{"ParentGlobalID", "SubSite", "ObservationTime", "Bull", "SAM4", "SAM3", "SAM2", "SAM1", "Cow",
				"Yearling", "Weaner", "Pup", "DeadPup", "Other", "DefineOther", "SpecifyOther", "RedFur", "SharkBite", "CreationDate"},
			[][]any{
				{"g1", "SS1", "09:00", "2", nil, nil, nil, nil, "5", nil, nil, "3", nil, "1", "Weaner", nil, "1", "0", "1/15/2024 11:00"},
				{"g1", "SS1", "09:30", "1", nil, nil, nil, nil, nil, nil, nil, nil, nil, "2", "other", "Harbor seal", nil, nil, "1/15/2024 11:00"},
			}),
	})
}

func TestESeal_EndToEnd(t *testing.T) {
	h := newHarness(t, "eseal", seedESeal)
	env := h.newEnv("eseal")
	require.NoError(t, Dispatch(context.Background(), env, esealBundle("1/15/2024"), nil))

	ev := h.query(t, "SELECT EventID, ProtocolName, LocationID, ProcessingLevelUser FROM tbl_Event")
	require.Equal(t, 1, ev.Len())
	assert.Equal(t, "eseal", ev.Value(0, "ProtocolName"))
	assert.Equal(t, int64(1), ev.Value(0, "LocationID"))
	assert.Equal(t, "etl_user", ev.Value(0, "ProcessingLevelUser"))

	obs := h.query(t, "SELECT ContactID FROM tbl_EventObserver ORDER BY EventObserverID")
	assert.Equal(t, []any{int64(1), int64(2)}, obs.Column("ContactID"))

	sub := h.query(t, "SELECT LocationID FROM tbl_SubSiteNotSurveyed ORDER BY SubSiteNotSurveyedID")
	assert.Equal(t, []any{int64(2), int64(3)}, sub.Column("LocationID"))

	survey := h.query(t, "SELECT SeasonID, SurveyType FROM tbl_ESealSurvey")
	assert.Equal(t, int64(1), survey.Value(0, "SeasonID"))
	assert.Equal(t, "Ground", survey.Value(0, "SurveyType"))

	counts := h.query(t, "SELECT MatureCode, Enumeration, QCNotes, LocationID FROM tbl_ESealCount ORDER BY ESealCountID")
	assert.Equal(t, []any{"Bull", "Bull", "Cow", "Pup", "Weaner", "ND"}, counts.Column("MatureCode"))
	assert.Equal(t, []any{int64(2), int64(1), int64(5), int64(3), int64(1), int64(2)}, counts.Column("Enumeration"))
	assert.Equal(t, []any{nil, nil, nil, nil, nil, "Taxon Not Defined: Harbor seal"}, counts.Column("QCNotes"))
	assert.Equal(t, int64(4), counts.Value(0, "LocationID"))

	flags := h.query(t, "SELECT RedFur, SharkBite, ObservationTime FROM tbl_ESealRedFurSharkBite")
	require.Equal(t, 1, flags.Len())
	assert.Equal(t, int64(1), flags.Value(0, "RedFur"))
	assert.Equal(t, "09:00:00", flags.Value(0, "ObservationTime"))

	assert.Equal(t, "DONE", h.runState(t))
	assert.Equal(t, 1, h.logs.FilterMessage("run finished").Len())
}

func TestESeal_SeasonNotDefined(t *testing.T) {
	h := newHarness(t, "eseal", seedESeal)
	env := h.newEnv("eseal")
	err := Dispatch(context.Background(), env, esealBundle("7/15/2024"), nil)
	require.Error(t, err)
	assert.Equal(t, etl.UnresolvedLookup, etl.ClassOf(err))

	_, statErr := os.Stat(filepath.Join(h.dir, SideFileSeason))
	assert.NoError(t, statErr)
	// Earlier commits stay.
	assert.Equal(t, int64(1), h.count(t, "tbl_Event"))
	assert.Equal(t, int64(0), h.count(t, "tbl_ESealSurvey"))
	assert.Equal(t, int64(0), h.count(t, "tbl_ESealCount"))
	assert.Equal(t, "FAILED", h.runState(t))
}

func TestESeal_SubSiteNotDefined(t *testing.T) {
	h := newHarness(t, "eseal", seedESeal)
	b := esealBundle("1/15/2024")
	survey, _ := b.Get("ElephantSeal_0")
	b = bundle.New(map[string]*frame.Frame{
		"ElephantSeal_0":  survey.WithConst("SubSitesNotSurveyed", "NBN, DPB, UNKP"),
		"countsrepeats_1": frame.New([]string{"ParentGlobalID"}, nil),
	})
	err := Dispatch(context.Background(), h.newEnv("eseal"), b, nil)
	require.Error(t, err)
	assert.Equal(t, etl.UnresolvedLookup, etl.ClassOf(err))

	data, readErr := os.ReadFile(filepath.Join(h.dir, SideFileSubSite))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "UNKP")
	assert.Equal(t, int64(0), h.count(t, "tbl_SubSiteNotSurveyed"))
}

// Salmonids.

const seedSalmonids = `
INSERT INTO tlu_Species (SpeciesCode, CommonName) VALUES ('COHO', 'Coho salmon'), ('STHD', 'Steelhead');
INSERT INTO tlu_LengthCategory (LengthCategoryCode, Low, High) VALUES ('S', 0, 75), ('M', 75.1, 150), ('L', 150.1, 999);`

func salmonidBundle(fish [][]any) *bundle.Bundle {
	return bundle.New(map[string]*frame.Frame{
		"SalmonidSurvey_0": frame.New(
			[]string{"GlobalID", "Stream", "SurveyDate", "EndDate", "StartTime", "EndTime", "WaterTemp", "Conductivity",
				"Visibility", "Observers", "ObserversOther", "Comments", "CreationDate", "Creator"},
			[][]any{{"g1", "CRK1", "7/9/2024", "7/10/2024", "08:00", "12:00", "13.5", "210", "Clear", "107", nil, nil, "7/9/2024 12:30", "ann"}}),
		"EFishPass_1": frame.New(
			[]string{"GlobalID", "ParentGlobalID", "PassNumber", "StartTime", "EndTime", "Seconds", "Voltage"},
			[][]any{{"p1", "g1", "1", "09:00", "09:20", "1200", "300"}}),
		"EFishFish_2": frame.New(
			[]string{"ParentGlobalID", "Species", "ForkLength", "TotalWeight", "BagWeight", "Weight", "Count",
				"Mortality", "QCFlag", "QCNotes", "LengthCategory"},
			fish),
	})
}

func TestSalmonids_EndToEnd(t *testing.T) {
	h := newHarness(t, "salmonids", seedSalmonids)
	env := h.newEnv("salmonids")
	b := salmonidBundle([][]any{
		{"p1", "COHO", "75", "12.345", "10", "2.344", nil, "No", "LEN", nil, nil},
		{"p1", "STHD", "120", nil, nil, "5", nil, "Yes", nil, nil, nil},
		{"p1", "COHO", nil, nil, nil, nil, "14", "No", nil, nil, "S"},
	})
	require.NoError(t, Dispatch(context.Background(), env, b, nil))

	assert.Equal(t, int64(1), h.count(t, "tbl_EFishSurvey"))
	ev := h.query(t, "SELECT StartDate, EndDate FROM tbl_Event")
	start, ok := asTime(ev.Value(0, "StartDate"))
	require.True(t, ok)
	end, ok := asTime(ev.Value(0, "EndDate"))
	require.True(t, ok)
	assert.Equal(t, "2024-07-09", start.Format("2006-01-02"))
	assert.Equal(t, "2024-07-10", end.Format("2006-01-02"))
	pass := h.query(t, "SELECT PassID, PassNumber FROM tbl_EFishPass")
	assert.Equal(t, int64(1), pass.Value(0, "PassNumber"))

	m := h.query(t, "SELECT SpeciesID, LengthCategoryID, Weight, QCFlag, QCNotes FROM tbl_FishMeasurement ORDER BY FishMeasurementID")
	require.Equal(t, 2, m.Len())
	assert.Equal(t, []any{int64(1), int64(2)}, m.Column("SpeciesID"))
	assert.Equal(t, []any{int64(1), int64(2)}, m.Column("LengthCategoryID"))
	assert.InDelta(t, 2.345, m.Value(0, "Weight").(float64), 1e-9)
	assert.InDelta(t, 5.0, m.Value(1, "Weight").(float64), 1e-9)
	assert.Equal(t, "LEN;CFCETL", m.Value(0, "QCFlag"))
	assert.Equal(t, "Updated - Length Category during initial ETL QC Validation - 2024-06-03"+
		" | Updated - Weight during initial ETL QC Validation - 2024-06-03", m.Value(0, "QCNotes"))
	assert.Equal(t, "CFCETL", m.Value(1, "QCFlag"))

	c := h.query(t, "SELECT SpeciesID, LengthCategoryID, Enumeration FROM tbl_FishCount")
	require.Equal(t, 1, c.Len())
	assert.Equal(t, int64(14), c.Value(0, "Enumeration"))
	assert.Equal(t, int64(1), c.Value(0, "LengthCategoryID"))

	assert.Equal(t, "DONE", h.runState(t))
}

func TestSalmonids_RecordedCategoryKept(t *testing.T) {
	h := newHarness(t, "salmonids", seedSalmonids)
	b := salmonidBundle([][]any{
		{"p1", "COHO", "75", nil, nil, "2", nil, "No", nil, nil, "S"},
		{"p1", "COHO", "80", nil, nil, "3", nil, "No", nil, nil, "S"},
	})
	require.NoError(t, Dispatch(context.Background(), h.newEnv("salmonids"), b, nil))

	m := h.query(t, "SELECT LengthCategoryID, QCFlag, QCNotes FROM tbl_FishMeasurement ORDER BY FishMeasurementID")
	require.Equal(t, 2, m.Len())
	assert.Equal(t, []any{int64(1), int64(2)}, m.Column("LengthCategoryID"))
	assert.Nil(t, m.Value(0, "QCFlag"))
	assert.Nil(t, m.Value(0, "QCNotes"))
	assert.Equal(t, "CFCETL", m.Value(1, "QCFlag"))
	assert.Equal(t, "Updated - Length Category during initial ETL QC Validation - 2024-06-03", m.Value(1, "QCNotes"))
}

func TestSalmonids_UnknownLengthCategory(t *testing.T) {
	h := newHarness(t, "salmonids", seedSalmonids)
	b := salmonidBundle([][]any{{"p1", "COHO", "75", nil, nil, "2", nil, "No", nil, nil, "XL"}})
	err := Dispatch(context.Background(), h.newEnv("salmonids"), b, nil)
	assert.Equal(t, etl.UnresolvedLookup, etl.ClassOf(err))
	_, statErr := os.Stat(filepath.Join(h.dir, SideFileLengthCategory))
	assert.NoError(t, statErr)
	assert.Equal(t, int64(0), h.count(t, "tbl_FishMeasurement"))
}

func TestStateLoad_BlankNumericIsNull(t *testing.T) {
	h := newHarness(t, "salmonids", seedSalmonids)
	env := h.newEnv("salmonids")
	st, err := NewState(env, salmonids{}, bundle.New(nil), nil)
	require.NoError(t, err)
	ctx := context.Background()

	ids, err := st.load(ctx, frame.New([]string{"GlobalID", "ProtocolName"}, [][]any{{"g1", "salmonids"}}), "tbl_Event")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	_, err = st.load(ctx, frame.New([]string{"EventID", "PassNumber", "Seconds", "Voltage", "StartTime"},
		[][]any{{ids[0], int64(1), " ", math.NaN(), ""}}), "tbl_EFishPass")
	require.NoError(t, err)

	p := h.query(t, "SELECT Seconds, Voltage, StartTime, ProcessingLevelUser FROM tbl_EFishPass")
	require.Equal(t, 1, p.Len())
	assert.Nil(t, p.Value(0, "Seconds"))
	assert.Nil(t, p.Value(0, "Voltage"))
	assert.Equal(t, "", p.Value(0, "StartTime"))
	assert.Equal(t, "etl_user", p.Value(0, "ProcessingLevelUser"))
}

func TestDispatch_WithoutLedgerTable(t *testing.T) {
	h := newHarness(t, "salmonids", seedSalmonids+"\nDROP TABLE etl_runs;")
	b := salmonidBundle([][]any{{"p1", "COHO", "75", nil, nil, "2", nil, "No", nil, nil, "S"}})
	require.NoError(t, Dispatch(context.Background(), h.newEnv("salmonids"), b, nil))

	assert.Equal(t, int64(1), h.count(t, "tbl_FishMeasurement"))
	assert.Equal(t, 1, h.logs.FilterMessage("run ledger absent, run not recorded").Len())
	assert.Equal(t, 0, h.logs.FilterMessage("run ledger not updated").Len())
}

func TestSalmonids_PartitionMismatch(t *testing.T) {
	h := newHarness(t, "salmonids", seedSalmonids)
	b := salmonidBundle([][]any{
		{"p1", "COHO", "75", nil, nil, nil, nil, "No", nil, nil, nil},
		{"p1", "COHO", nil, nil, nil, nil, nil, "No", nil, nil, nil},
	})
	err := Dispatch(context.Background(), h.newEnv("salmonids"), b, nil)
	require.Error(t, err)
	assert.Equal(t, etl.CountMismatch, etl.ClassOf(err))
	assert.Equal(t, int64(0), h.count(t, "tbl_FishMeasurement"))
	assert.Equal(t, int64(1), h.count(t, "tbl_EFishPass"))
}

func TestSalmonids_UnknownSpecies(t *testing.T) {
	h := newHarness(t, "salmonids", seedSalmonids)
	b := salmonidBundle([][]any{{"p1", "CHNK", "80", nil, nil, nil, nil, "No", nil, nil, nil}})
	err := Dispatch(context.Background(), h.newEnv("salmonids"), b, nil)
	assert.Equal(t, etl.UnresolvedLookup, etl.ClassOf(err))
	_, statErr := os.Stat(filepath.Join(h.dir, SideFileSpecies))
	assert.NoError(t, statErr)
}

// Snowy plover.

const seedSNPL = `
INSERT INTO tlu_Behavior (BehaviorCode, Description) VALUES ('F', 'Foraging'), ('R', 'Roosting'), ('B', 'Brooding');
INSERT INTO tlu_Predator (PredatorCode, CommonName) VALUES ('CORA', 'Common raven');`

func snplBundle(adultBehavior string) *bundle.Bundle {
	return bundle.New(map[string]*frame.Frame{
		"SNPLSurvey_0": frame.New(
			[]string{"GlobalID", "Site", "SurveyDate", "StartTime", "EndTime", "Observers", "ObserversOther",
				"SubSitesNotSurveyed", "Comments", "CreationDate", "Creator"},
			[][]any{{"g1", "OSB", "5/2/2024", "07:00", "11:00", "107", nil, nil, nil, "5/2/2024 11:15", "ann"}}),
		"Observations_1": frame.New(
			[]string{"GlobalID", "ParentGlobalID", "SubSite", "ObservationTime", "Adults", "Chicks", "Fledglings",
				"Latitude", "Longitude", "Comments", "AdultBehavior", "ChickBehavior"},
			[][]any{{"o1", "g1", "OSB1", "07:10", "2", "1", "0", "36.6", "-121.9", nil, adultBehavior, "F"}}),
		"Bands_2": frame.New(
			[]string{"ParentGlobalID", "BandCode", "Sex", "AgeClass"},
			[][]any{{"o1", "AB:RW", "M", "Adult"}}),
		"Predators_3": frame.New(
			[]string{"ParentGlobalID", "Predator", "Count"},
			[][]any{{"g1", "CORA", "2"}}),
		"Nests_4": frame.New(
			[]string{"ParentGlobalID", "NestID", "SubSite", "VisitTime", "EggCount", "ChickCount", "NestStatus",
				"Verified", "InitiationDateUnk", "InitiationDate", "Latitude", "Longitude"},
			[][]any{{"g1", "N1", "OSB1", "07:30", "3", "0", "Active", "No", "Yes", "4/28/2024", "36.61", "-121.91"}}),
		"NestRepeats_5": frame.New(
			[]string{"NestID", "NestFate", "FateDate"},
			[][]any{
				{"N1", "Hatched", "5/30/2024"},
				{"N2", "Depredated", "5/20/2024"},
				{"N2", "Unknown", "5/21/2024"},
			}),
	})
}

func TestSNPL_EndToEnd(t *testing.T) {
	h := newHarness(t, "snpl", seedSNPL)
	env := h.newEnv("snpl")
	pub := &publish.FilePublisher{Dir: filepath.Join(h.dir, "published")}
	require.NoError(t, Dispatch(context.Background(), env, snplBundle("F, R"), pub))

	assert.Equal(t, int64(1), h.count(t, "tbl_SNPLObservation"))
	assert.Equal(t, int64(0), h.count(t, "tbl_SubSiteNotSurveyed"))

	beh := h.query(t, "SELECT BehaviorID, AgeClass FROM tbl_SNPLBehavior ORDER BY SNPLBehaviorID")
	assert.Equal(t, []any{int64(1), int64(2), int64(1)}, beh.Column("BehaviorID"))
	assert.Equal(t, []any{"Adult", "Adult", "Chick"}, beh.Column("AgeClass"))

	assert.Equal(t, int64(1), h.count(t, "tbl_SNPLBand"))
	pred := h.query(t, "SELECT PredatorID, Enumeration FROM tbl_SNPLPredator")
	assert.Equal(t, int64(2), pred.Value(0, "Enumeration"))

	nm := h.query(t, "SELECT NestID, FirstEventID, LocationID, NestFate FROM tbl_NestMaster")
	require.Equal(t, 1, nm.Len())
	assert.Equal(t, "N1", nm.Value(0, "NestID"))
	assert.Equal(t, int64(1), nm.Value(0, "FirstEventID"))
	assert.Equal(t, int64(7), nm.Value(0, "LocationID"))
	assert.Equal(t, "Hatched", nm.Value(0, "NestFate"))

	visits := h.query(t, "SELECT CAST(Verified AS INTEGER) AS v, CAST(InitiationDateUnk AS INTEGER) AS u, EggCount FROM tbl_NestVisit")
	require.Equal(t, 1, visits.Len())
	assert.Equal(t, int64(1), visits.Value(0, "v"))
	assert.Equal(t, int64(0), visits.Value(0, "u"))
	assert.Equal(t, int64(3), visits.Value(0, "EggCount"))

	assert.Equal(t, 1, h.logs.FilterMessage("nest repeats with several rows left unapplied").Len())

	data, err := os.ReadFile(filepath.Join(h.dir, "published", "SNPL_Nests_2024.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "N1")
	assert.Equal(t, "DONE", h.runState(t))
}

func TestSNPL_RerunKeepsOneNestMaster(t *testing.T) {
	h := newHarness(t, "snpl", seedSNPL)
	ctx := context.Background()
	require.NoError(t, Dispatch(ctx, h.newEnv("snpl"), snplBundle("F"), nil))
	require.NoError(t, Dispatch(ctx, h.newEnv("snpl"), snplBundle("F"), nil))

	assert.Equal(t, int64(2), h.count(t, "tbl_Event"))
	assert.Equal(t, int64(1), h.count(t, "tbl_NestMaster"))
	assert.Equal(t, int64(2), h.count(t, "tbl_NestVisit"))
	assert.Equal(t, int64(2), h.count(t, "etl_runs"))
}

func TestSNPL_UnknownBehavior(t *testing.T) {
	h := newHarness(t, "snpl", seedSNPL)
	err := Dispatch(context.Background(), h.newEnv("snpl"), snplBundle("F, ZZ"), nil)
	require.Error(t, err)
	assert.Equal(t, etl.UnresolvedLookup, etl.ClassOf(err))

	_, statErr := os.Stat(filepath.Join(h.dir, SideFileBehavior("AdultBehavior")))
	assert.NoError(t, statErr)
	assert.Equal(t, int64(0), h.count(t, "tbl_SNPLBehavior"))
	assert.Equal(t, int64(1), h.count(t, "tbl_SNPLObservation"))
}

func TestRunArchive_MissingArchive(t *testing.T) {
	h := newHarness(t, "snpl", seedSNPL)
	err := RunArchive(context.Background(), h.newEnv("snpl"), filepath.Join(h.dir, "missing.zip"), bundle.Options{}, nil)
	assert.Equal(t, etl.BundleRead, etl.ClassOf(err))
	assert.Equal(t, "FAILED", h.runState(t))
}

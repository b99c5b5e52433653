package protocols

import (
	"context"

	"github.com/hazyhaar/fieldetl/pkg/etl"
	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/hazyhaar/fieldetl/pkg/qc"
	"go.uber.org/zap"
)

// Side files of the salmonid module.
const (
	SideFileSpecies        = "RecordsNotDefinedSpecies.csv"
	SideFileLengthCategory = "RecordsNotDefinedLengthCategory.csv"
	SideFilePass           = "RecordsNotDefinedPass.csv"
)

const (
	salmonidSurvey = "SalmonidSurvey"
	salmonidPass   = "EFishPass"
	salmonidFish   = "EFishFish"

	mapPass = "pass"

	stashMeasured = "fish_measured"
	stashCounted  = "fish_counted"
)

type salmonids struct{}

func init() { Register(salmonids{}) }

func (salmonids) ID() ID { return Salmonids }
func (salmonids) Description() string {
	return "Electrofishing passes with fish measurements and counts"
}
func (salmonids) Forms() []string { return []string{salmonidSurvey, salmonidPass, salmonidFish} }

func (salmonids) Steps() []Step {
	return []Step{
		eventStep(survey{Form: salmonidSurvey, Site: "Stream", Date: "SurveyDate"}),
		observersStep(salmonidSurvey),
		{Name: "survey", Kind: etl.Child, Run: salmonidSurveyStep},
		{Name: "passes", Kind: etl.Child, Run: salmonidPassStep},
		{Name: "fish_partition", Kind: etl.Child, Run: salmonidPartitionStep},
		{Name: "fish_measurements", Kind: etl.Child, Run: salmonidMeasurementStep},
		{Name: "fish_counts", Kind: etl.Child, Run: salmonidCountStep},
	}
}

func salmonidSurveyStep(ctx context.Context, st *State) error {
	f, err := st.Form(salmonidSurvey)
	if err != nil {
		return err
	}
	events, err := st.Map(mapEvent)
	if err != nil {
		return err
	}
	work, err := events.Resolve(st.Env, f, "GlobalID", "EventID", SideFileEvent)
	if err != nil {
		return err
	}
	locs, err := st.locations(ctx)
	if err != nil {
		return err
	}
	if work, err = etl.ResolveLookup(st.Env, locs, work, "Stream", "StreamLocationID", SideFileLocation); err != nil {
		return err
	}
	out, err := project(work, same("EventID", "StreamLocationID", "WaterTemp", "Conductivity", "Visibility"),
		"WaterTemp", "Conductivity", "Visibility")
	if err != nil {
		return err
	}
	_, err = st.load(ctx, out, "tbl_EFishSurvey")
	return err
}

func salmonidPassStep(ctx context.Context, st *State) error {
	f, err := st.Form(salmonidPass)
	if err != nil {
		return err
	}
	events, err := st.Map(mapEvent)
	if err != nil {
		return err
	}
	work, err := events.Resolve(st.Env, f, "ParentGlobalID", "EventID", SideFileEvent)
	if err != nil {
		return err
	}
	out, err := project(work, same("EventID", "PassNumber", "StartTime", "EndTime", "Seconds", "Voltage"),
		"StartTime", "EndTime", "Seconds", "Voltage")
	if err != nil {
		return err
	}
	ids, err := st.load(ctx, out, "tbl_EFishPass")
	if err != nil {
		return err
	}
	m, err := etl.Publish("tbl_EFishPass", work, "GlobalID", ids)
	if err != nil {
		return err
	}
	st.SetMap(mapPass, m)
	return nil
}

// salmonidPartitionStep resolves the recorded length category, splits fish
// rows into measured fish (fork length recorded) and counted fish, then runs
// QC on the measured ones.
func salmonidPartitionStep(ctx context.Context, st *State) error {
	f, err := st.Form(salmonidFish)
	if err != nil {
		return err
	}
	passes, err := st.Map(mapPass)
	if err != nil {
		return err
	}
	work, err := passes.Resolve(st.Env, f, "ParentGlobalID", "PassID", SideFilePass)
	if err != nil {
		return err
	}
	species, err := st.Lookup(ctx, "tlu_Species", "SpeciesCode", "SpeciesID")
	if err != nil {
		return err
	}
	if work, err = etl.ResolveLookup(st.Env, species, work, "Species", "SpeciesID", SideFileSpecies); err != nil {
		return err
	}
	// The recorded category is what QC compares against on measured fish.
	if work.Has("LengthCategory") {
		lk, err := st.Lookup(ctx, "tlu_LengthCategory", "LengthCategoryCode", "LengthCategoryID")
		if err != nil {
			return err
		}
		if work, err = etl.ResolveLookup(st.Env, lk, work, "LengthCategory", "LengthCategoryID", SideFileLengthCategory); err != nil {
			return err
		}
	}
	work = withColumns(work, "ForkLength", "Count", "LengthCategoryID", "TotalWeight", "BagWeight", "Weight", "Mortality", "QCFlag", "QCNotes")
	work = mapColumn(work, "Mortality", etl.YesNo)

	measured := work.Filter(func(r frame.Row) bool { return !r.Absent("ForkLength") })
	counted := work.Filter(func(r frame.Row) bool { return r.Absent("ForkLength") && !r.Absent("Count") })
	if err := etl.AssertPartition("fish partition", work.Len(), measured.Len(), counted.Len()); err != nil {
		return err
	}

	lengths, err := st.Table(ctx, "SELECT LengthCategoryID, LengthCategoryCode, Low, High FROM tlu_LengthCategory ORDER BY LengthCategoryID")
	if err != nil {
		return err
	}
	cats, err := qc.ReadLengthCategories(lengths, "Low", "High", "LengthCategoryID")
	if err != nil {
		return etl.Fail(etl.Database, "length categories", err)
	}
	if cats == nil {
		cats = []qc.LengthCategory{}
	}
	measured, changed, err := qc.Validate(st.Env, measured, []string{"LengthCategoryID", "Weight"}, qc.Input{LengthCategories: cats})
	if err != nil {
		return err
	}
	st.Env.Log.Info("fish partitioned",
		zap.Int("measured", measured.Len()), zap.Int("counted", counted.Len()), zap.Bool("qc_changed", changed))

	st.stash[stashMeasured] = measured
	st.stash[stashCounted] = counted
	return nil
}

func salmonidMeasurementStep(ctx context.Context, st *State) error {
	measured, ok := st.stash[stashMeasured]
	if !ok {
		return etl.Failf(etl.UnresolvedLookup, "fish measurements", "fish not partitioned")
	}
	out, err := project(measured, same("PassID", "SpeciesID", "ForkLength", "LengthCategoryID",
		"TotalWeight", "BagWeight", "Weight", "Mortality", "QCFlag", "QCNotes"))
	if err != nil {
		return err
	}
	_, err = st.load(ctx, out, "tbl_FishMeasurement")
	return err
}

func salmonidCountStep(ctx context.Context, st *State) error {
	counted, ok := st.stash[stashCounted]
	if !ok {
		return etl.Failf(etl.UnresolvedLookup, "fish counts", "fish not partitioned")
	}
	out, err := project(counted, []col{
		{"PassID", "PassID"},
		{"SpeciesID", "SpeciesID"},
		{"LengthCategoryID", "LengthCategoryID"},
		{"Enumeration", "Count"},
		{"Mortality", "Mortality"},
	})
	if err != nil {
		return err
	}
	_, err = st.load(ctx, out, "tbl_FishCount")
	return err
}

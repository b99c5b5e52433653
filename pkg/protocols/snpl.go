package protocols

import (
	"context"
	"fmt"

	"github.com/hazyhaar/fieldetl/pkg/etl"
	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/hazyhaar/fieldetl/pkg/publish"
	"go.uber.org/zap"
)

// SideFilePredator receives predator rows with an unknown predator code.
const SideFilePredator = "RecordsNotDefinedPredator.csv"

// SideFileBehavior names the side file of an unresolved behavior field.
func SideFileBehavior(field string) string {
	return "RecordsNotDefinedBehavior_" + field + ".csv"
}

const (
	snplSurvey       = "SNPLSurvey"
	snplObservations = "Observations"
	snplBands        = "Bands"
	snplPredators    = "Predators"
	snplNests        = "Nests"
	snplNestRepeats  = "NestRepeats"

	mapObservation = "observation"
	mapNest        = "nest"

	stashNests = "nests"
)

// behaviorFields maps each behavior multi-select to the age class it describes.
var behaviorFields = []struct{ Field, AgeClass string }{
	{"AdultBehavior", "Adult"},
	{"ChickBehavior", "Chick"},
}

type snpl struct{}

func init() { Register(snpl{}) }

func (snpl) ID() ID              { return SNPL }
func (snpl) Description() string { return "Snowy plover observations, bands, predators and nests" }
func (snpl) Forms() []string {
	return []string{snplSurvey, snplObservations, snplBands, snplPredators, snplNests, snplNestRepeats}
}

func (snpl) Steps() []Step {
	return []Step{
		eventStep(survey{Form: snplSurvey, Site: "Site", Date: "SurveyDate"}),
		observersStep(snplSurvey),
		subSitesStep(snplSurvey),
		{Name: "observations", Kind: etl.Child, Run: snplObservationStep},
		{Name: "behaviors", Kind: etl.Child, Run: snplBehaviorStep},
		{Name: "bands", Kind: etl.Child, Run: snplBandStep},
		{Name: "predators", Kind: etl.Child, Run: snplPredatorStep},
		{Name: "nest_master", Kind: etl.Child, Run: snplNestMasterStep},
		{Name: "nest_visits", Kind: etl.Child, Run: snplNestVisitStep},
		{Name: "nest_repeats", Kind: etl.Child, Run: snplNestRepeatStep},
		{Name: "publish_nests", Kind: etl.Child, Run: snplPublishStep},
	}
}

// childOf resolves ParentGlobalID of form against the map published by
// parent.
func childOf(st *State, form, parent, out, sideFile string) (*frame.Frame, error) {
	f, err := st.Form(form)
	if err != nil {
		return nil, err
	}
	m, err := st.Map(parent)
	if err != nil {
		return nil, err
	}
	return m.Resolve(st.Env, f, "ParentGlobalID", out, sideFile)
}

func snplObservationStep(ctx context.Context, st *State) error {
	work, err := childOf(st, snplObservations, mapEvent, "EventID", SideFileEvent)
	if err != nil {
		return err
	}
	locs, err := st.locations(ctx)
	if err != nil {
		return err
	}
	if work, err = etl.ResolveLookup(st.Env, locs, work, "SubSite", "LocationID", SideFileLocation); err != nil {
		return err
	}
	out, err := project(work, same("EventID", "LocationID", "ObservationTime", "Adults", "Chicks", "Fledglings",
		"Latitude", "Longitude", "Comments"),
		"ObservationTime", "Adults", "Chicks", "Fledglings", "Latitude", "Longitude", "Comments")
	if err != nil {
		return err
	}
	ids, err := st.load(ctx, out, "tbl_SNPLObservation")
	if err != nil {
		return err
	}
	m, err := etl.Publish("tbl_SNPLObservation", work, "GlobalID", ids)
	if err != nil {
		return err
	}
	st.SetMap(mapObservation, m)
	return nil
}

// snplBehaviorStep resolves every behavior field before loading any.
func snplBehaviorStep(ctx context.Context, st *State) error {
	f, err := st.Form(snplObservations)
	if err != nil {
		return err
	}
	obs, err := st.Map(mapObservation)
	if err != nil {
		return err
	}
	work, err := obs.Resolve(st.Env, f, "GlobalID", "ObservationID", "")
	if err != nil {
		return err
	}
	lk, err := st.Lookup(ctx, "tlu_Behavior", "BehaviorCode", "BehaviorID")
	if err != nil {
		return err
	}
	var parts []*frame.Frame
	for _, b := range behaviorFields {
		if !work.Has(b.Field) {
			continue
		}
		exploded, err := etl.ExplodeMultiSelect(st.Env, work, b.Field, "BehaviorID", lk, SideFileBehavior(b.Field))
		if err != nil {
			return err
		}
		part, err := project(exploded.WithConst("AgeClass", b.AgeClass), same("ObservationID", "BehaviorID", "AgeClass"))
		if err != nil {
			return err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		st.Env.Log.Info("no behavior fields on form")
		return nil
	}
	_, err = st.load(ctx, frame.Concat(parts...), "tbl_SNPLBehavior")
	return err
}

func snplBandStep(ctx context.Context, st *State) error {
	work, err := childOf(st, snplBands, mapObservation, "ObservationID", "")
	if err != nil {
		return err
	}
	out, err := project(work, same("ObservationID", "BandCode", "Sex", "AgeClass"), "Sex", "AgeClass")
	if err != nil {
		return err
	}
	_, err = st.load(ctx, out, "tbl_SNPLBand")
	return err
}

func snplPredatorStep(ctx context.Context, st *State) error {
	work, err := childOf(st, snplPredators, mapEvent, "EventID", SideFileEvent)
	if err != nil {
		return err
	}
	lk, err := st.Lookup(ctx, "tlu_Predator", "PredatorCode", "PredatorID")
	if err != nil {
		return err
	}
	if work, err = etl.ResolveLookup(st.Env, lk, work, "Predator", "PredatorID", SideFilePredator); err != nil {
		return err
	}
	out, err := project(work.DropAbsent("PredatorID"), []col{
		{"EventID", "EventID"},
		{"PredatorID", "PredatorID"},
		{"Enumeration", "Count"},
	}, "Count")
	if err != nil {
		return err
	}
	_, err = st.load(ctx, out, "tbl_SNPLPredator")
	return err
}

// snplNestMasterStep seeds the nest parent table with nests first seen in
// this bundle.
func snplNestMasterStep(ctx context.Context, st *State) error {
	work, err := childOf(st, snplNests, mapEvent, "EventID", SideFileEvent)
	if err != nil {
		return err
	}
	locs, err := st.locations(ctx)
	if err != nil {
		return err
	}
	if work, err = etl.ResolveLookup(st.Env, locs, work, "SubSite", "LocationID", SideFileLocation); err != nil {
		return err
	}
	seeded, m, err := etl.SeedNestMaster(ctx, st.Env, work, "EventID", etl.DefaultNestMaster)
	if err != nil {
		return err
	}
	st.Env.Log.Info("nests seeded", zap.Int("new", seeded), zap.Int("known", m.Len()))
	st.SetMap(mapNest, m)
	st.stash[stashNests] = work
	return nil
}

func snplNestVisitStep(ctx context.Context, st *State) error {
	work, ok := st.stash[stashNests]
	if !ok {
		return etl.Failf(etl.UnresolvedLookup, "nest visits", "nest master not seeded")
	}
	nests, err := st.Map(mapNest)
	if err != nil {
		return err
	}
	if work, err = nests.Resolve(st.Env, work, "NestID", "NestMasterID", ""); err != nil {
		return err
	}
	work = mapColumn(work, "Verified", etl.InvertedYesNo)
	work = mapColumn(work, "InitiationDateUnk", etl.InvertedYesNo)
	out, err := project(work, same("NestMasterID", "EventID", "VisitTime", "EggCount", "ChickCount", "NestStatus",
		"Verified", "InitiationDateUnk", "InitiationDate", "Latitude", "Longitude"),
		"VisitTime", "EggCount", "ChickCount", "NestStatus", "Verified", "InitiationDateUnk", "InitiationDate",
		"Latitude", "Longitude")
	if err != nil {
		return err
	}
	_, err = st.load(ctx, out, "tbl_NestVisit")
	return err
}

func snplNestRepeatStep(ctx context.Context, st *State) error {
	f, err := st.Form(snplNestRepeats)
	if err != nil {
		return err
	}
	repeats, err := project(f, same("NestID", "NestFate", "FateDate"), "NestFate", "FateDate")
	if err != nil {
		return err
	}
	applied, skipped, err := etl.UpdateNestRepeats(ctx, st.Env, repeats, etl.DefaultNestMaster.Table, "NestID")
	if err != nil {
		return err
	}
	st.Env.Log.Info("nest repeats", zap.Int("applied", applied), zap.Int("skipped", len(skipped)))
	return nil
}

// snplPublishStep hands the nests visited in this bundle to the publisher.
func snplPublishStep(ctx context.Context, st *State) error {
	if st.Publisher == nil {
		st.Env.Log.Info("no publisher configured, nest features not published")
		return nil
	}
	work, ok := st.stash[stashNests]
	if !ok {
		return etl.Failf(etl.UnresolvedLookup, "publish nests", "nest master not seeded")
	}
	features, err := project(work, same("NestID", "NestStatus", "EggCount", "ChickCount", "VisitTime", "Latitude", "Longitude"),
		"NestStatus", "EggCount", "ChickCount", "VisitTime", "Latitude", "Longitude")
	if err != nil {
		return err
	}
	features = features.DropAbsent("Latitude", "Longitude")
	year := st.Env.Config.Year
	md := publish.Metadata{
		Title:       fmt.Sprintf("SNPL_Nests_%d", year),
		Tags:        []string{"SNPL", "Snowy Plover", "Nests", fmt.Sprint(year)},
		Type:        "CSV",
		Description: fmt.Sprintf("Snowy plover nest visits recorded in %d.", year),
		Snippet:     "Snowy plover nests",
		LicenseInfo: "Public domain",
		X:           "Longitude",
		Y:           "Latitude",
	}
	if err := st.Publisher.Publish(ctx, features, md); err != nil {
		return etl.Fail(etl.BundleRead, "publish nests", err)
	}
	return nil
}

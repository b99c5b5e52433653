package protocols

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hazyhaar/fieldetl/pkg/etl"
	"github.com/hazyhaar/fieldetl/pkg/frame"
)

// SideFileSeason receives elephant seal surveys dated outside every season.
const SideFileSeason = "ESealSeasonNotDefined.csv"

const (
	esealSurvey = "ElephantSeal"
	esealCounts = "countsrepeats"
)

// esealCategories are the count columns of the repeat form, in stacking order.
var esealCategories = etl.Categories("Bull", "SAM4", "SAM3", "SAM2", "SAM1", "Cow", "Yearling", "Weaner", "Pup", "DeadPup")

type eseal struct{}

func init() { Register(eseal{}) }

func (eseal) ID() ID              { return ESeal }
func (eseal) Description() string { return "Elephant seal counts by location and age class" }
func (eseal) Forms() []string     { return []string{esealSurvey, esealCounts} }

func (eseal) Steps() []Step {
	return []Step{
		eventStep(survey{Form: esealSurvey, Site: "Site", Date: "SurveyDate"}),
		observersStep(esealSurvey),
		subSitesStep(esealSurvey),
		{Name: "survey", Kind: etl.Child, Run: esealSurveyStep},
		{Name: "counts", Kind: etl.Child, Run: esealCountsStep},
		{Name: "redfur_sharkbite", Kind: etl.Child, Run: esealFlagsStep},
	}
}

type season struct {
	id         any
	start, end time.Time
}

// seasonOf returns the first season whose window holds the date of t.
func seasonOf(seasons []season, t time.Time) (any, bool) {
	d := day(t)
	for _, s := range seasons {
		if !d.Before(day(s.start)) && !d.After(day(s.end)) {
			return s.id, true
		}
	}
	return nil, false
}

func esealSurveyStep(ctx context.Context, st *State) error {
	f, err := st.Form(esealSurvey)
	if err != nil {
		return err
	}
	tbl, err := st.Table(ctx, "SELECT SeasonID, StartDate, EndDate FROM tlu_Season ORDER BY SeasonID")
	if err != nil {
		return err
	}
	var seasons []season
	tbl.Each(func(r frame.Row) {
		start, ok1 := asTime(r.Get("StartDate"))
		end, ok2 := asTime(r.Get("EndDate"))
		if ok1 && ok2 {
			seasons = append(seasons, season{id: r.Get("SeasonID"), start: start, end: end})
		}
	})

	work := f.WithColumn("SeasonID", func(r frame.Row) any {
		t, ok := r.Time("SurveyDate")
		if !ok {
			return nil
		}
		id, _ := seasonOf(seasons, t)
		return id
	})
	if missing := work.Filter(func(r frame.Row) bool { return r.Absent("SeasonID") }); missing.Len() > 0 {
		return st.reject("season", missing.Drop("SeasonID"), SideFileSeason)
	}

	events, err := st.Map(mapEvent)
	if err != nil {
		return err
	}
	if work, err = events.Resolve(st.Env, work, "GlobalID", "EventID", SideFileEvent); err != nil {
		return err
	}
	out, err := project(work, same("EventID", "SeasonID", "SurveyType", "Visibility"), "SurveyType", "Visibility")
	if err != nil {
		return err
	}
	_, err = st.load(ctx, out, "tbl_ESealSurvey")
	return err
}

// esealRepeats resolves the event and location of every count repeat.
func esealRepeats(ctx context.Context, st *State) (*frame.Frame, error) {
	f, err := st.Form(esealCounts)
	if err != nil {
		return nil, err
	}
	events, err := st.Map(mapEvent)
	if err != nil {
		return nil, err
	}
	work, err := events.Resolve(st.Env, f, "ParentGlobalID", "EventID", SideFileEvent)
	if err != nil {
		return nil, err
	}
	locs, err := st.locations(ctx)
	if err != nil {
		return nil, err
	}
	return etl.ResolveLookup(st.Env, locs, work, "SubSite", "LocationID", SideFileLocation)
}

func esealCountsStep(ctx context.Context, st *State) error {
	work, err := esealRepeats(ctx, st)
	if err != nil {
		return err
	}
	codes, err := st.Table(ctx, "SELECT MatureCode FROM tlu_ESealMatureCode")
	if err != nil {
		return err
	}
	recognized := mapset.NewThreadUnsafeSet[string]()
	codes.Each(func(r frame.Row) { recognized.Add(r.String("MatureCode")) })

	if !work.Has("CreationDate") {
		work = work.WithConst("CreationDate", nil)
	}
	stacked, err := etl.StackCounts(work, etl.StackOptions{
		IDs:          []string{"CreationDate", "EventID", "ObservationTime", "LocationID"},
		Categories:   esealCategories,
		Other:        "Other",
		DefineOther:  "DefineOther",
		SpecifyOther: "SpecifyOther",
		Recognized:   recognized,
	})
	if err != nil {
		return etl.Fail(etl.BundleRead, "counts", err)
	}
	out, err := project(stacked, []col{
		{"EventID", "EventID"},
		{"LocationID", "LocationID"},
		{"ObservationTime", "ObservationTime"},
		{"MatureCode", "MatureCode"},
		{"Enumeration", "Enumeration"},
		{"QCNotes", "QCNotes"},
		{"CreatedDate", "CreationDate"},
	})
	if err != nil {
		return err
	}
	_, err = st.load(ctx, out, "tbl_ESealCount")
	return err
}

func esealFlagsStep(ctx context.Context, st *State) error {
	work, err := esealRepeats(ctx, st)
	if err != nil {
		return err
	}
	if !work.Has("ObservationTime") {
		work = work.WithConst("ObservationTime", nil)
	}
	flags, err := etl.SideFlags(work, []string{"EventID", "LocationID", "ObservationTime"}, []string{"RedFur", "SharkBite"})
	if err != nil {
		return etl.Fail(etl.BundleRead, "redfur_sharkbite", err)
	}
	_, err = st.load(ctx, flags, "tbl_ESealRedFurSharkBite")
	return err
}

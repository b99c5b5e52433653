package protocols

import (
	"context"

	"github.com/hazyhaar/fieldetl/pkg/etl"
)

// Side files written by the shared steps.
const (
	SideFileLocation = "RecordsNotDefinedLocation.csv"
	SideFileSubSite  = "RecordsNotDefinedSubSite.csv"
	SideFileEvent    = "RecordsNotDefinedEvent.csv"
)

const mapEvent = "event"

// survey names the columns of a protocol's survey form that feed the event
// table.
type survey struct {
	Form string
	Site string
	Date string
}

// locations reads the location lookup.
func (st *State) locations(ctx context.Context) (etl.Lookup, error) {
	return st.Lookup(ctx, "tbl_Locations", "LocationCode", "LocationID")
}

// eventStep loads one event per survey row and publishes the GlobalID map.
func eventStep(s survey) Step {
	return Step{Name: "event", Kind: etl.Parent, Run: func(ctx context.Context, st *State) error {
		f, err := st.Form(s.Form)
		if err != nil {
			return err
		}
		locs, err := st.locations(ctx)
		if err != nil {
			return err
		}
		work, err := etl.ResolveLookup(st.Env, locs, f, s.Site, "LocationID", SideFileLocation)
		if err != nil {
			return err
		}
		ev, err := project(work, []col{
			{"GlobalID", "GlobalID"},
			{"LocationID", "LocationID"},
			{"StartDate", s.Date},
			{"EndDate", "EndDate"},
			{"StartTime", "StartTime"},
			{"EndTime", "EndTime"},
			{"Comments", "Comments"},
			{"CreatedDate", "CreationDate"},
			{"CreatedBy", "Creator"},
		}, "EndDate", "StartTime", "EndTime", "Comments", "CreationDate", "Creator")
		if err != nil {
			return err
		}
		ev = ev.WithConst("ProtocolName", st.Env.Config.Protocol)
		ids, err := st.load(ctx, ev, "tbl_Event")
		if err != nil {
			return err
		}
		m, err := etl.Publish("tbl_Event", ev, "GlobalID", ids)
		if err != nil {
			return err
		}
		st.SetMap(mapEvent, m)
		return nil
	}}
}

// observersStep loads one row per event observer.
func observersStep(form string) Step {
	return Step{Name: "observers", Kind: etl.Child, Run: func(ctx context.Context, st *State) error {
		f, err := st.Form(form)
		if err != nil {
			return err
		}
		contacts, err := st.Table(ctx, "SELECT ContactID, ContactCode, FirstName, LastName FROM tlu_Contacts")
		if err != nil {
			return err
		}
		obs, err := etl.ParseObservers(st.Env, f, etl.Contacts{
			Table: contacts, Code: "ContactCode", FirstName: "FirstName", LastName: "LastName", ID: "ContactID",
		}, etl.ObserverOptions{
			EventKey: "GlobalID", Field: "Observers", OtherField: "ObserversOther", Created: "CreationDate",
		})
		if err != nil {
			return err
		}
		events, err := st.Map(mapEvent)
		if err != nil {
			return err
		}
		if obs, err = events.Resolve(st.Env, obs, "GlobalID", "EventID", SideFileEvent); err != nil {
			return err
		}
		out, err := project(obs, []col{{"EventID", "EventID"}, {"ContactID", "ContactID"}, {"CreatedDate", "CreationDate"}}, "CreationDate")
		if err != nil {
			return err
		}
		_, err = st.load(ctx, out, "tbl_EventObserver")
		return err
	}}
}

// subSitesStep loads the sub-sites a survey skipped.
func subSitesStep(form string) Step {
	return Step{Name: "subsites_not_surveyed", Kind: etl.Child, Run: func(ctx context.Context, st *State) error {
		f, err := st.Form(form)
		if err != nil {
			return err
		}
		locs, err := st.locations(ctx)
		if err != nil {
			return err
		}
		work, err := etl.ExplodeMultiSelect(st.Env, f, "SubSitesNotSurveyed", "LocationID", locs, SideFileSubSite)
		if err != nil {
			return err
		}
		events, err := st.Map(mapEvent)
		if err != nil {
			return err
		}
		if work, err = events.Resolve(st.Env, work, "GlobalID", "EventID", SideFileEvent); err != nil {
			return err
		}
		out, err := project(work, same("EventID", "LocationID"))
		if err != nil {
			return err
		}
		_, err = st.load(ctx, out, "tbl_SubSiteNotSurveyed")
		return err
	}}
}

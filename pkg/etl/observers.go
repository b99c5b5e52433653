package etl

import (
	"strings"
	"unicode"

	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/pkg/errors"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SideFileContacts receives observer rows that match no contact.
const SideFileContacts = "RecordsNoDefinedContact.csv"

// Contacts describes the observer lookup table.
type Contacts struct {
	Table     *frame.Frame
	Code      string // form code column
	FirstName string
	LastName  string
	ID        string // surrogate column
}

// ObserverOptions names the form columns observer parsing reads.
type ObserverOptions struct {
	EventKey   string // natural id of the event
	Field      string // comma-separated observer codes
	OtherField string // free-text names for the other code
	Created    string // creation timestamp carried to the output
	// Out is the output surrogate column; defaults to Contacts.ID.
	Out string
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases, strips accents and collapses whitespace.
func NormalizeName(s string) string {
	out, _, _ := transform.String(stripAccents, strings.ToLower(s))
	return strings.Join(strings.Fields(out), " ")
}

// SplitName splits a free-text name into first and last names. The
// delimiter is an underscore when present, otherwise a space; everything
// after the first delimiter is the last name.
func SplitName(s string) (first, last string) {
	s = strings.TrimSpace(s)
	sep := " "
	if strings.Contains(s, "_") {
		sep = "_"
	}
	first, last, _ = strings.Cut(s, sep)
	return strings.TrimSpace(first), strings.TrimSpace(last)
}

// ParseObservers turns the observer multi-select of a form into one row per
// (event, observer). Codes other than the other token resolve against the
// contact code column; the other token defers to the free-text field, whose
// comma-separated names resolve against the contact name columns. Any
// unresolved row fails the step and is written to RecordsNoDefinedContact.csv.
func ParseObservers(env *Env, f *frame.Frame, contacts Contacts, opts ObserverOptions) (*frame.Frame, error) {
	if err := f.Require(opts.EventKey, opts.Field); err != nil {
		return nil, errors.Wrap(err, "observers")
	}
	if err := contacts.Table.Require(contacts.Code, contacts.FirstName, contacts.LastName, contacts.ID); err != nil {
		return nil, errors.Wrap(err, "contacts")
	}
	out := opts.Out
	if out == "" {
		out = contacts.ID
	}
	other := env.Config.OtherToken

	byCode := make(map[string]any)
	byName := make(map[string]any)
	contacts.Table.Each(func(r frame.Row) {
		if k := frame.Key(r.Get(contacts.Code)); k != "" {
			byCode[k] = r.Get(contacts.ID)
		}
		if !r.Absent(contacts.FirstName) || !r.Absent(contacts.LastName) {
			byName[nameKey(r.String(contacts.FirstName), r.String(contacts.LastName))] = r.Get(contacts.ID)
		}
	})

	cols := []string{opts.EventKey, "Observer", "FirstName", "LastName", out}
	withCreated := opts.Created != "" && f.Has(opts.Created)
	if withCreated {
		cols = append(cols, opts.Created)
	}
	var coded, named, missingCode, missingOther []map[string]any

	f.Each(func(r frame.Row) {
		base := map[string]any{opts.EventKey: r.Get(opts.EventKey)}
		if withCreated {
			base[opts.Created] = r.Get(opts.Created)
		}
		hasOther := false
		for _, tok := range strings.Split(r.String(opts.Field), ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if frame.Key(tok) == other {
				hasOther = true
				continue
			}
			rec := clone(base)
			rec["Observer"] = tok
			if id, ok := byCode[frame.Key(tok)]; ok {
				rec[out] = id
				coded = append(coded, rec)
			} else {
				missingCode = append(missingCode, rec)
			}
		}
		if !hasOther || opts.OtherField == "" {
			return
		}
		for _, name := range strings.Split(r.String(opts.OtherField), ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			first, last := SplitName(name)
			rec := clone(base)
			rec["Observer"] = other
			rec["FirstName"], rec["LastName"] = first, last
			if id, ok := byName[nameKey(first, last)]; ok {
				rec[out] = id
				named = append(named, rec)
			} else {
				missingOther = append(missingOther, rec)
			}
		}
	})

	if len(missingCode)+len(missingOther) > 0 {
		class := UnresolvedLookup
		if len(missingCode) == 0 {
			class = UnresolvedOther
		}
		bad := frame.FromRecords(cols, append(missingCode, missingOther...))
		return nil, unresolved(env, class, "observers", bad, SideFileContacts)
	}
	return frame.FromRecords(cols, append(coded, named...)).Drop("Observer", "FirstName", "LastName"), nil
}

func nameKey(first, last string) string {
	return NormalizeName(first) + "\x1f" + NormalizeName(last)
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Package schema carries the target-database DDL for every protocol and the
// run ledger kept alongside the loaded tables.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"sort"
	"strings"

	"github.com/hazyhaar/fieldetl/pkg/loader"
	"github.com/pkg/errors"
)

//go:embed sql/*.sql
var files embed.FS

// ErrUnknownProtocol is returned by Apply for a protocol with no DDL.
var ErrUnknownProtocol = errors.New("no schema for protocol")

// Protocols lists the protocols that have DDL, sorted.
func Protocols() []string {
	entries, _ := files.ReadDir("sql")
	var names []string
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".sql")
		if name != "common" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DDL returns the statements for protocol, preceded by the shared tables.
func DDL(protocol string) (string, error) {
	common, err := files.ReadFile("sql/common.sql")
	if err != nil {
		return "", errors.Wrap(err, "read common schema")
	}
	own, err := files.ReadFile("sql/" + protocol + ".sql")
	if err != nil {
		return "", errors.Wrapf(ErrUnknownProtocol, "%q", protocol)
	}
	return string(common) + "\n" + string(own) + "\n" + ledgerDDL, nil
}

// Apply creates the tables of protocol and seeds its default lookup rows.
// Existing tables and rows are left untouched.
func Apply(ctx context.Context, db *sql.DB, protocol string) error {
	ddl, err := DDL(protocol)
	if err != nil {
		return err
	}
	for _, stmt := range split(ddl) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply %s schema", protocol)
		}
	}
	if err := refreshQueries(ctx, db, protocol); err != nil {
		return err
	}
	return seed(ctx, db, protocol)
}

// Query is a saved select kept in the target database for reviewers.
type Query struct {
	Name   string
	Select string
}

var queries = map[string][]Query{
	"common": {
		{"qry_EventObservers", `SELECT e.EventID, e.GlobalID, e.ProtocolName, e.StartDate, c.FirstName, c.LastName
FROM tbl_Event e
JOIN tbl_EventObserver o ON o.EventID = e.EventID
JOIN tlu_Contacts c ON c.ContactID = o.ContactID`},
	},
	"snpl": {
		{"qry_NestFates", `SELECT m.NestID, m.NestFate, m.FateDate, l.LocationCode
FROM tbl_NestMaster m
LEFT JOIN tbl_Locations l ON l.LocationID = m.LocationID`},
	},
}

// Queries returns the saved queries of protocol, shared ones first.
func Queries(protocol string) []Query {
	return append(append([]Query(nil), queries["common"]...), queries[protocol]...)
}

// refreshQueries recreates every saved query so a changed definition
// replaces the stored one.
func refreshQueries(ctx context.Context, db *sql.DB, protocol string) error {
	for _, q := range Queries(protocol) {
		exists, err := loader.QueryExists(ctx, db, q.Name)
		if err != nil {
			return err
		}
		if exists {
			if err := loader.DeleteQuery(ctx, db, q.Name); err != nil {
				return err
			}
		}
		if err := loader.CreateQuery(ctx, db, q.Name, q.Select); err != nil {
			return errors.Wrapf(err, "create query %s", q.Name)
		}
	}
	return nil
}

// split breaks a script on statement-ending semicolons.
func split(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MatureCodes are the elephant seal age and sex classes.
var MatureCodes = []string{"Bull", "SAM4", "SAM3", "SAM2", "SAM1", "Cow", "Yearling", "Weaner", "Pup", "DeadPup", "ND"}

func seed(ctx context.Context, db *sql.DB, protocol string) error {
	if protocol != "eseal" {
		return nil
	}
	const q = `INSERT OR IGNORE INTO tlu_ESealMatureCode (MatureCode) VALUES (?)`
	for _, code := range MatureCodes {
		if _, err := db.ExecContext(ctx, q, code); err != nil {
			return errors.Wrapf(err, "seed mature code %s", code)
		}
	}
	return nil
}

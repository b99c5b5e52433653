// Package protocols holds one transform module per survey protocol and the
// dispatcher that runs a protocol's steps against an ingested bundle.
package protocols

import (
	"context"
	"sort"
	"sync"

	"github.com/hazyhaar/fieldetl/pkg/etl"
)

// ID names a protocol. The set is closed: every ID in Known has exactly one
// registered module.
type ID string

const (
	ESeal     ID = "eseal"
	Salmonids ID = "salmonids"
	SNPL      ID = "snpl"
)

// Known lists every protocol ID.
var Known = []ID{ESeal, Salmonids, SNPL}

// Step is one transform of a protocol run.
type Step struct {
	Name string
	Kind etl.StepKind
	Run  func(ctx context.Context, st *State) error
}

// Protocol is a registered transform module.
type Protocol interface {
	ID() ID
	Description() string
	// Forms lists the bundle key fragments the module reads.
	Forms() []string
	// Steps returns the transforms in the order they must run.
	Steps() []Step
}

var (
	registryMu sync.RWMutex
	registry   = make(map[ID]Protocol)
)

// Register adds a protocol module; it panics on an ID outside Known.
func Register(p Protocol) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if !isKnown(p.ID()) {
		panic("protocols: register of unknown id " + string(p.ID()))
	}
	registry[p.ID()] = p
}

// Get returns the module registered for id.
func Get(id string) (Protocol, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[ID(id)]
	if !ok {
		return nil, etl.Failf(etl.UnknownOption, "dispatch", "unknown protocol %q", id)
	}
	return p, nil
}

// All returns every registered module sorted by ID.
func All() []Protocol {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Protocol, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func isKnown(id ID) bool {
	for _, k := range Known {
		if k == id {
			return true
		}
	}
	return false
}

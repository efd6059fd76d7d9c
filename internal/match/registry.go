package match

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"robot-battle/internal/config"
	"robot-battle/internal/eventlog"
	"robot-battle/internal/storage"
)

// Registry is the server-wide map of match id to Match, mediating
// lookups and creations so a finished match can be atomically replaced
// by a fresh one without racing new session arrivals.
type Registry struct {
	params config.GameParameters
	sink   storage.ResultSink
	log    *eventlog.Log

	mu      sync.Mutex
	matches map[int]*Match
}

// NewRegistry returns an empty registry.
func NewRegistry(params config.GameParameters, sink storage.ResultSink, log *eventlog.Log) *Registry {
	return &Registry{
		params:  params,
		sink:    sink,
		log:     log,
		matches: make(map[int]*Match),
	}
}

// GetOrCreate returns the match for id, creating (or recycling, if
// recycle is true and the existing match is finished) it as needed, and
// starting its tick loop. match id 0 is the permanently-open demo match:
// it always allows late entrants and uses a short wait time so a first
// connection does not have to wait out the normal lobby timer.
func (reg *Registry) GetOrCreate(ctx context.Context, id int, recycle bool) (*Match, error) {
	if id < 0 || id > reg.params.MaxMatchID {
		return nil, fmt.Errorf("match id %d out of range [0, %d]", id, reg.params.MaxMatchID)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	existing, ok := reg.matches[id]
	if ok && !(existing.Finished() && recycle) {
		return existing, nil
	}

	m := New(id, reg.params, reg.sink, reg.log, rand.Int63())
	if id == 0 {
		m.AllowLateEntrants = true
		m.WaitTime = reg.params.DemoMatchWaitTime
	}
	reg.matches[id] = m
	m.Start(ctx)
	return m, nil
}

// Get returns the match for id without creating one, or nil.
func (reg *Registry) Get(id int) *Match {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.matches[id]
}

// List returns a snapshot of currently tracked match ids, for the
// control-plane listing endpoint.
func (reg *Registry) List() []int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ids := make([]int, 0, len(reg.matches))
	for id := range reg.matches {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCount returns the number of tracked matches that have not yet
// finished, for the periodic active-matches gauge sample.
func (reg *Registry) ActiveCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	n := 0
	for _, m := range reg.matches {
		if !m.Finished() {
			n++
		}
	}
	return n
}

// ConnectedPlayerCount sums the connected-robot count across every
// tracked match, for the periodic active-players gauge sample.
func (reg *Registry) ConnectedPlayerCount() int {
	reg.mu.Lock()
	matches := make([]*Match, 0, len(reg.matches))
	for _, m := range reg.matches {
		matches = append(matches, m)
	}
	reg.mu.Unlock()

	total := 0
	for _, m := range matches {
		total += m.ConnectedCount()
	}
	return total
}

// Package runstatus tracks per-cell run state. A cell is one
// (row-or-turn, revision) pair; the table is the single source of truth for
// "is this cell computing" and for the fingerprint of its latest result.
package runstatus

import (
	"strings"
	"sync"
)

// Status is one cell's run state. Running holds the in-flight run id token,
// empty when idle. ResultHash is the content-addressed fingerprint of the
// last completed or failed result; payloads live in the result cache, not
// here.
type Status struct {
	Running    string
	ResultHash string
}

// IsRunning reports whether the cell has an in-flight run.
func (s Status) IsRunning() bool { return s.Running != "" }

// Key builds the table key for a cell.
func Key(rowOrTurnID, revisionID string) string {
	return rowOrTurnID + ":" + revisionID
}

// RoundOrigin distinguishes a single-cell rerun from a whole-row fan-out so
// the orchestrator does not misfire in comparison mode.
type RoundOrigin string

const (
	OriginSingle RoundOrigin = "single"
	OriginFanout RoundOrigin = "fanout"
)

// Round declares which revisions must report completion for a logical turn
// before the orchestrator may act on it.
type Round struct {
	RoundID     string
	LogicalID   string
	ExpectedIDs []string
	Origin      RoundOrigin
}

// Table maps cell keys to statuses and logical turn ids to expected rounds.
type Table struct {
	mu      sync.RWMutex
	cells   map[string]Status
	rounds  map[string]Round
	version uint64
	changed chan struct{}
}

func NewTable() *Table {
	return &Table{
		cells:   make(map[string]Status),
		rounds:  make(map[string]Round),
		changed: make(chan struct{}),
	}
}

// Watch returns a channel closed on the next table change.
func (t *Table) Watch() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changed
}

func (t *Table) bumpLocked() {
	t.version++
	close(t.changed)
	t.changed = make(chan struct{})
}

// Get returns the status for a cell.
func (t *Table) Get(rowOrTurnID, revisionID string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.cells[Key(rowOrTurnID, revisionID)]
	return st, ok
}

// MarkRunning records an in-flight run id for a cell, replacing any previous
// token. The previous result hash is kept.
func (t *Table) MarkRunning(rowOrTurnID, revisionID, runID string) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := Key(rowOrTurnID, revisionID)
	st := t.cells[key]
	st.Running = runID
	t.cells[key] = st
	t.bumpLocked()
}

// MarkDone clears the running token and records the result hash. Returns
// false without mutating when the stored token does not match runID: a stale
// result from a cancelled-and-rerun cell must not overwrite the newer run.
// An empty stored token (cancelled, nothing rerun yet) accepts the result.
func (t *Table) MarkDone(rowOrTurnID, revisionID, runID, resultHash string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := Key(rowOrTurnID, revisionID)
	st := t.cells[key]
	if st.Running != "" && st.Running != runID {
		return false
	}
	st.Running = ""
	st.ResultHash = resultHash
	t.cells[key] = st
	t.bumpLocked()
	return true
}

// ClearRunning drops the running token for a cell without touching the
// result hash. Used by fire-and-forget cancellation.
func (t *Table) ClearRunning(rowOrTurnID, revisionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := Key(rowOrTurnID, revisionID)
	st, ok := t.cells[key]
	if !ok || st.Running == "" {
		return
	}
	st.Running = ""
	t.cells[key] = st
	t.bumpLocked()
}

// ClearRunningMatching drops running tokens for every cell whose key
// contains the row/turn id and, when revisionID is non-empty, that revision.
func (t *Table) ClearRunningMatching(rowOrTurnID, revisionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	touched := false
	for key, st := range t.cells {
		if st.Running == "" {
			continue
		}
		id, rev, ok := splitKey(key)
		if !ok {
			continue
		}
		if rowOrTurnID != "" && id != rowOrTurnID {
			continue
		}
		if revisionID != "" && rev != revisionID {
			continue
		}
		st.Running = ""
		t.cells[key] = st
		touched = true
	}
	if touched {
		t.bumpLocked()
	}
}

// Delete removes a cell entirely.
func (t *Table) Delete(rowOrTurnID, revisionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := Key(rowOrTurnID, revisionID)
	if _, ok := t.cells[key]; !ok {
		return
	}
	delete(t.cells, key)
	t.bumpLocked()
}

func splitKey(key string) (string, string, bool) {
	idx := strings.LastIndex(key, ":")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

// --- expected rounds ---

// SetRound declares the expected completion set for a logical turn,
// replacing any previous round for it.
func (t *Table) SetRound(round Round) {
	if strings.TrimSpace(round.LogicalID) == "" || len(round.ExpectedIDs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rounds[round.LogicalID] = round
	t.bumpLocked()
}

// Round returns the active round for a logical id.
func (t *Table) Round(logicalID string) (Round, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	round, ok := t.rounds[logicalID]
	return round, ok
}

// TakeRound atomically fetches and clears the round for a logical id. The
// orchestrator clears its trigger condition before acting on it, so a
// re-entrant evaluation in the same reaction chain cannot act twice.
func (t *Table) TakeRound(logicalID string) (Round, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	round, ok := t.rounds[logicalID]
	if !ok {
		return Round{}, false
	}
	delete(t.rounds, logicalID)
	t.bumpLocked()
	return round, true
}

// ClearRoundsWithOrigin drops every round with the given origin.
func (t *Table) ClearRoundsWithOrigin(origin RoundOrigin) {
	t.mu.Lock()
	defer t.mu.Unlock()
	touched := false
	for logicalID, round := range t.rounds {
		if round.Origin == origin {
			delete(t.rounds, logicalID)
			touched = true
		}
	}
	if touched {
		t.bumpLocked()
	}
}

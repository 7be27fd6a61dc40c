package orchestrator

import (
	"testing"

	"promptarena/internal/entity"
	"promptarena/internal/runstatus"
	"promptarena/internal/turns"
)

type rig struct {
	store   *entity.Store
	status  *runstatus.Table
	manager *turns.Manager
	orch    *Orchestrator
}

func newRig(revisionIDs ...string) *rig {
	store := entity.NewStore()
	for _, id := range revisionIDs {
		store.UpsertRevision(entity.Revision{ID: id, IsChat: true})
	}
	store.SetDisplayed(revisionIDs)
	manager := turns.NewManager(store, nil)
	status := runstatus.NewTable()
	return &rig{
		store:   store,
		status:  status,
		manager: manager,
		orch:    New(store, status, manager),
	}
}

// completeTurn simulates a finished run for a cell.
func (r *rig) completeTurn(logicalID, revisionID, hash string) {
	entry, _ := r.store.LogicalEntry(logicalID)
	turnID := entry[revisionID]
	r.status.MarkRunning(turnID, revisionID, "run-"+revisionID)
	r.status.MarkDone(turnID, revisionID, "run-"+revisionID, hash)
}

func (r *rig) fillTurn(logicalID, revisionID, text string) {
	entry, _ := r.store.LogicalEntry(logicalID)
	r.store.UpdateTurn(entry[revisionID], func(t *entity.ChatTurn) {
		t.User.Content.Value = entity.TextContent(text)
	})
}

func TestEvaluateAppendsRowWhenRoundCompletes(t *testing.T) {
	r := newRig("rev-a", "rev-b")
	displayed := []string{"rev-a", "rev-b"}

	logicalID := r.manager.AppendEmptyLogicalRow(displayed)
	r.fillTurn(logicalID, "rev-a", "question")
	r.fillTurn(logicalID, "rev-b", "question")
	r.status.SetRound(runstatus.Round{
		RoundID:     "round-1",
		LogicalID:   logicalID,
		ExpectedIDs: displayed,
		Origin:      runstatus.OriginFanout,
	})

	// Only one revision reported: no action yet.
	r.completeTurn(logicalID, "rev-a", "hash-a")
	r.orch.Evaluate()
	if got := len(r.store.LogicalIDs()); got != 1 {
		t.Fatalf("premature append: %d logical rows", got)
	}

	// Second revision reports: one empty row is appended.
	r.completeTurn(logicalID, "rev-b", "hash-b")
	r.orch.Evaluate()
	ids := r.store.LogicalIDs()
	if len(ids) != 2 {
		t.Fatalf("expected appended row, got %v", ids)
	}
	for _, rev := range displayed {
		entry, _ := r.store.LogicalEntry(ids[1])
		turn, ok := r.store.Turn(entry[rev])
		if !ok || !turn.IsEmpty() {
			t.Fatalf("appended turn for %s: ok=%v %+v", rev, ok, turn)
		}
	}

	// Re-evaluating must not append again: the round was consumed.
	r.orch.Evaluate()
	if got := len(r.store.LogicalIDs()); got != 2 {
		t.Fatalf("double append: %d logical rows", got)
	}
}

func TestEvaluateIgnoresCompletionOrder(t *testing.T) {
	r := newRig("rev-a", "rev-b")
	displayed := []string{"rev-a", "rev-b"}

	logicalID := r.manager.AppendEmptyLogicalRow(displayed)
	r.fillTurn(logicalID, "rev-a", "q")
	r.fillTurn(logicalID, "rev-b", "q")
	r.status.SetRound(runstatus.Round{RoundID: "round-1", LogicalID: logicalID, ExpectedIDs: displayed, Origin: runstatus.OriginFanout})

	// Reverse order: rev-b first.
	r.completeTurn(logicalID, "rev-b", "hash-b")
	r.orch.Evaluate()
	r.completeTurn(logicalID, "rev-a", "hash-a")
	r.orch.Evaluate()

	if got := len(r.store.LogicalIDs()); got != 2 {
		t.Fatalf("append after out-of-order completion: %d", got)
	}
}

func TestSingleOriginRoundDiscardedInComparisonMode(t *testing.T) {
	r := newRig("rev-a", "rev-b")
	displayed := []string{"rev-a", "rev-b"}

	logicalID := r.manager.AppendEmptyLogicalRow(displayed)
	r.fillTurn(logicalID, "rev-a", "q")
	r.status.SetRound(runstatus.Round{RoundID: "round-1", LogicalID: logicalID, ExpectedIDs: []string{"rev-a"}, Origin: runstatus.OriginSingle})
	r.completeTurn(logicalID, "rev-a", "hash-a")

	r.orch.Evaluate()

	if got := len(r.store.LogicalIDs()); got != 1 {
		t.Fatalf("single-cell rerun must not append in comparison mode: %d", got)
	}
	if _, ok := r.status.Round(logicalID); ok {
		t.Fatalf("discarded round must be consumed")
	}
}

func TestSingleOriginRoundActsInSingleMode(t *testing.T) {
	r := newRig("rev-a")

	logicalID := r.manager.AppendEmptyLogicalRow([]string{"rev-a"})
	r.fillTurn(logicalID, "rev-a", "q")
	r.status.SetRound(runstatus.Round{RoundID: "round-1", LogicalID: logicalID, ExpectedIDs: []string{"rev-a"}, Origin: runstatus.OriginSingle})
	r.completeTurn(logicalID, "rev-a", "hash-a")

	r.orch.Evaluate()

	if got := len(r.store.LogicalIDs()); got != 2 {
		t.Fatalf("single-mode completion must append the next row: %d", got)
	}
}

func TestEvaluateSkipsWhenEmptyTrailingTurnExists(t *testing.T) {
	r := newRig("rev-a")

	logicalID := r.manager.AppendEmptyLogicalRow([]string{"rev-a"})
	r.fillTurn(logicalID, "rev-a", "q")
	trailing := r.manager.AppendEmptyLogicalRow([]string{"rev-a"})

	r.status.SetRound(runstatus.Round{RoundID: "round-1", LogicalID: logicalID, ExpectedIDs: []string{"rev-a"}, Origin: runstatus.OriginFanout})
	r.completeTurn(logicalID, "rev-a", "hash-a")

	r.orch.Evaluate()

	if got := len(r.store.LogicalIDs()); got != 2 {
		t.Fatalf("existing empty trailing turn must suppress append: %d rows", got)
	}
	if _, ok := r.status.Round(logicalID); !ok {
		t.Fatalf("suppressed round should stay until the trailing turn resolves")
	}
	_ = trailing
}

func TestDisplayTransitionSingleToMulti(t *testing.T) {
	r := newRig("rev-a", "rev-b")
	r.store.SetDisplayed([]string{"rev-a"})
	r.orch.Evaluate() // capture single display as previous

	logicalID := r.manager.AppendEmptyLogicalRow([]string{"rev-a"})
	r.fillTurn(logicalID, "rev-a", "q")
	stale := r.manager.AppendEmptyLogicalRow([]string{"rev-a"})
	r.status.SetRound(runstatus.Round{RoundID: "round-1", LogicalID: logicalID, ExpectedIDs: []string{"rev-a"}, Origin: runstatus.OriginSingle})

	r.store.SetDisplayed([]string{"rev-a", "rev-b"})
	r.orch.Evaluate()

	if _, ok := r.status.Round(logicalID); ok {
		t.Fatalf("single-origin round must be cleared on the transition")
	}
	if _, ok := r.store.LogicalEntry(stale); ok {
		t.Fatalf("trailing empty turn from single mode must be pruned")
	}
	// The surviving row is backfilled for the new revision.
	entry, _ := r.store.LogicalEntry(logicalID)
	if entry["rev-b"] == "" {
		t.Fatalf("normalization must backfill the new column: %v", entry)
	}
}

func TestDisplayTransitionDropsUndisplayedRounds(t *testing.T) {
	r := newRig("rev-a", "rev-b")
	displayed := []string{"rev-a", "rev-b"}
	r.store.SetDisplayed(displayed)
	r.orch.Evaluate()

	logicalID := r.manager.AppendEmptyLogicalRow(displayed)
	r.fillTurn(logicalID, "rev-a", "q")
	r.status.SetRound(runstatus.Round{RoundID: "round-1", LogicalID: logicalID, ExpectedIDs: displayed, Origin: runstatus.OriginFanout})

	// rev-b disappears; the round expects it and can never complete.
	r.store.SetDisplayed([]string{"rev-a"})
	r.orch.Evaluate()

	if _, ok := r.status.Round(logicalID); ok {
		t.Fatalf("round expecting an undisplayed revision must be dropped")
	}
}

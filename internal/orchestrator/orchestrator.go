// Package orchestrator watches chat turns, run status, and the displayed
// revision set, and appends the next empty conversation row once a logical
// turn's expected revisions have all reported.
package orchestrator

import (
	"context"
	"log"

	"promptarena/internal/entity"
	"promptarena/internal/runstatus"
	"promptarena/internal/turns"
)

type Orchestrator struct {
	store   *entity.Store
	status  *runstatus.Table
	manager *turns.Manager

	prevDisplayed []string
}

func New(store *entity.Store, status *runstatus.Table, manager *turns.Manager) *Orchestrator {
	return &Orchestrator{store: store, status: status, manager: manager}
}

// Run evaluates on every store or status change until ctx is cancelled.
// Channels are captured before each evaluation so a change landing mid-pass
// triggers a re-evaluation instead of being lost.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		storeCh := o.store.Watch()
		statusCh := o.status.Watch()
		o.Evaluate()
		select {
		case <-ctx.Done():
			return
		case <-storeCh:
		case <-statusCh:
		}
	}
}

// Evaluate performs one orchestration pass. Safe to call directly; every
// decision clears its own trigger condition before acting, so re-entrant
// evaluation within one reaction chain cannot double-append.
func (o *Orchestrator) Evaluate() {
	displayed := o.store.Displayed()
	o.handleDisplayTransition(displayed)
	if len(displayed) == 0 {
		return
	}

	for _, logicalID := range o.store.LogicalIDs() {
		round, ok := o.status.Round(logicalID)
		if !ok {
			continue
		}

		// A single-cell rerun must never trigger whole-row continuation in
		// comparison mode; the round is discarded unused.
		if round.Origin == runstatus.OriginSingle && len(displayed) > 1 {
			o.status.TakeRound(logicalID)
			continue
		}

		entry, ok := o.store.LogicalEntry(logicalID)
		if !ok {
			continue
		}
		if !fullyMapped(entry, displayed) {
			continue
		}
		if !o.allExpectedDone(entry, round) {
			continue
		}
		if o.manager.HasEmptyTrailingTurn(displayed) {
			continue
		}

		if _, taken := o.status.TakeRound(logicalID); !taken {
			continue
		}
		logID := o.manager.AppendEmptyLogicalRow(displayed)
		o.manager.NormalizeAll(displayed)
		log.Printf("round %s complete for turn %s, appended row %s", round.RoundID, logicalID, logID)
	}
}

// handleDisplayTransition prunes stale state when the displayed set changes.
// Moving from single to comparison display clears lingering single-origin
// rounds and trailing empty turns so a stale single-mode artifact is not
// misread as a completed comparison round; any round expecting a revision
// that is no longer displayed can never complete and is dropped.
func (o *Orchestrator) handleDisplayTransition(displayed []string) {
	if equalIDs(o.prevDisplayed, displayed) {
		return
	}
	prev := o.prevDisplayed
	o.prevDisplayed = append([]string(nil), displayed...)
	if len(prev) == 0 {
		return
	}

	if len(prev) == 1 && len(displayed) > 1 {
		o.status.ClearRoundsWithOrigin(runstatus.OriginSingle)
		o.manager.PruneTrailingEmpty(displayed)
	}
	o.dropUndisplayedRounds(displayed)
	o.manager.NormalizeAll(displayed)
}

func (o *Orchestrator) dropUndisplayedRounds(displayed []string) {
	shown := make(map[string]bool, len(displayed))
	for _, revID := range displayed {
		shown[revID] = true
	}
	for _, logicalID := range o.store.LogicalIDs() {
		round, ok := o.status.Round(logicalID)
		if !ok {
			continue
		}
		for _, revID := range round.ExpectedIDs {
			if !shown[revID] {
				o.status.TakeRound(logicalID)
				break
			}
		}
	}
}

func fullyMapped(entry map[string]string, displayed []string) bool {
	for _, revID := range displayed {
		if entry[revID] == "" {
			return false
		}
	}
	return true
}

// allExpectedDone reports whether every expected (turn, revision) pair has a
// recorded result and nothing in flight. Completion order across revisions
// is unconstrained; this predicate is the only ordering guarantee relied on.
func (o *Orchestrator) allExpectedDone(entry map[string]string, round runstatus.Round) bool {
	for _, revID := range round.ExpectedIDs {
		turnID, ok := entry[revID]
		if !ok {
			return false
		}
		st, ok := o.status.Get(turnID, revID)
		if !ok || st.IsRunning() || st.ResultHash == "" {
			return false
		}
	}
	return true
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

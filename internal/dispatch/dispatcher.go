// Package dispatch translates UI run actions into worker requests and owns
// the pending-request table used to attribute results back to cells.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"promptarena/internal/entity"
	"promptarena/internal/runstatus"
	"promptarena/internal/schemameta"
	"promptarena/internal/variables"
	"promptarena/internal/worker"
)

// fanoutStagger spaces sibling dispatches so the worker's own request
// de-duplication layer does not coalesce them.
const fanoutStagger = 5 * time.Millisecond

// Meta carries the application-scoped fields copied into every payload.
type Meta struct {
	AppID       string
	AppType     string
	ProjectID   string
	URI         string
	APIURL      string
	Headers     map[string]string
	AllMetadata map[string]any
	Spec        json.RawMessage
}

// Pending records which cell a dispatched run belongs to.
type Pending struct {
	RowOrTurnID string
	RevisionID  string
}

type Dispatcher struct {
	store   *entity.Store
	status  *runstatus.Table
	schemas schemameta.Provider
	worker  worker.Worker
	meta    Meta

	// Stagger is the delay between sibling fan-out dispatches. Tests zero it.
	Stagger time.Duration

	mu      sync.Mutex
	pending map[string]Pending
}

func New(store *entity.Store, status *runstatus.Table, schemas schemameta.Provider, w worker.Worker, meta Meta) *Dispatcher {
	return &Dispatcher{
		store:   store,
		status:  status,
		schemas: schemas,
		worker:  w,
		meta:    meta,
		Stagger: fanoutStagger,
		pending: make(map[string]Pending),
	}
}

// TakePending removes and returns the pending record for a run id.
func (d *Dispatcher) TakePending(runID string) (Pending, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[runID]
	if ok {
		delete(d.pending, runID)
	}
	return p, ok
}

func (d *Dispatcher) recordPending(runID string, p Pending) {
	d.mu.Lock()
	d.pending[runID] = p
	d.mu.Unlock()
}

// RunSingleCell reruns one revision's answer for a logical turn. The round
// is marked single-origin so the orchestrator will not auto-append in
// comparison mode.
func (d *Dispatcher) RunSingleCell(ctx context.Context, logicalID, revisionID string) error {
	entry, ok := d.store.LogicalEntry(logicalID)
	if !ok {
		return fmt.Errorf("logical turn %s not found", logicalID)
	}
	turnID, ok := entry[revisionID]
	if !ok {
		return fmt.Errorf("logical turn %s has no turn for revision %s", logicalID, revisionID)
	}
	d.status.SetRound(runstatus.Round{
		RoundID:     uuid.NewString(),
		LogicalID:   logicalID,
		ExpectedIDs: []string{revisionID},
		Origin:      runstatus.OriginSingle,
	})
	return d.dispatchTurn(ctx, logicalID, turnID, revisionID)
}

// RunAllDisplayed runs the most recent logical turn that has any non-empty
// user content, across every displayed revision.
func (d *Dispatcher) RunAllDisplayed(ctx context.Context) error {
	displayed := d.store.Displayed()
	if len(displayed) == 0 {
		return fmt.Errorf("no revisions displayed")
	}
	logicalID, ok := d.latestLogicalWithContent(displayed)
	if !ok {
		return fmt.Errorf("no turn with user content to run")
	}
	entry, _ := d.store.LogicalEntry(logicalID)

	d.status.SetRound(runstatus.Round{
		RoundID:     uuid.NewString(),
		LogicalID:   logicalID,
		ExpectedIDs: displayed,
		Origin:      runstatus.OriginFanout,
	})

	var firstErr error
	for i, revID := range displayed {
		if i > 0 && d.Stagger > 0 {
			time.Sleep(d.Stagger)
		}
		turnID, ok := entry[revID]
		if !ok {
			log.Printf("logical turn %s missing for revision %s, skipping dispatch", logicalID, revID)
			continue
		}
		if err := d.dispatchTurn(ctx, logicalID, turnID, revID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunRow runs a completion-mode test case. With no revision given and
// several displayed, one request is dispatched per displayed revision.
func (d *Dispatcher) RunRow(ctx context.Context, rowID, revisionID string) error {
	displayed := d.store.Displayed()
	if revisionID == "" && len(displayed) > 1 {
		var firstErr error
		for i, revID := range displayed {
			if i > 0 && d.Stagger > 0 {
				time.Sleep(d.Stagger)
			}
			if err := d.dispatchRow(ctx, rowID, revID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	if revisionID == "" {
		baseline, ok := d.store.Baseline()
		if !ok {
			return fmt.Errorf("no revisions displayed")
		}
		revisionID = baseline
	}
	return d.dispatchRow(ctx, rowID, revisionID)
}

// latestLogicalWithContent scans the conversation from the tail backward for
// the most recent logical turn where any displayed revision has non-empty
// user content. In comparison mode some revisions carry stale empty tails
// while others have real content, so a head-forward scan would stop short.
func (d *Dispatcher) latestLogicalWithContent(displayed []string) (string, bool) {
	order := d.logicalOrder(displayed)
	for i := len(order) - 1; i >= 0; i-- {
		entry, ok := d.store.LogicalEntry(order[i])
		if !ok {
			continue
		}
		for _, revID := range displayed {
			turnID, ok := entry[revID]
			if !ok {
				continue
			}
			if turn, ok := d.store.Turn(turnID); ok && turn.HasUserContent() {
				return order[i], true
			}
		}
	}
	return "", false
}

// logicalOrder derives the canonical row order from the baseline revision's
// session; when the baseline has no session yet the raw index order is the
// best-effort fallback.
func (d *Dispatcher) logicalOrder(displayed []string) []string {
	if len(displayed) > 0 {
		if sess, ok := d.store.Session(displayed[0]); ok && len(sess.TurnIDs) > 0 {
			order := make([]string, 0, len(sess.TurnIDs))
			seen := make(map[string]bool, len(sess.TurnIDs))
			for _, turnID := range sess.TurnIDs {
				if turn, ok := d.store.Turn(turnID); ok && !seen[turn.LogicalID] {
					seen[turn.LogicalID] = true
					order = append(order, turn.LogicalID)
				}
			}
			for _, logicalID := range d.store.LogicalIDs() {
				if !seen[logicalID] {
					order = append(order, logicalID)
				}
			}
			return order
		}
	}
	return d.store.LogicalIDs()
}

func (d *Dispatcher) dispatchTurn(ctx context.Context, logicalID, turnID, revisionID string) error {
	rev, ok := d.store.Revision(revisionID)
	if !ok {
		return fmt.Errorf("revision %s not found", revisionID)
	}
	runID := uuid.NewString()
	keys := variables.RequiredKeys(rev, d.schemas)
	values := variables.PruneToKeys(d.sessionValues(revisionID), keys)
	history := d.History(revisionID, turnID)

	req := d.baseRequest(rev, runID, turnID)
	req.IsChat = true
	req.Variables = keys
	req.VariableValues = values
	req.ChatHistory = history

	d.status.MarkRunning(turnID, revisionID, runID)
	d.recordPending(runID, Pending{RowOrTurnID: turnID, RevisionID: revisionID})
	if err := d.worker.Run(ctx, req); err != nil {
		d.status.ClearRunning(turnID, revisionID)
		d.TakePending(runID)
		return fmt.Errorf("dispatch turn %s: %w", turnID, err)
	}
	return nil
}

func (d *Dispatcher) dispatchRow(ctx context.Context, rowID, revisionID string) error {
	rev, ok := d.store.Revision(revisionID)
	if !ok {
		return fmt.Errorf("revision %s not found", revisionID)
	}
	row, ok := d.store.Row(rowID)
	if !ok {
		return fmt.Errorf("row %s not found", rowID)
	}
	baseline, _ := d.store.Baseline()
	runID := uuid.NewString()
	keys := variables.RequiredKeys(rev, d.schemas)
	values := variables.PruneToKeys(variables.RowValues(row, revisionID, baseline), keys)

	req := d.baseRequest(rev, runID, rowID)
	req.Variables = keys
	req.VariableValues = values
	req.InputRow = values

	d.status.MarkRunning(rowID, revisionID, runID)
	d.recordPending(runID, Pending{RowOrTurnID: rowID, RevisionID: revisionID})
	if err := d.worker.Run(ctx, req); err != nil {
		d.status.ClearRunning(rowID, revisionID)
		d.TakePending(runID)
		return fmt.Errorf("dispatch row %s: %w", rowID, err)
	}
	return nil
}

func (d *Dispatcher) baseRequest(rev entity.Revision, runID, rowOrTurnID string) worker.Request {
	return worker.Request{
		RunID:       runID,
		RowID:       rowOrTurnID,
		RevisionID:  rev.ID,
		VariantID:   rev.VariantID,
		MessageID:   uuid.NewString(),
		IsChat:      rev.IsChat,
		IsCustom:    rev.IsCustom,
		AppID:       d.meta.AppID,
		AppType:     d.meta.AppType,
		ProjectID:   d.meta.ProjectID,
		URI:         d.meta.URI,
		APIURL:      d.meta.APIURL,
		Headers:     d.meta.Headers,
		AllMetadata: d.meta.AllMetadata,
		Spec:        d.meta.Spec,
		Prompts:     rev.Prompts,
	}
}

// sessionValues flattens a revision's session seed values, with the baseline
// session as fallback.
func (d *Dispatcher) sessionValues(revisionID string) map[string]string {
	out := make(map[string]string)
	if baseline, ok := d.store.Baseline(); ok && baseline != revisionID {
		if sess, ok := d.store.Session(baseline); ok {
			for _, node := range sess.Variables {
				if node.Key != "" {
					out[node.Key] = node.Value
				}
			}
		}
	}
	if sess, ok := d.store.Session(revisionID); ok {
		for _, node := range sess.Variables {
			if node.Key == "" {
				continue
			}
			if node.Value != "" {
				out[node.Key] = node.Value
			} else if _, exists := out[node.Key]; !exists {
				out[node.Key] = node.Value
			}
		}
	}
	return out
}

// CancelRow aborts in-flight runs for a row or turn (optionally narrowed to
// one revision) and clears the local running flags immediately, without
// waiting for worker acknowledgement.
func (d *Dispatcher) CancelRow(rowOrTurnID, revisionID string) {
	if d.worker != nil {
		d.worker.Cancel(rowOrTurnID, revisionID)
	}
	d.status.ClearRunningMatching(rowOrTurnID, revisionID)
	d.mu.Lock()
	for runID, p := range d.pending {
		if rowOrTurnID != "" && p.RowOrTurnID != rowOrTurnID {
			continue
		}
		if revisionID != "" && p.RevisionID != revisionID {
			continue
		}
		delete(d.pending, runID)
	}
	d.mu.Unlock()
}

// CancelAll aborts every in-flight run.
func (d *Dispatcher) CancelAll() {
	d.CancelRow("", "")
}

// Package playground wires the state graph together: entity store, run
// status, dispatcher, ingestion, and the background reactions. The view
// layer talks to the App through named entry points and plain reads; it
// never computes derived invariants itself.
package playground

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"promptarena/internal/dispatch"
	"promptarena/internal/entity"
	"promptarena/internal/ingest"
	"promptarena/internal/orchestrator"
	"promptarena/internal/resultcache"
	"promptarena/internal/runstatus"
	"promptarena/internal/schemameta"
	"promptarena/internal/turns"
	"promptarena/internal/variables"
	"promptarena/internal/worker"
)

// WorkerFactory builds the worker given the sink results flow back through.
type WorkerFactory func(sink worker.Sink) worker.Worker

// Options configures an App. Zero value gets an in-memory result cache and
// the fake worker.
type Options struct {
	Worker  WorkerFactory
	Results resultcache.Cache
	Archive ingest.Archiver
	Meta    dispatch.Meta
}

type App struct {
	Store      *entity.Store
	Status     *runstatus.Table
	Schemas    *schemameta.StaticProvider
	Turns      *turns.Manager
	Dispatcher *dispatch.Dispatcher
	Ingestor   *ingest.Ingestor
	Results    resultcache.Cache
	Syncer     *variables.Syncer

	orch   *orchestrator.Orchestrator
	worker worker.Worker

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(opts Options) *App {
	app := &App{
		Store:   entity.NewStore(),
		Status:  runstatus.NewTable(),
		Schemas: schemameta.NewStaticProvider(),
	}
	app.Results = opts.Results
	if app.Results == nil {
		app.Results = resultcache.NewFromEnv()
	}
	app.Turns = turns.NewManager(app.Store, app.Schemas)
	app.Syncer = variables.NewSyncer(app.Store, app.Schemas)

	// The worker delivers into the ingestor, which is constructed after the
	// dispatcher; the sink indirection breaks the construction cycle.
	sink := worker.SinkFunc(func(res worker.Result) {
		app.Ingestor.Deliver(res)
	})
	if opts.Worker != nil {
		app.worker = opts.Worker(sink)
	} else {
		app.worker = worker.NewFakeWorker(sink)
	}
	app.Dispatcher = dispatch.New(app.Store, app.Status, app.Schemas, app.worker, opts.Meta)
	app.Ingestor = ingest.New(app.Store, app.Status, app.Schemas, app.Dispatcher, app.Results)
	if opts.Archive != nil {
		app.Ingestor.SetArchiver(opts.Archive)
	}
	app.orch = orchestrator.New(app.Store, app.Status, app.Turns)
	return app
}

// Start launches the background reactions. Idempotent; Stop cancels them.
func (a *App) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.orch.Run(ctx)
	go a.syncLoop(ctx)
}

func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// syncLoop re-runs the variable sync whenever the store changes. The sync
// writes nothing when nothing changed, so the loop settles.
func (a *App) syncLoop(ctx context.Context) {
	for {
		ch := a.Store.Watch()
		a.Syncer.Sync()
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}

// --- named mutation entry points ---

// SetDisplayedRevisions replaces the comparison column set. Sessions are
// ensured for chat revisions and state is renormalized by the reactions.
func (a *App) SetDisplayedRevisions(ids []string) {
	a.Store.SetDisplayed(ids)
	for _, revID := range ids {
		if rev, ok := a.Store.Revision(revID); ok && rev.IsChat {
			a.Store.EnsureSession(revID)
		}
	}
	a.Turns.NormalizeAll(a.Store.Displayed())
}

// StartChat makes sure every displayed chat session has at least one turn to
// type into.
func (a *App) StartChat() string {
	displayed := a.Store.Displayed()
	for _, revID := range displayed {
		a.Store.EnsureSession(revID)
	}
	for _, revID := range displayed {
		if sess, ok := a.Store.Session(revID); ok && len(sess.TurnIDs) > 0 {
			a.Turns.NormalizeAll(displayed)
			return ""
		}
	}
	logicalID := a.Turns.AppendEmptyLogicalRow(displayed)
	a.Turns.NormalizeAll(displayed)
	return logicalID
}

// AddTestCase creates a completion-mode input row seeded with the baseline
// revision's required keys.
func (a *App) AddTestCase(values map[string]string) string {
	rowID := "row-" + uuid.NewString()
	row := entity.InputRow{
		ID:                  rowID,
		VariablesByRevision: make(map[string][]entity.PropertyNode),
		ResponsesByRevision: make(map[string][]entity.MessageNode),
	}
	if baseline, ok := a.Store.Baseline(); ok {
		if rev, revOK := a.Store.Revision(baseline); revOK {
			keys := variables.RequiredKeys(rev, a.Schemas)
			nodes := make([]entity.PropertyNode, 0, len(keys))
			for _, key := range keys {
				nodes = append(nodes, entity.NewPropertyNode(key, values[key]))
			}
			row.VariablesByRevision[baseline] = nodes
		}
	}
	a.Store.AddRow(row)
	return rowID
}

// SetVariable records a variable edit on a row for one revision.
func (a *App) SetVariable(rowID, revisionID, key, value string) bool {
	return a.Store.UpdateRow(rowID, func(row *entity.InputRow) {
		if row.VariablesByRevision == nil {
			row.VariablesByRevision = make(map[string][]entity.PropertyNode)
		}
		nodes := row.VariablesByRevision[revisionID]
		for i := range nodes {
			if nodes[i].Key == key {
				nodes[i].Value = value
				row.VariablesByRevision[revisionID] = nodes
				return
			}
		}
		row.VariablesByRevision[revisionID] = append(nodes, entity.NewPropertyNode(key, value))
	})
}

// TypeUserMessage replaces the user content of a revision's turn.
func (a *App) TypeUserMessage(logicalID, revisionID string, content entity.Content) bool {
	entry, ok := a.Store.LogicalEntry(logicalID)
	if !ok {
		return false
	}
	turnID, ok := entry[revisionID]
	if !ok {
		return false
	}
	return a.Store.UpdateTurn(turnID, func(t *entity.ChatTurn) {
		t.User.Content.Value = content
	})
}

// RunAll runs the latest meaningful logical turn across all displayed
// revisions.
func (a *App) RunAll(ctx context.Context) error {
	a.Turns.NormalizeAll(a.Store.Displayed())
	return a.Dispatcher.RunAllDisplayed(ctx)
}

// RunCell reruns a single revision's answer for one logical turn. In single
// display the redone tail is discarded, linearizing history; in comparison
// display only speculative empty continuations are pruned.
func (a *App) RunCell(ctx context.Context, logicalID, revisionID string) error {
	displayed := a.Store.Displayed()
	if len(displayed) <= 1 {
		a.Turns.PruneAllAfter(logicalID, displayed)
	} else {
		a.Turns.PruneEmptyTailAfter(logicalID, revisionID)
		a.Turns.ResyncIndex(displayed)
	}
	return a.Dispatcher.RunSingleCell(ctx, logicalID, revisionID)
}

// RunRow runs a completion-mode test case.
func (a *App) RunRow(ctx context.Context, rowID, revisionID string) error {
	return a.Dispatcher.RunRow(ctx, rowID, revisionID)
}

// DeleteTestCase removes a completion row and its run status entries.
func (a *App) DeleteTestCase(rowID string) {
	for _, revID := range a.Store.Displayed() {
		a.Status.Delete(rowID, revID)
	}
	a.Store.DeleteRow(rowID)
}

// DeleteChatRow removes a logical turn across every revision.
func (a *App) DeleteChatRow(logicalID string) {
	entry, _ := a.Store.LogicalEntry(logicalID)
	a.Turns.DeleteLogicalRow(logicalID)
	for revID, turnID := range entry {
		a.Status.Delete(turnID, revID)
	}
	a.Turns.NormalizeAll(a.Store.Displayed())
}

// Cancel aborts in-flight runs for a row/turn, or everything when empty.
func (a *App) Cancel(rowOrTurnID, revisionID string) {
	if rowOrTurnID == "" && revisionID == "" {
		a.Dispatcher.CancelAll()
		return
	}
	a.Dispatcher.CancelRow(rowOrTurnID, revisionID)
}

// Evaluate forces one synchronous orchestration pass. Tests use it to avoid
// racing the background loop.
func (a *App) Evaluate() {
	a.orch.Evaluate()
}

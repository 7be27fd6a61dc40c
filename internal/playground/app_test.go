package playground

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"promptarena/internal/entity"
	"promptarena/internal/worker"
)

// syncWorker completes every run inline, so tests observe the full
// dispatch-ingest-orchestrate chain without waiting on goroutines.
type syncWorker struct {
	sink worker.Sink
}

func (w *syncWorker) Run(_ context.Context, req worker.Request) error {
	reply := "reply"
	if n := len(req.ChatHistory); n > 0 {
		reply = "reply to " + req.ChatHistory[n-1].Content.PlainText()
	}
	w.sink.Deliver(worker.Result{
		RowID:      req.RowID,
		RunID:      req.RunID,
		MessageID:  req.MessageID,
		RevisionID: req.RevisionID,
		VariantID:  req.VariantID,
		Result:     worker.SuccessPayload(reply),
	})
	return nil
}

func (w *syncWorker) Cancel(string, string) {}

func newTestApp(t *testing.T, revisionIDs ...string) *App {
	t.Helper()
	app := New(Options{
		Worker: func(sink worker.Sink) worker.Worker { return &syncWorker{sink: sink} },
	})
	app.Dispatcher.Stagger = 0
	for _, id := range revisionIDs {
		app.Store.UpsertRevision(entity.Revision{ID: id, IsChat: true})
	}
	app.SetDisplayedRevisions(revisionIDs)
	return app
}

func TestChatFlowSingleRevision(t *testing.T) {
	app := newTestApp(t, "rev-a")
	ctx := context.Background()

	logicalID := app.StartChat()
	require.NotEmpty(t, logicalID)
	require.True(t, app.TypeUserMessage(logicalID, "rev-a", entity.TextContent("hello there")))

	require.NoError(t, app.RunAll(ctx))

	entry, ok := app.Store.LogicalEntry(logicalID)
	require.True(t, ok)
	turn, ok := app.Store.Turn(entry["rev-a"])
	require.True(t, ok)
	assistant := turn.Assistant("rev-a")
	require.NotNil(t, assistant)
	require.Equal(t, "reply", assistant.Content.Value.PlainText())

	st, ok := app.Status.Get(entry["rev-a"], "rev-a")
	require.True(t, ok)
	require.False(t, st.IsRunning())
	require.NotEmpty(t, st.ResultHash)

	// Completion appends exactly one fresh empty row.
	app.Evaluate()
	ids := app.Store.LogicalIDs()
	require.Len(t, ids, 2)
	nextEntry, _ := app.Store.LogicalEntry(ids[1])
	nextTurn, _ := app.Store.Turn(nextEntry["rev-a"])
	require.True(t, nextTurn.IsEmpty())

	app.Evaluate()
	require.Len(t, app.Store.LogicalIDs(), 2)
}

func TestChatFlowComparisonFanout(t *testing.T) {
	app := newTestApp(t, "rev-a", "rev-b")
	ctx := context.Background()

	logicalID := app.StartChat()
	require.True(t, app.TypeUserMessage(logicalID, "rev-a", entity.TextContent("compare this")))
	require.True(t, app.TypeUserMessage(logicalID, "rev-b", entity.TextContent("compare this")))

	require.NoError(t, app.RunAll(ctx))

	entry, _ := app.Store.LogicalEntry(logicalID)
	for _, rev := range []string{"rev-a", "rev-b"} {
		turn, ok := app.Store.Turn(entry[rev])
		require.True(t, ok, rev)
		require.NotNil(t, turn.Assistant(rev), rev)
	}

	// Both columns reported: one shared row appended, realized per revision.
	app.Evaluate()
	ids := app.Store.LogicalIDs()
	require.Len(t, ids, 2)
	appended, _ := app.Store.LogicalEntry(ids[1])
	require.NotEmpty(t, appended["rev-a"])
	require.NotEmpty(t, appended["rev-b"])
}

func TestSingleCellRerunDoesNotAppendInComparison(t *testing.T) {
	app := newTestApp(t, "rev-a", "rev-b")
	ctx := context.Background()

	logicalID := app.StartChat()
	app.TypeUserMessage(logicalID, "rev-a", entity.TextContent("q"))
	app.TypeUserMessage(logicalID, "rev-b", entity.TextContent("q"))
	require.NoError(t, app.RunAll(ctx))
	app.Evaluate()
	require.Len(t, app.Store.LogicalIDs(), 2)

	require.NoError(t, app.RunCell(ctx, logicalID, "rev-b"))
	app.Evaluate()

	// The rerun refreshed the one cell without growing the conversation.
	require.Len(t, app.Store.LogicalIDs(), 2)
	entry, _ := app.Store.LogicalEntry(logicalID)
	turn, _ := app.Store.Turn(entry["rev-b"])
	require.NotNil(t, turn.Assistant("rev-b"))
}

func TestMidConversationRerunLinearizesInSingleMode(t *testing.T) {
	app := newTestApp(t, "rev-a")
	ctx := context.Background()

	first := app.StartChat()
	app.TypeUserMessage(first, "rev-a", entity.TextContent("first question"))
	require.NoError(t, app.RunAll(ctx))
	app.Evaluate()

	ids := app.Store.LogicalIDs()
	require.Len(t, ids, 2)
	second := ids[1]
	app.TypeUserMessage(second, "rev-a", entity.TextContent("second question"))
	require.NoError(t, app.RunAll(ctx))
	app.Evaluate()
	require.Len(t, app.Store.LogicalIDs(), 3)

	// Rerunning the first turn discards everything after it.
	require.NoError(t, app.RunCell(ctx, first, "rev-a"))
	app.Evaluate()

	ids = app.Store.LogicalIDs()
	require.GreaterOrEqual(t, len(ids), 1)
	require.Equal(t, first, ids[0])
	for _, id := range ids[1:] {
		entry, _ := app.Store.LogicalEntry(id)
		turn, _ := app.Store.Turn(entry["rev-a"])
		require.True(t, turn.IsEmpty(), "only fresh empty rows may follow the rerun anchor")
	}
}

func TestCompletionModeRowFlow(t *testing.T) {
	app := New(Options{
		Worker: func(sink worker.Sink) worker.Worker { return &syncWorker{sink: sink} },
	})
	app.Dispatcher.Stagger = 0
	app.Store.UpsertRevision(entity.Revision{
		ID: "rev-a",
		Prompts: []entity.Prompt{{
			Messages: []entity.Message{{Role: "user", Content: entity.TextContent("write about {{topic}}")}},
		}},
	})
	app.SetDisplayedRevisions([]string{"rev-a"})
	ctx := context.Background()

	rowID := app.AddTestCase(map[string]string{"topic": "go"})
	row, ok := app.Store.Row(rowID)
	require.True(t, ok)
	nodes := row.VariablesByRevision["rev-a"]
	require.Len(t, nodes, 1)
	require.Equal(t, "topic", nodes[0].Key)
	require.Equal(t, "go", nodes[0].Value)

	require.NoError(t, app.RunRow(ctx, rowID, "rev-a"))

	row, _ = app.Store.Row(rowID)
	responses := row.ResponsesByRevision["rev-a"]
	require.Len(t, responses, 1)
	hash := responses[0].Content.Value.PlainText()
	require.NotEmpty(t, hash)

	payload, ok := app.Results.Get(ctx, hash)
	require.True(t, ok)
	require.Contains(t, string(payload), "reply")

	app.DeleteTestCase(rowID)
	_, ok = app.Store.Row(rowID)
	require.False(t, ok)
}

func TestVariableSyncReactsToRevisionEdit(t *testing.T) {
	app := New(Options{
		Worker: func(sink worker.Sink) worker.Worker { return &syncWorker{sink: sink} },
	})
	app.Store.UpsertRevision(entity.Revision{
		ID: "rev-a",
		Prompts: []entity.Prompt{{
			Messages: []entity.Message{{Role: "system", Content: entity.TextContent("{{alpha}}")}},
		}},
	})
	app.SetDisplayedRevisions([]string{"rev-a"})
	rowID := app.AddTestCase(map[string]string{"alpha": "one"})
	app.Syncer.Sync()

	// The prompt gains a variable and drops the old one.
	app.Store.UpsertRevision(entity.Revision{
		ID: "rev-a",
		Prompts: []entity.Prompt{{
			Messages: []entity.Message{{Role: "system", Content: entity.TextContent("{{beta}}")}},
		}},
	})
	app.Syncer.Sync()

	row, _ := app.Store.Row(rowID)
	nodes := row.VariablesByRevision["rev-a"]
	require.Len(t, nodes, 1)
	require.Equal(t, "beta", nodes[0].Key)
	require.Empty(t, nodes[0].Value)
}

func TestDeleteChatRowClearsStatus(t *testing.T) {
	app := newTestApp(t, "rev-a")
	ctx := context.Background()

	logicalID := app.StartChat()
	app.TypeUserMessage(logicalID, "rev-a", entity.TextContent("q"))
	require.NoError(t, app.RunAll(ctx))
	entry, _ := app.Store.LogicalEntry(logicalID)
	turnID := entry["rev-a"]

	app.DeleteChatRow(logicalID)

	_, ok := app.Store.LogicalEntry(logicalID)
	require.False(t, ok)
	_, ok = app.Store.Turn(turnID)
	require.False(t, ok)
	_, ok = app.Status.Get(turnID, "rev-a")
	require.False(t, ok)
}

func TestSnapshotIsDetached(t *testing.T) {
	app := newTestApp(t, "rev-a")
	logicalID := app.StartChat()
	app.TypeUserMessage(logicalID, "rev-a", entity.TextContent("q"))

	snap := app.Snapshot()
	require.Equal(t, []string{"rev-a"}, snap.Displayed)
	require.Len(t, snap.ChatRows, 1)

	// Mutating the snapshot must not leak into the store.
	turn := snap.ChatRows[0].Turns["rev-a"]
	turn.User.Content.Value = entity.TextContent("mutated")
	fresh, _ := app.Store.Turn(entity.TurnIDFor("rev-a", logicalID))
	require.Equal(t, "q", fresh.User.Content.Value.PlainText())
}

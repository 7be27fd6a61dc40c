package turns

import (
	"testing"

	"promptarena/internal/entity"
)

func TestNormalizeAllBackfillsMissingTurns(t *testing.T) {
	store := newStoreWithRevisions("rev-a", "rev-b")
	m := NewManager(store, nil)
	displayed := []string{"rev-a", "rev-b"}

	// rev-a has two turns, rev-b only the first.
	m.CreateEmptyTurn("l1", "rev-a")
	m.CreateEmptyTurn("l1", "rev-b")
	second := m.CreateEmptyTurn("l2", "rev-a")
	setUserText(t, store, second.ID, "second question")

	m.NormalizeAll(displayed)

	entry, ok := store.LogicalEntry("l2")
	if !ok || entry["rev-b"] == "" {
		t.Fatalf("missing turn not backfilled: ok=%v %v", ok, entry)
	}
	filled, _ := store.Turn(entry["rev-b"])
	if filled.User.Content.Value.PlainText() != "second question" {
		t.Fatalf("backfilled turn must clone sibling user content: %+v", filled.User.Content.Value)
	}
	if filled.User.ID == second.User.ID {
		t.Fatalf("backfilled node must mint new ids")
	}

	sess, _ := store.Session("rev-b")
	if len(sess.TurnIDs) != 2 {
		t.Fatalf("rev-b session: %v", sess.TurnIDs)
	}
	last, _ := store.Turn(sess.TurnIDs[1])
	if last.LogicalID != "l2" {
		t.Fatalf("backfilled turn must land at the sibling's position: %+v", last)
	}
}

func TestNormalizeAllBackfillsAtMidPosition(t *testing.T) {
	store := newStoreWithRevisions("rev-a", "rev-b")
	m := NewManager(store, nil)
	displayed := []string{"rev-a", "rev-b"}

	m.CreateEmptyTurn("l1", "rev-a")
	m.CreateEmptyTurn("l2", "rev-a")
	m.CreateEmptyTurn("l3", "rev-a")
	m.CreateEmptyTurn("l1", "rev-b")
	m.CreateEmptyTurn("l3", "rev-b")

	m.NormalizeAll(displayed)

	sess, _ := store.Session("rev-b")
	if len(sess.TurnIDs) != 3 {
		t.Fatalf("rev-b session: %v", sess.TurnIDs)
	}
	mid, _ := store.Turn(sess.TurnIDs[1])
	if mid.LogicalID != "l2" {
		t.Fatalf("backfill must preserve relative order, got %s at index 1", mid.LogicalID)
	}
}

func TestNormalizeAllRepairsMalformedNodes(t *testing.T) {
	store := newStoreWithRevisions("rev-a")
	m := NewManager(store, nil)

	turn := entity.ChatTurn{
		ID:         entity.TurnIDFor("rev-a", "l1"),
		RevisionID: "rev-a",
		LogicalID:  "l1",
		// User node entirely unset, AssistantByRevision nil.
	}
	store.PutTurn(turn)
	store.SetLogicalEntry("l1", "rev-a", turn.ID)

	m.NormalizeAll([]string{"rev-a"})

	repaired, _ := store.Turn(turn.ID)
	if repaired.User.ID == "" || repaired.User.Role.Value != "user" {
		t.Fatalf("user node not repaired: %+v", repaired.User)
	}
	if repaired.AssistantByRevision == nil {
		t.Fatalf("assistant map must be initialized")
	}
}

func TestResyncIndexRebuildsFromSessions(t *testing.T) {
	store := newStoreWithRevisions("rev-a")
	m := NewManager(store, nil)

	first := m.CreateEmptyTurn("l1", "rev-a")
	m.CreateEmptyTurn("l2", "rev-a")

	// Delete a turn behind the index's back, then resync.
	store.DeleteTurn(first.ID)
	m.ResyncIndex([]string{"rev-a"})

	if _, ok := store.LogicalEntry("l1"); ok {
		t.Fatalf("stale index entry must be dropped")
	}
	ids := store.LogicalIDs()
	if len(ids) != 1 || ids[0] != "l2" {
		t.Fatalf("logical order after resync: %v", ids)
	}
}

func TestHasEmptyTrailingTurn(t *testing.T) {
	store := newStoreWithRevisions("rev-a", "rev-b")
	m := NewManager(store, nil)
	displayed := []string{"rev-a", "rev-b"}

	if m.HasEmptyTrailingTurn(displayed) {
		t.Fatalf("no turns yet")
	}
	turn := m.CreateEmptyTurn("l1", "rev-a")
	if !m.HasEmptyTrailingTurn(displayed) {
		t.Fatalf("trailing empty turn not detected")
	}
	setUserText(t, store, turn.ID, "content")
	if m.HasEmptyTrailingTurn(displayed) {
		t.Fatalf("turn with user content is not empty")
	}
}

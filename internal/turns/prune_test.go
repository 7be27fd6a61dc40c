package turns

import (
	"testing"

	"promptarena/internal/entity"
)

func TestPruneEmptyTailAfterStopsAtContent(t *testing.T) {
	store := newStoreWithRevisions("rev-a")
	m := NewManager(store, nil)

	first := m.CreateEmptyTurn("l1", "rev-a")
	setUserText(t, store, first.ID, "anchor")
	kept := m.CreateEmptyTurn("l2", "rev-a")
	setUserText(t, store, kept.ID, "meaningful later turn")
	m.CreateEmptyTurn("l3", "rev-a")
	m.CreateEmptyTurn("l4", "rev-a")

	m.PruneEmptyTailAfter("l1", "rev-a")

	sess, _ := store.Session("rev-a")
	if len(sess.TurnIDs) != 2 {
		t.Fatalf("session after prune: %v", sess.TurnIDs)
	}
	if _, ok := store.Turn(kept.ID); !ok {
		t.Fatalf("turn with content must survive")
	}
	if _, ok := store.LogicalEntry("l3"); ok {
		t.Fatalf("pruned turn must leave the index")
	}
}

func TestPruneEmptyTailKeepsAnsweredTurns(t *testing.T) {
	store := newStoreWithRevisions("rev-a")
	m := NewManager(store, nil)

	first := m.CreateEmptyTurn("l1", "rev-a")
	setUserText(t, store, first.ID, "anchor")
	answered := m.CreateEmptyTurn("l2", "rev-a")
	node := entity.NewMessageNode("assistant", entity.TextContent("reply"))
	store.SetTurnAssistant(answered.ID, "rev-a", &node)

	m.PruneEmptyTailAfter("l1", "rev-a")

	if _, ok := store.Turn(answered.ID); !ok {
		t.Fatalf("turn with an assistant response must survive")
	}
}

func TestPruneAllAfterDiscardsTail(t *testing.T) {
	store := newStoreWithRevisions("rev-a", "rev-b")
	m := NewManager(store, nil)
	displayed := []string{"rev-a", "rev-b"}

	for _, logicalID := range []string{"l1", "l2", "l3"} {
		for _, rev := range displayed {
			turn := m.CreateEmptyTurn(logicalID, rev)
			setUserText(t, store, turn.ID, "content "+logicalID)
		}
	}

	m.PruneAllAfter("l1", displayed)

	for _, rev := range displayed {
		sess, _ := store.Session(rev)
		if len(sess.TurnIDs) != 1 {
			t.Fatalf("session %s after prune: %v", rev, sess.TurnIDs)
		}
	}
	ids := store.LogicalIDs()
	if len(ids) != 1 || ids[0] != "l1" {
		t.Fatalf("index after prune: %v", ids)
	}
}

func TestPruneTrailingEmpty(t *testing.T) {
	store := newStoreWithRevisions("rev-a")
	m := NewManager(store, nil)

	filled := m.CreateEmptyTurn("l1", "rev-a")
	setUserText(t, store, filled.ID, "kept")
	m.CreateEmptyTurn("l2", "rev-a")
	m.CreateEmptyTurn("l3", "rev-a")

	m.PruneTrailingEmpty([]string{"rev-a"})

	sess, _ := store.Session("rev-a")
	if len(sess.TurnIDs) != 1 || sess.TurnIDs[0] != filled.ID {
		t.Fatalf("session after prune: %v", sess.TurnIDs)
	}
}

func TestDeleteLogicalRow(t *testing.T) {
	store := newStoreWithRevisions("rev-a", "rev-b")
	m := NewManager(store, nil)

	m.CreateEmptyTurn("l1", "rev-a")
	m.CreateEmptyTurn("l1", "rev-b")
	entry, _ := store.LogicalEntry("l1")

	m.DeleteLogicalRow("l1")

	if _, ok := store.LogicalEntry("l1"); ok {
		t.Fatalf("index entry must be removed")
	}
	for _, turnID := range entry {
		if _, ok := store.Turn(turnID); ok {
			t.Fatalf("turn %s must be deleted", turnID)
		}
	}
}

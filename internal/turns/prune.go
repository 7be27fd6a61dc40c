package turns

import (
	"promptarena/internal/entity"
)

// DeleteLogicalRow removes the logical turn's realization in every revision
// and drops the index entry. Used for user-initiated row deletion.
func (m *Manager) DeleteLogicalRow(logicalID string) {
	entry, ok := m.store.LogicalEntry(logicalID)
	if !ok {
		return
	}
	for _, turnID := range entry {
		m.store.DeleteTurn(turnID)
	}
	m.store.RemoveLogicalEntry(logicalID)
}

// PruneEmptyTailAfter deletes the empty trailing turns strictly after
// logicalID in one revision's session. Turns with user content or an
// assistant response are kept; rerunning a cell must not discard meaningful
// later turns, only speculative empty continuations.
func (m *Manager) PruneEmptyTailAfter(logicalID, revisionID string) {
	sess, ok := m.store.Session(revisionID)
	if !ok {
		return
	}
	anchor := m.positionOf(sess, logicalID)
	if anchor < 0 {
		return
	}
	for i := len(sess.TurnIDs) - 1; i > anchor; i-- {
		turn, ok := m.store.Turn(sess.TurnIDs[i])
		if !ok {
			m.store.SetSessionTurns(revisionID, removeAt(sess.TurnIDs, i))
			sess, _ = m.store.Session(revisionID)
			continue
		}
		if !turn.IsEmpty() {
			break
		}
		m.store.DeleteTurn(turn.ID)
		m.dropFromIndex(turn.LogicalID, revisionID)
		sess, _ = m.store.Session(revisionID)
	}
}

// PruneAllAfter deletes every turn strictly after logicalID across all
// displayed revisions. Used when a mid-conversation turn is rerun in
// single-variant mode, which linearizes history by discarding the tail.
func (m *Manager) PruneAllAfter(logicalID string, displayed []string) {
	for _, revID := range displayed {
		sess, ok := m.store.Session(revID)
		if !ok {
			continue
		}
		anchor := m.positionOf(sess, logicalID)
		if anchor < 0 {
			continue
		}
		for i := len(sess.TurnIDs) - 1; i > anchor; i-- {
			if turn, ok := m.store.Turn(sess.TurnIDs[i]); ok {
				m.store.DeleteTurn(turn.ID)
				m.dropFromIndex(turn.LogicalID, revID)
			}
		}
	}
	m.ResyncIndex(displayed)
}

// PruneTrailingEmpty removes empty tail turns from every displayed session.
// Used on the multi-to-single display transition so a stale empty turn from
// the dropped mode is not misread as a completed round.
func (m *Manager) PruneTrailingEmpty(displayed []string) {
	for _, revID := range displayed {
		sess, ok := m.store.Session(revID)
		if !ok {
			continue
		}
		for len(sess.TurnIDs) > 0 {
			last := sess.TurnIDs[len(sess.TurnIDs)-1]
			turn, ok := m.store.Turn(last)
			if !ok {
				m.store.SetSessionTurns(revID, sess.TurnIDs[:len(sess.TurnIDs)-1])
				sess, _ = m.store.Session(revID)
				continue
			}
			if !turn.IsEmpty() {
				break
			}
			m.store.DeleteTurn(turn.ID)
			m.dropFromIndex(turn.LogicalID, revID)
			sess, _ = m.store.Session(revID)
		}
	}
}

func (m *Manager) positionOf(sess entity.ChatSession, logicalID string) int {
	for i, turnID := range sess.TurnIDs {
		if turn, ok := m.store.Turn(turnID); ok && turn.LogicalID == logicalID {
			return i
		}
	}
	return -1
}

func (m *Manager) dropFromIndex(logicalID, revisionID string) {
	m.store.RemoveLogicalRevision(logicalID, revisionID)
}

func removeAt(ids []string, i int) []string {
	out := make([]string, 0, len(ids)-1)
	out = append(out, ids[:i]...)
	out = append(out, ids[i+1:]...)
	return out
}

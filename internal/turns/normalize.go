package turns

import (
	"promptarena/internal/entity"
)

// NormalizeAll repairs every turn reachable from the displayed sessions and
// backfills per-revision turns missing for logical ids that exist for at
// least one other displayed revision. Finishes with an index resync.
func (m *Manager) NormalizeAll(displayed []string) {
	if m == nil || m.store == nil || len(displayed) == 0 {
		return
	}
	for _, revID := range displayed {
		m.store.EnsureSession(revID)
	}

	// Coerce partially formed role/content nodes.
	for _, revID := range displayed {
		sess, ok := m.store.Session(revID)
		if !ok {
			continue
		}
		for _, turnID := range sess.TurnIDs {
			turn, ok := m.store.Turn(turnID)
			if !ok {
				continue
			}
			user := turn.User
			if entity.NormalizeMessageNode(&user, "user") || turn.AssistantByRevision == nil {
				m.store.UpdateTurn(turnID, func(t *entity.ChatTurn) {
					t.User = user
					if t.AssistantByRevision == nil {
						t.AssistantByRevision = map[string]*entity.MessageNode{}
					}
				})
			}
		}
	}

	m.backfillMissingTurns(displayed)
	m.ResyncIndex(displayed)
}

// backfillMissingTurns inserts, for every displayed revision, a turn for each
// logical id realized by some other displayed revision, at the same relative
// position, cloning the sibling's user content.
func (m *Manager) backfillMissingTurns(displayed []string) {
	order, positions := m.mergedLogicalOrder(displayed)
	if len(order) == 0 {
		return
	}
	for _, revID := range displayed {
		sess, ok := m.store.Session(revID)
		if !ok {
			continue
		}
		have := make(map[string]bool, len(sess.TurnIDs))
		for _, turnID := range sess.TurnIDs {
			if turn, ok := m.store.Turn(turnID); ok {
				have[turn.LogicalID] = true
			}
		}
		for _, logicalID := range order {
			if have[logicalID] {
				continue
			}
			donor, ok := m.donorTurn(logicalID, revID, displayed)
			if !ok {
				continue
			}
			user := donor.User.Clone()
			user.ID = entity.NewNodeID()
			user.Role.ID = entity.NewNodeID()
			user.Content.ID = entity.NewNodeID()
			turn := entity.ChatTurn{
				ID:                  entity.TurnIDFor(revID, logicalID),
				SessionID:           entity.SessionIDFor(revID),
				RevisionID:          revID,
				LogicalID:           logicalID,
				User:                user,
				AssistantByRevision: map[string]*entity.MessageNode{},
			}
			m.store.InsertTurnAt(revID, positions[logicalID], turn)
			m.store.SetLogicalEntry(logicalID, revID, turn.ID)
			have[logicalID] = true
		}
	}
}

// mergedLogicalOrder walks displayed sessions (baseline first) and returns
// the union of logical ids in visual order plus each id's row position.
func (m *Manager) mergedLogicalOrder(displayed []string) ([]string, map[string]int) {
	var order []string
	seen := make(map[string]bool)
	for _, revID := range displayed {
		sess, ok := m.store.Session(revID)
		if !ok {
			continue
		}
		for _, turnID := range sess.TurnIDs {
			turn, ok := m.store.Turn(turnID)
			if !ok || seen[turn.LogicalID] {
				continue
			}
			seen[turn.LogicalID] = true
			order = append(order, turn.LogicalID)
		}
	}
	positions := make(map[string]int, len(order))
	for i, logicalID := range order {
		positions[logicalID] = i
	}
	return order, positions
}

func (m *Manager) donorTurn(logicalID, excludeRev string, displayed []string) (entity.ChatTurn, bool) {
	for _, revID := range displayed {
		if revID == excludeRev {
			continue
		}
		sess, ok := m.store.Session(revID)
		if !ok {
			continue
		}
		for _, turnID := range sess.TurnIDs {
			turn, ok := m.store.Turn(turnID)
			if ok && turn.LogicalID == logicalID {
				return turn, true
			}
		}
	}
	return entity.ChatTurn{}, false
}

// ResyncIndex authoritatively rebuilds the logical turn index from the
// displayed sessions' actual turn lists.
func (m *Manager) ResyncIndex(displayed []string) {
	index := make(map[string]map[string]string)
	var order []string
	seen := make(map[string]bool)
	for _, revID := range displayed {
		sess, ok := m.store.Session(revID)
		if !ok {
			continue
		}
		for _, turnID := range sess.TurnIDs {
			turn, ok := m.store.Turn(turnID)
			if !ok {
				continue
			}
			entry, ok := index[turn.LogicalID]
			if !ok {
				entry = make(map[string]string)
				index[turn.LogicalID] = entry
			}
			entry[revID] = turn.ID
			if !seen[turn.LogicalID] {
				seen[turn.LogicalID] = true
				order = append(order, turn.LogicalID)
			}
		}
	}
	m.store.ReplaceLogicalIndex(index, order)
}

// HasEmptyTrailingTurn reports whether any displayed session already ends in
// a turn with no user content and no assistant response.
func (m *Manager) HasEmptyTrailingTurn(displayed []string) bool {
	for _, revID := range displayed {
		sess, ok := m.store.Session(revID)
		if !ok || len(sess.TurnIDs) == 0 {
			continue
		}
		if turn, ok := m.store.Turn(sess.TurnIDs[len(sess.TurnIDs)-1]); ok && turn.IsEmpty() {
			return true
		}
	}
	return false
}

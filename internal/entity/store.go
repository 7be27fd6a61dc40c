package entity

import (
	"strings"
	"sync"
)

// Store holds the normalized playground tables: revisions (with draft
// overlays), input rows, chat sessions, chat turns, the logical turn index,
// and the displayed-revision list. It is the process-wide source of truth;
// every mutation goes through a named method, never an ad hoc field write, so
// cross-cutting invariants stay centrally enforced.
//
// Mutations are whole-value replacement per key. Subscribers observe changes
// through Watch (closed-and-recreated channel) plus a monotonic version.
type Store struct {
	mu sync.RWMutex

	revisions map[string]Revision
	drafts    map[string]Revision
	displayed []string

	rows     map[string]InputRow
	rowOrder []string

	sessions map[string]ChatSession // keyed by revision id
	turns    map[string]ChatTurn

	logical      map[string]map[string]string // logicalID -> revisionID -> turnID
	logicalOrder []string

	version uint64
	changed chan struct{}
}

func NewStore() *Store {
	return &Store{
		revisions: make(map[string]Revision),
		drafts:    make(map[string]Revision),
		rows:      make(map[string]InputRow),
		sessions:  make(map[string]ChatSession),
		turns:     make(map[string]ChatTurn),
		logical:   make(map[string]map[string]string),
		changed:   make(chan struct{}),
	}
}

// Watch returns a channel closed on the next store change.
func (s *Store) Watch() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Version returns the current mutation counter.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) bumpLocked() {
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
}

// --- revisions ---

// UpsertRevision records a committed revision.
func (s *Store) UpsertRevision(rev Revision) {
	if strings.TrimSpace(rev.ID) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisions[rev.ID] = rev
	s.bumpLocked()
}

// SetDraft overlays an uncommitted draft for a revision id.
func (s *Store) SetDraft(rev Revision) {
	if strings.TrimSpace(rev.ID) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[rev.ID] = rev
	s.bumpLocked()
}

// ClearDraft removes the draft overlay for a revision id.
func (s *Store) ClearDraft(revisionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drafts[revisionID]; !ok {
		return
	}
	delete(s.drafts, revisionID)
	s.bumpLocked()
}

// Revision resolves a revision by id, preferring the draft overlay.
func (s *Store) Revision(id string) (Revision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rev, ok := s.drafts[id]; ok {
		return rev, true
	}
	rev, ok := s.revisions[id]
	return rev, ok
}

// SetDisplayed replaces the displayed-revision list. The first entry is the
// baseline revision.
func (s *Store) SetDisplayed(ids []string) {
	cleaned := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cleaned = append(cleaned, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayed = cleaned
	s.bumpLocked()
}

// Displayed returns the displayed revision ids in order.
func (s *Store) Displayed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.displayed...)
}

// Baseline returns the first displayed revision id.
func (s *Store) Baseline() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.displayed) == 0 {
		return "", false
	}
	return s.displayed[0], true
}

// --- input rows ---

// AddRow registers an input row, initializing its maps.
func (s *Store) AddRow(row InputRow) {
	if strings.TrimSpace(row.ID) == "" {
		return
	}
	if row.VariablesByRevision == nil {
		row.VariablesByRevision = make(map[string][]PropertyNode)
	}
	if row.ResponsesByRevision == nil {
		row.ResponsesByRevision = make(map[string][]MessageNode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[row.ID]; !exists {
		s.rowOrder = append(s.rowOrder, row.ID)
	}
	s.rows[row.ID] = row
	s.bumpLocked()
}

// Row returns a deep copy of the row.
func (s *Store) Row(id string) (InputRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return InputRow{}, false
	}
	return row.Clone(), true
}

// Rows returns deep copies of all rows in insertion order.
func (s *Store) Rows() []InputRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InputRow, 0, len(s.rowOrder))
	for _, id := range s.rowOrder {
		if row, ok := s.rows[id]; ok {
			out = append(out, row.Clone())
		}
	}
	return out
}

// DeleteRow removes an input row.
func (s *Store) DeleteRow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return
	}
	delete(s.rows, id)
	for i, existing := range s.rowOrder {
		if existing == id {
			s.rowOrder = append(s.rowOrder[:i], s.rowOrder[i+1:]...)
			break
		}
	}
	s.bumpLocked()
}

// UpdateRow applies fn to a row under the store lock.
func (s *Store) UpdateRow(id string, fn func(*InputRow)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return false
	}
	fn(&row)
	row.ID = id
	s.rows[id] = row
	s.bumpLocked()
	return true
}

// SetRowVariables replaces the property nodes recorded for one revision.
func (s *Store) SetRowVariables(rowID, revisionID string, nodes []PropertyNode) bool {
	return s.UpdateRow(rowID, func(row *InputRow) {
		if row.VariablesByRevision == nil {
			row.VariablesByRevision = make(map[string][]PropertyNode)
		}
		row.VariablesByRevision[revisionID] = append([]PropertyNode(nil), nodes...)
	})
}

// AppendRowResponse appends an assistant reference node for a revision unless
// a node with the same content value is already present.
func (s *Store) AppendRowResponse(rowID, revisionID string, node MessageNode) bool {
	appended := false
	s.UpdateRow(rowID, func(row *InputRow) {
		if row.ResponsesByRevision == nil {
			row.ResponsesByRevision = make(map[string][]MessageNode)
		}
		want := node.Content.Value.PlainText()
		for _, existing := range row.ResponsesByRevision[revisionID] {
			if existing.Content.Value.PlainText() == want {
				return
			}
		}
		row.ResponsesByRevision[revisionID] = append(row.ResponsesByRevision[revisionID], node)
		appended = true
	})
	return appended
}

// --- chat sessions and turns ---

// EnsureSession returns the session for a revision, creating it lazily the
// first time the revision is displayed in chat mode.
func (s *Store) EnsureSession(revisionID string) ChatSession {
	revisionID = strings.TrimSpace(revisionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[revisionID]; ok {
		return sess.Clone()
	}
	sess := ChatSession{ID: SessionIDFor(revisionID), RevisionID: revisionID}
	s.sessions[revisionID] = sess
	s.bumpLocked()
	return sess.Clone()
}

// Session returns a deep copy of the session for a revision.
func (s *Store) Session(revisionID string) (ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[revisionID]
	if !ok {
		return ChatSession{}, false
	}
	return sess.Clone(), true
}

// SessionRevisionIDs returns the revision ids that currently have sessions.
func (s *Store) SessionRevisionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for rev := range s.sessions {
		out = append(out, rev)
	}
	return out
}

// DeleteSession drops a revision's session and all of its turns.
func (s *Store) DeleteSession(revisionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[revisionID]
	if !ok {
		return
	}
	for _, turnID := range sess.TurnIDs {
		delete(s.turns, turnID)
	}
	delete(s.sessions, revisionID)
	s.bumpLocked()
}

// SetSessionTurns replaces a session's ordered turn-id list.
func (s *Store) SetSessionTurns(revisionID string, turnIDs []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[revisionID]
	if !ok {
		return false
	}
	sess.TurnIDs = append([]string(nil), turnIDs...)
	s.sessions[revisionID] = sess
	s.bumpLocked()
	return true
}

// SetSessionVariables replaces a session's seed property nodes.
func (s *Store) SetSessionVariables(revisionID string, nodes []PropertyNode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[revisionID]
	if !ok {
		return false
	}
	sess.Variables = append([]PropertyNode(nil), nodes...)
	s.sessions[revisionID] = sess
	s.bumpLocked()
	return true
}

// PutTurn stores a turn and appends it to its session's turn list when it is
// not already referenced. The session is created if missing.
func (s *Store) PutTurn(turn ChatTurn) {
	if strings.TrimSpace(turn.ID) == "" || strings.TrimSpace(turn.RevisionID) == "" {
		return
	}
	if turn.SessionID == "" {
		turn.SessionID = SessionIDFor(turn.RevisionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[turn.RevisionID]
	if !ok {
		sess = ChatSession{ID: SessionIDFor(turn.RevisionID), RevisionID: turn.RevisionID}
	}
	found := false
	for _, id := range sess.TurnIDs {
		if id == turn.ID {
			found = true
			break
		}
	}
	if !found {
		sess.TurnIDs = append(sess.TurnIDs, turn.ID)
	}
	s.sessions[turn.RevisionID] = sess
	s.turns[turn.ID] = turn
	s.bumpLocked()
}

// InsertTurnAt stores a turn and inserts it at index into the session's turn
// list (clamped to the list bounds).
func (s *Store) InsertTurnAt(revisionID string, index int, turn ChatTurn) {
	if strings.TrimSpace(turn.ID) == "" {
		return
	}
	if turn.SessionID == "" {
		turn.SessionID = SessionIDFor(revisionID)
	}
	turn.RevisionID = revisionID
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[revisionID]
	if !ok {
		sess = ChatSession{ID: SessionIDFor(revisionID), RevisionID: revisionID}
	}
	for _, id := range sess.TurnIDs {
		if id == turn.ID {
			s.turns[turn.ID] = turn
			s.sessions[revisionID] = sess
			s.bumpLocked()
			return
		}
	}
	if index < 0 {
		index = 0
	}
	if index > len(sess.TurnIDs) {
		index = len(sess.TurnIDs)
	}
	ids := make([]string, 0, len(sess.TurnIDs)+1)
	ids = append(ids, sess.TurnIDs[:index]...)
	ids = append(ids, turn.ID)
	ids = append(ids, sess.TurnIDs[index:]...)
	sess.TurnIDs = ids
	s.sessions[revisionID] = sess
	s.turns[turn.ID] = turn
	s.bumpLocked()
}

// Turn returns a deep copy of a turn.
func (s *Store) Turn(id string) (ChatTurn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turn, ok := s.turns[id]
	if !ok {
		return ChatTurn{}, false
	}
	return turn.Clone(), true
}

// UpdateTurn applies fn to a turn under the store lock.
func (s *Store) UpdateTurn(id string, fn func(*ChatTurn)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, ok := s.turns[id]
	if !ok {
		return false
	}
	fn(&turn)
	turn.ID = id
	s.turns[id] = turn
	s.bumpLocked()
	return true
}

// DeleteTurn removes a turn and unlinks it from its session.
func (s *Store) DeleteTurn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, ok := s.turns[id]
	if !ok {
		return
	}
	delete(s.turns, id)
	if sess, ok := s.sessions[turn.RevisionID]; ok {
		for i, turnID := range sess.TurnIDs {
			if turnID == id {
				sess.TurnIDs = append(sess.TurnIDs[:i], sess.TurnIDs[i+1:]...)
				break
			}
		}
		s.sessions[turn.RevisionID] = sess
	}
	s.bumpLocked()
}

// SetTurnAssistant sets the assistant node recorded on a turn for a revision.
func (s *Store) SetTurnAssistant(turnID, revisionID string, node *MessageNode) bool {
	return s.UpdateTurn(turnID, func(turn *ChatTurn) {
		if turn.AssistantByRevision == nil {
			turn.AssistantByRevision = make(map[string]*MessageNode)
		}
		turn.AssistantByRevision[revisionID] = node
	})
}

// --- logical turn index ---

// SetLogicalEntry maps a logical turn to its realization for one revision.
func (s *Store) SetLogicalEntry(logicalID, revisionID, turnID string) {
	logicalID = strings.TrimSpace(logicalID)
	if logicalID == "" || strings.TrimSpace(revisionID) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.logical[logicalID]
	if !ok {
		entry = make(map[string]string)
		s.logical[logicalID] = entry
		s.logicalOrder = append(s.logicalOrder, logicalID)
	}
	entry[revisionID] = turnID
	s.bumpLocked()
}

// LogicalEntry returns the revision→turn mapping for a logical id.
func (s *Store) LogicalEntry(logicalID string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.logical[logicalID]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(entry))
	for rev, turnID := range entry {
		out[rev] = turnID
	}
	return out, true
}

// LogicalIDs returns logical ids in index order.
func (s *Store) LogicalIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.logicalOrder...)
}

// RemoveLogicalRevision drops one revision's realization from a logical
// entry, removing the entry when no revision remains.
func (s *Store) RemoveLogicalRevision(logicalID, revisionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.logical[logicalID]
	if !ok {
		return
	}
	if _, ok := entry[revisionID]; !ok {
		return
	}
	delete(entry, revisionID)
	if len(entry) == 0 {
		delete(s.logical, logicalID)
		for i, id := range s.logicalOrder {
			if id == logicalID {
				s.logicalOrder = append(s.logicalOrder[:i], s.logicalOrder[i+1:]...)
				break
			}
		}
	}
	s.bumpLocked()
}

// RemoveLogicalEntry drops one logical id from the index.
func (s *Store) RemoveLogicalEntry(logicalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logical[logicalID]; !ok {
		return
	}
	delete(s.logical, logicalID)
	for i, id := range s.logicalOrder {
		if id == logicalID {
			s.logicalOrder = append(s.logicalOrder[:i], s.logicalOrder[i+1:]...)
			break
		}
	}
	s.bumpLocked()
}

// ReplaceLogicalIndex swaps in an authoritatively rebuilt index. Used by the
// resync routine; the index can silently drift after turn deletion and stale
// entries make the orchestrator look up nonexistent turns.
func (s *Store) ReplaceLogicalIndex(index map[string]map[string]string, order []string) {
	cloned := make(map[string]map[string]string, len(index))
	for logicalID, entry := range index {
		inner := make(map[string]string, len(entry))
		for rev, turnID := range entry {
			inner[rev] = turnID
		}
		cloned[logicalID] = inner
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logical = cloned
	s.logicalOrder = append([]string(nil), order...)
	s.bumpLocked()
}

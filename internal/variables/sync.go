package variables

import (
	"promptarena/internal/entity"
	"promptarena/internal/schemameta"
)

// Syncer reconciles property nodes on input rows and chat sessions with each
// displayed revision's required-variable set: nodes for dropped keys are
// pruned, nodes for newly required keys are appended. Existing nodes keep
// their ids and user-entered values, and a run with no changes writes
// nothing, so the sync is idempotent.
type Syncer struct {
	store   *entity.Store
	schemas schemameta.Provider
}

func NewSyncer(store *entity.Store, schemas schemameta.Provider) *Syncer {
	return &Syncer{store: store, schemas: schemas}
}

// Sync runs one reconciliation pass over every row and session for the
// currently displayed revisions.
func (s *Syncer) Sync() {
	if s == nil || s.store == nil {
		return
	}
	displayed := s.store.Displayed()
	required := make(map[string][]string, len(displayed))
	for _, revID := range displayed {
		rev, ok := s.store.Revision(revID)
		if !ok {
			continue
		}
		required[revID] = RequiredKeys(rev, s.schemas)
	}

	for _, row := range s.store.Rows() {
		for _, revID := range displayed {
			keys, ok := required[revID]
			if !ok {
				continue
			}
			next, changed := reconcile(row.VariablesByRevision[revID], keys)
			if changed {
				s.store.SetRowVariables(row.ID, revID, next)
			}
		}
	}

	for _, revID := range displayed {
		keys, ok := required[revID]
		if !ok {
			continue
		}
		sess, ok := s.store.Session(revID)
		if !ok {
			continue
		}
		next, changed := reconcile(sess.Variables, keys)
		if changed {
			s.store.SetSessionVariables(revID, next)
		}
	}
}

// reconcile maps existing nodes onto the required key order. A key that
// already has a node keeps that node untouched; new keys get fresh empty
// nodes. Returns changed=false when the result is structurally identical.
func reconcile(existing []entity.PropertyNode, keys []string) ([]entity.PropertyNode, bool) {
	byKey := make(map[string]entity.PropertyNode, len(existing))
	for _, node := range existing {
		if _, dup := byKey[node.Key]; !dup {
			byKey[node.Key] = node
		}
	}
	next := make([]entity.PropertyNode, 0, len(keys))
	for _, key := range keys {
		if node, ok := byKey[key]; ok {
			next = append(next, node)
		} else {
			next = append(next, entity.NewPropertyNode(key, ""))
		}
	}
	if len(next) == len(existing) {
		same := true
		for i := range next {
			if next[i].ID != existing[i].ID || next[i].Key != existing[i].Key || next[i].Value != existing[i].Value {
				same = false
				break
			}
		}
		if same {
			return existing, false
		}
	}
	return next, true
}

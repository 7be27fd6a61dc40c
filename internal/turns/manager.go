// Package turns creates, repairs, and prunes chat turn records and keeps the
// logical turn index consistent with the per-session turn lists.
package turns

import (
	"strings"

	"github.com/google/uuid"

	"promptarena/internal/entity"
	"promptarena/internal/schemameta"
)

type Manager struct {
	store   *entity.Store
	schemas schemameta.Provider
}

func NewManager(store *entity.Store, schemas schemameta.Provider) *Manager {
	return &Manager{store: store, schemas: schemas}
}

// NewLogicalID mints a fresh conversation-position id.
func NewLogicalID() string {
	return uuid.NewString()
}

// CreateEmptyTurn builds and stores an empty user turn realizing logicalID
// for a revision, and records it in the logical turn index.
func (m *Manager) CreateEmptyTurn(logicalID, revisionID string) entity.ChatTurn {
	logicalID = strings.TrimSpace(logicalID)
	revisionID = strings.TrimSpace(revisionID)
	m.store.EnsureSession(revisionID)

	turn := entity.ChatTurn{
		ID:                  entity.TurnIDFor(revisionID, logicalID),
		SessionID:           entity.SessionIDFor(revisionID),
		RevisionID:          revisionID,
		LogicalID:           logicalID,
		User:                m.buildUserNode(logicalID, revisionID),
		AssistantByRevision: map[string]*entity.MessageNode{},
	}
	m.store.PutTurn(turn)
	m.store.SetLogicalEntry(logicalID, revisionID, turn.ID)
	return turn
}

// AppendEmptyLogicalRow appends one empty turn to every displayed session's
// tail, all sharing a single new logical id. Returns the new logical id.
func (m *Manager) AppendEmptyLogicalRow(displayed []string) string {
	logicalID := NewLogicalID()
	for _, revID := range displayed {
		m.CreateEmptyTurn(logicalID, revID)
	}
	return logicalID
}

// buildUserNode resolves the best available shape source for a fresh user
// node. Editors downstream key off node ids and metadata; a malformed node
// breaks editing silently, so the chain always ends in a well-formed literal.
func (m *Manager) buildUserNode(logicalID, revisionID string) entity.MessageNode {
	if m.schemas != nil {
		if schema, ok := m.schemas.MessageSchema(revisionID); ok {
			node := entity.NewMessageNode("user", entity.TextContent(""))
			node.Meta = schema.MessageMeta.Clone()
			node.Role.Meta = schema.RoleMeta.Clone()
			node.Content.Meta = schema.ContentMeta.Clone()
			return node
		}
	}

	// Sibling turn: same logical id, another revision.
	if entry, ok := m.store.LogicalEntry(logicalID); ok {
		for rev, turnID := range entry {
			if rev == revisionID {
				continue
			}
			if sibling, ok := m.store.Turn(turnID); ok {
				return emptiedUserNode(sibling.User)
			}
		}
	}

	// Previous turn in the same session.
	if sess, ok := m.store.Session(revisionID); ok && len(sess.TurnIDs) > 0 {
		if prev, ok := m.store.Turn(sess.TurnIDs[len(sess.TurnIDs)-1]); ok {
			return emptiedUserNode(prev.User)
		}
	}

	return entity.NewMessageNode("user", entity.TextContent(""))
}

// emptiedUserNode clones a donor's shape and metadata but mints new node ids
// and clears the content.
func emptiedUserNode(donor entity.MessageNode) entity.MessageNode {
	node := donor.Clone()
	node.ID = entity.NewNodeID()
	node.Role.ID = entity.NewNodeID()
	node.Role.Value = "user"
	node.Content.ID = entity.NewNodeID()
	node.Content.Value = entity.TextContent("")
	return node
}

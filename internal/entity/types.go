package entity

import "fmt"

// Message is one templated message inside a prompt.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Prompt is an ordered list of message templates.
type Prompt struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Messages []Message `json:"messages"`
}

// Revision is an immutable versioned prompt/workflow configuration. The UI
// calls it a variant. Committed server-side; the client may overlay an
// uncommitted draft keyed by the same id.
type Revision struct {
	ID        string   `json:"id"`
	VariantID string   `json:"variantId,omitempty"`
	Name      string   `json:"name"`
	Number    int      `json:"revision"`
	Prompts   []Prompt `json:"prompts"`
	Variables []string `json:"variables,omitempty"`
	IsChat    bool     `json:"isChat"`
	IsCustom  bool     `json:"isCustom"`
}

// InputRow is one completion-mode test case.
type InputRow struct {
	ID                  string
	VariablesByRevision map[string][]PropertyNode
	ResponsesByRevision map[string][]MessageNode
}

// ChatSession is one conversation thread for one displayed revision.
type ChatSession struct {
	ID         string
	RevisionID string
	Variables  []PropertyNode
	TurnIDs    []string
}

// ChatTurn is one exchange within a session. LogicalID correlates the turn
// with its siblings in other revisions' sessions.
type ChatTurn struct {
	ID                      string
	SessionID               string
	RevisionID              string
	LogicalID               string
	User                    MessageNode
	AssistantByRevision     map[string]*MessageNode
	ToolResponsesByRevision map[string][]MessageNode
}

// SessionIDFor derives the session id for a revision.
func SessionIDFor(revisionID string) string {
	return "session-" + revisionID
}

// TurnIDFor derives the turn id realizing a logical turn for a revision.
func TurnIDFor(revisionID, logicalID string) string {
	return fmt.Sprintf("turn-%s-%s", revisionID, logicalID)
}

// Assistant returns the turn's assistant node for a revision, nil while the
// response is still pending.
func (t ChatTurn) Assistant(revisionID string) *MessageNode {
	if t.AssistantByRevision == nil {
		return nil
	}
	return t.AssistantByRevision[revisionID]
}

// HasUserContent reports whether the turn carries non-empty user content.
func (t ChatTurn) HasUserContent() bool {
	return !t.User.Content.Value.IsEmpty()
}

// IsEmpty reports whether the turn has neither user content nor any
// assistant response.
func (t ChatTurn) IsEmpty() bool {
	if t.HasUserContent() {
		return false
	}
	for _, msg := range t.AssistantByRevision {
		if msg != nil {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the turn.
func (t ChatTurn) Clone() ChatTurn {
	out := t
	out.User = t.User.Clone()
	if t.AssistantByRevision != nil {
		out.AssistantByRevision = make(map[string]*MessageNode, len(t.AssistantByRevision))
		for rev, msg := range t.AssistantByRevision {
			if msg == nil {
				out.AssistantByRevision[rev] = nil
				continue
			}
			cloned := msg.Clone()
			out.AssistantByRevision[rev] = &cloned
		}
	}
	if t.ToolResponsesByRevision != nil {
		out.ToolResponsesByRevision = make(map[string][]MessageNode, len(t.ToolResponsesByRevision))
		for rev, msgs := range t.ToolResponsesByRevision {
			cloned := make([]MessageNode, len(msgs))
			for i, m := range msgs {
				cloned[i] = m.Clone()
			}
			out.ToolResponsesByRevision[rev] = cloned
		}
	}
	return out
}

// Clone returns a deep copy of the row.
func (r InputRow) Clone() InputRow {
	out := r
	if r.VariablesByRevision != nil {
		out.VariablesByRevision = make(map[string][]PropertyNode, len(r.VariablesByRevision))
		for rev, nodes := range r.VariablesByRevision {
			out.VariablesByRevision[rev] = append([]PropertyNode(nil), nodes...)
		}
	}
	if r.ResponsesByRevision != nil {
		out.ResponsesByRevision = make(map[string][]MessageNode, len(r.ResponsesByRevision))
		for rev, nodes := range r.ResponsesByRevision {
			cloned := make([]MessageNode, len(nodes))
			for i, n := range nodes {
				cloned[i] = n.Clone()
			}
			out.ResponsesByRevision[rev] = cloned
		}
	}
	return out
}

// Clone returns a deep copy of the session.
func (s ChatSession) Clone() ChatSession {
	out := s
	out.Variables = append([]PropertyNode(nil), s.Variables...)
	out.TurnIDs = append([]string(nil), s.TurnIDs...)
	return out
}

package entity

import (
	"strings"

	"github.com/google/uuid"
)

// NodeMeta carries opaque schema metadata attached to a node. Editors key off
// node identity and metadata, so both survive every normalization pass.
type NodeMeta map[string]any

func (m NodeMeta) Clone() NodeMeta {
	if m == nil {
		return nil
	}
	out := make(NodeMeta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RoleNode is the role half of a message node.
type RoleNode struct {
	ID    string   `json:"__id,omitempty"`
	Value string   `json:"value"`
	Meta  NodeMeta `json:"__metadata,omitempty"`
}

// ContentNode is the content half of a message node.
type ContentNode struct {
	ID    string   `json:"__id,omitempty"`
	Value Content  `json:"value"`
	Meta  NodeMeta `json:"__metadata,omitempty"`
}

// MessageNode is a role/content pair with stable node identity.
type MessageNode struct {
	ID      string      `json:"__id,omitempty"`
	Role    RoleNode    `json:"role"`
	Content ContentNode `json:"content"`
	Meta    NodeMeta    `json:"__metadata,omitempty"`
}

// PropertyNode is one named variable value on an input row or session.
type PropertyNode struct {
	ID    string   `json:"__id,omitempty"`
	Key   string   `json:"key"`
	Value string   `json:"value"`
	Meta  NodeMeta `json:"__metadata,omitempty"`
}

func NewNodeID() string {
	return uuid.NewString()
}

// NewMessageNode builds a well-formed message node with fresh ids.
func NewMessageNode(role string, content Content) MessageNode {
	return MessageNode{
		ID:      NewNodeID(),
		Role:    RoleNode{ID: NewNodeID(), Value: role},
		Content: ContentNode{ID: NewNodeID(), Value: content},
	}
}

// NewPropertyNode builds a property node with a fresh id.
func NewPropertyNode(key, value string) PropertyNode {
	return PropertyNode{ID: NewNodeID(), Key: key, Value: value}
}

// Clone returns a deep copy of the message node, keeping ids and metadata.
func (n MessageNode) Clone() MessageNode {
	out := n
	out.Meta = n.Meta.Clone()
	out.Role.Meta = n.Role.Meta.Clone()
	out.Content.Meta = n.Content.Meta.Clone()
	out.Content.Value = n.Content.Value.Clone()
	return out
}

// NormalizeMessageNode repairs a partially formed node in place: missing ids
// are synthesized and a blank role defaults to the given role. The node is
// guaranteed to be at least {role:{value:role}, content:{value:""}} after.
func NormalizeMessageNode(n *MessageNode, role string) bool {
	if n == nil {
		return false
	}
	changed := false
	if strings.TrimSpace(n.ID) == "" {
		n.ID = NewNodeID()
		changed = true
	}
	if strings.TrimSpace(n.Role.ID) == "" {
		n.Role.ID = NewNodeID()
		changed = true
	}
	if strings.TrimSpace(n.Role.Value) == "" {
		n.Role.Value = role
		changed = true
	}
	if strings.TrimSpace(n.Content.ID) == "" {
		n.Content.ID = NewNodeID()
		changed = true
	}
	if n.Content.Value.Kind == "" {
		n.Content.Value = TextContent(n.Content.Value.Text)
		changed = true
	}
	return changed
}

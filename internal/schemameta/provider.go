// Package schemameta exposes per-revision message-schema metadata and, for
// custom workflow revisions, the input keys derived from the externally
// fetched request schema of the run route.
package schemameta

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"promptarena/internal/entity"
)

// MessageSchema carries the node metadata a revision's editor schema attaches
// to a freshly built message node. Any field may be nil; construction falls
// back through sibling and previous turns when the schema is unavailable.
type MessageSchema struct {
	MessageMeta entity.NodeMeta
	RoleMeta    entity.NodeMeta
	ContentMeta entity.NodeMeta
}

// Provider is the read-only schema surface the core consumes.
type Provider interface {
	MessageSchema(revisionID string) (MessageSchema, bool)
	WorkflowInputKeys(revisionID string) ([]string, bool)
}

// StaticProvider is a mutable in-memory Provider, fed by whatever fetched the
// schemas (REST client, test fixture).
type StaticProvider struct {
	mu       sync.RWMutex
	messages map[string]MessageSchema
	inputs   map[string][]string
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		messages: make(map[string]MessageSchema),
		inputs:   make(map[string][]string),
	}
}

func (p *StaticProvider) SetMessageSchema(revisionID string, schema MessageSchema) {
	if strings.TrimSpace(revisionID) == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[revisionID] = schema
}

func (p *StaticProvider) SetWorkflowInputKeys(revisionID string, keys []string) {
	if strings.TrimSpace(revisionID) == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs[revisionID] = append([]string(nil), keys...)
}

// SetWorkflowRequestSchema parses a fetched request-schema document and
// records the extracted input keys for the revision.
func (p *StaticProvider) SetWorkflowRequestSchema(revisionID string, doc []byte) {
	p.SetWorkflowInputKeys(revisionID, RequestSchemaKeys(doc))
}

func (p *StaticProvider) MessageSchema(revisionID string) (MessageSchema, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	schema, ok := p.messages[revisionID]
	return schema, ok
}

func (p *StaticProvider) WorkflowInputKeys(revisionID string) ([]string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys, ok := p.inputs[revisionID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), keys...), true
}

// internalKeys are workflow plumbing, never user inputs.
var internalKeys = map[string]struct{}{
	"ag_config":    {},
	"environment":  {},
	"inputs":       {},
	"credentials":  {},
	"trace_parent": {},
}

// RequestSchemaKeys extracts the top-level property names of a request schema
// document in declaration order. The document is either a bare JSON schema
// object or wraps one under "schema"; unknown shapes yield no keys.
func RequestSchemaKeys(doc []byte) []string {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil
	}
	props := findProperties(doc)
	if len(props) == 0 {
		return nil
	}
	keys := make([]string, 0, 8)
	dec := json.NewDecoder(bytes.NewReader(props))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		key, ok := tok.(string)
		if !ok {
			break
		}
		if _, internal := internalKeys[key]; !internal {
			keys = append(keys, key)
		}
		if err := skipValue(dec); err != nil {
			break
		}
	}
	return keys
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	if delim == '{' || delim == '[' {
		depth := 1
		for depth > 0 {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			if d, ok := tok.(json.Delim); ok {
				switch d {
				case '{', '[':
					depth++
				case '}', ']':
					depth--
				}
			}
		}
	}
	return nil
}

// findProperties locates the raw JSON of the schema's "properties" object.
func findProperties(doc []byte) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		return nil
	}
	if props, ok := obj["properties"]; ok {
		return props
	}
	if inner, ok := obj["schema"]; ok {
		return findProperties(inner)
	}
	if inner, ok := obj["requestBody"]; ok {
		return findProperties(inner)
	}
	if content, ok := obj["content"]; ok {
		var byType map[string]json.RawMessage
		if err := json.Unmarshal(content, &byType); err == nil {
			if media, ok := byType["application/json"]; ok {
				return findProperties(media)
			}
		}
	}
	return nil
}

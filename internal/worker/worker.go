// Package worker defines the contract with the external execution engine
// that performs the actual model calls, plus the bundled implementations:
// an in-process fake, a genai-backed runner, and a websocket bridge to an
// out-of-process worker.
package worker

import (
	"context"
	"encoding/json"

	"promptarena/internal/entity"
)

// ChatMessage is one element of the linearized history sent with a chat run.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content entity.Content `json:"content"`
}

// Request is the payload for one (row-or-turn, revision) run.
type Request struct {
	RunID      string `json:"runId"`
	RowID      string `json:"rowId"`
	RevisionID string `json:"revisionId"`
	VariantID  string `json:"variantId"`
	MessageID  string `json:"messageId,omitempty"`
	IsChat     bool   `json:"isChat"`
	IsCustom   bool   `json:"isCustom"`

	AppID     string `json:"appId,omitempty"`
	AppType   string `json:"appType,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	URI       string `json:"uri,omitempty"`
	APIURL    string `json:"apiUrl,omitempty"`

	Headers     map[string]string `json:"headers,omitempty"`
	AllMetadata map[string]any    `json:"allMetadata,omitempty"`
	Spec        json.RawMessage   `json:"spec,omitempty"`

	Prompts        []entity.Prompt   `json:"prompts,omitempty"`
	Variables      []string          `json:"variables,omitempty"`
	VariableValues map[string]string `json:"variableValues,omitempty"`
	InputRow       map[string]string `json:"inputRow,omitempty"`
	ChatHistory    []ChatMessage     `json:"chatHistory,omitempty"`
}

// Result is the worker's completion message. Result is either a success
// payload {"response":{"data":...}} or an error payload
// {"error":...,"metadata":{"rawError":{"detail":{"tree":...}}}}.
type Result struct {
	RowID      string           `json:"rowId"`
	RunID      string           `json:"runId"`
	MessageID  string           `json:"messageId,omitempty"`
	VariantID  string           `json:"variantId,omitempty"`
	RevisionID string           `json:"revisionId,omitempty"`
	Variant    *entity.Revision `json:"variant,omitempty"`
	Result     json.RawMessage  `json:"result"`
}

// Sink receives completion messages. Delivery is not guaranteed to be
// exactly-once; the ingestion side deduplicates.
type Sink interface {
	Deliver(res Result)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(res Result)

func (f SinkFunc) Deliver(res Result) { f(res) }

// Worker executes run requests asynchronously, reporting to a Sink.
// Cancel is best-effort and fire-and-forget; a result may still arrive for a
// cancelled run and is dealt with downstream.
type Worker interface {
	Run(ctx context.Context, req Request) error
	Cancel(rowID, revisionID string)
}

// SuccessPayload encodes a provider response as a result payload.
func SuccessPayload(data string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"response": map[string]any{"data": data},
	})
	return raw
}

// ErrorPayload encodes a failure as a result payload with a raw error tree.
func ErrorPayload(message string, tree any) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"error": message,
		"metadata": map[string]any{
			"rawError": map[string]any{
				"detail": map[string]any{"tree": tree},
			},
		},
	})
	return raw
}

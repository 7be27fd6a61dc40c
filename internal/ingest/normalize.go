package ingest

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// normalizedResult is the single shape every result, success or failure, is
// reduced to before hashing and storage. Errors are not thrown back through
// the pipeline; the view renders an error panel from the same shape it
// renders successes from.
type normalizedResult struct {
	Response struct {
		Data string `json:"data"`
		Tree any    `json:"tree,omitempty"`
	} `json:"response"`
	Error string `json:"error,omitempty"`
}

// normalizeResult reduces a raw worker result payload.
func normalizeResult(raw json.RawMessage) normalizedResult {
	var out normalizedResult
	if len(raw) == 0 {
		return out
	}
	var parsed struct {
		Response *struct {
			Data json.RawMessage `json:"data"`
		} `json:"response"`
		Error    json.RawMessage `json:"error"`
		Metadata *struct {
			RawError *struct {
				Detail *struct {
					Tree any `json:"tree"`
				} `json:"detail"`
			} `json:"rawError"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		out.Response.Data = strings.TrimSpace(string(raw))
		return out
	}

	if len(parsed.Error) > 0 && string(parsed.Error) != "null" {
		message := errorMessage(parsed.Error)
		out.Error = message
		out.Response.Data = message
		if parsed.Metadata != nil && parsed.Metadata.RawError != nil && parsed.Metadata.RawError.Detail != nil {
			out.Response.Tree = parsed.Metadata.RawError.Detail.Tree
		}
		return out
	}

	if parsed.Response != nil && len(parsed.Response.Data) > 0 {
		var s string
		if err := json.Unmarshal(parsed.Response.Data, &s); err == nil {
			out.Response.Data = s
		} else {
			out.Response.Data = string(parsed.Response.Data)
		}
		return out
	}

	out.Response.Data = strings.TrimSpace(string(raw))
	return out
}

// errorMessage extracts a human-readable message from an error value that
// may be a string, an object with a message field, or an arbitrary tree.
func errorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, field := range []string{"message", "detail", "error"} {
			if inner, ok := obj[field]; ok {
				if msg := errorMessage(inner); msg != "" {
					return msg
				}
			}
		}
	}
	return strings.TrimSpace(string(raw))
}

// hashResult fingerprints a normalized result. The hash stands in for the
// payload everywhere in the state graph.
func hashResult(res normalizedResult) (string, []byte) {
	payload, err := json.Marshal(res)
	if err != nil {
		payload = []byte(res.Response.Data)
	}
	h := fnv.New64a()
	_, _ = h.Write(payload)
	return fmt.Sprintf("%016x", h.Sum64()), payload
}

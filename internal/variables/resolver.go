// Package variables resolves which named template variables a revision
// requires and keeps the property nodes recorded on rows and sessions in
// step with that set.
package variables

import (
	"regexp"
	"strings"

	"promptarena/internal/entity"
	"promptarena/internal/schemameta"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// RequiredKeys computes the ordered set of variable keys a revision requires.
// Prompt-based revisions are scanned for {{variable}} placeholders across
// every message template, including text parts of multi-part content; custom
// workflow revisions take their keys from the fetched request schema instead.
func RequiredKeys(rev entity.Revision, schemas schemameta.Provider) []string {
	if rev.IsCustom && schemas != nil {
		if keys, ok := schemas.WorkflowInputKeys(rev.ID); ok {
			return dedupe(keys)
		}
		return nil
	}

	keys := make([]string, 0, len(rev.Variables)+4)
	keys = append(keys, rev.Variables...)
	for _, prompt := range rev.Prompts {
		for _, msg := range prompt.Messages {
			keys = append(keys, scanContent(msg.Content)...)
		}
	}
	return dedupe(keys)
}

func scanContent(c entity.Content) []string {
	var out []string
	collect := func(text string) {
		for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
			out = append(out, m[1])
		}
	}
	if c.Kind == entity.ContentParts {
		for _, p := range c.Parts {
			if p.Type == entity.PartTypeText {
				collect(p.Text)
			}
		}
		return out
	}
	collect(c.Text)
	return out
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// Render substitutes {{variable}} placeholders in text with their values.
// Unknown placeholders are left as-is.
func Render(text string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := values[key]; ok {
			return v
		}
		return match
	})
}

// RowValues returns the variable values an input row records for a revision,
// falling back per key to the baseline revision's nodes so a newly added
// comparison column is not blank by default.
func RowValues(row entity.InputRow, revisionID, baselineID string) map[string]string {
	out := make(map[string]string)
	for _, node := range row.VariablesByRevision[baselineID] {
		if node.Key != "" {
			out[node.Key] = node.Value
		}
	}
	if revisionID != baselineID {
		for _, node := range row.VariablesByRevision[revisionID] {
			if node.Key == "" {
				continue
			}
			if node.Value != "" {
				out[node.Key] = node.Value
				continue
			}
			if _, ok := out[node.Key]; !ok {
				out[node.Key] = node.Value
			}
		}
	}
	return out
}

// PruneToKeys filters values down to exactly the given keys. Extra keys must
// never leak into a worker request body.
func PruneToKeys(values map[string]string, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if v, ok := values[key]; ok {
			out[key] = v
		} else {
			out[key] = ""
		}
	}
	return out
}

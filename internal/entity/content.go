package entity

import (
	"encoding/json"
	"strings"
)

// ContentKind discriminates the two content shapes a message can carry.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentParts ContentKind = "parts"
)

const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// ImageRef points at an attached image.
type ImageRef struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ContentPart is one element of multi-part message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

// Content is message content as either a plain string or an ordered list of
// parts. Every ingestion boundary (testset load, worker result, user edit)
// goes through NormalizeContent so downstream code never type-sniffs.
type Content struct {
	Kind  ContentKind
	Text  string
	Parts []ContentPart
}

func TextContent(s string) Content {
	return Content{Kind: ContentText, Text: s}
}

func PartsContent(parts ...ContentPart) Content {
	return Content{Kind: ContentParts, Parts: append([]ContentPart(nil), parts...)}
}

// IsEmpty reports whether the content carries no text and no images.
func (c Content) IsEmpty() bool {
	switch c.Kind {
	case ContentParts:
		for _, p := range c.Parts {
			switch p.Type {
			case PartTypeText:
				if strings.TrimSpace(p.Text) != "" {
					return false
				}
			case PartTypeImageURL:
				if p.ImageURL != nil && strings.TrimSpace(p.ImageURL.URL) != "" {
					return false
				}
			}
		}
		return true
	default:
		return strings.TrimSpace(c.Text) == ""
	}
}

// HasImage reports whether any part is a non-empty image attachment.
func (c Content) HasImage() bool {
	if c.Kind != ContentParts {
		return false
	}
	for _, p := range c.Parts {
		if p.Type == PartTypeImageURL && p.ImageURL != nil && strings.TrimSpace(p.ImageURL.URL) != "" {
			return true
		}
	}
	return false
}

// PlainText returns the concatenated text of the content.
func (c Content) PlainText() string {
	if c.Kind != ContentParts {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == PartTypeText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Images returns the image parts of the content.
func (c Content) Images() []ContentPart {
	if c.Kind != ContentParts {
		return nil
	}
	var out []ContentPart
	for _, p := range c.Parts {
		if p.Type == PartTypeImageURL && p.ImageURL != nil && strings.TrimSpace(p.ImageURL.URL) != "" {
			out = append(out, p)
		}
	}
	return out
}

// MergeImagesFrom returns c with the donor's image parts appended when c has
// no images of its own. Text always stays c's own.
func (c Content) MergeImagesFrom(donor Content) Content {
	if c.HasImage() {
		return c
	}
	images := donor.Images()
	if len(images) == 0 {
		return c
	}
	parts := make([]ContentPart, 0, len(images)+1)
	if text := c.PlainText(); strings.TrimSpace(text) != "" || c.Kind == ContentText {
		parts = append(parts, ContentPart{Type: PartTypeText, Text: text})
	} else {
		for _, p := range c.Parts {
			if p.Type == PartTypeText {
				parts = append(parts, p)
			}
		}
	}
	parts = append(parts, images...)
	return Content{Kind: ContentParts, Parts: parts}
}

// Clone returns a deep copy of the content.
func (c Content) Clone() Content {
	out := c
	if len(c.Parts) > 0 {
		out.Parts = make([]ContentPart, len(c.Parts))
		for i, p := range c.Parts {
			out.Parts[i] = p
			if p.ImageURL != nil {
				img := *p.ImageURL
				out.Parts[i].ImageURL = &img
			}
		}
	}
	return out
}

// MarshalJSON encodes text content as a bare string and part content as an
// array, matching the worker wire shape.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Kind == ContentParts {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a string, an array of parts, or a legacy wrapper
// object carrying a "value" field, and normalizes it.
func (c *Content) UnmarshalJSON(data []byte) error {
	*c = ContentFromJSON(data)
	return nil
}

// ContentFromJSON normalizes an arbitrary JSON content value into a Content.
// Unrecognized shapes collapse to empty text rather than failing; a malformed
// node must never break the editing pipeline.
func ContentFromJSON(data []byte) Content {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return TextContent("")
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return TextContent(s)
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		cleaned := make([]ContentPart, 0, len(parts))
		for _, p := range parts {
			switch p.Type {
			case PartTypeText, PartTypeImageURL:
				cleaned = append(cleaned, p)
			}
		}
		return Content{Kind: ContentParts, Parts: cleaned}
	}

	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Value) > 0 {
		return ContentFromJSON(wrapper.Value)
	}
	return TextContent("")
}

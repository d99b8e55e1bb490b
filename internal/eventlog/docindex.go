package eventlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Document is a derived artifact synthesized from tool output, keyed by
// name. The index is a cache: replaying the log rebuilds it exactly.
type Document struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Content     string `json:"content,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

const (
	maxWalkDepth = 16
	maxWalkNodes = 2000
)

// IndexResult walks a tool result looking for document-shaped sub-objects
// (a name or docId plus optional content/text). When none are found and
// the result does not look like an error, the whole result is wrapped as a
// single synthetic JSON document named from the tool and the event
// timestamp, so replay produces identical names.
func IndexResult(toolName string, at time.Time, result any) []Document {
	if result == nil {
		return nil
	}
	walker := &docWalker{}
	walker.walk(result, 0)
	if len(walker.found) > 0 {
		return walker.found
	}
	if looksLikeError(result) {
		return nil
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil
	}
	name := fmt.Sprintf("%s_result_%s.json", sanitizeDocName(toolName), at.UTC().Format("20060102T150405"))
	return []Document{{Name: name, ContentType: "application/json", Content: string(data)}}
}

type docWalker struct {
	found []Document
	nodes int
}

func (w *docWalker) walk(node any, depth int) {
	if depth > maxWalkDepth || w.nodes > maxWalkNodes {
		return
	}
	w.nodes++
	switch v := node.(type) {
	case map[string]any:
		if doc, ok := documentFromMap(v); ok {
			w.found = append(w.found, doc)
		}
		for _, child := range v {
			w.walk(child, depth+1)
		}
	case []any:
		for _, child := range v {
			w.walk(child, depth+1)
		}
	}
}

func documentFromMap(m map[string]any) (Document, bool) {
	name := stringField(m, "name")
	if name == "" {
		name = stringField(m, "docId")
	}
	if name == "" {
		return Document{}, false
	}

	contentType := stringField(m, "contentType")
	if contentType == "" {
		contentType = stringField(m, "mimeType")
	}

	var content string
	raw, hasContent := m["content"]
	if !hasContent {
		raw, hasContent = m["text"]
	}
	if hasContent && raw != nil {
		switch c := raw.(type) {
		case string:
			content = c
			if contentType == "" {
				contentType = "text/markdown"
			}
		default:
			data, err := json.MarshalIndent(c, "", "  ")
			if err != nil {
				return Document{}, false
			}
			content = string(data)
			if contentType == "" {
				contentType = "application/json"
			}
		}
	}
	if contentType == "" {
		contentType = "text/markdown"
	}

	return Document{
		Name:        name,
		ContentType: contentType,
		Content:     content,
		Summary:     stringField(m, "summary"),
	}, true
}

func looksLikeError(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	if okVal, present := m["ok"]; present {
		if b, isBool := okVal.(bool); isBool && !b {
			return true
		}
	}
	switch strings.ToLower(stringField(m, "status")) {
	case "error", "failed":
		return true
	}
	if stringField(m, "error") != "" {
		return true
	}
	return false
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func sanitizeDocName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "tool"
	}
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

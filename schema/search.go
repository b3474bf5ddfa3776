package schema

import (
	"fmt"
	"strings"
)

// SearchHit is a scored document returned by the search service, projected to
// the select fields of its index.
type SearchHit struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields"`
}

// String returns a field rendered as text, or "" when absent.
func (h SearchHit) String(field string) string {
	if h.Fields == nil {
		return ""
	}
	v, ok := h.Fields[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

// Key joins the given fields into a composite identity.
func (h SearchHit) Key(fields []string) string {
	if len(fields) == 0 {
		return h.ID
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = h.String(f)
	}
	return strings.Join(parts, "\x1f")
}

// Clone returns a copy whose Fields map can be mutated independently.
func (h SearchHit) Clone() SearchHit {
	out := SearchHit{ID: h.ID, Score: h.Score}
	if h.Fields != nil {
		out.Fields = make(map[string]any, len(h.Fields))
		for k, v := range h.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Document is an ingestion record for the search service.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
	Vector []float32      `json:"-"`
}

// Package evaluate reduces a publishing tool's reply to a success verdict.
//
// Replies do not follow a fixed schema. Normalize folds every shape into a
// Reply and Verdict decides on that alone; anything not understood is a
// failure.
package evaluate

import (
	"bytes"
	"encoding/json"
	"strings"
)

type Kind int

const (
	Unrecognized Kind = iota
	Errored
	Explicit
	EmbeddedText
)

func (k Kind) String() string {
	switch k {
	case Errored:
		return "errored"
	case Explicit:
		return "explicit"
	case EmbeddedText:
		return "embedded_text"
	default:
		return "unrecognized"
	}
}

// Reply is the normalised form of a result payload.
type Reply struct {
	Kind Kind
	// Success is set for Explicit replies.
	Success bool
	// Fragments holds the text items of an EmbeddedText reply.
	Fragments []string
}

var errorMarkers = []string{"isError", "error", "failed", "failure"}

func Normalize(payload json.RawMessage) Reply {
	obj, ok := object(payload)
	if !ok {
		return Reply{Kind: Unrecognized}
	}
	for _, key := range errorMarkers {
		if flag, ok := boolField(obj, key); ok && flag {
			return Reply{Kind: Errored}
		}
	}
	if success, ok := boolField(obj, "success"); ok {
		return Reply{Kind: Explicit, Success: success}
	}
	if fragments := textFragments(obj); len(fragments) > 0 {
		return Reply{Kind: EmbeddedText, Fragments: fragments}
	}
	return Reply{Kind: Unrecognized}
}

// Verdict applies the decision order to a normalised reply. Embedded
// fragments count only when they parse as an object with a boolean success
// field; the first such fragment wins.
func Verdict(r Reply) bool {
	switch r.Kind {
	case Explicit:
		return r.Success
	case EmbeddedText:
		for _, fragment := range r.Fragments {
			obj, ok := object(json.RawMessage(strings.TrimSpace(fragment)))
			if !ok {
				continue
			}
			if success, ok := boolField(obj, "success"); ok {
				return success
			}
		}
		return false
	default:
		return false
	}
}

func Evaluate(payload json.RawMessage) bool {
	return Verdict(Normalize(payload))
}

// Reference extracts a published URL from the payload, looking at the
// top level first and then inside embedded text fragments.
func Reference(payload json.RawMessage) string {
	obj, ok := object(payload)
	if !ok {
		return ""
	}
	if ref := referenceField(obj); ref != "" {
		return ref
	}
	for _, fragment := range textFragments(obj) {
		inner, ok := object(json.RawMessage(strings.TrimSpace(fragment)))
		if !ok {
			continue
		}
		if ref := referenceField(inner); ref != "" {
			return ref
		}
	}
	return ""
}

func referenceField(obj map[string]json.RawMessage) string {
	for _, key := range []string{"note_url", "url"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func object(payload json.RawMessage) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func boolField(obj map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := obj[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func textFragments(obj map[string]json.RawMessage) []string {
	raw, ok := obj["content"]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var fragments []string
	for _, item := range items {
		var fragment struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(item, &fragment); err != nil || fragment.Text == nil {
			continue
		}
		fragments = append(fragments, *fragment.Text)
	}
	return fragments
}

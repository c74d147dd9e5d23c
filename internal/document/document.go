// Package document reads and writes markdown files that carry a YAML
// front-matter header.
//
// The header is kept as a yaml.Node mapping so keys the pipeline does not
// know about survive a read/modify/write cycle in their original order and
// form.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Header keys read or written by the pipeline.
const (
	KeyTitle        = "title"
	KeyTags         = "tags"
	KeySummary      = "summary"
	KeyUUID         = "uuid"
	KeySource       = "source"
	KeyQueuedAt     = "queued_at"
	KeyPostedAt     = "posted_at"
	KeyNoteURL      = "note_url"
	KeyRejectedAt   = "rejected_at"
	KeyRejectReason = "reject_reason"
	KeyPublishError = "publish_error"
)

const fence = "---"

var ErrMalformedHeader = errors.New("document: malformed front matter")

type Document struct {
	header *yaml.Node
	body   string
}

func New() *Document {
	return &Document{header: newMapping()}
}

// Parse splits data into header and body. Text without an opening fence is
// treated as a body with an empty header.
func Parse(data []byte) (*Document, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, fence+"\n") {
		return &Document{header: newMapping(), body: normalizeBody(text)}, nil
	}

	rest := text[len(fence)+1:]
	var meta, body string
	switch {
	case strings.HasPrefix(rest, fence+"\n"):
		body = rest[len(fence)+1:]
	case rest == fence:
	default:
		idx := strings.Index(rest, "\n"+fence+"\n")
		if idx < 0 {
			if !strings.HasSuffix(rest, "\n"+fence) {
				return nil, fmt.Errorf("%w: closing fence not found", ErrMalformedHeader)
			}
			idx = len(rest) - len(fence) - 1
			meta = rest[:idx]
		} else {
			meta = rest[:idx]
			body = rest[idx+len(fence)+2:]
		}
	}

	header, err := parseHeader(meta)
	if err != nil {
		return nil, err
	}
	return &Document{header: header, body: normalizeBody(body)}, nil
}

func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func parseHeader(meta string) (*yaml.Node, error) {
	if strings.TrimSpace(meta) == "" {
		return newMapping(), nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(meta), &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 {
		return newMapping(), nil
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: header is not a mapping", ErrMalformedHeader)
	}
	return mapping, nil
}

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func normalizeBody(body string) string {
	trimmed := strings.TrimRight(body, " \t\r\n")
	if trimmed == "" {
		return ""
	}
	return trimmed + "\n"
}

func (d *Document) Body() string {
	return d.body
}

func (d *Document) SetBody(body string) {
	d.body = normalizeBody(body)
}

// Keys returns header keys in document order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.header.Content)/2)
	for i := 0; i+1 < len(d.header.Content); i += 2 {
		keys = append(keys, d.header.Content[i].Value)
	}
	return keys
}

func (d *Document) Has(key string) bool {
	return d.valueNode(key) != nil
}

// Get decodes the value stored under key. Nested mappings decode to
// map[string]any.
func (d *Document) Get(key string) (any, bool) {
	node := d.valueNode(key)
	if node == nil {
		return nil, false
	}
	var value any
	if err := node.Decode(&value); err != nil {
		return nil, false
	}
	return value, true
}

// GetString returns the raw scalar text for key, so timestamps come back
// exactly as written.
func (d *Document) GetString(key string) string {
	node := d.valueNode(key)
	if node == nil || node.Kind != yaml.ScalarNode || node.Tag == "!!null" {
		return ""
	}
	return node.Value
}

func (d *Document) GetBool(key string) (bool, bool) {
	node := d.valueNode(key)
	if node == nil {
		return false, false
	}
	var b bool
	if err := node.Decode(&b); err != nil {
		return false, false
	}
	return b, true
}

func (d *Document) GetStrings(key string) []string {
	node := d.valueNode(key)
	if node == nil {
		return nil
	}
	switch node.Kind {
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return nil
		}
		return values
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil
		}
		return []string{node.Value}
	default:
		return nil
	}
}

// Set replaces the value under key in place, or appends the key when it is
// not present yet.
func (d *Document) Set(key string, value any) error {
	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return fmt.Errorf("document: encode %s: %w", key, err)
	}
	for i := 0; i+1 < len(d.header.Content); i += 2 {
		if d.header.Content[i].Value == key {
			d.header.Content[i+1] = &node
			return nil
		}
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	d.header.Content = append(d.header.Content, keyNode, &node)
	return nil
}

func (d *Document) Delete(key string) {
	for i := 0; i+1 < len(d.header.Content); i += 2 {
		if d.header.Content[i].Value == key {
			d.header.Content = append(d.header.Content[:i], d.header.Content[i+2:]...)
			return
		}
	}
}

func (d *Document) Title() string {
	return d.GetString(KeyTitle)
}

// Clone returns a deep copy so a failed transition never leaks a half-stamped
// header back to the caller.
func (d *Document) Clone() *Document {
	return &Document{header: cloneNode(d.header), body: d.body}
}

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	out := *n
	if len(n.Content) > 0 {
		out.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			out.Content[i] = cloneNode(child)
		}
	}
	return &out
}

// Bytes renders the document. The header fences are omitted only when the
// header is empty and the body cannot be mistaken for one.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if len(d.header.Content) > 0 || strings.HasPrefix(d.body, fence+"\n") {
		buf.WriteString(fence + "\n")
		if len(d.header.Content) > 0 {
			enc := yaml.NewEncoder(&buf)
			enc.SetIndent(2)
			if err := enc.Encode(d.header); err != nil {
				return nil, fmt.Errorf("document: encode header: %w", err)
			}
			if err := enc.Close(); err != nil {
				return nil, fmt.Errorf("document: encode header: %w", err)
			}
		}
		buf.WriteString(fence + "\n")
	}
	buf.WriteString(d.body)
	return buf.Bytes(), nil
}

func (d *Document) valueNode(key string) *yaml.Node {
	for i := 0; i+1 < len(d.header.Content); i += 2 {
		if d.header.Content[i].Value == key {
			return d.header.Content[i+1]
		}
	}
	return nil
}

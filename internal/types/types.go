package types

import (
	"context"
	"path/filepath"
	"time"

	"github.com/Go-555/github-actions-note/internal/document"
)

// Post describes an article that has just gone live. Targets announce it.
type Post struct {
	ID       string
	Name     string
	Path     string
	Title    string
	URL      string
	Summary  string
	Tags     []string
	PostedAt time.Time
}

// PostFromDocument builds a Post from a document in the posted stage.
func PostFromDocument(doc *document.Document, path string) *Post {
	name := filepath.Base(path)
	id := doc.GetString(document.KeyUUID)
	if id == "" {
		id = name
	}
	title := doc.Title()
	if title == "" {
		title = name
	}
	postedAt, err := time.Parse(time.RFC3339, doc.GetString(document.KeyPostedAt))
	if err != nil {
		postedAt = time.Time{}
	}
	return &Post{
		ID:       id,
		Name:     name,
		Path:     path,
		Title:    title,
		URL:      doc.GetString(document.KeyNoteURL),
		Summary:  doc.GetString(document.KeySummary),
		Tags:     doc.GetStrings(document.KeyTags),
		PostedAt: postedAt,
	}
}

type PublishResult struct {
	Success   bool
	Target    string
	ItemID    string
	Timestamp time.Time
	Error     error
	Metadata  map[string]interface{}
}

// Target announces posts somewhere besides the publishing tool. A target
// failure never changes where the article lives.
type Target interface {
	Name() string
	Initialize(ctx context.Context) error
	Publish(ctx context.Context, post *Post) (*PublishResult, error)
	Shutdown(ctx context.Context) error
}

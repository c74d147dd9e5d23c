package feed

import (
	"time"

	"github.com/gorilla/feeds"

	"github.com/Go-555/github-actions-note/internal"
	"github.com/Go-555/github-actions-note/internal/types"
)

// Item is one feed entry derived from a post.
type Item struct {
	ID          string
	Title       string
	Link        string
	Description string
	Tags        []string
	Published   time.Time
}

var (
	_ internal.From[*types.Post]  = (*Item)(nil)
	_ internal.Into[*feeds.Item] = (*Item)(nil)
)

func (i *Item) From(post *types.Post) {
	i.ID = post.ID
	i.Title = post.Title
	i.Link = post.URL
	i.Description = post.Summary
	i.Tags = post.Tags
	i.Published = post.PostedAt
}

func (i *Item) Into() *feeds.Item {
	item := &feeds.Item{
		Id:          i.ID,
		Title:       i.Title,
		Description: i.Description,
		Created:     i.Published,
	}
	if i.Link != "" {
		item.Link = &feeds.Link{Href: i.Link}
	} else {
		item.Link = &feeds.Link{}
	}
	return item
}

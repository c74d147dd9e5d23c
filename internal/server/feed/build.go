package feed

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/gorilla/feeds"

	"github.com/Go-555/github-actions-note/internal/store"
	"github.com/Go-555/github-actions-note/internal/types"
	"github.com/Go-555/github-actions-note/internal/utils"
)

type Config struct {
	Title       string
	Link        string
	Description string
	Author      string
	MaxItems    int
	Port        string
}

// Source lists the posts a feed is built from.
type Source interface {
	Posts(ctx context.Context) ([]*types.Post, error)
}

// StoreSource reads every article in the posted stage.
type StoreSource struct {
	Store *store.Store
}

func (s StoreSource) Posts(ctx context.Context) ([]*types.Post, error) {
	names, err := s.Store.List(ctx, store.StagePosted)
	if err != nil {
		return nil, err
	}
	posts := make([]*types.Post, 0, len(names))
	for _, name := range names {
		a, err := s.Store.Article(store.StagePosted, name)
		if err != nil {
			return nil, err
		}
		doc, err := s.Store.Read(a)
		if err != nil {
			// moved away meanwhile, or unreadable; neither should take the feed down
			continue
		}
		posts = append(posts, types.PostFromDocument(doc, a.Path))
	}
	return posts, nil
}

// Build turns posts into a feed, newest first, capped at MaxItems.
func Build(posts []*types.Post, cfg Config, now time.Time) *feeds.Feed {
	items := make([]*feeds.Item, 0, len(posts))
	for _, post := range posts {
		var item Item
		item.From(post)
		items = append(items, item.Into())
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Created.After(items[j].Created)
	})

	if cfg.MaxItems > 0 && len(items) > cfg.MaxItems {
		items = items[:cfg.MaxItems]
	}

	feed := &feeds.Feed{
		Title:       cfg.Title,
		Link:        &feeds.Link{Href: cfg.Link},
		Description: cfg.Description,
		Created:     now.UTC(),
		Items:       items,
	}
	if cfg.Author != "" {
		feed.Author = &feeds.Author{Name: cfg.Author}
	}
	if len(items) > 0 {
		feed.Updated = items[0].Created
	}
	return feed
}

var contentTypes = map[string]string{
	TypeRSS:  "application/rss+xml; charset=utf-8",
	TypeAtom: "application/atom+xml; charset=utf-8",
	TypeJSON: "application/feed+json; charset=utf-8",
}

// Render serialises feed in the given format and returns its content type.
func Render(feed *feeds.Feed, format string) (string, string, error) {
	if format == "" {
		format = TypeRSS
	}

	var out string
	var err error
	switch format {
	case TypeRSS:
		out, err = feed.ToRss()
	case TypeAtom:
		out, err = feed.ToAtom()
	case TypeJSON:
		out, err = feed.ToJSON()
	default:
		return "", "", fmt.Errorf("unknown feed format %q", format)
	}
	return out, contentTypes[format], err
}

// WriteFile renders the current feed from source into path atomically.
func WriteFile(ctx context.Context, source Source, cfg Config, format, path string) error {
	posts, err := source.Posts(ctx)
	if err != nil {
		return fmt.Errorf("feed: list posts: %w", err)
	}
	out, _, err := Render(Build(posts, cfg, time.Now()), format)
	if err != nil {
		return fmt.Errorf("feed: render %s: %w", format, err)
	}
	if err := utils.WriteFileAtomic(filepath.Clean(path), []byte(out), 0o644); err != nil {
		return fmt.Errorf("feed: write %s: %w", path, err)
	}
	return nil
}

package feed

import (
	"github.com/Go-555/github-actions-note/internal/cache"
)

const (
	TypeRSS  = "rss"
	TypeAtom = "atom"
	TypeJSON = "json"
)

// CacheKey names one rendering of one server's feed.
type CacheKey struct {
	Server string
	Format string
}

func NewCacheKey(server, format string) CacheKey {
	return CacheKey{Server: server, Format: format}
}

func (k CacheKey) String() string {
	return k.Server + ":" + k.Format
}

func NewCache(config cache.CacheConfig) *cache.Cache[CacheKey, string] {
	return cache.NewCache[CacheKey, string](config, CacheKey.String)
}

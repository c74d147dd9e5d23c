package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Go-555/github-actions-note/internal/cache"
)

type Server struct {
	name   string
	config Config
	source Source
	cache  *cache.Cache[CacheKey, string]
	logger *slog.Logger
	server *http.Server
}

func New(name string, config Config, source Source, logger *slog.Logger) *Server {
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.MaxItems == 0 {
		config.MaxItems = 50
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		name:   name,
		config: config,
		source: source,
		cache:  NewCache(cache.CacheConfig{TTL: 10 * time.Minute}),
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.rss", s.handleFeed(TypeRSS))
	mux.HandleFunc("/feed.atom", s.handleFeed(TypeAtom))
	mux.HandleFunc("/feed.json", s.handleFeed(TypeJSON))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens in the background. The listener is bound before Start
// returns, so a taken port is reported here.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.config.Port)
	if err != nil {
		return fmt.Errorf("feed server %s: %w", s.name, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Feed server stopped", "name", s.name, "error", err)
		}
	}()

	s.logger.Info("Feed server listening", "name", s.name, "addr", ln.Addr().String())
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Invalidate drops cached renderings; called after a new post.
func (s *Server) Invalidate() {
	s.cache.InvalidatePrefix(s.name + ":")
}

func (s *Server) handleFeed(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := NewCacheKey(s.name, format)
		body, ok := s.cache.Get(key)
		contentType := contentTypes[format]

		if !ok {
			posts, err := s.source.Posts(r.Context())
			if err != nil {
				s.logger.Error("Failed to list posts", "name", s.name, "error", err)
				http.Error(w, "feed unavailable", http.StatusInternalServerError)
				return
			}
			body, contentType, err = Render(Build(posts, s.config, time.Now()), format)
			if err != nil {
				s.logger.Error("Failed to render feed", "name", s.name, "format", format, "error", err)
				http.Error(w, "feed unavailable", http.StatusInternalServerError)
				return
			}
			s.cache.Set(key, body)
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=600")
		fmt.Fprint(w, body)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","name":%q,"time":%q}`, s.name, time.Now().UTC().Format(time.RFC3339))
}

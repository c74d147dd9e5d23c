// Package store keeps articles as markdown files spread over stage
// directories. A file lives in exactly one stage; moving between stages
// never leaves it in two places or in none for longer than a link/unlink
// pair.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Go-555/github-actions-note/internal/document"
	"github.com/Go-555/github-actions-note/internal/utils"
)

type Stage string

const (
	StageIncoming Stage = "incoming"
	StageQueued   Stage = "queued"
	StagePosted   Stage = "posted"
	StageRejected Stage = "rejected"
)

var Stages = []Stage{StageIncoming, StageQueued, StagePosted, StageRejected}

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTransferFailed   = errors.New("transfer failed: source no longer exists")
	ErrNotFound         = errors.New("article not found")
	ErrUnknownStage     = errors.New("unknown stage")
)

const DefaultExtension = ".md"

var (
	DefaultReservedPrefixes = []string{".", "_"}
	DefaultReservedNames    = []string{"README.md", "*.tmp"}
)

type Config struct {
	Dirs map[Stage]string
	// Extension recognised as an article, ".md" when empty.
	Extension        string
	ReservedPrefixes []string
	// ReservedNames are doublestar patterns matched against the base name.
	ReservedNames []string
}

// Article is a file name inside one stage.
type Article struct {
	Name  string
	Stage Stage
	Path  string
}

type Store struct {
	cfg    Config
	logger *slog.Logger

	// serialises every mutation; the filesystem is the only shared state
	mu sync.Mutex

	// link is os.Link outside tests
	link func(oldname, newname string) error
}

func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}
	if cfg.ReservedPrefixes == nil {
		cfg.ReservedPrefixes = DefaultReservedPrefixes
	}
	if cfg.ReservedNames == nil {
		cfg.ReservedNames = DefaultReservedNames
	}
	for _, pattern := range cfg.ReservedNames {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid reserved name pattern %q", pattern)
		}
	}
	for _, stage := range []Stage{StageQueued, StagePosted, StageRejected} {
		if cfg.Dirs[stage] == "" {
			return nil, fmt.Errorf("%w: no directory for stage %s", ErrUnknownStage, stage)
		}
	}
	return &Store{cfg: cfg, logger: logger, link: os.Link}, nil
}

func (s *Store) Dir(stage Stage) (string, error) {
	dir, ok := s.cfg.Dirs[stage]
	if !ok || dir == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	return dir, nil
}

// EnsureDirs creates every configured stage directory.
func (s *Store) EnsureDirs() error {
	for stage, dir := range s.cfg.Dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s dir: %v", ErrStoreUnavailable, stage, err)
		}
	}
	return nil
}

func (s *Store) eligible(name string) bool {
	if !strings.HasSuffix(name, s.cfg.Extension) {
		return false
	}
	for _, prefix := range s.cfg.ReservedPrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return false
		}
	}
	for _, pattern := range s.cfg.ReservedNames {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	return true
}

// List returns eligible article names in stage, sorted lexicographically.
// A missing directory is an empty stage.
func (s *Store) List(ctx context.Context, stage Stage) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.Dir(stage)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list %s: %v", ErrStoreUnavailable, stage, err)
	}

	files := utils.Filter(entries, func(e fs.DirEntry) bool {
		return e.Type().IsRegular() && s.eligible(e.Name())
	})
	names := make([]string, len(files))
	for i, entry := range files {
		names[i] = entry.Name()
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) ListQueued(ctx context.Context) ([]string, error) {
	return s.List(ctx, StageQueued)
}

// PickNext returns the lexicographically first queued article, or nil when
// the queue is empty. It never touches the filesystem beyond a listing.
func (s *Store) PickNext(ctx context.Context) (*Article, error) {
	names, err := s.ListQueued(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	return s.Article(StageQueued, names[0])
}

func (s *Store) Article(stage Stage, name string) (*Article, error) {
	dir, err := s.Dir(stage)
	if err != nil {
		return nil, err
	}
	return &Article{Name: name, Stage: stage, Path: filepath.Join(dir, name)}, nil
}

func (s *Store) Read(a *Article) (*document.Document, error) {
	doc, err := document.ReadFile(a.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, a.Path)
		}
		return nil, err
	}
	return doc, nil
}

// Counts reports the number of eligible articles per stage.
func (s *Store) Counts(ctx context.Context) (map[Stage]int, error) {
	counts := make(map[Stage]int, len(Stages))
	for _, stage := range Stages {
		if _, ok := s.cfg.Dirs[stage]; !ok {
			continue
		}
		names, err := s.List(ctx, stage)
		if err != nil {
			return nil, err
		}
		counts[stage] = len(names)
	}
	return counts, nil
}

// Place writes doc into stage under desiredName, appending -2, -3, ... to the
// stem until a free name is found. The content is written to a temp file and
// then linked into place, so a placed file is complete the moment it appears.
func (s *Store) Place(doc *document.Document, stage Stage, desiredName string) (*Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.Dir(stage)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s dir: %v", ErrStoreUnavailable, stage, err)
	}
	data, err := doc.Bytes()
	if err != nil {
		return nil, err
	}
	name := s.normalizeName(desiredName)

	tmp, err := utils.WriteTemp(dir, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer os.Remove(tmp)

	for n := 1; ; n++ {
		candidate := suffixed(name, n)
		target := filepath.Join(dir, candidate)

		err := os.Link(tmp, target)
		if err == nil {
			s.logger.Debug("Placed article", "stage", stage, "name", candidate)
			return &Article{Name: candidate, Stage: stage, Path: target}, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if !linkUnsupported(err) {
			return nil, fmt.Errorf("%w: place %s: %v", ErrStoreUnavailable, candidate, err)
		}

		created, err := createExclusive(target, data)
		if err != nil {
			return nil, fmt.Errorf("%w: place %s: %v", ErrStoreUnavailable, candidate, err)
		}
		if created {
			s.logger.Debug("Placed article", "stage", stage, "name", candidate, "mode", "exclusive-create")
			return &Article{Name: candidate, Stage: stage, Path: target}, nil
		}
	}
}

// Transfer moves a into stage to. The destination is never overwritten; a
// taken name gets the next free suffix. A vanished source reports
// ErrTransferFailed, which callers treat as already handled.
func (s *Store) Transfer(a *Article, to Stage) (*Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.Dir(to)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(a.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTransferFailed, a.Path)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrStoreUnavailable, a.Path, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s dir: %v", ErrStoreUnavailable, to, err)
	}

	for n := 1; ; n++ {
		candidate := suffixed(a.Name, n)
		target := filepath.Join(dir, candidate)

		err := s.link(a.Path, target)
		switch {
		case err == nil:
			if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				// the source still exists, undo so the article keeps one owner
				_ = os.Remove(target)
				return nil, fmt.Errorf("%w: unlink %s: %v", ErrStoreUnavailable, a.Path, err)
			}
		case errors.Is(err, fs.ErrExist):
			continue
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", ErrTransferFailed, a.Path)
		case errors.Is(err, syscall.EXDEV):
			placed, err := copyExclusive(a.Path, target)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil, fmt.Errorf("%w: %s", ErrTransferFailed, a.Path)
				}
				return nil, fmt.Errorf("%w: copy %s: %v", ErrStoreUnavailable, a.Path, err)
			}
			if !placed {
				continue
			}
			if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				_ = os.Remove(target)
				return nil, fmt.Errorf("%w: unlink %s: %v", ErrStoreUnavailable, a.Path, err)
			}
		case linkUnsupported(err):
			if _, statErr := os.Lstat(target); statErr == nil {
				continue
			}
			if err := os.Rename(a.Path, target); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil, fmt.Errorf("%w: %s", ErrTransferFailed, a.Path)
				}
				return nil, fmt.Errorf("%w: rename %s: %v", ErrStoreUnavailable, a.Path, err)
			}
		default:
			return nil, fmt.Errorf("%w: link %s: %v", ErrStoreUnavailable, a.Path, err)
		}

		s.logger.Debug("Transferred article", "name", a.Name, "from", a.Stage, "to", to, "final", candidate)
		return &Article{Name: candidate, Stage: to, Path: target}, nil
	}
}

// Remove deletes a from its stage.
func (s *Store) Remove(a *Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(a.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, a.Path)
		}
		return fmt.Errorf("%w: remove %s: %v", ErrStoreUnavailable, a.Path, err)
	}
	return nil
}

// Rewrite replaces a's content with doc through a temp file and rename.
// On failure the original file is left untouched.
func (s *Store) Rewrite(a *Article, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(a.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, a.Path)
		}
		return fmt.Errorf("%w: stat %s: %v", ErrStoreUnavailable, a.Path, err)
	}
	data, err := doc.Bytes()
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(a.Path, data, 0o644); err != nil {
		return fmt.Errorf("%w: rewrite %s: %v", ErrStoreUnavailable, a.Path, err)
	}
	return nil
}

func createExclusive(path string, data []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return false, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return false, err
	}
	return true, nil
}

func (s *Store) normalizeName(name string) string {
	name = filepath.Base(name)
	if !strings.HasSuffix(name, s.cfg.Extension) {
		name += s.cfg.Extension
	}
	return name
}

// suffixed returns name for n == 1 and stem-n.ext otherwise.
func suffixed(name string, n int) string {
	if n <= 1 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return stem + "-" + strconv.Itoa(n) + ext
}

// linkUnsupported covers filesystems without hard links, where a rename
// within the same device still works. EXDEV is handled by copying.
func linkUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EMLINK)
}

// copyExclusive copies src to a new file at dst for stages on different
// devices. It reports false when dst is already taken.
func copyExclusive(src, dst string) (bool, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	return createExclusive(dst, data)
}

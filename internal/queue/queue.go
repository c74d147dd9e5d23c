// Package queue moves one article per tick from queued to posted or
// rejected. The publishing tool is called at most once per tick and an
// article that went live is never handed to it again.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Go-555/github-actions-note/internal/document"
	"github.com/Go-555/github-actions-note/internal/metrics"
	"github.com/Go-555/github-actions-note/internal/policy"
	"github.com/Go-555/github-actions-note/internal/rpc"
	"github.com/Go-555/github-actions-note/internal/storage"
	"github.com/Go-555/github-actions-note/internal/store"
	"github.com/Go-555/github-actions-note/internal/types"
	"github.com/Go-555/github-actions-note/internal/utils"
)

// ErrReconcile means the tool reported success but the article could not be
// moved to posted. Retrying would risk a second post, so callers must stop.
var ErrReconcile = errors.New("queue: posted article could not be reconciled")

type ReconcileError struct {
	Article string
	Op      string
	Err     error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("%v: %s %s: %v", ErrReconcile, e.Op, e.Article, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

func (e *ReconcileError) Is(target error) bool {
	return target == ErrReconcile
}

type Publisher interface {
	Publish(ctx context.Context, markdownPath string) *rpc.Outcome
}

type RejectionPolicy interface {
	Classify(ctx context.Context, key, path string, doc *document.Document, out *rpc.Outcome) policy.Decision
}

// Announcer tells the outside world about a post. Its errors are logged only.
type Announcer interface {
	Announce(ctx context.Context, post *types.Post) error
}

type State int

const (
	StateIdle State = iota
	StateSelected
	StateDispatched
	StateCommittedPosted
	StateCommittedRejected
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelected:
		return "selected"
	case StateDispatched:
		return "dispatched"
	case StateCommittedPosted:
		return "committed_posted"
	case StateCommittedRejected:
		return "committed_rejected"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type TickResult struct {
	State State
	// Article is the queued file name picked for this tick.
	Article   string
	FinalPath string
	Outcome   *rpc.Outcome
	// Reconciled is set when the article was already live and only its
	// transfer had to be finished.
	Reconciled bool
	Reason     string
}

// NothingToDo reports an empty queue.
func (r *TickResult) NothingToDo() bool {
	return r.State == StateIdle
}

type Config struct {
	// NoteURL, when set, is stamped instead of the URL the tool reports.
	NoteURL string
	// Source is written to the source key of enqueued articles that lack one.
	Source string
	Now    func() time.Time
}

type Deps struct {
	Store     *store.Store
	Publisher Publisher
	Policy    RejectionPolicy
	Ledger    storage.Ledger
	Announcer Announcer
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Machine struct {
	cfg       Config
	store     *store.Store
	publisher Publisher
	policy    RejectionPolicy
	ledger    storage.Ledger
	announcer Announcer
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// one article in flight at a time
	mu sync.Mutex
}

func New(cfg Config, deps Deps) (*Machine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("queue: store is required")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("queue: publisher is required")
	}
	if deps.Ledger == nil {
		deps.Ledger = storage.Noop{}
	}
	if deps.Policy == nil {
		deps.Policy = policy.New(policy.Config{}, nil, deps.Ledger, deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Machine{
		cfg:       cfg,
		store:     deps.Store,
		publisher: deps.Publisher,
		policy:    deps.Policy,
		ledger:    deps.Ledger,
		announcer: deps.Announcer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}, nil
}

// Tick handles the lexicographically first queued article. An empty queue
// yields StateIdle and no error. A returned error wrapping ErrReconcile is
// fatal for the caller.
func (m *Machine) Tick(ctx context.Context) (*TickResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &TickResult{State: StateIdle}
	err := m.tick(ctx, res)
	m.metrics.Tick(res.State.String())
	m.recordDepth(ctx)
	return res, err
}

func (m *Machine) tick(ctx context.Context, res *TickResult) error {
	article, err := m.store.PickNext(ctx)
	if err != nil {
		return err
	}
	if article == nil {
		m.logger.Debug("Queue is empty")
		return nil
	}
	res.State = StateSelected
	res.Article = article.Name
	logger := m.logger.With("article", article.Name)

	doc, err := m.store.Read(article)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Warn("Selected article disappeared before dispatch")
		res.State = StateAborted
		return nil
	case errors.Is(err, document.ErrMalformedHeader):
		logger.Error("Rejecting article with malformed front matter", "error", err)
		return m.reject(ctx, res, article, nil, "malformed front matter: "+err.Error(), "")
	case err != nil:
		return fmt.Errorf("read %s: %w", article.Name, err)
	}

	key := articleKey(doc, article.Name)
	logger = logger.With("key", key)

	if done, err := m.reconcile(ctx, res, article, doc, key, logger); done || err != nil {
		return err
	}

	res.State = StateDispatched
	logger.Info("Dispatching article to publishing tool")
	started := m.cfg.Now()
	out := m.publisher.Publish(ctx, article.Path)
	res.Outcome = out
	m.metrics.Outcome(out.Success, string(out.Phase), out.Duration)

	// the tool has run; what follows must not be cut short by shutdown
	bookCtx := context.WithoutCancel(ctx)

	attempt := storage.Attempt{
		Article:     key,
		Name:        article.Name,
		StartedAt:   started,
		FinishedAt:  m.cfg.Now(),
		Success:     out.Success,
		Phase:       string(out.Phase),
		Detail:      out.ErrorDetail,
		Raw:         out.Raw,
		ContentHash: contentHash(doc),
	}
	if err := m.ledger.RecordAttempt(bookCtx, attempt); err != nil {
		logger.Warn("Failed to record attempt", "error", err)
	}

	if out.Success {
		return m.commitPosted(bookCtx, ctx, res, article, doc, key, out.Reference, logger)
	}

	logger.Warn("Publish failed", "phase", out.Phase, "detail", out.ErrorDetail)
	decision := m.policy.Classify(bookCtx, key, article.Path, doc, out)
	if !decision.Permanent {
		logger.Info("Article stays queued", "reason", decision.Reason)
		res.State = StateAborted
		res.Reason = decision.Reason
		return nil
	}
	return m.reject(bookCtx, res, article, doc, decision.Reason, out.Diagnostic())
}

// reconcile finishes transfers interrupted after a previous run had
// already decided the article's fate.
func (m *Machine) reconcile(ctx context.Context, res *TickResult, article *store.Article, doc *document.Document, key string, logger *slog.Logger) (bool, error) {
	if doc.Has(document.KeyPostedAt) {
		logger.Warn("Queued article already carries posted_at, finishing transfer")
		res.Reconciled = true
		return true, m.finishPosted(ctx, res, article, doc, logger)
	}

	pub, err := m.ledger.Published(ctx, key)
	if err != nil {
		// without the ledger's answer the header is the only guard left
		logger.Warn("Could not consult ledger", "error", err)
	}
	if pub != nil {
		logger.Warn("Ledger records article as published, finishing transfer", "reference", pub.Reference)
		res.Reconciled = true
		if err := m.stampPosted(doc, pub.PostedAt, pub.Reference); err != nil {
			return true, &ReconcileError{Article: article.Name, Op: "stamp", Err: err}
		}
		if err := m.store.Rewrite(article, doc); err != nil {
			return true, &ReconcileError{Article: article.Name, Op: "rewrite", Err: err}
		}
		return true, m.finishPosted(ctx, res, article, doc, logger)
	}

	if doc.Has(document.KeyRejectedAt) {
		logger.Warn("Queued article already carries rejected_at, finishing transfer")
		res.Reconciled = true
		final, err := m.store.Transfer(article, store.StageRejected)
		if err != nil && !errors.Is(err, store.ErrTransferFailed) {
			return true, err
		}
		res.State = StateCommittedRejected
		res.Reason = doc.GetString(document.KeyRejectReason)
		if final != nil {
			res.FinalPath = final.Path
		}
		return true, nil
	}
	return false, nil
}

func (m *Machine) commitPosted(ctx, announceCtx context.Context, res *TickResult, article *store.Article, doc *document.Document, key, reference string, logger *slog.Logger) error {
	now := m.cfg.Now().UTC()
	if m.cfg.NoteURL != "" {
		reference = m.cfg.NoteURL
	}

	// ledger first: if the process dies below, the next tick still knows
	if err := m.ledger.MarkPublished(ctx, storage.Publication{
		Article:   key,
		Name:      article.Name,
		Reference: reference,
		PostedAt:  now,
	}); err != nil {
		logger.Error("Failed to mark article published in ledger", "error", err)
	}

	if err := m.stampPosted(doc, now, reference); err != nil {
		return &ReconcileError{Article: article.Name, Op: "stamp", Err: err}
	}
	if err := m.store.Rewrite(article, doc); err != nil {
		return &ReconcileError{Article: article.Name, Op: "rewrite", Err: err}
	}
	if err := m.finishPosted(ctx, res, article, doc, logger); err != nil {
		return err
	}

	logger.Info("Article posted", "reference", reference, "final", res.FinalPath)
	m.announce(announceCtx, doc, res.FinalPath, logger)
	return nil
}

func (m *Machine) stampPosted(doc *document.Document, at time.Time, reference string) error {
	if err := doc.Set(document.KeyPostedAt, at.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if reference != "" {
		if err := doc.Set(document.KeyNoteURL, reference); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) finishPosted(ctx context.Context, res *TickResult, article *store.Article, doc *document.Document, logger *slog.Logger) error {
	final, err := m.store.Transfer(article, store.StagePosted)
	switch {
	case errors.Is(err, store.ErrTransferFailed):
		// someone else moved it; it is no longer queued, which is all we need
		logger.Warn("Article vanished before transfer to posted", "error", err)
	case err != nil:
		return &ReconcileError{Article: article.Name, Op: "transfer", Err: err}
	default:
		res.FinalPath = final.Path
	}
	res.State = StateCommittedPosted
	return nil
}

func (m *Machine) reject(ctx context.Context, res *TickResult, article *store.Article, doc *document.Document, reason, detail string) error {
	logger := m.logger.With("article", article.Name)
	if doc != nil {
		stamp := []struct {
			key, value string
		}{
			{document.KeyRejectedAt, m.cfg.Now().UTC().Format(time.RFC3339)},
			{document.KeyRejectReason, reason},
			{document.KeyPublishError, detail},
		}
		for _, s := range stamp {
			if s.value == "" {
				continue
			}
			if err := doc.Set(s.key, s.value); err != nil {
				return fmt.Errorf("stamp %s: %w", s.key, err)
			}
		}
		if err := m.store.Rewrite(article, doc); err != nil {
			return fmt.Errorf("rewrite rejected article: %w", err)
		}
	}

	final, err := m.store.Transfer(article, store.StageRejected)
	switch {
	case errors.Is(err, store.ErrTransferFailed):
		logger.Warn("Article vanished before transfer to rejected", "error", err)
	case err != nil:
		return fmt.Errorf("transfer to rejected: %w", err)
	default:
		res.FinalPath = final.Path
	}

	logger.Warn("Article rejected", "reason", reason)
	res.State = StateCommittedRejected
	res.Reason = reason
	return nil
}

func (m *Machine) announce(ctx context.Context, doc *document.Document, path string, logger *slog.Logger) {
	if m.announcer == nil {
		return
	}
	post := types.PostFromDocument(doc, path)
	if err := m.announcer.Announce(ctx, post); err != nil {
		logger.Warn("Announcement failed", "error", err)
		var te *types.TargetError
		if errors.As(err, &te) {
			m.metrics.AnnounceError(te.Target)
		}
	}
}

// Enqueue hands a file from outside the queue (normally the incoming stage)
// to queued, stamping queued_at and a uuid when missing. The source file is
// removed once the queued copy exists.
func (m *Machine) Enqueue(ctx context.Context, path string) (*store.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := document.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	if doc.GetString(document.KeyUUID) == "" {
		if err := doc.Set(document.KeyUUID, uuid.NewString()); err != nil {
			return nil, err
		}
	}
	if err := doc.Set(document.KeyQueuedAt, m.cfg.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	if m.cfg.Source != "" && !doc.Has(document.KeySource) {
		if err := doc.Set(document.KeySource, m.cfg.Source); err != nil {
			return nil, err
		}
	}

	placed, err := m.store.Place(doc, store.StageQueued, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", filepath.Base(path), err)
	}

	src := &store.Article{Name: filepath.Base(path), Stage: store.StageIncoming, Path: path}
	if err := m.store.Remove(src); err != nil && !errors.Is(err, store.ErrNotFound) {
		// two copies beat none; the intake will find it again
		m.logger.Warn("Queued article but could not remove source", "source", path, "error", err)
	}

	m.logger.Info("Article enqueued", "source", path, "name", placed.Name, "uuid", doc.GetString(document.KeyUUID))
	return placed, nil
}

// Intake enqueues every article waiting in the incoming stage. A file that
// cannot be enqueued is logged and left where it is.
func (m *Machine) Intake(ctx context.Context) ([]*store.Article, error) {
	dir, err := m.store.Dir(store.StageIncoming)
	if err != nil {
		return nil, nil
	}
	names, err := m.store.List(ctx, store.StageIncoming)
	if err != nil {
		return nil, err
	}

	var placed []*store.Article
	var errs []error
	for _, name := range names {
		a, err := m.Enqueue(ctx, filepath.Join(dir, name))
		if err != nil {
			if ctx.Err() != nil {
				return placed, ctx.Err()
			}
			m.logger.Error("Failed to enqueue article", "name", name, "error", err)
			errs = append(errs, err)
			continue
		}
		placed = append(placed, a)
	}
	return placed, errors.Join(errs...)
}

func (m *Machine) recordDepth(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	counts, err := m.store.Counts(ctx)
	if err != nil {
		return
	}
	for stage, n := range counts {
		m.metrics.StageDepth(string(stage), n)
	}
	if err := m.metrics.Flush(); err != nil {
		m.logger.Warn("Failed to write metrics textfile", "error", err)
	}
}

// articleKey identifies an article across renames.
func articleKey(doc *document.Document, name string) string {
	if id := doc.GetString(document.KeyUUID); id != "" {
		return id
	}
	return name
}

func contentHash(doc *document.Document) string {
	data, err := doc.Bytes()
	if err != nil {
		return ""
	}
	return utils.ComputeHash(data)
}

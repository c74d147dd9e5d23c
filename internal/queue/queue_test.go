package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Go-555/github-actions-note/internal/document"
	"github.com/Go-555/github-actions-note/internal/policy"
	"github.com/Go-555/github-actions-note/internal/rpc"
	"github.com/Go-555/github-actions-note/internal/storage"
	"github.com/Go-555/github-actions-note/internal/store"
	"github.com/Go-555/github-actions-note/internal/types"
)

var frozen = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

type fakePublisher struct {
	mu      sync.Mutex
	outcome rpc.Outcome
	paths   []string
}

func (p *fakePublisher) Publish(_ context.Context, path string) *rpc.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	out := p.outcome
	return &out
}

type fixedPolicy struct {
	decision policy.Decision
	calls    int
}

func (p *fixedPolicy) Classify(context.Context, string, string, *document.Document, *rpc.Outcome) policy.Decision {
	p.calls++
	return p.decision
}

type memLedger struct {
	mu        sync.Mutex
	attempts  []storage.Attempt
	published map[string]storage.Publication
}

func newMemLedger() *memLedger {
	return &memLedger{published: map[string]storage.Publication{}}
}

func (l *memLedger) RecordAttempt(_ context.Context, a storage.Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
	return nil
}

func (l *memLedger) MarkPublished(_ context.Context, pub storage.Publication) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published[pub.Article] = pub
	return nil
}

func (l *memLedger) Published(_ context.Context, article string) (*storage.Publication, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pub, ok := l.published[article]; ok {
		return &pub, nil
	}
	return nil, nil
}

func (l *memLedger) IsPublished(ctx context.Context, article string) (bool, error) {
	pub, err := l.Published(ctx, article)
	return pub != nil, err
}

func (l *memLedger) FailedAttempts(_ context.Context, article string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, a := range l.attempts {
		if a.Article == article && !a.Success {
			n++
		}
	}
	return n, nil
}

func (l *memLedger) Recent(context.Context, int) ([]storage.Attempt, error) { return nil, nil }

func (l *memLedger) Close(context.Context) error { return nil }

type recordingAnnouncer struct {
	posts []*types.Post
	err   error
}

func (a *recordingAnnouncer) Announce(_ context.Context, post *types.Post) error {
	a.posts = append(a.posts, post)
	return a.err
}

type fixture struct {
	root      string
	store     *store.Store
	publisher *fakePublisher
	policy    *fixedPolicy
	ledger    *memLedger
	announcer *recordingAnnouncer
	machine   *Machine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	root := t.TempDir()
	st, err := store.New(store.Config{Dirs: map[store.Stage]string{
		store.StageIncoming: filepath.Join(root, "incoming"),
		store.StageQueued:   filepath.Join(root, "queued"),
		store.StagePosted:   filepath.Join(root, "posted"),
		store.StageRejected: filepath.Join(root, "rejected"),
	}}, nil)
	require.NoError(t, err)
	require.NoError(t, st.EnsureDirs())

	f := &fixture{
		root:      root,
		store:     st,
		publisher: &fakePublisher{outcome: rpc.Outcome{Success: true, Phase: rpc.PhaseNone, HandshakeCompleted: true}},
		policy:    &fixedPolicy{},
		ledger:    newMemLedger(),
		announcer: &recordingAnnouncer{},
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return frozen }
	}
	f.machine, err = New(cfg, Deps{
		Store:     st,
		Publisher: f.publisher,
		Policy:    f.policy,
		Ledger:    f.ledger,
		Announcer: f.announcer,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) write(t *testing.T, stage, name, content string) string {
	t.Helper()
	path := filepath.Join(f.root, stage, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) read(t *testing.T, stage, name string) *document.Document {
	t.Helper()
	doc, err := document.ReadFile(filepath.Join(f.root, stage, name))
	require.NoError(t, err)
	return doc
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "expected %s to be gone", path)
}

const article = "---\ntitle: Hello\nuuid: abc-123\ncustom: keep me\n---\nBody text.\n"

func TestTickEmptyQueue(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NothingToDo())
	assert.Empty(t, f.publisher.paths)
}

func TestTickPostsArticle(t *testing.T) {
	f := newFixture(t, Config{})
	f.publisher.outcome.Reference = "https://note.com/u/n/n1"
	f.publisher.outcome.Raw = json.RawMessage(`{"success":true}`)
	src := f.write(t, "queued", "2025-01-01-hello.md", article)

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommittedPosted, res.State)
	assert.Equal(t, "2025-01-01-hello.md", res.Article)
	assert.Equal(t, []string{src}, f.publisher.paths)
	assertMissing(t, src)

	doc := f.read(t, "posted", "2025-01-01-hello.md")
	assert.Equal(t, "2025-01-02T03:04:05Z", doc.GetString(document.KeyPostedAt))
	assert.Equal(t, "https://note.com/u/n/n1", doc.GetString(document.KeyNoteURL))
	assert.Equal(t, "keep me", doc.GetString("custom"))
	assert.Equal(t, "Body text.\n", doc.Body())

	require.Len(t, f.ledger.attempts, 1)
	assert.Equal(t, "abc-123", f.ledger.attempts[0].Article)
	assert.True(t, f.ledger.attempts[0].Success)
	assert.NotEmpty(t, f.ledger.attempts[0].ContentHash)
	assert.Contains(t, f.ledger.published, "abc-123")

	require.Len(t, f.announcer.posts, 1)
	assert.Equal(t, "Hello", f.announcer.posts[0].Title)
	assert.Equal(t, frozen, f.announcer.posts[0].PostedAt)
}

func TestTickConfiguredNoteURLWins(t *testing.T) {
	f := newFixture(t, Config{NoteURL: "https://note.com/u/n/fixed"})
	f.publisher.outcome.Reference = "https://note.com/u/n/reported"
	f.write(t, "queued", "a.md", article)

	_, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://note.com/u/n/fixed", f.read(t, "posted", "a.md").GetString(document.KeyNoteURL))
}

func TestTickPicksLexicographicallyFirst(t *testing.T) {
	f := newFixture(t, Config{})
	f.write(t, "queued", "b.md", article)
	f.write(t, "queued", "a.md", "---\ntitle: A\n---\nA\n")
	f.write(t, "queued", "_draft.md", article)
	f.write(t, "queued", "README.md", "readme\n")

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a.md", res.Article)

	res, err = f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b.md", res.Article)

	res, err = f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NothingToDo())
}

func TestTickTransientFailureLeavesArticleUntouched(t *testing.T) {
	f := newFixture(t, Config{})
	f.publisher.outcome = rpc.Outcome{Phase: rpc.PhaseTimeout, ErrorDetail: "no response before timeout"}
	f.policy.decision = policy.Decision{Reason: "transient timeout failure"}
	src := f.write(t, "queued", "a.md", article)

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, "transient timeout failure", res.Reason)

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, article, string(data))

	require.Len(t, f.ledger.attempts, 1)
	assert.False(t, f.ledger.attempts[0].Success)
	assert.Equal(t, "timeout", f.ledger.attempts[0].Phase)
	assert.Empty(t, f.announcer.posts)
}

func TestTickPermanentFailureRejects(t *testing.T) {
	f := newFixture(t, Config{})
	f.publisher.outcome = rpc.Outcome{Phase: rpc.PhaseEvaluation, HandshakeCompleted: true, ErrorDetail: "result did not report success"}
	f.policy.decision = policy.Decision{Permanent: true, Reason: "3 failed attempts (limit 3)"}
	src := f.write(t, "queued", "a.md", article)

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommittedRejected, res.State)
	assertMissing(t, src)

	doc := f.read(t, "rejected", "a.md")
	assert.Equal(t, "2025-01-02T03:04:05Z", doc.GetString(document.KeyRejectedAt))
	assert.Equal(t, "3 failed attempts (limit 3)", doc.GetString(document.KeyRejectReason))
	assert.Contains(t, doc.GetString(document.KeyPublishError), "evaluation phase")
	assert.False(t, doc.Has(document.KeyPostedAt))
}

func TestTickMalformedHeaderRejectedWithoutDispatch(t *testing.T) {
	f := newFixture(t, Config{})
	bad := "---\ntitle: [unclosed\n---\nbody\n"
	f.write(t, "queued", "bad.md", bad)

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommittedRejected, res.State)
	assert.Empty(t, f.publisher.paths)

	data, err := os.ReadFile(filepath.Join(f.root, "rejected", "bad.md"))
	require.NoError(t, err)
	assert.Equal(t, bad, string(data))
}

func TestTickReconcilesPostedHeader(t *testing.T) {
	f := newFixture(t, Config{})
	f.write(t, "queued", "a.md", "---\ntitle: A\nposted_at: 2024-12-31T00:00:00Z\n---\nA\n")

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommittedPosted, res.State)
	assert.True(t, res.Reconciled)
	assert.Empty(t, f.publisher.paths)
	assert.Equal(t, "2024-12-31T00:00:00Z", f.read(t, "posted", "a.md").GetString(document.KeyPostedAt))
}

func TestTickReconcilesLedgerPublication(t *testing.T) {
	f := newFixture(t, Config{})
	at := time.Date(2024, 12, 30, 9, 0, 0, 0, time.UTC)
	f.ledger.published["abc-123"] = storage.Publication{Article: "abc-123", Reference: "https://note.com/u/n/old", PostedAt: at}
	f.write(t, "queued", "a.md", article)

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Reconciled)
	assert.Empty(t, f.publisher.paths)

	doc := f.read(t, "posted", "a.md")
	assert.Equal(t, "2024-12-30T09:00:00Z", doc.GetString(document.KeyPostedAt))
	assert.Equal(t, "https://note.com/u/n/old", doc.GetString(document.KeyNoteURL))
}

func TestTickReconcilesRejectedHeader(t *testing.T) {
	f := newFixture(t, Config{})
	f.write(t, "queued", "a.md", "---\ntitle: A\nrejected_at: 2024-12-31T00:00:00Z\nreject_reason: too short\n---\nA\n")

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommittedRejected, res.State)
	assert.Equal(t, "too short", res.Reason)
	assert.Empty(t, f.publisher.paths)
}

func TestTickTransferNeverOverwrites(t *testing.T) {
	f := newFixture(t, Config{})
	existing := f.write(t, "posted", "a.md", "---\ntitle: earlier\n---\nold\n")
	f.write(t, "queued", "a.md", article)

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "posted", "a-2.md"), res.FinalPath)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Contains(t, string(data), "earlier")
}

func TestTickReconcileFailureIsFatal(t *testing.T) {
	f := newFixture(t, Config{})
	posted := filepath.Join(f.root, "posted")
	require.NoError(t, os.RemoveAll(posted))
	require.NoError(t, os.WriteFile(posted, []byte("not a dir"), 0o644))
	f.write(t, "queued", "a.md", article)

	_, err := f.machine.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconcile)

	var re *ReconcileError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "transfer", re.Op)

	// the ledger remembers, so the next tick will not dispatch again
	assert.Contains(t, f.ledger.published, "abc-123")
	doc := f.read(t, "queued", "a.md")
	assert.True(t, doc.Has(document.KeyPostedAt))
}

func TestTickAnnouncerFailureDoesNotChangeDisposition(t *testing.T) {
	f := newFixture(t, Config{})
	f.announcer.err = types.NewTargetError("discord", "abc-123", 4, errors.New("rate limited"))
	f.write(t, "queued", "a.md", article)

	res, err := f.machine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommittedPosted, res.State)
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t, Config{Source: "generator"})
	f.write(t, "queued", "a.md", article)
	src := f.write(t, "incoming", "a.md", "---\ntitle: New\n---\nNew body\n")

	placed, err := f.machine.Enqueue(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "a-2.md", placed.Name)
	assertMissing(t, src)

	doc := f.read(t, "queued", "a-2.md")
	assert.NotEmpty(t, doc.GetString(document.KeyUUID))
	assert.Equal(t, "2025-01-02T03:04:05Z", doc.GetString(document.KeyQueuedAt))
	assert.Equal(t, "generator", doc.GetString(document.KeySource))
	assert.Equal(t, "New body\n", doc.Body())
}

func TestEnqueueKeepsExistingUUID(t *testing.T) {
	f := newFixture(t, Config{})
	src := f.write(t, "incoming", "b.md", article)

	_, err := f.machine.Enqueue(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", f.read(t, "queued", "b.md").GetString(document.KeyUUID))
}

func TestIntake(t *testing.T) {
	f := newFixture(t, Config{})
	f.write(t, "incoming", "one.md", "---\ntitle: One\n---\n1\n")
	f.write(t, "incoming", "two.md", "---\ntitle: Two\n---\n2\n")
	f.write(t, "incoming", "broken.md", "---\ntitle: [\n---\nx\n")

	placed, err := f.machine.Intake(context.Background())
	require.Error(t, err)
	require.Len(t, placed, 2)
	assert.Equal(t, "one.md", placed[0].Name)
	assert.Equal(t, "two.md", placed[1].Name)

	names, err := f.store.List(context.Background(), store.StageIncoming)
	require.NoError(t, err)
	assert.Equal(t, []string{"broken.md"}, names)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "committed_posted", StateCommittedPosted.String())
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "state(42)", State(42).String())
}

// Package policy decides whether a failed publish is permanent for the
// article. Anything it cannot pin on the article leaves the article queued.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Go-555/github-actions-note/internal/document"
	"github.com/Go-555/github-actions-note/internal/quality"
	"github.com/Go-555/github-actions-note/internal/rpc"
	"github.com/Go-555/github-actions-note/internal/storage"
)

type Decision struct {
	Permanent bool
	Reason    string
}

// Checker is the subset of the quality gate the policy needs.
type Checker interface {
	Check(doc *document.Document, articlePath string) []quality.Violation
}

type Config struct {
	// MaxAttempts rejects an article after this many failed calls; 0 never does.
	MaxAttempts int
}

type Policy struct {
	cfg    Config
	gate   Checker
	ledger storage.Ledger
	logger *slog.Logger
}

func New(cfg Config, gate Checker, ledger storage.Ledger, logger *slog.Logger) *Policy {
	if ledger == nil {
		ledger = storage.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{cfg: cfg, gate: gate, ledger: ledger, logger: logger}
}

// Classify looks at a failed outcome. The current attempt must already be
// recorded in the ledger.
func (p *Policy) Classify(ctx context.Context, key, path string, doc *document.Document, out *rpc.Outcome) Decision {
	// a tool that never got to the article says nothing about the article
	switch out.Phase {
	case rpc.PhaseSpawn, rpc.PhaseHandshake, rpc.PhaseTimeout:
		return Decision{Reason: fmt.Sprintf("transient %s failure", out.Phase)}
	}

	if p.gate != nil && doc != nil {
		if violations := p.gate.Check(doc, path); len(violations) > 0 {
			reasons := make([]string, len(violations))
			for i, v := range violations {
				reasons[i] = v.String()
			}
			return Decision{Permanent: true, Reason: "quality gate: " + strings.Join(reasons, "; ")}
		}
	}

	if p.cfg.MaxAttempts > 0 {
		failed, err := p.ledger.FailedAttempts(ctx, key)
		if err != nil {
			p.logger.Warn("Could not count failed attempts", "article", key, "error", err)
			return Decision{Reason: "attempt count unavailable"}
		}
		if failed >= p.cfg.MaxAttempts {
			return Decision{Permanent: true, Reason: fmt.Sprintf("%d failed attempts (limit %d)", failed, p.cfg.MaxAttempts)}
		}
	}

	return Decision{Reason: fmt.Sprintf("%s failure, will retry", out.Phase)}
}

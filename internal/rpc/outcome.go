package rpc

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase names the step a failed attempt stopped at.
type Phase string

const (
	PhaseNone       Phase = "none"
	PhaseSpawn      Phase = "spawn"
	PhaseHandshake  Phase = "handshake"
	PhaseCall       Phase = "call"
	PhaseTimeout    Phase = "timeout"
	PhaseEvaluation Phase = "evaluation"
)

type State int

const (
	StateSpawned State = iota
	StateAwaitingInit
	StateInitialized
	StateAwaitingCallResult
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateAwaitingInit:
		return "awaiting_init"
	case StateInitialized:
		return "initialized"
	case StateAwaitingCallResult:
		return "awaiting_call_result"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is produced exactly once per publish attempt.
type Outcome struct {
	Success bool
	// Raw is the call result, or the error payload of a failed reply.
	Raw         json.RawMessage
	ErrorDetail string
	Phase       Phase
	// HandshakeCompleted tells a dead tool apart from a stuck call.
	HandshakeCompleted bool
	// Reference is the published URL reported by the tool, if any.
	Reference string
	Duration  time.Duration
}

// Diagnostic is the single human-readable line printed on failure.
func (o *Outcome) Diagnostic() string {
	if o.Success {
		return "publish succeeded"
	}
	handshake := "handshake never completed"
	switch {
	case o.Phase == PhaseEvaluation:
		handshake = "call returned without success"
	case o.HandshakeCompleted:
		handshake = "handshake completed, call did not"
	}
	return fmt.Sprintf("publish failed in %s phase (%s): %s", o.Phase, handshake, o.ErrorDetail)
}

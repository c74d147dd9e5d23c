// Package rpc drives an external publishing tool that speaks newline
// delimited JSON-RPC 2.0 on its standard streams.
//
// One Publish call owns one child process: it sends initialize, waits for
// the reply, sends a single tools/call and reduces whatever comes back to
// an Outcome. Every failure mode ends up in the Outcome; Publish never
// returns an error.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Go-555/github-actions-note/internal/evaluate"
	"github.com/Go-555/github-actions-note/internal/utils"
)

const (
	ProtocolVersion = "2024-11-05"

	InitID = "init"
	CallID = "call1"

	DefaultToolName         = "post_to_note"
	DefaultOperationTimeout = 240 * time.Second
	DefaultHardTimeout      = 300 * time.Second
	DefaultKillGrace        = 5 * time.Second
	DefaultExitGrace        = 5 * time.Second

	maxLineSize = 16 * 1024 * 1024
)

type Options struct {
	Command string
	Args    []string
	// Env is appended to the parent environment.
	Env []string
	Dir string

	ToolName      string
	StatePath     string
	ScreenshotDir string

	// OperationTimeout is forwarded to the tool in milliseconds.
	OperationTimeout time.Duration
	// HardTimeout is measured from spawn; the child is killed when it expires.
	HardTimeout time.Duration
	// KillGrace is the time between SIGTERM and SIGKILL.
	KillGrace time.Duration
	// ExitGrace bounds the wait for a natural exit once the outcome is known.
	ExitGrace time.Duration

	// ResultPath receives the raw result of a successful call when set.
	ResultPath string
	// Stderr receives the child's stderr verbatim; os.Stderr when nil.
	Stderr io.Writer

	ClientName    string
	ClientVersion string
}

func (o Options) withDefaults() Options {
	if o.ToolName == "" {
		o.ToolName = DefaultToolName
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	if o.HardTimeout <= 0 {
		o.HardTimeout = DefaultHardTimeout
	}
	if o.KillGrace <= 0 {
		o.KillGrace = DefaultKillGrace
	}
	if o.ExitGrace <= 0 {
		o.ExitGrace = DefaultExitGrace
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.ClientName == "" {
		o.ClientName = "notepost"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "dev"
	}
	return o
}

type Client struct {
	opts   Options
	logger *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Command == "" {
		return nil, errors.New("publisher command is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: opts.withDefaults(), logger: logger}, nil
}

func (c *Client) Options() Options {
	return c.opts
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    mcp.ClientCapabilities `json:"capabilities"`
	ClientInfo      mcp.Implementation     `json:"clientInfo"`
}

type callParams struct {
	Name      string        `json:"name"`
	Arguments callArguments `json:"arguments"`
}

type callArguments struct {
	MarkdownPath  string `json:"markdown_path"`
	StatePath     string `json:"state_path"`
	ScreenshotDir string `json:"screenshot_dir"`
	Timeout       int64  `json:"timeout"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func (r response) id() (string, bool) {
	if len(r.ID) == 0 {
		return "", false
	}
	var id string
	if err := json.Unmarshal(r.ID, &id); err != nil {
		return string(r.ID), true
	}
	return id, true
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// session is the per-Publish protocol state owned by the coordinator loop.
type session struct {
	client *Client
	logger *slog.Logger
	path   string
	state  State
	stdin  io.WriteCloser
	out    *Outcome
	done   bool
}

func (s *session) transition(next State) {
	s.logger.Debug("Protocol transition", "from", s.state, "to", next)
	s.state = next
}

func (s *session) send(id, method string, params any) error {
	data, err := json.Marshal(request{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := s.stdin.Write(data); err != nil {
		return fmt.Errorf("write %s request: %w", method, err)
	}
	s.logger.Debug("Sent request", "id", id, "method", method)
	return nil
}

func (s *session) fail(phase Phase, detail string) {
	s.transition(StateFailed)
	s.out.Success = false
	s.out.Phase = phase
	s.out.ErrorDetail = detail
	s.finish()
}

func (s *session) finish() {
	s.done = true
	if err := s.stdin.Close(); err != nil {
		s.logger.Debug("Closing tool stdin failed", "error", err)
	}
}

// Publish runs one initialize and tools/call exchange for markdownPath.
func (c *Client) Publish(ctx context.Context, markdownPath string) *Outcome {
	start := time.Now()
	out := &Outcome{Phase: PhaseNone}
	logger := c.logger.With("article", markdownPath)

	hardCtx, cancel := context.WithTimeout(ctx, c.opts.HardTimeout)
	defer cancel()

	cmd := exec.CommandContext(hardCtx, c.opts.Command, c.opts.Args...)
	cmd.Env = append(os.Environ(), c.opts.Env...)
	cmd.Dir = c.opts.Dir
	cmd.Stderr = c.opts.Stderr
	cmd.Cancel = func() error {
		// the ceiling is absolute: no grace once it has passed
		if ctx.Err() == nil && errors.Is(hardCtx.Err(), context.DeadlineExceeded) {
			logger.Debug("Killing publishing tool at hard timeout")
			return cmd.Process.Kill()
		}
		logger.Debug("Terminating publishing tool")
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = c.opts.KillGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		out.Phase, out.ErrorDetail = PhaseSpawn, err.Error()
		out.Duration = time.Since(start)
		return out
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		out.Phase, out.ErrorDetail = PhaseSpawn, fmt.Sprintf("start publishing tool: %v", err)
		out.Duration = time.Since(start)
		logger.Error("Failed to start publishing tool", "command", c.opts.Command, "error", err)
		return out
	}
	logger.Info("Spawned publishing tool", "command", c.opts.Command, "pid", cmd.Process.Pid)

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	lines := make(chan []byte)
	go readLines(pr, lines, logger)

	s := &session{client: c, logger: logger, path: markdownPath, state: StateSpawned, stdin: stdin, out: out}
	if err := s.send(InitID, "initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      mcp.Implementation{Name: c.opts.ClientName, Version: c.opts.ClientVersion},
	}); err != nil {
		s.fail(PhaseHandshake, err.Error())
		cancel()
	} else {
		s.transition(StateAwaitingInit)
	}

	hardDone := hardCtx.Done()
	var exitTimer <-chan time.Time
	for lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			wasDone := s.done
			s.handleLine(line)
			if s.done && !wasDone {
				if s.state == StateFailed && !out.HandshakeCompleted {
					// an initialize failure leaves nothing to wait for
					cancel()
				} else {
					exitTimer = time.After(c.opts.ExitGrace)
				}
			}
		case <-hardDone:
			hardDone = nil
			if !s.done {
				if ctx.Err() != nil {
					s.fail(PhaseTimeout, "cancelled before response")
				} else {
					s.fail(PhaseTimeout, "no response before timeout")
				}
				logger.Warn("Publishing tool timed out",
					"ceiling", c.opts.HardTimeout, "handshake_completed", out.HandshakeCompleted)
			}
		case <-exitTimer:
			exitTimer = nil
			logger.Warn("Publishing tool did not exit after outcome, terminating", "grace", c.opts.ExitGrace)
			cancel()
		}
	}

	err = <-waitErr
	if !s.done {
		// stdout closed without a terminal message
		phase, detail := PhaseCall, "process exited before the call completed"
		if !out.HandshakeCompleted {
			phase, detail = PhaseHandshake, "process exited before the handshake completed"
		}
		if err != nil {
			detail = fmt.Sprintf("%s: %v", detail, err)
		}
		s.fail(phase, detail)
	}
	logger.Debug("Publishing tool exited", "error", err)

	out.Duration = time.Since(start)
	if out.Success && c.opts.ResultPath != "" {
		if err := writeResult(c.opts.ResultPath, out.Raw); err != nil {
			logger.Warn("Failed to write result file", "path", c.opts.ResultPath, "error", err)
		}
	}

	if out.Success {
		logger.Info("Publish succeeded", "duration", out.Duration, "reference", out.Reference)
	} else {
		logger.Warn("Publish failed", "phase", out.Phase, "detail", out.ErrorDetail,
			"handshake_completed", out.HandshakeCompleted, "duration", out.Duration)
	}
	return out
}

func (s *session) handleLine(line []byte) {
	var msg response
	if err := json.Unmarshal(line, &msg); err != nil {
		s.logger.Info("Tool output", "line", string(line))
		return
	}
	id, ok := msg.id()
	if !ok {
		if msg.Method != "" {
			s.logger.Debug("Tool notification", "method", msg.Method)
		} else {
			s.logger.Info("Tool output", "line", string(line))
		}
		return
	}
	if s.done {
		s.logger.Debug("Discarding message after outcome", "id", id)
		return
	}

	switch id {
	case InitID:
		s.handleInit(msg)
	case CallID:
		s.handleCall(msg)
	default:
		s.logger.Warn("Discarding message with unknown id", "id", id)
	}
}

func (s *session) handleInit(msg response) {
	if s.state != StateAwaitingInit {
		s.logger.Warn("Discarding duplicate initialize reply", "state", s.state)
		return
	}
	switch {
	case present(msg.Error):
		s.out.Raw = msg.Error
		s.fail(PhaseHandshake, "initialize failed: "+errorMessage(msg.Error))
	case present(msg.Result):
		s.transition(StateInitialized)
		s.out.HandshakeCompleted = true

		opts := s.client.opts
		err := s.send(CallID, "tools/call", callParams{
			Name: opts.ToolName,
			Arguments: callArguments{
				MarkdownPath:  s.path,
				StatePath:     opts.StatePath,
				ScreenshotDir: opts.ScreenshotDir,
				Timeout:       opts.OperationTimeout.Milliseconds(),
			},
		})
		if err != nil {
			s.fail(PhaseCall, err.Error())
			return
		}
		s.transition(StateAwaitingCallResult)
	default:
		s.fail(PhaseHandshake, "initialize reply carried neither result nor error")
	}
}

func (s *session) handleCall(msg response) {
	if s.state != StateAwaitingCallResult {
		s.logger.Warn("Discarding call reply before handshake", "state", s.state)
		return
	}
	switch {
	case present(msg.Error):
		s.out.Raw = msg.Error
		s.fail(PhaseCall, "tools/call failed: "+errorMessage(msg.Error))
	case present(msg.Result):
		s.out.Raw = msg.Result
		reply := evaluate.Normalize(msg.Result)
		if !evaluate.Verdict(reply) {
			s.fail(PhaseEvaluation, fmt.Sprintf("result did not report success (%s)", reply.Kind))
			return
		}
		s.transition(StateSucceeded)
		s.out.Success = true
		s.out.Reference = evaluate.Reference(msg.Result)
		s.finish()
	default:
		s.fail(PhaseCall, "tools/call reply carried neither result nor error")
	}
}

func errorMessage(raw json.RawMessage) string {
	var e struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return string(raw)
}

// readLines scans r until EOF. After a scan error it keeps draining so the
// child never blocks on a full pipe.
func readLines(r io.Reader, lines chan<- []byte, logger *slog.Logger) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		lines <- line
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("Reading tool output failed, draining", "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func writeResult(path string, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

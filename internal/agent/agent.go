// Package agent runs the core request/response/tool-dispatch loop: open a
// gateway stream, fan its events out to the UI sink, dispatch any tool calls
// the model emitted, persist everything, and — in dual-persona mode — drive
// the Coder/Verifier state machine between turns.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/babybirdprd/irongraph/internal/dispatcher"
	"github.com/babybirdprd/irongraph/internal/gateway"
	"github.com/babybirdprd/irongraph/internal/parser"
)

// Persona is the system-prompt-selected role the model adopts in dual-persona
// mode.
type Persona int

const (
	Coder Persona = iota
	Verifier
)

func (p Persona) String() string {
	if p == Verifier {
		return "Verifier"
	}
	return "Coder"
}

func (p Persona) prompt() string {
	if p == Verifier {
		return VerifierPrompt
	}
	return CoderPrompt
}

const CoderPrompt = "You are the Architect (Coder). Write the code needed to satisfy the user's request. Do NOT run tests yourself; once you have made your change, the Verifier will take over to test it."

const VerifierPrompt = "You are the Adversary (Verifier). Write a reproduction script or test that tries to break the Coder's most recent change. If the test FAILS, explain why and the Coder will be summoned to fix it. If you cannot break the code after a genuine attempt, output the exact tag: <verified />"

const verifiedTag = "<verified />"

const (
	maxIterationsSingle  = 20
	maxIterationsDual    = 40
	maxVerificationTries = 5
)

var (
	// ErrMaxIterations is returned when the loop exhausts its iteration
	// budget without the model settling on "waiting".
	ErrMaxIterations = errors.New("agent: max iterations exceeded")
	// ErrVerificationBudget is returned when the Coder/Verifier ping-pong
	// exceeds the allowed number of verification attempts.
	ErrVerificationBudget = errors.New("agent: max verification attempts exceeded")
)

// Sink is the UI event boundary. Keys are composed "agent:<kind>:<session_id>".
type Sink interface {
	Emit(key string, payload interface{})
}

// HistoryRepository is the persistence boundary: two operations over
// opaque, role-tagged JSON message records, ordered by write order.
type HistoryRepository interface {
	AddMessage(ctx context.Context, sessionID string, message json.RawMessage) error
	GetHistory(ctx context.Context, sessionID string) ([]json.RawMessage, error)
}

// ToolDispatcher resolves a finished tool call to its rendered text result.
// *dispatcher.Dispatcher satisfies this.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, sessionID string, call dispatcher.ToolCall) string
}

// StreamFunc opens a gateway stream; overridable in tests. Defaults to
// gateway.StreamChat.
type StreamFunc func(ctx context.Context, messages []gateway.Message, cfg gateway.Config) (<-chan parser.Event, error)

// Options configures one Session.
type Options struct {
	SessionID     string
	PTYSessionID  string
	DualPersona   bool
	MaxIterations int // 0 => default (20 single-persona, 40 dual-persona)
	GatewayConfig gateway.Config

	Dispatcher ToolDispatcher
	History    HistoryRepository
	Sink       Sink
	Stream     StreamFunc // nil => gateway.StreamChat
}

// Session runs one agent loop instance. Not safe for concurrent Run calls;
// Stop may be called from any goroutine.
type Session struct {
	opts Options

	running   atomic.Bool
	messages  []gateway.Message
	persona   Persona
	verifyTry int
}

// New returns a ready-to-run Session seeded with an initial system prompt
// (CoderPrompt always starts the conversation, even single-persona) and the
// user's opening message.
func New(opts Options, userPrompt string) *Session {
	s := &Session{opts: opts, persona: Coder}
	s.running.Store(true)
	s.messages = []gateway.Message{
		{Role: "system", Content: CoderPrompt},
		{Role: "user", Content: userPrompt},
	}
	return s
}

// Stop clears the running flag; the loop exits at its next suspension point.
func (s *Session) Stop() {
	s.running.Store(false)
}

func (s *Session) maxIterations() int {
	if s.opts.MaxIterations > 0 {
		return s.opts.MaxIterations
	}
	if s.opts.DualPersona {
		return maxIterationsDual
	}
	return maxIterationsSingle
}

func (s *Session) emit(kind string, payload interface{}) {
	if s.opts.Sink == nil {
		return
	}
	s.opts.Sink.Emit(fmt.Sprintf("agent:%s:%s", kind, s.opts.SessionID), payload)
}

func (s *Session) persist(ctx context.Context, v interface{}) {
	if s.opts.History == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = s.opts.History.AddMessage(ctx, s.opts.SessionID, raw)
}

// Run drives the loop to completion: the model settles on "waiting", the
// iteration/verification budget is exhausted, or the caller stops it.
func (s *Session) Run(ctx context.Context) error {
	streamFn := s.opts.Stream
	if streamFn == nil {
		streamFn = gateway.StreamChat
	}

	for iter := 0; iter < s.maxIterations(); iter++ {
		if !s.running.Load() {
			return nil
		}

		s.emit("debug:stats", estimateTokens(s.messages))

		ch, err := streamFn(ctx, s.messages, s.opts.GatewayConfig)
		if err != nil {
			s.emit("error", err.Error())
			s.running.Store(false)
			return fmt.Errorf("agent: gateway stream: %w", err)
		}

		content, calls := s.drainStream(ctx, ch)

		assistantMsg := gateway.Message{Role: "assistant", Content: content}
		s.messages = append(s.messages, assistantMsg)
		s.persist(ctx, assistantMsg)
		for _, c := range calls {
			s.persist(ctx, c)
		}

		if s.opts.DualPersona && s.persona == Verifier && strings.Contains(content, verifiedTag) {
			s.emit("status", "waiting")
			s.running.Store(false)
			return nil
		}

		if len(calls) == 0 {
			s.emit("status", "waiting")
			s.running.Store(false)
			return nil
		}

		if !s.running.Load() {
			return nil
		}

		lastOutput := ""
		for _, call := range calls {
			output := s.opts.Dispatcher.Dispatch(ctx, s.opts.PTYSessionID, call)
			lastOutput = output
			resultMsg := gateway.Message{Role: "tool", Content: fmt.Sprintf("[%s result] %s", call.Name, output)}
			s.messages = append(s.messages, resultMsg)
			s.persist(ctx, resultMsg)
			s.emit("tool_output", output)
		}

		if s.opts.DualPersona {
			if err := s.applyTransitions(calls, lastOutput); err != nil {
				s.emit("error", err.Error())
				s.running.Store(false)
				return err
			}
		}
	}

	s.emit("error", ErrMaxIterations.Error())
	s.running.Store(false)
	return ErrMaxIterations
}

// applyTransitions evaluates the Coder/Verifier state machine against the
// tool calls just dispatched this turn and switches persona when warranted,
// appending the synthetic re-anchoring message spec'd for role switches.
func (s *Session) applyTransitions(calls []dispatcher.ToolCall, lastOutput string) error {
	switch s.persona {
	case Coder:
		for _, c := range calls {
			if c.Name == "write_file" {
				s.verifyTry++
				if s.verifyTry > maxVerificationTries {
					return ErrVerificationBudget
				}
				s.switchPersona(Verifier)
				return nil
			}
		}
	case Verifier:
		for _, c := range calls {
			if c.Name == "run_command" {
				if strings.Contains(lastOutput, "(Exit Code: 0)") {
					return nil // remain Verifier, expected to emit <verified /> next turn
				}
				s.switchPersona(Coder)
				return nil
			}
		}
	}
	return nil
}

func (s *Session) switchPersona(p Persona) {
	s.persona = p
	s.emit("debug:role", p.String())
	switchMsg := gateway.Message{Role: "user", Content: "\n[SYSTEM]: SWITCHING ROLE.\n" + p.prompt()}
	s.messages = append(s.messages, switchMsg)
}

func (s *Session) isRunning() bool {
	return s.running.Load()
}

// drainStream reads parser.Events from ch, forwarding each to the sink and
// accumulating assistant text and finished tool calls, until the channel
// closes or the running flag is cleared.
func (s *Session) drainStream(ctx context.Context, ch <-chan parser.Event) (string, []dispatcher.ToolCall) {
	var content strings.Builder
	var calls []dispatcher.ToolCall
	var pending *dispatcher.ToolCall

	for {
		if !s.isRunning() {
			return content.String(), calls
		}

		select {
		case <-ctx.Done():
			return content.String(), calls
		case ev, ok := <-ch:
			if !ok {
				return content.String(), calls
			}
			s.emit("token", ev)

			switch ev.Type {
			case parser.Token:
				content.WriteString(ev.Text)
			case parser.ToolStart:
				pending = &dispatcher.ToolCall{Name: ev.Text, Arguments: map[string]string{}}
				s.emit("tool_start", ev.Text)
			case parser.ToolArg:
				if pending != nil {
					pending.Arguments[ev.Key] = ev.Value
				}
			case parser.ToolEnd:
				if pending != nil {
					calls = append(calls, *pending)
					pending = nil
				}
			case parser.Error:
				s.emit("error", ev.Text)
			case parser.Done:
				return content.String(), calls
			}
		}
	}
}

// estimateTokens is a best-effort, dependency-free proxy for a BPE token
// count: no library in the pack implements the model's tokenizer, so this
// falls back to the common ~4-bytes-per-token heuristic.
func estimateTokens(messages []gateway.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / 4
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/babybirdprd/irongraph/internal/dispatcher"
	"github.com/babybirdprd/irongraph/internal/gateway"
	"github.com/babybirdprd/irongraph/internal/parser"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Emit(key string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, key)
}

func (r *recordingSink) has(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

type memHistory struct {
	mu   sync.Mutex
	msgs []json.RawMessage
}

func (h *memHistory) AddMessage(_ context.Context, _ string, message json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, message)
	return nil
}

func (h *memHistory) GetHistory(_ context.Context, _ string) ([]json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.msgs, nil
}

// scriptedDispatcher returns canned outputs per call, one per Dispatch call,
// in order; it is not name-keyed so tests drive exact call order.
type scriptedDispatcher struct {
	outputs []string
	calls   []dispatcher.ToolCall
	i       int
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, _ string, call dispatcher.ToolCall) string {
	d.calls = append(d.calls, call)
	if d.i >= len(d.outputs) {
		return ""
	}
	out := d.outputs[d.i]
	d.i++
	return out
}

func eventsChan(evs ...parser.Event) <-chan parser.Event {
	ch := make(chan parser.Event, len(evs))
	for _, e := range evs {
		ch <- e
	}
	close(ch)
	return ch
}

func toolCallEvents(name string, args map[string]string) []parser.Event {
	evs := []parser.Event{{Type: parser.ToolStart, Text: name}}
	for k, v := range args {
		evs = append(evs, parser.Event{Type: parser.ToolArg, Key: k, Value: v})
	}
	evs = append(evs, parser.Event{Type: parser.ToolEnd})
	return evs
}

func TestSession_NoToolCalls_EmitsWaiting(t *testing.T) {
	sink := &recordingSink{}
	turn := 0
	streamFn := func(ctx context.Context, messages []gateway.Message, cfg gateway.Config) (<-chan parser.Event, error) {
		turn++
		return eventsChan(parser.Event{Type: parser.Token, Text: "just talking"}, parser.Event{Type: parser.Done}), nil
	}

	s := New(Options{
		SessionID: "s1",
		Sink:      sink,
		Stream:    streamFn,
		History:   &memHistory{},
		Dispatcher: &scriptedDispatcher{},
	}, "hello")

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if turn != 1 {
		t.Errorf("expected exactly one turn, got %d", turn)
	}
	if !sink.has("agent:status:s1") {
		t.Errorf("expected a status event, got %v", sink.events)
	}
}

func TestSession_DualPersona_WriteTriggersVerifier(t *testing.T) {
	sink := &recordingSink{}
	turn := 0
	streamFn := func(ctx context.Context, messages []gateway.Message, cfg gateway.Config) (<-chan parser.Event, error) {
		turn++
		switch turn {
		case 1:
			evs := toolCallEvents("write_file", map[string]string{"file_path": "a.rs", "content": "fn main(){}"})
			evs = append(evs, parser.Event{Type: parser.Done})
			return eventsChan(evs...), nil
		case 2:
			// Verifier turn: no tool calls, just talk, to end the test cleanly.
			return eventsChan(parser.Event{Type: parser.Token, Text: "looking..."}, parser.Event{Type: parser.Done}), nil
		default:
			return eventsChan(parser.Event{Type: parser.Done}), nil
		}
	}

	disp := &scriptedDispatcher{outputs: []string{"Successfully wrote file."}}

	s := New(Options{
		SessionID:   "s2",
		Sink:        sink,
		Stream:      streamFn,
		History:     &memHistory{},
		Dispatcher:  disp,
		DualPersona: true,
	}, "write something")

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.verifyTry != 1 {
		t.Errorf("expected verifyTry=1, got %d", s.verifyTry)
	}
	if !sink.has("agent:debug:role:s2") {
		t.Errorf("expected a persona switch debug event, got %v", sink.events)
	}
}

func TestSession_VerifiedTagTerminates(t *testing.T) {
	sink := &recordingSink{}
	turn := 0
	streamFn := func(ctx context.Context, messages []gateway.Message, cfg gateway.Config) (<-chan parser.Event, error) {
		turn++
		switch turn {
		case 1:
			evs := toolCallEvents("write_file", map[string]string{"file_path": "a.rs"})
			evs = append(evs, parser.Event{Type: parser.Done})
			return eventsChan(evs...), nil
		case 2:
			evs := toolCallEvents("run_command", map[string]string{"program": "cargo", "args": "test"})
			evs = append(evs, parser.Event{Type: parser.Done})
			return eventsChan(evs...), nil
		case 3:
			return eventsChan(parser.Event{Type: parser.Token, Text: "can't break it " + verifiedTag}, parser.Event{Type: parser.Done}), nil
		default:
			t.Fatalf("unexpected extra turn %d", turn)
			return eventsChan(parser.Event{Type: parser.Done}), nil
		}
	}

	disp := &scriptedDispatcher{outputs: []string{
		"Successfully wrote file.",
		"test output\n(Exit Code: 0)",
	}}

	s := New(Options{
		SessionID:   "s3",
		Sink:        sink,
		Stream:      streamFn,
		History:     &memHistory{},
		Dispatcher:  disp,
		DualPersona: true,
	}, "fix the bug")

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.persona != Verifier {
		t.Errorf("expected to terminate in Verifier persona, got %v", s.persona)
	}
	if s.isRunning() {
		t.Error("expected running flag to be cleared")
	}
}

func TestSession_VerifierFailureSwitchesBackToCoder(t *testing.T) {
	turn := 0
	streamFn := func(ctx context.Context, messages []gateway.Message, cfg gateway.Config) (<-chan parser.Event, error) {
		turn++
		switch turn {
		case 1:
			evs := toolCallEvents("write_file", map[string]string{"file_path": "a.rs"})
			evs = append(evs, parser.Event{Type: parser.Done})
			return eventsChan(evs...), nil
		case 2:
			evs := toolCallEvents("run_command", map[string]string{"program": "cargo", "args": "test"})
			evs = append(evs, parser.Event{Type: parser.Done})
			return eventsChan(evs...), nil
		case 3:
			// Now back in Coder: no tool calls, end the loop.
			return eventsChan(parser.Event{Type: parser.Token, Text: "ok"}, parser.Event{Type: parser.Done}), nil
		default:
			return eventsChan(parser.Event{Type: parser.Done}), nil
		}
	}

	disp := &scriptedDispatcher{outputs: []string{
		"Successfully wrote file.",
		"assertion failed\n(Exit Code: 1)",
	}}

	s := New(Options{
		SessionID:   "s4",
		Stream:      streamFn,
		History:     &memHistory{},
		Dispatcher:  disp,
		DualPersona: true,
	}, "fix the bug")

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.persona != Coder {
		t.Errorf("expected to switch back to Coder after failing verification, got %v", s.persona)
	}
}

func TestSession_VerificationBudgetExceeded(t *testing.T) {
	turn := 0
	streamFn := func(ctx context.Context, messages []gateway.Message, cfg gateway.Config) (<-chan parser.Event, error) {
		turn++
		// Every odd turn: Coder writes. Every even turn: Verifier fails it,
		// bouncing back to Coder — never reaching <verified />.
		if turn%2 == 1 {
			evs := toolCallEvents("write_file", map[string]string{"file_path": "a.rs"})
			evs = append(evs, parser.Event{Type: parser.Done})
			return eventsChan(evs...), nil
		}
		evs := toolCallEvents("run_command", map[string]string{"program": "cargo", "args": "test"})
		evs = append(evs, parser.Event{Type: parser.Done})
		return eventsChan(evs...), nil
	}

	outputs := make([]string, 0, 20)
	for i := 0; i < 10; i++ {
		outputs = append(outputs, "Successfully wrote file.", "assertion failed\n(Exit Code: 1)")
	}
	disp := &scriptedDispatcher{outputs: outputs}

	s := New(Options{
		SessionID:   "s5",
		Stream:      streamFn,
		History:     &memHistory{},
		Dispatcher:  disp,
		DualPersona: true,
	}, "fix the bug")

	err := s.Run(context.Background())
	if !errors.Is(err, ErrVerificationBudget) {
		t.Fatalf("expected ErrVerificationBudget, got %v", err)
	}
}

func TestSession_MaxIterationsExceeded(t *testing.T) {
	streamFn := func(ctx context.Context, messages []gateway.Message, cfg gateway.Config) (<-chan parser.Event, error) {
		evs := toolCallEvents("list_files", map[string]string{})
		evs = append(evs, parser.Event{Type: parser.Done})
		return eventsChan(evs...), nil
	}
	disp := &scriptedDispatcher{}

	s := New(Options{
		SessionID:     "s6",
		Stream:        streamFn,
		History:       &memHistory{},
		Dispatcher:    disp,
		MaxIterations: 3,
	}, "loop forever")

	err := s.Run(context.Background())
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", err)
	}
}

func TestSession_StopBeforeRun(t *testing.T) {
	called := false
	streamFn := func(ctx context.Context, messages []gateway.Message, cfg gateway.Config) (<-chan parser.Event, error) {
		called = true
		return eventsChan(parser.Event{Type: parser.Done}), nil
	}

	s := New(Options{
		SessionID:  "s7",
		Stream:     streamFn,
		History:    &memHistory{},
		Dispatcher: &scriptedDispatcher{},
	}, "hi")
	s.Stop()

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Error("expected stream never to be opened once stopped")
	}
}

func TestSession_GatewayErrorBreaksLoop(t *testing.T) {
	wantErr := errors.New("boom")
	streamFn := func(ctx context.Context, messages []gateway.Message, cfg gateway.Config) (<-chan parser.Event, error) {
		return nil, wantErr
	}

	s := New(Options{
		SessionID:  "s8",
		Stream:     streamFn,
		History:    &memHistory{},
		Dispatcher: &scriptedDispatcher{},
	}, "hi")

	err := s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped gateway error, got %v", err)
	}
}

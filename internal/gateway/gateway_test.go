package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/babybirdprd/irongraph/internal/parser"
)

func drain(ch <-chan parser.Event) []parser.Event {
	var out []parser.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestStreamChat_Mock(t *testing.T) {
	cfg := Config{APIBase: "mock://local", Model: "mock-model", Timeout: 5 * time.Second}
	ch, err := StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := drain(ch)
	var sawToolStart, sawToolEnd, sawDone bool
	args := map[string]string{}
	for _, e := range events {
		switch e.Type {
		case parser.ToolStart:
			sawToolStart = true
			if e.Text != "run_command" {
				t.Errorf("expected tool run_command, got %q", e.Text)
			}
		case parser.ToolArg:
			args[e.Key] = e.Value
		case parser.ToolEnd:
			sawToolEnd = true
		case parser.Done:
			sawDone = true
		}
	}
	if !sawToolStart || !sawToolEnd || !sawDone {
		t.Fatalf("expected full mock event sequence, got %+v", events)
	}
	if args["program"] != "ls" || args["args"] != "-la" {
		t.Errorf("expected program=ls args=-la, got %v", args)
	}
}

func TestChat_Mock(t *testing.T) {
	cfg := Config{APIBase: "mock://local", Model: "mock-model"}
	resp, err := Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "run_command" {
		t.Fatalf("expected one run_command tool call, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["program"] != "ls" {
		t.Errorf("expected program=ls, got %v", resp.ToolCalls[0].Arguments)
	}
}

func TestChat_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	cfg := Config{APIBase: srv.URL, Model: "gpt", APIKey: "test-key", Timeout: 5 * time.Second}
	_, err := Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, cfg)
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
}

func TestChat_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	cfg := Config{APIBase: srv.URL, Model: "gpt", APIKey: "test-key", Timeout: 5 * time.Second}
	_, err := Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, cfg)
	if err == nil {
		t.Fatal("expected error for empty choices, got nil")
	}
}

func TestStreamChat_SSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		chunks := []string{"Hello, ", "world", "!"}
		for _, c := range chunks {
			w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"" + c + "\"}}]}\n\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
		w.Write([]byte("data: [DONE]\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}))
	defer srv.Close()

	cfg := Config{APIBase: srv.URL, Model: "gpt", APIKey: "test-key", Timeout: 5 * time.Second}
	ch, err := StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	var sawDone bool
	for _, e := range drain(ch) {
		if e.Type == parser.Token {
			text += e.Text
		}
		if e.Type == parser.Done {
			sawDone = true
		}
	}
	if text != "Hello, world!" {
		t.Errorf("expected reassembled text %q, got %q", "Hello, world!", text)
	}
	if !sawDone {
		t.Error("expected a Done event to terminate the stream")
	}
}

func TestResolveAPI_EnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_API_BASE", "https://env.example.com/")

	key, base := resolveAPI(Config{})
	if key != "env-key" {
		t.Errorf("expected env key, got %q", key)
	}
	if base != "https://env.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", base)
	}
}

func TestResolveAPI_ExplicitOverridesEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")

	key, _ := resolveAPI(Config{APIKey: "explicit-key"})
	if key != "explicit-key" {
		t.Errorf("expected explicit key to win, got %q", key)
	}
}

func TestUrlJoin(t *testing.T) {
	got, err := urlJoin("https://api.example.com/v1", "/chat/completions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://api.example.com/v1/chat/completions"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

package ptysession

import (
	"strings"
	"testing"
	"time"
)

type recordingSink struct {
	mu    strings.Builder
	muLck chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{muLck: make(chan struct{}, 1)}
}

func (s *recordingSink) Emit(key string, payload interface{}) {
	if str, ok := payload.(string); ok {
		s.mu.WriteString(str)
	}
}

func (s *recordingSink) String() string { return s.mu.String() }

func TestRegistry_StartWriteKill(t *testing.T) {
	r := NewRegistry()
	sink := newRecordingSink()

	id, err := r.Start(t.TempDir(), sink)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty session id")
	}

	if err := r.Write(id, []byte("echo hello-ptysession\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(sink.String(), "hello-ptysession") {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !strings.Contains(sink.String(), "hello-ptysession") {
		t.Fatalf("expected output to contain echoed text, got %q", sink.String())
	}

	if err := r.Kill(id); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	if err := r.Write(id, []byte("ignored\n")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after kill, got %v", err)
	}
}

func TestRegistry_WriteUnknownSession(t *testing.T) {
	r := NewRegistry()
	if err := r.Write("nonexistent", []byte("x")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_KillUnknownSession(t *testing.T) {
	r := NewRegistry()
	if err := r.Kill("nonexistent"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSession_CommandBufferAtMostOne(t *testing.T) {
	r := NewRegistry()
	id, err := r.Start(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Kill(id)

	sess, ok := r.Get(id)
	if !ok {
		t.Fatal("expected session to exist")
	}

	ch1, err := sess.InstallCommandBuffer()
	if err != nil {
		t.Fatalf("first install should succeed: %v", err)
	}
	if ch1 == nil {
		t.Fatal("expected non-nil channel")
	}

	if _, err := sess.InstallCommandBuffer(); err != ErrBusy {
		t.Fatalf("expected ErrBusy on second install, got %v", err)
	}

	sess.ClearCommandBuffer()

	if _, err := sess.InstallCommandBuffer(); err != nil {
		t.Fatalf("install after clear should succeed: %v", err)
	}
}

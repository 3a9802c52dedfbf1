package executor

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/babybirdprd/irongraph/internal/ptysession"
)

func TestExecutor_Run_Success(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash-specific sentinel path")
	}

	reg := ptysession.NewRegistry()
	root := t.TempDir()
	id, err := reg.Start(root, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer reg.Kill(id)

	e := New(reg, nil)
	e.WallClock = 10 * time.Second

	out := e.Run(context.Background(), id, "echo", "hello")
	if !strings.HasPrefix(out, "hello") {
		t.Errorf("expected output to start with 'hello', got %q", out)
	}
	if !strings.HasSuffix(out, "(Exit Code: 0)") {
		t.Errorf("expected output to end with exit code 0, got %q", out)
	}
}

func TestExecutor_Run_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash-specific sentinel path")
	}

	reg := ptysession.NewRegistry()
	root := t.TempDir()
	id, err := reg.Start(root, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer reg.Kill(id)

	e := New(reg, nil)
	e.WallClock = 10 * time.Second

	out := e.Run(context.Background(), id, "false", "")
	if !strings.Contains(out, "(Exit Code: 1)") {
		t.Errorf("expected exit code 1, got %q", out)
	}
}

func TestExecutor_Run_NoSession(t *testing.T) {
	reg := ptysession.NewRegistry()
	e := New(reg, nil)
	out := e.Run(context.Background(), "missing", "echo", "hi")
	if out != "Error: No terminal session active." {
		t.Errorf("got %q", out)
	}
}

func TestRunOnce_Success(t *testing.T) {
	res, err := RunOnce(context.Background(), t.TempDir(), "echo", []string{"ok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "ok" {
		t.Errorf("expected stdout 'ok', got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestRunOnce_NotFound(t *testing.T) {
	_, err := RunOnce(context.Background(), t.TempDir(), "definitely-not-a-real-binary-xyz", nil)
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestRunOnce_NonZeroExit(t *testing.T) {
	res, err := RunOnce(context.Background(), t.TempDir(), "sh", []string{"-c", "exit 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
}

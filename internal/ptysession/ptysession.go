// Package ptysession owns persistent interactive shell sessions, one per
// agent session, backed by a pseudo-terminal. It is the explicit, reference-
// passed registry object mandated in place of a process-wide singleton: the
// caller constructs a Registry and threads it through the tool dispatcher.
package ptysession

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/creack/pty"
)

// Sink is the UI event boundary: implementations receive string-keyed,
// JSON-serialisable payloads. Raw PTY output is emitted under the key
// "terminal:output:<session_id>".
type Sink interface {
	Emit(key string, payload interface{})
}

var (
	ErrNotFound = errors.New("ptysession: session not found")
	ErrBusy     = errors.New("ptysession: a command buffer is already installed")
)

const (
	readChunkSize   = 1024
	fanoutChanDepth = 100
	rows, cols      = 24, 80
)

// Session is one persistent shell bound to a pseudo-terminal. The fan-out
// goroutine is the sole reader of the PTY; it forwards every chunk to the
// sink and, when installed, tees it to the active CommandBuffer.
type Session struct {
	ID   string
	ptmx *os.File
	cmd  *exec.Cmd

	mu        sync.Mutex
	cmdBuffer chan []byte // at most one installed at a time (invariant, §3)

	raw *RingBuffer

	done chan struct{}
}

// Write appends raw bytes to the PTY input.
func (s *Session) Write(b []byte) error {
	_, err := s.ptmx.Write(b)
	if err != nil {
		return fmt.Errorf("ptysession: write: %w", err)
	}
	return nil
}

// InstallCommandBuffer installs the sole CommandBuffer subscriber for the
// duration of one command, per §3's at-most-one invariant. Returns ErrBusy
// if one is already installed.
func (s *Session) InstallCommandBuffer() (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmdBuffer != nil {
		return nil, ErrBusy
	}
	ch := make(chan []byte, fanoutChanDepth)
	s.cmdBuffer = ch
	return ch, nil
}

// ClearCommandBuffer removes the installed CommandBuffer, if any.
func (s *Session) ClearCommandBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmdBuffer = nil
}

func (s *Session) tee(chunk []byte) {
	s.mu.Lock()
	ch := s.cmdBuffer
	s.mu.Unlock()
	if ch == nil {
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	select {
	case ch <- cp:
	default:
		// Subscriber not keeping up; drop rather than block the sole reader.
	}
}

// RawHistory returns the rolling raw-output buffer kept for debugging and
// the attach command's copy-last-output convenience.
func (s *Session) RawHistory() string {
	return s.raw.String()
}

func (s *Session) fanout(sink Sink) {
	buf := make([]byte, readChunkSize)
	eventKey := "terminal:output:" + s.ID
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			s.raw.Write(chunk)
			s.tee(chunk)
			if sink != nil {
				sink.Emit(eventKey, string(chunk))
			}
		}
		if err != nil {
			close(s.done)
			return
		}
	}
}

// Registry owns the map of live sessions, guarded by a short critical
// section per the concurrency model: map lock and per-session state are
// independent, never nested.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty, ready-to-use Registry. Callers own its
// lifetime and pass it by reference to the tool dispatcher — never a global.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func newSessionID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Start opens a 24x80 pseudo-terminal, spawns the host's default interactive
// shell with cwd=root, and registers the session under a freshly generated
// id. The caller is responsible for deduplicating repeat calls per session.
func (r *Registry) Start(root string, sink Sink) (string, error) {
	shellPath := defaultShell()

	c := exec.Command(shellPath)
	c.Dir = root
	c.Env = os.Environ()

	ptmx, err := pty.Start(c)
	if err != nil {
		return "", fmt.Errorf("ptysession: start: %w", err)
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols})

	id := newSessionID()
	sess := &Session{
		ID:   id,
		ptmx: ptmx,
		cmd:  c,
		raw:  NewRingBuffer(64 * 1024),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	go sess.fanout(sink)

	return id, nil
}

// Write appends raw bytes to the named session's PTY input and flushes.
func (r *Registry) Write(sessionID string, b []byte) error {
	sess, ok := r.get(sessionID)
	if !ok {
		return ErrNotFound
	}
	return sess.Write(b)
}

// Kill removes the session from the registry, closes its PTY handle and
// kills the child process.
func (r *Registry) Kill(sessionID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	_ = sess.ptmx.Close()
	if sess.cmd.Process != nil {
		_ = sess.cmd.Process.Kill()
	}
	return nil
}

// Get returns the live Session for sessionID, for use by the Command
// Executor to install a CommandBuffer.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	return r.get(sessionID)
}

func (r *Registry) get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// WaitClosed blocks until the session's reader observes EOF (child exit) or
// the given duration elapses, returning whether it closed in time. It
// returns true at once for an id that is not in the registry.
func (r *Registry) WaitClosed(sessionID string, timeout time.Duration) bool {
	sess, ok := r.get(sessionID)
	if !ok {
		return true
	}
	select {
	case <-sess.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		if shell := os.Getenv("COMSPEC"); shell != "" {
			return shell
		}
		return "cmd.exe"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}

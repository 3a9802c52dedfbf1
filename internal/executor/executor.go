// Package executor runs commands against a persistent PTY session, waits
// for a sentinel to detect completion and exit code, and enriches failing
// output with source-location context. A legacy one-off (non-persistent)
// path is kept alongside it for the doctor command; the persistent executor
// is canonical per the open question it resolves.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/babybirdprd/irongraph/internal/ptysession"
	"github.com/babybirdprd/irongraph/internal/sentinel"
)

const (
	// DefaultChunkTimeout bounds the wait for each PTY output chunk; a
	// timeout here is soft and retryable as long as the wall clock budget
	// remains.
	DefaultChunkTimeout = 5 * time.Second
	// DefaultWallClock bounds the whole command. 60s in dual-persona mode;
	// callers running single-persona MAY override to 30s.
	DefaultWallClock = 60 * time.Second
)

// sentinelRe matches the printed sentinel: the marker, a colon, the numeric
// exit code and the line break after it.
var sentinelRe = regexp.MustCompile(regexp.QuoteMeta(sentinel.Marker()) + `:\d+\s`)

// Executor runs commands against a persistent PTY session registry.
type Executor struct {
	Registry     *ptysession.Registry
	Workspace    FileReader
	ChunkTimeout time.Duration
	WallClock    time.Duration
}

// New returns an Executor with the default timeouts.
func New(reg *ptysession.Registry, ws FileReader) *Executor {
	return &Executor{
		Registry:     reg,
		Workspace:    ws,
		ChunkTimeout: DefaultChunkTimeout,
		WallClock:    DefaultWallClock,
	}
}

func shellForHost() sentinel.ShellType {
	if runtime.GOOS == "windows" {
		return sentinel.Cmd
	}
	return sentinel.Bash
}

// Run executes program (with optional free-form args, POSIX-lexed and
// rejoined) on the session's persistent PTY, waits for the sentinel, and
// returns the rendered tool output. PTY write failures and a missing session
// are returned as plain-text tool outputs, per §7's policy of surfacing
// tool-level failures as data rather than errors.
func (e *Executor) Run(ctx context.Context, sessionID, program, args string) string {
	sess, ok := e.Registry.Get(sessionID)
	if !ok {
		return "Error: No terminal session active."
	}

	cmdStr := program
	if words := splitShellWords(args); len(words) > 0 {
		cmdStr = program + " " + strings.Join(words, " ")
	}

	sentinelCmd := shellForHost().Format(cmdStr)

	ch, err := sess.InstallCommandBuffer()
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	defer sess.ClearCommandBuffer()

	if err := sess.Write([]byte(sentinelCmd)); err != nil {
		return fmt.Sprintf("Error writing to PTY: %v", err)
	}

	return e.accumulateUntilSentinel(ctx, ch)
}

func (e *Executor) accumulateUntilSentinel(ctx context.Context, ch <-chan []byte) string {
	chunkTimeout := e.ChunkTimeout
	if chunkTimeout == 0 {
		chunkTimeout = DefaultChunkTimeout
	}
	wallClock := e.WallClock
	if wallClock == 0 {
		wallClock = DefaultWallClock
	}

	var output strings.Builder
	deadline := time.Now().Add(wallClock)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			output.WriteString("\n[IronGraph: Timeout waiting for sentinel]")
			return output.String()
		}

		wait := chunkTimeout
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			output.WriteString("\n[IronGraph: Timeout waiting for sentinel]")
			return output.String()
		case chunk, more := <-ch:
			timer.Stop()
			if !more {
				return output.String()
			}
			output.Write(chunk)
			acc := output.String()
			if loc := sentinelRe.FindStringIndex(acc); loc != nil {
				// The PTY echoes the typed command line, which also carries the
				// marker (followed by "$?" rather than digits); the command's
				// output starts on the line after that echo.
				start := 0
				if echo := strings.Index(acc[:loc[0]], sentinel.Marker()); echo != -1 {
					if nl := strings.IndexByte(acc[echo:loc[0]], '\n'); nl != -1 {
						start = echo + nl + 1
					}
				}
				return e.finalize(acc[start:], loc[0]-start)
			}
		case <-timer.C:
			if time.Now().After(deadline) {
				output.WriteString("\n[IronGraph: Timeout waiting for sentinel]")
				return output.String()
			}
			// per-chunk timeout, command may just be idle; keep waiting.
		}
	}
}

func (e *Executor) finalize(accumulated string, sentinelIdx int) string {
	pre := strings.TrimSpace(accumulated[:sentinelIdx])
	rest := strings.TrimSpace(accumulated[sentinelIdx+len(sentinel.Marker()+":"):])

	digits := strings.FieldsFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	exitCode := 1
	if len(digits) > 0 {
		if n, err := strconv.Atoi(digits[0]); err == nil {
			exitCode = n
		}
	}

	result := fmt.Sprintf("%s\n(Exit Code: %d)", pre, exitCode)

	if exitCode != 0 {
		if ctx := tryAutoDebugContext(e.Workspace, pre); ctx != "" {
			result += "\n\n[Auto-Debug] Context:\n" + ctx
		}
	}
	return result
}

// RunResult is the legacy one-off command result, kept for the doctor
// command per the design note treating persistent PTY execution as
// canonical everywhere else.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ErrCommandNotFound classifies a one-off exec failure where the program
// itself could not be located, distinct from a generic I/O failure.
var ErrCommandNotFound = errors.New("executor: command not found")

// RunOnce executes program non-interactively (no PTY, no sentinel) in root,
// for environment checks where a persistent shell session is unnecessary.
func RunOnce(ctx context.Context, root, program string, args []string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = root

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return RunResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitErr.ExitCode()}, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return RunResult{}, fmt.Errorf("%w: %s", ErrCommandNotFound, program)
		}
		return RunResult{}, fmt.Errorf("executor: %w", err)
	}

	return RunResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}, nil
}

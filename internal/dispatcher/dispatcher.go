// Package dispatcher maps a finished tool call to one of the fixed
// run_command/list_files/read_file/write_file/read_skeleton/search_code
// effector operations and renders a textual result for re-injection into
// the conversation.
package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/babybirdprd/irongraph/internal/executor"
	"github.com/babybirdprd/irongraph/internal/workspace"
)

const maxSearchResults = 20
const maxConsumerHints = 10

// ToolCall is a fully-assembled call ready to dispatch, mirroring
// gateway.ToolCall without importing the gateway package (the dispatcher
// only needs the name/arguments shape).
type ToolCall struct {
	Name      string
	Arguments map[string]string
}

// Dispatcher wires the two core effectors — a persistent-PTY command
// executor and a path-sandboxed workspace — behind the LLM-visible tool
// catalogue.
type Dispatcher struct {
	Executor  *executor.Executor
	Workspace *workspace.Workspace
}

func New(exec *executor.Executor, ws *workspace.Workspace) *Dispatcher {
	return &Dispatcher{Executor: exec, Workspace: ws}
}

// Dispatch runs call against the appropriate effector and renders its
// result as plain text. sessionID selects the PTY session for run_command;
// it is ignored by the workspace-backed tools.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, call ToolCall) string {
	switch call.Name {
	case "run_command":
		return d.Executor.Run(ctx, sessionID, call.Arguments["program"], call.Arguments["args"])
	case "list_files":
		return d.listFiles(call.Arguments["dir_path"])
	case "read_file":
		return d.readFile(call.Arguments["file_path"])
	case "write_file":
		return d.writeFile(call.Arguments["file_path"], call.Arguments["content"])
	case "read_skeleton":
		return d.readSkeleton(call.Arguments["file_path"])
	case "search_code":
		return d.searchCode(call.Arguments["query"])
	default:
		return "Unknown Tool: " + call.Name
	}
}

func (d *Dispatcher) listFiles(dirPath string) string {
	out, err := d.Workspace.ListFiles(dirPath)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

func (d *Dispatcher) readFile(filePath string) string {
	content, err := d.Workspace.ReadFile(filePath)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return content
}

func (d *Dispatcher) writeFile(filePath, content string) string {
	if err := d.Workspace.WriteFile(filePath, content); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	output := "Successfully wrote file."
	consumers, err := d.Workspace.FindConsumers(filePath)
	if err != nil || len(consumers) == 0 {
		return output
	}

	var sb strings.Builder
	sb.WriteString(output)
	sb.WriteString("\n\n[Context Note] This file is imported by:\n")
	shown := consumers
	if len(shown) > maxConsumerHints {
		shown = shown[:maxConsumerHints]
	}
	for _, c := range shown {
		sb.WriteString("- " + c + "\n")
	}
	if len(consumers) > maxConsumerHints {
		sb.WriteString(fmt.Sprintf("... and %d more.\n", len(consumers)-maxConsumerHints))
	}
	sb.WriteString("Ensure you have not broken these consumers.")
	return sb.String()
}

func (d *Dispatcher) readSkeleton(filePath string) string {
	out, err := d.Workspace.GetSkeleton(filePath)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

func (d *Dispatcher) searchCode(query string) string {
	matches, err := d.Workspace.SearchCode(query)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if len(matches) > maxSearchResults {
		return fmt.Sprintf("Found %d matches. First %d:\n%s", len(matches), maxSearchResults, strings.Join(matches[:maxSearchResults], "\n"))
	}
	return strings.Join(matches, "\n")
}

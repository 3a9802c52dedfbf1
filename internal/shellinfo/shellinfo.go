// Package shellinfo detects the user's interactive shell for the doctor
// command's environment report.
package shellinfo

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Info describes the detected shell: its name, executable path, and the
// flag used to run a one-off command string (e.g. "-c" for POSIX shells).
type Info struct {
	Name string
	Path string
	Arg  string
}

// Detect resolves the current shell from $SHELL, falling back to the
// parent process's command name, then an OS-appropriate default.
func Detect() Info {
	shellPath := os.Getenv("SHELL")
	if shellPath == "" {
		shellPath = detectParentShell()
	}
	if shellPath == "" {
		if runtime.GOOS == "windows" {
			shellPath = "powershell"
		} else {
			shellPath = "/bin/sh"
		}
	}

	name := strings.TrimSuffix(filepath.Base(shellPath), ".exe")
	info := Info{Name: name, Path: shellPath, Arg: "-c"}

	switch {
	case strings.Contains(name, "zsh"):
		info.Name = "zsh"
	case strings.Contains(name, "bash"):
		info.Name = "bash"
	case strings.Contains(name, "fish"):
		info.Name = "fish"
	case strings.Contains(name, "nu"):
		info.Name = "nushell"
	case strings.Contains(name, "pwsh"), strings.Contains(name, "powershell"):
		info.Name = "powershell"
		info.Arg = "-Command"
	default:
		info.Name = "sh"
	}

	return info
}

func detectParentShell() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	out, err := exec.Command("ps", "-p", fmt.Sprintf("%d", os.Getppid()), "-o", "comm=").Output()
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return ""
	}
	if full, err := exec.LookPath(name); err == nil {
		return full
	}
	return name
}

package sentinel

import (
	"strings"
	"testing"
)

func TestFormat(t *testing.T) {
	t.Run("Bash", func(t *testing.T) {
		got := Bash.Format("ls -la")
		want := "ls -la; echo \"IRONGRAPH_CMD_DONE:$?\"\n"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("Cmd", func(t *testing.T) {
		got := Cmd.Format("dir")
		want := "dir & echo IRONGRAPH_CMD_DONE:%ERRORLEVEL%\r\n"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("PowerShell", func(t *testing.T) {
		got := PowerShell.Format("Get-ChildItem")
		want := "Get-ChildItem; Write-Host \"IRONGRAPH_CMD_DONE:$LASTEXITCODE\"\r\n"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("all variants contain the marker", func(t *testing.T) {
		for _, s := range []ShellType{Bash, Cmd, PowerShell} {
			if !strings.Contains(s.Format("true"), Marker()) {
				t.Errorf("shell type %d output missing marker", s)
			}
		}
	})
}

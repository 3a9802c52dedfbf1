package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/babybirdprd/irongraph/internal/ptysession"
)

func newAttachCmd() *cobra.Command {
	var copyLastOutput bool

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Open a raw PTY passthrough into a fresh shell rooted at the workspace, for debugging",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(flagWorkspace)
			if err != nil {
				return err
			}

			reg := ptysession.NewRegistry()
			// No sink: the fan-out goroutine is still the PTY's sole reader
			// (per its single-consumer invariant), teeing to RawHistory() and,
			// here, to a CommandBuffer we install for the life of the session
			// instead of a single command.
			id, err := reg.Start(root, nil)
			if err != nil {
				return fmt.Errorf("attach: %w", err)
			}
			defer reg.Kill(id)

			sess, _ := reg.Get(id)
			outCh, err := sess.InstallCommandBuffer()
			if err != nil {
				return fmt.Errorf("attach: %w", err)
			}
			defer sess.ClearCommandBuffer()

			fmt.Fprintf(os.Stderr, "irongraph: attached to %s (ctrl-d to detach)\r\n", id)
			if copyLastOutput {
				defer func() {
					if err := clipboard.WriteAll(sess.RawHistory()); err != nil {
						fmt.Fprintf(os.Stderr, "irongraph: clipboard copy failed: %v\n", err)
					}
				}()
			}

			oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
			if err != nil {
				return fmt.Errorf("attach: %w", err)
			}
			defer term.Restore(int(os.Stdin.Fd()), oldState)

			go func() {
				for chunk := range outCh {
					os.Stdout.Write(chunk)
				}
			}()

			buf := make([]byte, 1024)
			for {
				n, err := os.Stdin.Read(buf)
				if n > 0 {
					if writeErr := reg.Write(id, buf[:n]); writeErr != nil {
						break
					}
				}
				if err != nil {
					break
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&copyLastOutput, "copy-last-output", false, "copy the session's raw output to the clipboard on detach")
	return cmd
}

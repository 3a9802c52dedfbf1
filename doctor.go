package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/babybirdprd/irongraph/internal/executor"
	"github.com/babybirdprd/irongraph/internal/history"
	"github.com/babybirdprd/irongraph/internal/shellinfo"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local environment for everything the agent loop depends on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("IronGraph Doctor")
			fmt.Println("----------------")

			if history.CheckFTS() {
				fmt.Println("✅ sqlite3 FTS5: available")
			} else {
				fmt.Println("⚠️  sqlite3 FTS5: not available (history search disabled)")
			}

			home, err := os.UserHomeDir()
			if err == nil {
				configPath := filepath.Join(home, ".irongraph", "config.yaml")
				if _, err := os.Stat(configPath); err == nil {
					fmt.Printf("✅ Configuration: %s\n", configPath)
				} else {
					fmt.Printf("⚠️  Configuration: missing (%s)\n", configPath)
				}
			}

			if os.Getenv("OPENAI_API_KEY") != "" {
				fmt.Println("✅ OPENAI_API_KEY: set")
			} else {
				fmt.Println("⚠️  OPENAI_API_KEY: not set (check env or config)")
			}

			sh := shellinfo.Detect()
			fmt.Printf("✅ Shell: %s (%s)\n", sh.Name, sh.Path)

			checkCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if _, err := executor.RunOnce(checkCtx, ".", sh.Path, []string{sh.Arg, "exit 0"}); err != nil {
				if errors.Is(err, executor.ErrCommandNotFound) {
					fmt.Printf("⚠️  Shell binary: %s not found or not executable\n", sh.Path)
				} else {
					fmt.Printf("⚠️  Shell binary: %v\n", err)
				}
			} else {
				fmt.Printf("✅ Shell binary: %s is executable\n", sh.Path)
			}

			root, err := filepath.Abs(flagWorkspace)
			if err == nil {
				if info, statErr := os.Stat(root); statErr == nil && info.IsDir() {
					fmt.Printf("✅ Workspace: %s\n", root)
				} else {
					fmt.Printf("⚠️  Workspace: %s does not exist or is not a directory\n", root)
				}
			}

			return nil
		},
	}
}

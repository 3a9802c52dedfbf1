package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/babybirdprd/irongraph/internal/agent"
	"github.com/babybirdprd/irongraph/internal/dispatcher"
	"github.com/babybirdprd/irongraph/internal/events"
	"github.com/babybirdprd/irongraph/internal/executor"
	"github.com/babybirdprd/irongraph/internal/gateway"
	"github.com/babybirdprd/irongraph/internal/history"
	"github.com/babybirdprd/irongraph/internal/ptysession"
	"github.com/babybirdprd/irongraph/internal/workspace"
)

func newRunCmd() *cobra.Command {
	var live bool
	var sessionID string

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one agent turn (Coder, or Coder/Verifier in --dual-persona) against the workspace",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				return fmt.Errorf("run: a prompt is required")
			}
			if sessionID == "" {
				sessionID = newSessionID()
			}

			resolved, err := resolvedGatewayConfig(cmd)
			if err != nil {
				return err
			}
			if resolved.ModelName == "" {
				return fmt.Errorf("run: no model configured (pass --model or set config.yaml's default)")
			}

			root, err := filepath.Abs(flagWorkspace)
			if err != nil {
				return err
			}
			ws := workspace.New(root)

			reg := ptysession.NewRegistry()

			histDir := filepath.Join(root, ".irongraph")
			if err := os.MkdirAll(histDir, 0o755); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			histMgr, err := history.New(filepath.Join(histDir, "history.db"), filepath.Join(histDir, "history.jsonl"))
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer histMgr.Close()
			if err := histMgr.StartSession(sessionID, resolved.ModelName, agent.CoderPrompt); err != nil {
				return fmt.Errorf("run: %w", err)
			}

			logSink := events.NewLogSink(flagVerbose)
			var sink events.Sink = logSink
			var chSink *events.ChannelSink
			if live {
				chSink = events.NewChannelSink(256)
				sink = events.NewMultiSink(logSink, chSink)
			}

			ptySessionID, err := reg.Start(root, sink)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer reg.Kill(ptySessionID)

			exec := executor.New(reg, ws)
			disp := dispatcher.New(exec, ws)

			gwCfg := gateway.Config{
				APIKey:      resolved.APIKey,
				APIBase:     resolved.APIBase,
				Model:       resolved.ModelName,
				Temperature: resolved.Temperature,
				Seed:        resolved.Seed,
				MaxTokens:   resolved.MaxTokens,
				SiteURL:     resolved.SiteURL,
				AppName:     resolved.AppName,
				ExtraBody:   resolved.ExtraBody,
				Timeout:     resolved.Timeout,
				Verbose:     flagVerbose,
			}

			sess := agent.New(agent.Options{
				SessionID:     sessionID,
				PTYSessionID:  ptySessionID,
				DualPersona:   flagDualPersona,
				GatewayConfig: gwCfg,
				Dispatcher:    disp,
				History:       histMgr,
				Sink:          sink,
			}, prompt)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- sess.Run(ctx) }()

			if live {
				if err := events.RunLive(chSink); err != nil {
					return fmt.Errorf("run: %w", err)
				}
				sess.Stop()
			}

			err = <-errCh
			if chSink != nil {
				chSink.Close()
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run: %w", err)
			}

			fmt.Printf("session %s complete\n", sessionID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "attach a terminal UI while the turn runs, instead of plain logs")
	cmd.Flags().StringVar(&sessionID, "session", "", "reuse an existing session id instead of generating one")
	return cmd
}

func newSessionID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

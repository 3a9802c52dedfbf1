// Command irongraph is the CLI entry point for the agent execution core:
// run drives one agent turn against a workspace, attach gives a human a raw
// PTY passthrough into the session's shell for debugging, history browses
// and searches past sessions, and doctor reports on the local environment.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/babybirdprd/irongraph/internal/config"
)

var (
	flagModel       string
	flagAPIKey      string
	flagAPIBase     string
	flagTemperature float64
	flagTimeout     int
	flagSeed        int
	flagMaxTokens   int
	flagSiteURL     string
	flagAppName     string
	flagVerbose     bool
	flagDualPersona bool
	flagWorkspace   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "irongraph",
		Short:         "IronGraph agent execution core",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagModel, "model", "", "model name, as resolved through config.yaml's extend: chain")
	pf.StringVar(&flagAPIKey, "api-key", "", "overrides OPENAI_API_KEY / config api_key")
	pf.StringVar(&flagAPIBase, "api-base", "https://api.openai.com/v1", "overrides OPENAI_API_BASE / config api_base")
	pf.Float64Var(&flagTemperature, "temperature", 0, "sampling temperature")
	pf.IntVar(&flagTimeout, "timeout", 0, "request timeout in seconds (0 = config/default)")
	pf.IntVar(&flagSeed, "seed", 0, "sampling seed")
	pf.IntVar(&flagMaxTokens, "max_tokens", 0, "response token cap")
	pf.StringVar(&flagSiteURL, "site-url", "", "OpenRouter-style HTTP-Referer attribution")
	pf.StringVar(&flagAppName, "app-name", "", "OpenRouter-style X-Title attribution")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log every agent/tool/terminal event and HTTP request")
	pf.BoolVar(&flagDualPersona, "dual-persona", false, "drive the Coder/Verifier state machine instead of a single persona")
	pf.StringVar(&flagWorkspace, "workspace", ".", "workspace root the effectors are sandboxed to")

	root.AddCommand(newRunCmd())
	root.AddCommand(newAttachCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newDoctorCmd())

	return root
}

// resolvedGatewayConfig merges config.yaml (via extend: inheritance) with
// whatever flags the user actually set, mirroring the teacher's flag/config
// precedence: an explicitly-set flag always wins.
func resolvedGatewayConfig(cmd *cobra.Command) (config.Resolved, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Resolved{}, err
	}

	modelName := flagModel
	if modelName == "" {
		modelName = cfg.Default
	}

	set := map[string]bool{
		"api_key":     cmd.Flags().Changed("api-key"),
		"api_base":    cmd.Flags().Changed("api-base"),
		"temperature": cmd.Flags().Changed("temperature"),
		"seed":        cmd.Flags().Changed("seed"),
		"max_tokens":  cmd.Flags().Changed("max_tokens"),
		"timeout":     cmd.Flags().Changed("timeout"),
	}

	overrides := config.Resolved{
		ModelName: modelName,
		APIKey:    flagAPIKey,
		APIBase:   flagAPIBase,
		Seed:      flagSeed,
		MaxTokens: flagMaxTokens,
		SiteURL:   flagSiteURL,
		AppName:   flagAppName,
	}
	if !set["api_base"] && os.Getenv("OPENAI_API_BASE") != "" {
		// Leave the base empty so config api_base, then OPENAI_API_BASE,
		// apply before the flag's built-in default.
		overrides.APIBase = ""
	}
	if set["temperature"] {
		t := flagTemperature
		overrides.Temperature = &t
	}
	if set["timeout"] {
		overrides.Timeout = secondsToDuration(flagTimeout)
	}

	return config.ResolveRun(cfg, modelName, overrides, set)
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

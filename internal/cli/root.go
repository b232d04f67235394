// Package cli holds the tradedesk command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradedesk/config"
	"github.com/rustyeddy/tradedesk/internal/logging"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	LogJSON    bool
	EnvPath    string
}

// loadConfig reads the config file, or the defaults when none is given,
// and fills broker credentials from the environment.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		cfg, err = config.LoadFromFile(o.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(o.EnvPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func NewRootCmd() *cobra.Command {
	ro := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tradedesk",
		Short: "Tradedesk: multi-instrument portfolio runtime with broker reconciliation",
		Long: `Tradedesk runs a portfolio of per-instrument strategies under a shared
risk budget and keeps their positions consistent with the broker.

It provides tools for:
  - Running the live portfolio loop (OANDA or the in-memory paper broker)
  - Replaying recorded candles through the portfolio
  - Downloading historical candles for replay
  - Reconciling the position journal against the broker
  - Inspecting and clearing the position journal and trade ledger
  - Generating and validating configuration files`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&ro.ConfigPath, "config", "c", "", "Path to config file (default settings when empty)")
	cmd.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().BoolVar(&ro.LogJSON, "log-json", false, "Emit JSON log lines")
	cmd.PersistentFlags().StringVar(&ro.EnvPath, "env", ".env", "dotenv file with broker credentials")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return logging.Setup(ro.LogLevel, ro.LogJSON, cmd.ErrOrStderr())
	}

	cmd.AddCommand(
		newRunCmd(ro),
		newReconcileCmd(ro),
		newJournalCmd(ro),
		newReplayCmd(ro),
		newDataCmd(ro),
		newConfigCmd(),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradedesk %s\n", Version)
		},
	})

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

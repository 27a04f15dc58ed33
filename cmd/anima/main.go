// Command anima runs the autonomous agent daemon and its control CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"anima/internal/config"
	"anima/internal/logging"
)

// Exit codes. A supervisor treats 75 (EX_TEMPFAIL) as "restart me".
const (
	exitOK      = 0
	exitError   = 1
	exitRestart = 75
)

var (
	flagConfig    string
	flagSubstrate string
	flagPort      int
	flagToken     string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "anima",
	Short: "anima - an autonomous agent with a Markdown mind",
	Long: `anima runs an autonomous agent whose entire durable state lives in a
directory of Markdown files (the substrate). The daemon drives the
think/act loop, serves the HTTP/WebSocket control surface, and keeps
the substrate maintained (compaction, archive, backups).

Run without arguments to start the daemon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level := ""
		if flagVerbose {
			level = "debug"
		}
		return logging.Init(logging.Options{Level: levelOr(level), Development: flagVerbose})
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		logging.Sync()
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		code, err := runDaemon(cmd.Context())
		if err != nil {
			return err
		}
		if code != exitOK {
			os.Exit(code)
		}
		return nil
	},
}

// levelOr resolves the log level: flag, then config file, then info.
func levelOr(flagLevel string) string {
	if flagLevel != "" {
		return flagLevel
	}
	if cfg, err := loadConfig(); err == nil && cfg.Logging.Level != "" {
		return cfg.Logging.Level
	}
	return "info"
}

// loadConfig reads the config file and applies the CLI flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagSubstrate != "" {
		cfg.SubstratePath = flagSubstrate
	}
	if flagPort > 0 {
		cfg.Port = flagPort
	}
	if flagToken != "" {
		cfg.Token = flagToken
	}
	return cfg, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config/anima.jsonc", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&flagSubstrate, "substrate", "", "substrate directory (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "HTTP port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token for /api (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(statusCmd, sendCmd, substrateCmd, initCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitError)
	}
}

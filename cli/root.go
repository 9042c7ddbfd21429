// Package cli implements the corr reference binary: the run/budget/replay
// command tree spec.md §6 names as the Correlation API's CLI surface,
// wired over cobra+viper exactly as the teacher's own RootCmd drives its
// HTTP server, but fanning out to subcommands instead of a single Run.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/perfpulse/correlate/config"
	"github.com/perfpulse/correlate/corrlog"
)

// cfgFile holds the path to the configuration file specified via the
// --config flag, following the teacher's cfgFile/initConfig pattern.
var cfgFile string

// RootCmd is the corr binary's entry point.
var RootCmd = &cobra.Command{
	Use:   "corr",
	Short: "correlate engineering-activity evidence into work stories",
	Long: `corr collects engineering-activity evidence (commits, tickets, merge
requests, chat messages) for one person over a time window, correlates it
through a cost-bounded three-tier pipeline, and reports the resulting
relationships, work stories, and derived insights.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.corr.yaml, ./.corr.yaml)")
	RootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	RootCmd.PersistentFlags().String("log-format", "", "log format: text, json")

	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", RootCmd.PersistentFlags().Lookup("log-format"))

	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(budgetCmd)
	RootCmd.AddCommand(replayCmd)
}

// initConfig wires viper's precedence: flags > env > config file > defaults,
// matching the teacher's initConfig verbatim in technique.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".corr")
	}

	viper.SetEnvPrefix("CORR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

// rootLogger builds the shared logger for a single command invocation,
// honoring --log-level/--log-format over CORR_LOG_LEVEL/CORR_LOG_FORMAT
// over the corrlog defaults.
func rootLogger() *logrus.Logger {
	cfg := corrlog.DefaultConfig()
	if v := viper.GetString("log.level"); v != "" {
		cfg.Level = v
	}
	if v := viper.GetString("log.format"); v != "" {
		cfg.Format = v
	}
	return corrlog.New(cfg)
}

// loadCorrelationConfig loads the Correlation config from the process
// environment and validates it, exiting with code 4 (invalid input) on
// failure per spec.md §6's CLI exit-code contract.
func loadCorrelationConfig() config.Correlation {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(4)
	}
	return cfg
}

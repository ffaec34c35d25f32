// Package cmd implements the consensuscore CLI, following the teacher's
// cmd/quorum/cmd package shape: a cobra root with persistent flags bound
// to viper, and one file per subcommand.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quorumcore/consensus-core/internal/config"
	"github.com/quorumcore/consensus-core/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	appVersion string
	appCommit  string
	appDate    string

	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "consensuscore",
	Short: "Multi-round multi-model action consensus runner",
	Long: `consensuscore drives a multi-round consensus protocol over a pool of
LLM action proposals: parsing, fingerprinting, clustering, merging, and
tie-breaking until a majority proposal emerges or the round budget is
exhausted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects build-time version info, called from main().
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .consensuscore/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// newLoader returns a Loader bound to the package-global viper instance,
// so CLI flag bindings set up in init() take effect.
func newLoader() *config.Loader {
	l := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		l = l.WithConfigFile(cfgFile)
	}
	return l
}

func initConfig() error {
	cfg, err := newLoader().Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return nil
}

func currentConfig() (*config.Config, error) {
	return newLoader().Load()
}

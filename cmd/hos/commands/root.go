package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/astrodata/hos/internal/logger"
	"github.com/astrodata/hos/pkg/config"
	"github.com/astrodata/hos/pkg/hos"
	"github.com/astrodata/hos/pkg/metrics"
	metricsProm "github.com/astrodata/hos/pkg/metrics/prometheus"
)

var (
	cfgFile string

	// cfg is the loaded configuration, shared by all subcommands.
	cfg *config.Config

	// storeMetrics observes container operations; a no-op unless metrics
	// collection is enabled in the configuration.
	storeMetrics metrics.StoreMetrics
)

var rootCmd = &cobra.Command{
	Use:   "hos",
	Short: "Inspect and manage hierarchical object store containers",
	Long: `hos creates, inspects, copies and archives containers of the
hierarchical object store: self-describing files of named, typed,
multidimensional data objects.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger.SetLevel(cfg.Logging.Level)
		switch cfg.Logging.Output {
		case "", "stderr":
			logger.SetOutput(os.Stderr)
		case "stdout":
			logger.SetOutput(os.Stdout)
		default:
			f, err := os.OpenFile(cfg.Logging.Output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log output: %w", err)
			}
			logger.SetOutput(f)
		}

		if cfg.Metrics.Enabled {
			metrics.InitRegistry()
		}
		storeMetrics = metricsProm.NewStoreMetrics()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $XDG_CONFIG_HOME/hos/config.yaml)")
}

// openOptions builds container options from the loaded configuration.
func openOptions() hos.Options {
	return hos.Options{
		Kind:        hos.Kind(cfg.Store.Kind),
		LockTimeout: cfg.Store.LockTimeout,
		Metrics:     storeMetrics,
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chrisdamba/trafficdatasim/internal/factories"
	"github.com/chrisdamba/trafficdatasim/internal/logging"
	"github.com/chrisdamba/trafficdatasim/internal/models"
	"github.com/chrisdamba/trafficdatasim/internal/simulator"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "trafficdatasim",
	Short: "Simulates live road traffic observations for Cairo",
	Long: `trafficdatasim generates synthetic traffic observations for a roster of monitored
Cairo locations, flags anomalies such as severe congestion or accidents, and publishes
events and alerts to the console, files, Kafka, MQTT, S3 and PostgreSQL.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sim, logger, err := setup(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer closeSimulator(sim, logger)

		return sim.Run(ctx)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./.trafficdatasim.yaml or $HOME/.trafficdatasim.yaml)")

	flags.Int64("seed", 0, "Random seed for simulation")
	flags.Duration("tick-interval", 0, "Time between generated events")
	flags.Int("max-ticks", 0, "Stop after this many events (0 runs until interrupted)")
	flags.String("timezone", "", "IANA timezone used for rush-hour boundaries")
	flags.String("locations-file", "", "CSV file with id,name,lat,lon,capacity rows")
	flags.Int("extra-locations", 0, "Number of synthetic locations added to the roster")
	flags.String("output-format", "", "Output format: console, json, csv or parquet")
	flags.String("output-path", "", "Directory for file outputs")
	flags.String("output-destination", "", "Where parquet files go: local or s3")
	flags.Bool("kafka-enabled", false, "Publish to Kafka")
	flags.String("kafka-broker-list", "", "Comma separated Kafka brokers")
	flags.Bool("mqtt-enabled", false, "Publish to an MQTT broker")
	flags.String("mqtt-broker", "", "MQTT broker URL")
	flags.String("database-url", "", "PostgreSQL URL for the alert table")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: json or console")

	bindFlags(flags, map[string]string{
		"seed":               "seed",
		"tick_interval":      "tick-interval",
		"max_ticks":          "max-ticks",
		"timezone":           "timezone",
		"locations_file":     "locations-file",
		"extra_locations":    "extra-locations",
		"output_format":      "output-format",
		"output_path":        "output-path",
		"output_destination": "output-destination",
		"kafka.enabled":      "kafka-enabled",
		"kafka.broker_list":  "kafka-broker-list",
		"mqtt.enabled":       "mqtt-enabled",
		"mqtt.broker":        "mqtt-broker",
		"database.url":       "database-url",
		"logging.level":      "log-level",
		"logging.format":     "log-format",
	})
}

// bindFlags maps config keys to flags. A flag only overrides the config when it is set.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		cobra.CheckErr(v.BindPFlag(key, flags.Lookup(name)))
	}
}

func loadConfig() (*models.Config, *zap.Logger, error) {
	cfg, err := models.LoadConfig(v, cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("using config file", zap.String("path", used))
	}
	return cfg, logger, nil
}

func buildRoster(cfg *models.Config, logger *zap.Logger) (*models.Roster, error) {
	locations, err := cfg.RosterLocations()
	if err != nil {
		return nil, err
	}
	if cfg.ExtraLocations > 0 {
		factory := factories.NewLocationFactory(cfg.Seed)
		locations = factory.Extend(cfg, locations, cfg.ExtraLocations)
		logger.Info("added synthetic locations", zap.Int("count", cfg.ExtraLocations))
	}
	return models.NewRoster(locations)
}

// setup loads config and returns a connected simulator.
func setup(ctx context.Context) (*simulator.Simulator, *zap.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	roster, err := buildRoster(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid location roster: %w", err)
	}
	sim, err := simulator.NewSimulator(cfg, roster, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := sim.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return sim, logger, nil
}

func closeSimulator(sim *simulator.Simulator, logger *zap.Logger) {
	if err := sim.Close(); err != nil {
		logger.Warn("failed to close outputs", zap.Error(err))
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

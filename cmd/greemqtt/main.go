// Greemqtt bridges Gree Wi-Fi air conditioners to MQTT.
//
// It binds each configured appliance over the local UDP protocol, publishes
// state changes to {topic_base}/{device_id} and applies JSON commands received
// on {topic_base}/{device_id}/set.
//
// Usage:
//
//	greemqtt [run] [--config path]
//	greemqtt scan <ip> [--save] [--show-key]
//	greemqtt healthcheck
//	greemqtt version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/greemqtt/internal/api"
	"github.com/nerrad567/greemqtt/internal/device"
	"github.com/nerrad567/greemqtt/internal/gateway"
	"github.com/nerrad567/greemqtt/internal/infrastructure/config"
	"github.com/nerrad567/greemqtt/internal/infrastructure/database"
	"github.com/nerrad567/greemqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/greemqtt/internal/infrastructure/logging"
	"github.com/nerrad567/greemqtt/internal/infrastructure/metrics"
	"github.com/nerrad567/greemqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/greemqtt/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "/etc/greemqtt/config.yaml"
	configEnvVar      = "GREEMQTT_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root without a
// subcommand is the same as "run".
func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "greemqtt",
		Short: "Gree air conditioner to MQTT bridge",
		Long: `Bridges Gree Wi-Fi air conditioners to an MQTT broker.

Each configured appliance is discovered and bound over UDP, polled for state
changes and controlled through JSON commands published to its /set topic.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bridge (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), resolveConfigPath(configPath))
			},
		},
		newScanCmd(&configPath),
		newHealthcheckCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "greemqtt %s (commit: %s, built: %s)\n", version, commit, date)
			},
		},
	)

	return root
}

// resolveConfigPath picks the flag, then the environment, then the default
// file. An empty result means defaults plus environment only.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// run starts every component and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting greemqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	if configPath == "" {
		log.Info("configuration loaded from environment")
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	db, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"topic_base", cfg.MQTT.TopicBase,
	)

	checks := map[string]api.HealthChecker{"mqtt": mqttClient, "database": db}
	opts := gateway.Options{
		Config:  cfg,
		Broker:  mqttClient,
		Store:   device.NewSQLiteRepository(db.DB),
		Metrics: metrics.New(),
		Logger:  log,
	}

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		opts.History = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	bridge, err := gateway.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		if stopErr := bridge.Stop(); stopErr != nil {
			log.Error("bridge stopped with errors", "error", stopErr)
		}
	}()

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Bridge:  bridge,
			Metrics: opts.Metrics,
			Checks:  checks,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"devices", len(cfg.Network.Devices),
	)
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// openStore opens the SQLite database and applies the embedded migrations.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	return db, nil
}

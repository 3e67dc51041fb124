package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/greemqtt/internal/device"
	"github.com/nerrad567/greemqtt/internal/infrastructure/config"
	"github.com/nerrad567/greemqtt/internal/infrastructure/database"
	"github.com/nerrad567/greemqtt/migrations"
)

const brokerDialTimeout = 5 * time.Second

func newHealthcheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Exit non-zero when the broker is unreachable or a device is stale",
		Long: `Checks that the MQTT broker accepts TCP connections and that every stored
device reported state within health.stale_after. Intended for container
HEALTHCHECK probes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return healthcheck(cmd.Context(), cmd.OutOrStdout(), cfg, time.Now())
		},
	}
}

func healthcheck(ctx context.Context, out io.Writer, cfg *config.Config, now time.Time) error {
	addr := net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port))
	if err := dialBroker(ctx, addr); err != nil {
		return err
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	seen, err := device.NewSQLiteRepository(db.DB).LastSeen(ctx)
	if err != nil {
		return fmt.Errorf("reading device activity: %w", err)
	}
	if err := staleDevices(seen, now, cfg.Health.StaleAfter); err != nil {
		return err
	}

	fmt.Fprintf(out, "ok: broker %s reachable, %d devices fresh\n", addr, len(seen))
	return nil
}

func dialBroker(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: brokerDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("mqtt broker %s unreachable: %w", addr, err)
	}
	return conn.Close()
}

// staleDevices fails when any device was last seen more than staleAfter
// before now. A device never seen counts as stale.
func staleDevices(seen map[string]time.Time, now time.Time, staleAfter time.Duration) error {
	var stale []string
	for id, at := range seen {
		if at.IsZero() || now.Sub(at) > staleAfter {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	slices.Sort(stale)
	return errors.New("stale devices: " + strings.Join(stale, ", "))
}

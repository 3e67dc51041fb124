package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
	"github.com/nerrad567/greemqtt/internal/device"
	"github.com/nerrad567/greemqtt/internal/infrastructure/config"
	"github.com/nerrad567/greemqtt/internal/infrastructure/logging"
)

type scanOptions struct {
	port    int
	timeout time.Duration
	save    bool
	showKey bool
}

func newScanCmd(configPath *string) *cobra.Command {
	var opts scanOptions

	cmd := &cobra.Command{
		Use:   "scan <ip>",
		Short: "Discover and bind one appliance",
		Long: `Scan a single IP (or a broadcast address ending in .255), bind the
appliance that answers and print its identity as JSON.

The key is redacted unless --show-key is given. With --save the identity is
stored in the configured database so the bridge can start without rebinding.`,
		Example: `  greemqtt scan 192.168.1.40
  greemqtt scan 192.168.1.40 --save --config /etc/greemqtt/config.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var store device.Repository
			if opts.save {
				cfg, err := config.Load(resolveConfigPath(*configPath))
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				db, err := openStore(ctx, cfg, logging.New(cfg.Logging, version))
				if err != nil {
					return err
				}
				defer db.Close()
				store = device.NewSQLiteRepository(db.DB)
			}

			return scan(ctx, cmd.OutOrStdout(), args[0], gree.SessionOptions{
				Port:    opts.port,
				Timeout: opts.timeout,
			}, store, opts.showKey)
		},
	}

	cmd.Flags().IntVar(&opts.port, "port", gree.DefaultPort, "Appliance UDP port")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", gree.DefaultTimeout, "Per-exchange timeout")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Persist the bound identity")
	cmd.Flags().BoolVar(&opts.showKey, "show-key", false, "Print the device key")

	return cmd
}

// scan binds the appliance at ip, optionally saves it, and prints its identity.
func scan(ctx context.Context, out io.Writer, ip string, opts gree.SessionOptions, store device.Repository, showKey bool) error {
	session, err := gree.Discover(ctx, ip, opts)
	if err != nil {
		return fmt.Errorf("discovering %s: %w", ip, err)
	}

	id := session.Identity()
	if store != nil {
		if err := store.Save(ctx, id); err != nil {
			return fmt.Errorf("saving %s: %w", id.DeviceID, err)
		}
	}
	if !showKey {
		id = id.Redacted()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(id)
}

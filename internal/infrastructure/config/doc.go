// Package config loads and validates the bridge configuration.
//
// Configuration comes from three layers, later layers winning:
//   - built-in defaults
//   - an optional YAML file
//   - GREEMQTT_* environment variables
//
// Durations accept Go syntax ("4s", "500ms", "5m"). Environment variables
// for intervals also accept a bare number of seconds, so UPDATE_INTERVAL=4
// style deployments keep working.
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should come from the environment
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("/etc/greemqtt/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Network.Devices)
package config

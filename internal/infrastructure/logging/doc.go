// Package logging provides structured logging for the bridge.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and honours the configured level and format:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components receive a child logger tagged with their name:
//
//	logger := logging.New(cfg.Logging, version)
//	pollLog := logger.With("component", "poller", "device_id", id)
//
// Device keys, broker passwords and tokens must never be logged.
package logging

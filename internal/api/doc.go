// Package api serves the bridge's read-only HTTP status surface.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Routes
//
//	GET /health                 component probes (MQTT, InfluxDB); 503 when any fails
//	GET /metrics                Prometheus exposition from the bridge's own registry
//	GET /api/v1/status          full gateway.Status document
//	GET /api/v1/devices         started devices plus the missing IP list
//	GET /api/v1/devices/{id}    one started device
//
// The surface is read-only. Commands go over MQTT. Device keys are redacted
// before they reach this package and are never served.
//
// Every response carries an X-Request-ID header, taken from the request when
// present and generated otherwise.
package api

// Package device tracks the appliances the bridge knows about.
//
// Two pieces live here:
//
//   - Registry routes inbound MQTT command topics to the live gree.Session
//     for each bound appliance. It is in memory and owned by the bridge.
//   - Repository persists appliance identities (address, scheme, key) so a
//     restart can skip discovery and binding. SQLiteRepository is the
//     production implementation.
//
// # Thread Safety
//
// Registry is safe for concurrent use. SQLiteRepository relies on the
// database/sql pool for concurrency.
package device

// Package polling decides how often each appliance is polled.
//
// Appliances are normally polled every NormalInterval. A command makes the
// user wait for the new state to appear on MQTT, so Policy shortens the
// interval for a while after each command:
//
//	elapsed since trigger   mode        interval
//	< 3s                    immediate   100ms
//	< 15s                   ultra_fast  300ms
//	< Window                fast        ramps FastInterval → NormalInterval
//	≥ Window                normal      NormalInterval (state dropped)
//
// Policy is safe for concurrent use by pollers and command workers.
package polling

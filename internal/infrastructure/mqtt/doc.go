// Package mqtt provides the broker connection for the bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing device state and bridge status
//   - Command topic subscriptions, restored after reconnect
//   - Last Will and Testament (LWT) on the availability topic
//
// # Topic Layout
//
//	{base}/status            "online" / "offline" (retained, LWT)
//	{base}/{device_id}       device state JSON
//	{base}/{device_id}/set   commands to the device
//	{base}/bridge/health     periodic health report
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on localhost
//   - Credentials are sent only when a username is configured
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.Command("f4911e7aca59"), 0,
//	    func(topic string, payload []byte) error {
//	        return dispatcher.Enqueue(topic, payload)
//	    })
package mqtt

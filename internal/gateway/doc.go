// Package gateway connects bound appliances to the MQTT bus.
//
// # Architecture
//
//	MQTT {base}/{id}/set ──► Dispatcher.Enqueue ──► Queue (drop-oldest)
//	                                                   │
//	                                   workers ◄───────┘
//	                                      │ SetParams, Trigger, ForceImmediate
//	                                      ▼
//	 Poller (one per device) ──► Session.GetState ──► statePublisher ──► {base}/{id}
//	        ▲                                              │
//	        └── Policy.IntervalFor                          ├─► device store (seen_at)
//	                                                       └─► InfluxDB history
//
//	RetryCoordinator ──► Discover + Bind ──► store.Save ──► start device
//
// Bridge is the composition root. It owns the registry, the adaptive
// polling policy, the dispatcher and the retry coordinator, and starts every
// long-running task through a process.Supervisor so Stop returns only once
// they have all exited.
//
// # Publishing
//
// A state is published only when it differs from the last state published
// for that device, ignoring last_seen. The snapshot is updated after the
// broker accepts the message, so a failed publish is retried on the next
// poll.
//
// # Error Handling
//
// Device timeouts are not errors: the poller waits one normal interval and
// tries again. Crypto and protocol failures count as consecutive errors and
// back off exponentially, capped at the current polling interval. Malformed
// commands fail with ErrMessageFormat and are dropped.
package gateway

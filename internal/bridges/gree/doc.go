// Package gree implements the Gree air-conditioner LAN protocol.
//
// Appliances listen on UDP port 7000 and speak a JSON protocol in which every
// request and response carries an encrypted "pack". This package provides the
// pieces needed to talk to one appliance: the pack codec, a UDP transport,
// parameter translation and the per-device session.
//
// # Architecture
//
//	┌──────────────┐   Params   ┌──────────────┐   pack/tag   ┌─────────────┐
//	│   gateway    │◄──────────►│   Session    │◄────────────►│  Transport  │◄──► UDP :7000
//	└──────────────┘            └──────────────┘              └─────────────┘
//	                                  │
//	                                  ▼
//	                           Codec + translator
//
// # Encryption
//
// Two schemes are used. Older firmware encrypts packs with AES-128-ECB and
// PKCS7 padding. Firmware version 2 and newer uses AES-128-GCM with a fixed
// nonce and fixed additional data, and sends the authentication tag alongside
// the pack. Both schemes start from a well known generic key and switch to a
// per-device key returned by the bind handshake.
//
// The GCM nonce never changes. That is how the firmware works and the bridge
// keeps it for compatibility. Do not reuse this code for anything that needs
// a secure channel.
//
// # Binding
//
// A session starts unbound. Bind sends the device id under the generic key,
// first with the session's current scheme. An ECB attempt that gets no reply
// is retried once with GCM. A "bindok" reply carries the key used for every
// later request.
//
// # Timeouts
//
// A request that gets no reply is not an error. Transport, Session.GetState
// and Session.SetParams return (nil, nil) so callers can treat the device as
// offline and retry on their own schedule.
//
// # Thread Safety
//
// Session is safe for concurrent use. Requests to one device are serialised:
// there is never more than one datagram in flight per session.
package gree

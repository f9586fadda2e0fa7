// Package protocol defines the chat widget wire contract: the event names exchanged with the
// support backend, their payloads, and a tagged union of inbound events.
//
// Payload keys follow the deployed backend (snake_case). Outbound payloads implement
// Outbound so they can be emitted by name; inbound frames are decoded into Inbound values
// with Decode and dispatched by the session controller through a single type switch.
package protocol

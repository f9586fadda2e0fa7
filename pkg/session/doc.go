// Package session implements the chat widget's session controller.
//
// A Controller owns the identity of one customer conversation for a project: it persists
// the server assigned chat id and the customer name, drives the lifecycle
// NoSession → Starting → Queued/Active → Closed from server events and user commands,
// guards creation with a timeout, and replaces the message log when the server replays
// history. All state lives on the goroutine running Controller.Run; user commands,
// transport events and timer expirations are serialized through one input channel.
//
// Presentation layers observe the controller through Signals delivered to a Sink and
// through Snapshot.
package session

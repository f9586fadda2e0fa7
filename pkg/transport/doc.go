// Package transport is the widget's connection to its backend: one websocket to one
// endpoint, named events in both directions, and reconnection owned entirely by the
// adapter. Consumers only ever see the connect, connect_error and disconnect pseudo events.
package transport

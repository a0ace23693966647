// Package eventstream pushes scheduler and runner events to WebSocket
// observers as JSON messages with a per-hub sequence number.
package eventstream

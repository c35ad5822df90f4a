package broker

import (
	"context"
	"errors"
)

// ErrNotConnected is returned for requests issued while the transport has
// no live connection.
var ErrNotConnected = errors.New("broker: not connected")

// Transport is the opaque RPC-plus-push boundary to the brokerage gateway.
// Request performs one round trip; Events delivers the gateway's push
// stream. The channel returned by Events is stable across reconnects and a
// connection drop surfaces as a DisconnectEvent on it, never as a closed
// channel.
type Transport interface {
	// Dial establishes a fresh connection, replacing any previous one.
	Dial(ctx context.Context) error
	// Close tears the connection down.
	Close() error
	// Request sends one method call and decodes the response into result.
	// A nil result discards the response payload.
	Request(ctx context.Context, method string, params, result any) error
	// Events returns the push event stream.
	Events() <-chan Event
}

// Package mqtt is a small MQTT v5 client on top of paho autopaho. It keeps
// subscriptions across reconnects and routes incoming publishes to handlers
// registered per topic filter.
package mqtt

import (
	"context"
	"errors"
)

// ErrNotStarted is returned by operations invoked before Start.
var ErrNotStarted = errors.New("mqtt client not started")

// MessageHandler processes one received publish. Handlers run on the
// client's reader goroutine in arrival order and must not block.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the MQTT surface used by the CAN gateway link and the outcome
// publisher.
type Client interface {
	// Start connects in the background and returns immediately.
	Start(ctx context.Context) error

	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for a topic filter. Subscriptions are
	// re-sent after every reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the broker connection is up or ctx ends.
	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}

// Package transport connects the verifier to a physical or bridged CAN bus
// and implements the J1939 transport the bus service runs on.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/obdverify/pkg/mqtt"
	"github.com/autopeer-io/obdverify/pkg/mqtt/topic"
	"github.com/autopeer-io/obdverify/pkg/options"
)

// ErrLinkClosed is returned by Send once the link is closed.
var ErrLinkClosed = errors.New("can link closed")

// RawFrame is a single extended CAN frame.
type RawFrame struct {
	ID        uint32
	Data      []byte
	Timestamp time.Time
}

// Link moves raw CAN frames. Frames is closed once the link stops
// receiving, after Close or on an unrecoverable adapter error.
type Link interface {
	Send(ctx context.Context, f RawFrame) error
	Frames() <-chan RawFrame
	Close() error
}

// OpenLink opens the link selected by o. client and topics are only used by
// the MQTT link and may be nil otherwise.
func OpenLink(ctx context.Context, o *options.BusOptions, client mqtt.Client, topics *topic.Builder) (Link, error) {
	switch o.Link {
	case options.LinkSLCAN:
		return OpenSLCAN(o)
	case options.LinkMQTT:
		if client == nil {
			return nil, fmt.Errorf("the %s link needs an mqtt client", options.LinkMQTT)
		}
		return NewMQTTLink(ctx, client, topics, nil)
	}
	return nil, fmt.Errorf("unknown link %q", o.Link)
}

package transport

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/obdverify/internal/pkg/metrics"
	"github.com/autopeer-io/obdverify/pkg/log"
	"github.com/autopeer-io/obdverify/pkg/mqtt"
	"github.com/autopeer-io/obdverify/pkg/mqtt/topic"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GatewayFrame is the payload a CAN gateway exchanges with the verifier on
// {root}/can/rx and {root}/can/tx.
type GatewayFrame struct {
	ID   uint32 `json:"id"`
	Data string `json:"data"`
	// Timestamp is the receive time in Unix microseconds. Zero means the
	// arrival time at the verifier.
	Timestamp int64 `json:"ts,omitempty"`
}

// MQTTLink bridges CAN frames through an MQTT gateway.
type MQTTLink struct {
	client mqtt.Client
	topics *topic.Builder
	clock  clock.PassiveClock
	log    log.Logger

	mu     sync.RWMutex
	closed bool
	frames chan RawFrame
}

var _ Link = (*MQTTLink)(nil)

// NewMQTTLink subscribes to the gateway's receive topic. The client must
// already be started.
func NewMQTTLink(ctx context.Context, client mqtt.Client, topics *topic.Builder, clk clock.PassiveClock) (*MQTTLink, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	l := &MQTTLink{
		client: client,
		topics: topics,
		clock:  clk,
		log:    log.WithName("mqtt-link"),
		frames: make(chan RawFrame, frameBuffer),
	}

	if err := client.AwaitConnection(ctx); err != nil {
		return nil, err
	}
	if err := client.Subscribe(ctx, topics.CANRx(), 0, l.receive); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topics.CANRx(), err)
	}
	return l, nil
}

func (l *MQTTLink) Frames() <-chan RawFrame { return l.frames }

func (l *MQTTLink) Send(ctx context.Context, f RawFrame) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrLinkClosed
	}

	payload, err := json.Marshal(GatewayFrame{ID: f.ID, Data: hex.EncodeToString(f.Data)})
	if err != nil {
		return err
	}
	return l.client.Publish(ctx, l.topics.CANTx(), 0, false, payload)
}

// Close unsubscribes and closes Frames. The MQTT client stays connected.
func (l *MQTTLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.frames)
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return l.client.Unsubscribe(ctx, l.topics.CANRx())
}

func (l *MQTTLink) receive(_ context.Context, t string, payload []byte) {
	var msg GatewayFrame
	if err := json.Unmarshal(payload, &msg); err != nil {
		l.log.Debug("Dropping malformed gateway frame", "topic", t, "error", err.Error())
		return
	}
	data, err := hex.DecodeString(msg.Data)
	if err != nil || len(data) > 8 {
		l.log.Debug("Dropping gateway frame with bad data", "topic", t, "id", msg.ID)
		return
	}
	f := RawFrame{ID: msg.ID & 0x1FFFFFFF, Data: data, Timestamp: l.clock.Now()}
	if msg.Timestamp != 0 {
		f.Timestamp = time.UnixMicro(msg.Timestamp)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.frames <- f:
	default:
		metrics.DroppedFrames.Inc()
	}
}

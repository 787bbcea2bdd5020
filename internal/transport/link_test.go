package transport

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/obdverify/pkg/mqtt"
	"github.com/autopeer-io/obdverify/pkg/mqtt/topic"
)

func TestFormatAndParseSLCAN(t *testing.T) {
	f := RawFrame{ID: 0x18EA00F9, Data: []byte{0xCA, 0xFE, 0x00}}
	line := FormatSLCAN(f)
	assert.Equal(t, "T18EA00F93CAFE00", line)

	parsed, err := ParseSLCAN(line + "1A2B")
	require.NoError(t, err)
	assert.Equal(t, f.ID, parsed.ID)
	assert.Equal(t, f.Data, parsed.Data)

	for _, bad := range []string{"t1231", "T18EA00F9", "T18EA00F99", "T18EA00F93CAFE", "TZZEA00F90", "T18EA00F92XXYY"} {
		_, err := ParseSLCAN(bad)
		assert.Error(t, err, bad)
	}
}

// pipePort is the adapter side of an in-memory serial port.
type pipePort struct {
	io.Reader
	*io.PipeWriter

	mu      sync.Mutex
	written strings.Builder
	closed  bool
}

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *pipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.PipeWriter.CloseWithError(io.EOF)
}

func (p *pipePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func newPipePort() (*pipePort, *io.PipeWriter) {
	r, w := io.Pipe()
	return &pipePort{Reader: r, PipeWriter: w}, w
}

func TestSLCANLink(t *testing.T) {
	port, adapter := newPipePort()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	s, err := NewSLCAN(port, 250000, clocktesting.NewFakePassiveClock(now))
	require.NoError(t, err)
	assert.Equal(t, "C\rS5\rO\r", port.Written())

	require.NoError(t, s.Send(context.Background(), RawFrame{ID: 0x18EA00F9, Data: []byte{0xCA, 0xFE, 0x00}}))
	assert.Equal(t, "C\rS5\rO\rT18EA00F93CAFE00\r", port.Written())

	go func() {
		_, _ = io.WriteString(adapter, "z\r\at18F1\rT18FECA00" + "80001020304050607\r")
	}()

	select {
	case f := <-s.Frames():
		assert.Equal(t, uint32(0x18FECA00), f.ID)
		assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, f.Data)
		assert.Equal(t, now, f.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no frame")
	}

	require.NoError(t, s.Close())
	_, open := <-s.Frames()
	assert.False(t, open)
	assert.ErrorIs(t, s.Send(context.Background(), RawFrame{ID: 1}), ErrLinkClosed)
}

func TestSLCANRejectsBitrate(t *testing.T) {
	port, _ := newPipePort()
	_, err := NewSLCAN(port, 33333, nil)
	assert.ErrorContains(t, err, "33333")
}

type fakeMQTT struct {
	mqtt.Client

	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published map[string][]string
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: map[string]mqtt.MessageHandler{}, published: map[string][]string{}}
}

func (c *fakeMQTT) AwaitConnection(context.Context) error { return nil }

func (c *fakeMQTT) Subscribe(_ context.Context, t string, _ int, h mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = h
	return nil
}

func (c *fakeMQTT) Unsubscribe(_ context.Context, t string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, t)
	return nil
}

func (c *fakeMQTT) Publish(_ context.Context, t string, _ int, _ bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[t] = append(c.published[t], string(payload))
	return nil
}

func (c *fakeMQTT) deliver(t, payload string) {
	c.mu.Lock()
	h := c.handlers[t]
	c.mu.Unlock()
	h(context.Background(), t, []byte(payload))
}

func TestMQTTLink(t *testing.T) {
	c := newFakeMQTT()
	topics := topic.NewBuilder("j1939/bench-1")
	l, err := NewMQTTLink(context.Background(), c, topics, nil)
	require.NoError(t, err)

	require.NoError(t, l.Send(context.Background(), RawFrame{ID: 0x18EA00F9, Data: []byte{0xCA, 0xFE, 0x00}}))
	assert.Equal(t, []string{`{"id":417988857,"data":"cafe00"}`}, c.published["j1939/bench-1/can/tx"])

	c.deliver("j1939/bench-1/can/rx", `not json`)
	c.deliver("j1939/bench-1/can/rx", `{"id":1,"data":"zz"}`)
	c.deliver("j1939/bench-1/can/rx", `{"id":419351040,"data":"0001020304050607","ts":1740816000000000}`)

	f := <-l.Frames()
	assert.Equal(t, uint32(0x18FECA00), f.ID)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, f.Data)
	assert.Equal(t, time.UnixMicro(1740816000000000), f.Timestamp)
	assert.Empty(t, l.Frames())

	require.NoError(t, l.Close())
	assert.Empty(t, c.handlers)
	assert.ErrorIs(t, l.Send(context.Background(), RawFrame{ID: 1}), ErrLinkClosed)
}

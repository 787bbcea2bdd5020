// Package bustest provides a scripted bus transport for tests.
package bustest

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/autopeer-io/obdverify/internal/verifier/bus"
	"github.com/autopeer-io/obdverify/pkg/j1939"
)

// Request records one request sent through the transport.
type Request struct {
	PGN         uint32
	Destination uint8
}

type key struct {
	pgn  uint32
	dest uint8
}

// Transport answers requests from a script. It is safe for concurrent use.
type Transport struct {
	mu        sync.Mutex
	responses map[key][]j1939.Frame
	onSend    func(j1939.Frame) []j1939.Frame
	broadcast []j1939.Frame
	block     bool
	requests  []Request
	sent      []j1939.Frame

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns an empty transport.
func New() *Transport {
	return &Transport{
		responses: map[key][]j1939.Frame{},
		closed:    make(chan struct{}),
	}
}

// Respond replaces the frames returned for requests of pgn sent to dest.
// Use j1939.GlobalAddress for global requests.
func (t *Transport) Respond(pgn uint32, dest uint8, frames ...j1939.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses[key{pgn, dest}] = frames
}

// OnSend sets the function answering commands.
func (t *Transport) OnSend(fn func(j1939.Frame) []j1939.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSend = fn
}

// Broadcast appends frames returned by Read.
func (t *Transport) Broadcast(frames ...j1939.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcast = append(t.broadcast, frames...)
}

// Block makes Read wait for its full duration, the context or Close after
// yielding the broadcast frames.
func (t *Transport) Block(block bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.block = block
}

// Requests returns the requests sent so far.
func (t *Transport) Requests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Request(nil), t.requests...)
}

// Sent returns the commands sent so far.
func (t *Transport) Sent() []j1939.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]j1939.Frame(nil), t.sent...)
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *Transport) Request(ctx context.Context, pgn uint32, destination uint8) iter.Seq2[j1939.Frame, error] {
	t.mu.Lock()
	t.requests = append(t.requests, Request{PGN: pgn, Destination: destination})
	frames := append([]j1939.Frame(nil), t.responses[key{pgn, destination}]...)
	t.mu.Unlock()
	return t.replay(ctx, frames)
}

func (t *Transport) Send(ctx context.Context, f j1939.Frame) iter.Seq2[j1939.Frame, error] {
	t.mu.Lock()
	t.sent = append(t.sent, f)
	fn := t.onSend
	t.mu.Unlock()

	var frames []j1939.Frame
	if fn != nil {
		frames = fn(f)
	}
	return t.replay(ctx, frames)
}

func (t *Transport) Read(ctx context.Context, d time.Duration) iter.Seq2[j1939.Frame, error] {
	t.mu.Lock()
	frames := append([]j1939.Frame(nil), t.broadcast...)
	block := t.block
	t.mu.Unlock()

	return func(yield func(j1939.Frame, error) bool) {
		for f, err := range t.replay(ctx, frames) {
			if !yield(f, err) || err != nil {
				return
			}
		}
		if !block {
			return
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			yield(j1939.Frame{}, ctx.Err())
		case <-t.closed:
			yield(j1939.Frame{}, bus.ErrTransportClosed)
		}
	}
}

func (t *Transport) replay(ctx context.Context, frames []j1939.Frame) iter.Seq2[j1939.Frame, error] {
	return func(yield func(j1939.Frame, error) bool) {
		for _, f := range frames {
			if t.Closed() {
				yield(j1939.Frame{}, bus.ErrTransportClosed)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(j1939.Frame{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Frame builds a frame from source to the service tool.
func Frame(pgn uint32, source uint8, data []byte) j1939.Frame {
	return j1939.Frame{
		Priority:    j1939.DefaultPriority,
		PGN:         pgn,
		Source:      source,
		Destination: j1939.ToolAddress,
		Data:        data,
	}
}

// At returns f stamped at base plus offset.
func At(f j1939.Frame, base time.Time, offset time.Duration) j1939.Frame {
	f.Timestamp = base.Add(offset)
	return f
}

// Ack builds an acknowledgement of pgn of the given kind sent by source.
func Ack(kind j1939.Kind, pgn uint32, source uint8) j1939.Frame {
	f := Frame(j1939.PGNAcknowledge, source, j1939.EncodeAck(kind, pgn, j1939.ToolAddress))
	f.Destination = j1939.GlobalAddress
	return f
}

var _ bus.Transport = (*Transport)(nil)

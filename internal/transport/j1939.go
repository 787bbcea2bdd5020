package transport

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/obdverify/internal/pkg/metrics"
	"github.com/autopeer-io/obdverify/internal/verifier/bus"
	"github.com/autopeer-io/obdverify/pkg/j1939"
	"github.com/autopeer-io/obdverify/pkg/log"
	"github.com/autopeer-io/obdverify/pkg/options"
)

const subscriberBuffer = 1024

// event is what the dispatcher hands to open windows. Partial events mark
// transport protocol traffic of a message still being reassembled.
type event struct {
	frame   j1939.Frame
	partial bool
}

type subscription struct {
	ch chan event
}

// J1939 implements bus.Transport on top of a Link. It reassembles BAM and
// RTS/CTS transfers and answers connection mode transfers addressed to the
// tool.
type J1939 struct {
	link     Link
	source   uint8
	response time.Duration
	tpGap    time.Duration
	clock    clock.Clock
	log      log.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// sessions is owned by the dispatch goroutine.
	sessions map[sessionKey]*session
}

var _ bus.Transport = (*J1939)(nil)

// Option configures a J1939 transport.
type Option func(*J1939)

// WithClock replaces the clock driving response windows.
func WithClock(c clock.Clock) Option {
	return func(t *J1939) { t.clock = c }
}

// WithLogger replaces the transport logger.
func WithLogger(l log.Logger) Option {
	return func(t *J1939) { t.log = l }
}

// NewJ1939 starts a transport on link with the timing of o.
func NewJ1939(link Link, o *options.BusOptions, opts ...Option) *J1939 {
	t := &J1939{
		link:     link,
		source:   o.ToolAddress,
		response: o.ResponseTimeout,
		tpGap:    o.BAMTimeout,
		clock:    clock.RealClock{},
		log:      log.WithName("transport"),
		subs:     make(map[*subscription]struct{}),
		done:     make(chan struct{}),
		sessions: make(map[sessionKey]*session),
	}
	for _, opt := range opts {
		opt(t)
	}

	go t.dispatch()
	return t
}

// Request sends a request for pgn. A destination specific window ends as
// soon as the destination answered, with data or an acknowledgement.
func (t *J1939) Request(ctx context.Context, pgn uint32, destination uint8) iter.Seq2[j1939.Frame, error] {
	req := j1939.NewRequest(pgn, t.source, destination)
	var last func(j1939.Frame) bool
	if destination != j1939.GlobalAddress {
		last = func(f j1939.Frame) bool {
			return f.Source == destination && answers(f, pgn)
		}
	}
	return t.window(ctx, &req, t.response, true, last)
}

func (t *J1939) Send(ctx context.Context, f j1939.Frame) iter.Seq2[j1939.Frame, error] {
	return t.window(ctx, &f, t.response, true, nil)
}

func (t *J1939) Read(ctx context.Context, d time.Duration) iter.Seq2[j1939.Frame, error] {
	return t.window(ctx, nil, d, false, nil)
}

// Close stops the transport and closes the link. Every open window yields
// bus.ErrTransportClosed.
func (t *J1939) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
		t.closeErr = t.link.Close()
	})
	return t.closeErr
}

func (t *J1939) window(ctx context.Context, out *j1939.Frame, d time.Duration, extend bool,
	last func(j1939.Frame) bool) iter.Seq2[j1939.Frame, error] {
	return func(yield func(j1939.Frame, error) bool) {
		sub, err := t.subscribe()
		if err != nil {
			yield(j1939.Frame{}, err)
			return
		}
		defer t.unsubscribe(sub)

		if out != nil {
			if err := t.send(ctx, *out); err != nil {
				yield(j1939.Frame{}, err)
				return
			}
		}

		deadline := t.clock.Now().Add(d)
		timer := t.clock.NewTimer(d)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				yield(j1939.Frame{}, ctx.Err())
				return
			case <-t.done:
				yield(j1939.Frame{}, bus.ErrTransportClosed)
				return
			case <-timer.C():
				return
			case ev := <-sub.ch:
				if ev.partial {
					// A transfer in progress keeps the window open until
					// its next packet is due.
					if next := t.clock.Now().Add(t.tpGap); extend && next.After(deadline) {
						deadline = next
						timer.Stop()
						timer.Reset(t.tpGap)
					}
					continue
				}
				if !yield(ev.frame, nil) {
					return
				}
				if last != nil && last(ev.frame) {
					return
				}
			}
		}
	}
}

func (t *J1939) subscribe() (*subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, bus.ErrTransportClosed
	}
	s := &subscription{ch: make(chan event, subscriberBuffer)}
	t.subs[s] = struct{}{}
	return s, nil
}

func (t *J1939) unsubscribe(s *subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, s)
}

func (t *J1939) publish(ev event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.subs {
		select {
		case s.ch <- ev:
		default:
			metrics.DroppedFrames.Inc()
		}
	}
}

func (t *J1939) send(ctx context.Context, f j1939.Frame) error {
	if len(f.Data) > 8 {
		return fmt.Errorf("%s: %d bytes need the transport protocol", j1939.MessageName(f.PGN), len(f.Data))
	}
	if err := t.link.Send(ctx, RawFrame{ID: f.ID(), Data: f.Data, Timestamp: t.clock.Now()}); err != nil {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return bus.ErrTransportClosed
		}
		return fmt.Errorf("send %s: %w", j1939.MessageName(f.PGN), err)
	}
	return nil
}

func (t *J1939) dispatch() {
	frames := t.link.Frames()
	for {
		select {
		case <-t.done:
			return
		case raw, ok := <-frames:
			if !ok {
				t.log.Info("Link closed")
				_ = t.Close()
				return
			}
			t.handle(raw)
		}
	}
}

func (t *J1939) handle(raw RawFrame) {
	f := j1939.FrameFromID(raw.ID, raw.Data, raw.Timestamp)
	if f.Timestamp.IsZero() {
		f.Timestamp = t.clock.Now()
	}
	if f.Source == t.source {
		return
	}

	switch f.PGN {
	case j1939.PGNTPConnection:
		t.connection(f)
	case j1939.PGNTPData:
		t.data(f)
	default:
		t.publish(event{frame: f})
	}
}

// answers reports whether f is data for pgn or an acknowledgement of it.
func answers(f j1939.Frame, pgn uint32) bool {
	if f.PGN == pgn {
		return true
	}
	return f.PGN == j1939.PGNAcknowledge && len(f.Data) >= 8 && uint24(f.Data[5:]) == pgn
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// Package bus is the only part of the verifier that talks to the vehicle
// network. It sends destination specific and global requests, listens
// passively for a fixed time and classifies PGNs for the validators.
package bus

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize/english"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/obdverify/internal/pkg/metrics"
	"github.com/autopeer-io/obdverify/pkg/j1939"
	"github.com/autopeer-io/obdverify/pkg/j1939/metadata"
	"github.com/autopeer-io/obdverify/pkg/log"
)

// ErrTransportClosed is yielded by a transport once Close has been called.
var ErrTransportClosed = errors.New("bus transport closed")

// Transport moves complete J1939 frames. Every sequence ends on its own
// when its window closes; it yields an error and stops when ctx ends or the
// transport is closed.
type Transport interface {
	// Request sends a request for pgn to destination (j1939.GlobalAddress
	// for every module) and yields the frames seen while responses are
	// expected.
	Request(ctx context.Context, pgn uint32, destination uint8) iter.Seq2[j1939.Frame, error]

	// Send transmits a command frame such as DM7 and yields the frames seen
	// while responses are expected.
	Send(ctx context.Context, f j1939.Frame) iter.Seq2[j1939.Frame, error]

	// Read yields every frame seen during d.
	Read(ctx context.Context, d time.Duration) iter.Seq2[j1939.Frame, error]

	// Close ends every pending sequence.
	Close() error
}

// Progress is the cancellation checkpoint of the running step. It reports
// message and returns an error once the run must unwind.
type Progress interface {
	UpdateProgress(message string) error
}

// Service decodes and filters what the transport delivers.
type Service struct {
	transport Transport
	decoder   *j1939.Decoder
	table     *metadata.Table
	progress  Progress
	clock     clock.WithTicker
	log       log.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used by the listen countdown.
func WithClock(c clock.WithTicker) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger; the default is the process logger.
func WithLogger(l log.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New returns a Service reading through t and reporting to progress.
func New(t Transport, table *metadata.Table, progress Progress, opts ...Option) *Service {
	s := &Service{
		transport: t,
		decoder:   j1939.NewDecoder(table),
		table:     table,
		progress:  progress,
		clock:     clock.RealClock{},
		log:       log.WithName("bus"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DSRequest requests pgn from the module at address and yields its
// response, which may be a negative acknowledgement. spnDescription, when
// given, is appended to the progress text.
func (s *Service) DSRequest(ctx context.Context, pgn uint32, address uint8, spnDescription string) iter.Seq2[j1939.Packet, error] {
	msg := fmt.Sprintf("Direct %s Request to %s", j1939.MessageName(pgn), j1939.ModuleName(address))
	if spnDescription != "" {
		msg += " for " + spnDescription
	}
	return s.exchange(ctx, "ds", msg, pgn, address, func(ctx context.Context) iter.Seq2[j1939.Frame, error] {
		return s.transport.Request(ctx, pgn, address)
	})
}

// GlobalRequest requests pgn from every module and yields each response.
func (s *Service) GlobalRequest(ctx context.Context, pgn uint32, message string) iter.Seq2[j1939.Packet, error] {
	if message == "" {
		message = fmt.Sprintf("Global %s Request", j1939.MessageName(pgn))
	}
	return s.exchange(ctx, "global", message, pgn, j1939.GlobalAddress, func(ctx context.Context) iter.Seq2[j1939.Frame, error] {
		return s.transport.Request(ctx, pgn, j1939.GlobalAddress)
	})
}

// Command sends f and yields the responses carrying responsePGN, or
// acknowledgements of it, from f's destination.
func (s *Service) Command(ctx context.Context, f j1939.Frame, responsePGN uint32, message string) iter.Seq2[j1939.Packet, error] {
	return s.exchange(ctx, "command", message, responsePGN, f.Destination, func(ctx context.Context) iter.Seq2[j1939.Frame, error] {
		return s.transport.Send(ctx, f)
	})
}

func (s *Service) exchange(ctx context.Context, kind, message string, pgn uint32, address uint8,
	send func(context.Context) iter.Seq2[j1939.Frame, error]) iter.Seq2[j1939.Packet, error] {
	return func(yield func(j1939.Packet, error) bool) {
		if err := s.progress.UpdateProgress(message); err != nil {
			yield(j1939.Packet{}, err)
			return
		}

		start := s.clock.Now()
		defer func() {
			metrics.RequestDuration.WithLabelValues(kind).Observe(s.clock.Since(start).Seconds())
		}()

		for f, err := range send(ctx) {
			if err != nil {
				yield(j1939.Packet{}, err)
				return
			}
			p, ok := s.decode(f)
			if !ok || !isResponse(p, pgn, address) {
				continue
			}
			if !yield(p, nil) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			yield(j1939.Packet{}, err)
		}
	}
}

// isResponse reports whether p answers a request for pgn sent to address.
func isResponse(p j1939.Packet, pgn uint32, address uint8) bool {
	if address != j1939.GlobalAddress && p.Source != address {
		return false
	}
	if p.Kind == j1939.KindData {
		return p.PGN == pgn
	}
	return p.AckedPGN == pgn
}

// ReadBus listens without sending anything for seconds and yields every
// packet accepted by filter (nil accepts all). While listening it reports
// the remaining time once per second and checks for cancellation on each
// report.
func (s *Service) ReadBus(ctx context.Context, seconds int, sectionID string, filter func(j1939.Packet) bool) iter.Seq2[j1939.Packet, error] {
	return func(yield func(j1939.Packet, error) bool) {
		readCtx, cancel := context.WithCancel(ctx)
		interrupted := make(chan error, 1)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.countdown(readCtx, seconds, sectionID, cancel, interrupted)
		}()
		stop := func() {
			cancel()
			wg.Wait()
		}
		defer stop()

		var readErr error
		for f, err := range s.transport.Read(readCtx, time.Duration(seconds)*time.Second) {
			if err != nil {
				readErr = err
				break
			}
			p, ok := s.decode(f)
			if !ok || (filter != nil && !filter(p)) {
				continue
			}
			if !yield(p, nil) {
				return
			}
		}

		stop()
		select {
		case err := <-interrupted:
			yield(j1939.Packet{}, err)
			return
		default:
		}
		if err := ctx.Err(); err != nil {
			yield(j1939.Packet{}, err)
			return
		}
		if readErr != nil && !errors.Is(readErr, context.Canceled) {
			yield(j1939.Packet{}, readErr)
		}
	}
}

func (s *Service) countdown(ctx context.Context, seconds int, sectionID string, cancel context.CancelFunc, interrupted chan<- error) {
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for remaining := seconds; remaining > 0; remaining-- {
		msg := fmt.Sprintf("Reading bus for %s", english.Plural(remaining, "second", ""))
		if sectionID != "" {
			msg = sectionID + " - " + msg
		}
		if err := s.progress.UpdateProgress(msg); err != nil {
			interrupted <- err
			cancel()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			metrics.ListenSeconds.Inc()
		}
	}
}

func (s *Service) decode(f j1939.Frame) (j1939.Packet, bool) {
	p, err := s.decoder.Decode(f)
	switch {
	case err == nil:
		metrics.PacketsTotal.WithLabelValues("decoded").Inc()
		return p, true
	case errors.Is(err, j1939.ErrUnsupportedPGN):
		metrics.PacketsTotal.WithLabelValues("unsupported").Inc()
	default:
		metrics.PacketsTotal.WithLabelValues("malformed").Inc()
		s.log.Debug("Dropping malformed frame", "frame", f, "error", err)
	}
	return j1939.Packet{}, false
}

// CollectBroadcastPGNs keeps the PGNs with a positive broadcast period,
// preserving order.
func (s *Service) CollectBroadcastPGNs(pgns []uint32) []uint32 {
	var out []uint32
	for _, pgn := range pgns {
		if s.table.BroadcastPeriod(pgn) > 0 {
			out = append(out, pgn)
		}
	}
	return out
}

// CollectNonOnRequestPGNs maps spns to the PGNs carrying them and keeps
// those that are broadcast periodically, ascending.
func (s *Service) CollectNonOnRequestPGNs(spns []uint32) []uint32 {
	var out []uint32
	for _, spn := range spns {
		for _, pgn := range s.table.PGNsForSPN(spn) {
			if s.table.BroadcastPeriod(pgn) > 0 {
				out = append(out, pgn)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// PGNsForDSRequest returns the PGNs that must be requested explicitly: the
// on-request PGNs carrying a supported SPN and every PGN carrying a missing
// SPN, ascending.
func (s *Service) PGNsForDSRequest(missingSPNs, supportedSPNs []uint32) []uint32 {
	var out []uint32
	for _, spn := range supportedSPNs {
		for _, pgn := range s.table.PGNsForSPN(spn) {
			if s.table.BroadcastPeriod(pgn) == 0 {
				out = append(out, pgn)
			}
		}
	}
	for _, spn := range missingSPNs {
		out = append(out, s.table.PGNsForSPN(spn)...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Table returns the metadata the service classifies with.
func (s *Service) Table() *metadata.Table { return s.table }

// Collect drains seq. It returns the packets gathered so far together with
// the first error.
func Collect(seq iter.Seq2[j1939.Packet, error]) ([]j1939.Packet, error) {
	var out []j1939.Packet
	for p, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

package transport

import (
	"context"
	"time"

	"github.com/autopeer-io/obdverify/pkg/j1939"
)

// Transport protocol connection management control bytes.
const (
	tpRTS   byte = 16
	tpCTS   byte = 17
	tpEoMA  byte = 19
	tpBAM   byte = 32
	tpAbort byte = 255
)

// Abort reasons.
const (
	abortBusy    byte = 1
	abortTimeout byte = 3
)

const tpPriority uint8 = 7

type sessionKey struct {
	source      uint8
	destination uint8
}

type session struct {
	pgn     uint32
	size    int
	packets int
	perCTS  int
	rts     bool

	next        int
	windowStart int
	last        time.Time
	data        []byte
}

func (t *J1939) connection(f j1939.Frame) {
	if len(f.Data) < 8 {
		return
	}
	key := sessionKey{source: f.Source, destination: f.Destination}
	pgn := uint24(f.Data[5:])

	switch f.Data[0] {
	case tpRTS:
		if f.Destination != t.source {
			return
		}
		if _, busy := t.sessions[key]; busy {
			t.abort(f.Source, pgn, abortBusy)
			delete(t.sessions, key)
			return
		}
		s := t.open(f, pgn, true)
		s.perCTS = int(f.Data[4])
		if s.perCTS == 0 || s.perCTS > s.packets {
			s.perCTS = s.packets
		}
		t.sessions[key] = s
		t.publish(event{frame: f, partial: true})
		t.clearToSend(f.Source, s)
	case tpBAM:
		t.sessions[key] = t.open(f, pgn, false)
		t.publish(event{frame: f, partial: true})
	case tpAbort:
		if _, ok := t.sessions[key]; ok {
			t.log.Debug("Transfer aborted by sender", "source", f.Source, "pgn", pgn, "reason", f.Data[1])
			delete(t.sessions, key)
		}
	}
}

func (t *J1939) open(f j1939.Frame, pgn uint32, rts bool) *session {
	size := int(f.Data[1]) | int(f.Data[2])<<8
	return &session{
		pgn:         pgn,
		size:        size,
		packets:     int(f.Data[3]),
		rts:         rts,
		next:        1,
		windowStart: 1,
		last:        t.clock.Now(),
		data:        make([]byte, 0, int(f.Data[3])*7),
	}
}

func (t *J1939) data(f j1939.Frame) {
	key := sessionKey{source: f.Source, destination: f.Destination}
	s, ok := t.sessions[key]
	if !ok || len(f.Data) < 2 {
		return
	}

	now := t.clock.Now()
	if now.Sub(s.last) > t.tpGap {
		t.log.Debug("Transfer timed out", "source", f.Source, "pgn", s.pgn)
		t.drop(key, s, abortTimeout)
		return
	}
	if int(f.Data[0]) != s.next {
		t.log.Debug("Transfer out of sequence", "source", f.Source, "pgn", s.pgn, "sequence", f.Data[0], "expected", s.next)
		t.drop(key, s, abortTimeout)
		return
	}

	s.data = append(s.data, f.Data[1:]...)
	s.next++
	s.last = now

	if s.next > s.packets {
		delete(t.sessions, key)
		if len(s.data) < s.size {
			t.log.Debug("Transfer shorter than announced", "source", f.Source, "pgn", s.pgn)
			return
		}
		if s.rts {
			t.endOfMessage(f.Source, s)
		}
		t.publish(event{frame: j1939.Frame{
			Priority:    f.Priority,
			PGN:         s.pgn,
			Source:      f.Source,
			Destination: key.destination,
			Data:        s.data[:s.size],
			Timestamp:   f.Timestamp,
		}})
		return
	}

	t.publish(event{frame: f, partial: true})
	if s.rts && s.next-s.windowStart == s.perCTS {
		s.windowStart = s.next
		t.clearToSend(f.Source, s)
	}
}

func (t *J1939) drop(key sessionKey, s *session, reason byte) {
	delete(t.sessions, key)
	if s.rts {
		t.abort(key.source, s.pgn, reason)
	}
}

func (t *J1939) clearToSend(dest uint8, s *session) {
	count := min(s.perCTS, s.packets-s.next+1)
	b := []byte{tpCTS, byte(count), byte(s.next), 0xFF, 0xFF, 0, 0, 0}
	putUint24(b[5:], s.pgn)
	t.control(dest, b)
}

func (t *J1939) endOfMessage(dest uint8, s *session) {
	b := []byte{tpEoMA, byte(s.size), byte(s.size >> 8), byte(s.packets), 0xFF, 0, 0, 0}
	putUint24(b[5:], s.pgn)
	t.control(dest, b)
}

func (t *J1939) abort(dest uint8, pgn uint32, reason byte) {
	b := []byte{tpAbort, reason, 0xFF, 0xFF, 0xFF, 0, 0, 0}
	putUint24(b[5:], pgn)
	t.control(dest, b)
}

func (t *J1939) control(dest uint8, data []byte) {
	f := j1939.Frame{
		Priority:    tpPriority,
		PGN:         j1939.PGNTPConnection,
		Source:      t.source,
		Destination: dest,
		Data:        data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.response)
	defer cancel()
	if err := t.send(ctx, f); err != nil {
		t.log.Error(err, "Failed to send transport protocol control", "destination", dest, "control", data[0])
	}
}

// Package j1939 implements the subset of the SAE J1939 application and
// diagnostic layers needed to verify OBD behaviour of heavy-duty ECUs:
// identifiers, frames, diagnostic trouble codes and the DMxx message codecs.
package j1939

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// GlobalAddress is the destination used for requests to every ECU.
	GlobalAddress uint8 = 0xFF
	// ToolAddress is the default source address of an off-board service tool.
	ToolAddress uint8 = 0xF9
	// DefaultPriority is used for requests and diagnostic commands.
	DefaultPriority uint8 = 6
)

// Frame is a complete J1939 message as seen on the bus. Multi-packet
// messages are reassembled by the transport, so Data may exceed 8 bytes.
type Frame struct {
	Priority    uint8
	PGN         uint32
	Source      uint8
	Destination uint8
	Data        []byte
	Timestamp   time.Time
}

// IsPDU1 reports whether pgn is destination specific.
func IsPDU1(pgn uint32) bool {
	return (pgn>>8)&0xFF < 0xF0
}

// ID returns the 29-bit CAN identifier of the frame.
func (f Frame) ID() uint32 {
	pf := (f.PGN >> 8) & 0xFF
	ps := f.PGN & 0xFF
	if pf < 0xF0 {
		ps = uint32(f.Destination)
	}
	dp := (f.PGN >> 16) & 0x03
	return uint32(f.Priority&0x07)<<26 | dp<<24 | pf<<16 | ps<<8 | uint32(f.Source)
}

// ParseID splits a 29-bit identifier into its J1939 fields. For PDU2 PGNs
// the destination is GlobalAddress.
func ParseID(id uint32) (priority uint8, pgn uint32, destination, source uint8) {
	priority = uint8((id >> 26) & 0x07)
	dp := (id >> 24) & 0x03
	pf := (id >> 16) & 0xFF
	ps := (id >> 8) & 0xFF
	source = uint8(id & 0xFF)

	if pf < 0xF0 {
		return priority, dp<<16 | pf<<8, uint8(ps), source
	}
	return priority, dp<<16 | pf<<8 | ps, GlobalAddress, source
}

// FrameFromID builds a frame from a raw identifier and payload.
func FrameFromID(id uint32, data []byte, ts time.Time) Frame {
	priority, pgn, dst, src := ParseID(id)
	return Frame{
		Priority:    priority,
		PGN:         pgn,
		Source:      src,
		Destination: dst,
		Data:        append([]byte(nil), data...),
		Timestamp:   ts,
	}
}

func (f Frame) String() string {
	return fmt.Sprintf("%s %08X %X", f.Timestamp.Format("15:04:05.0000"), f.ID(), f.Data)
}

// NewRequest builds a request (PGN 59904) for pgn addressed to dest.
func NewRequest(pgn uint32, source, dest uint8) Frame {
	data := make([]byte, 3)
	putUint24(data, pgn)
	return Frame{
		Priority:    DefaultPriority,
		PGN:         PGNRequest,
		Source:      source,
		Destination: dest,
		Data:        data,
	}
}

// RequestedPGN returns the PGN carried by a request frame.
func RequestedPGN(f Frame) (uint32, error) {
	if f.PGN != PGNRequest || len(f.Data) < 3 {
		return 0, fmt.Errorf("%w: not a request frame", ErrMalformed)
	}
	return uint24(f.Data), nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func uint16At(b []byte, i int) uint16 {
	return binary.LittleEndian.Uint16(b[i:])
}

func uint32At(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i:])
}

package j1939

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind classifies a parsed packet.
type Kind uint8

const (
	KindData Kind = iota
	KindAck
	KindNack
	KindAccessDenied
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindAck:
		return "ACK"
	case KindNack:
		return "NACK"
	case KindAccessDenied:
		return "Access Denied"
	case KindBusy:
		return "Busy"
	default:
		return "Data"
	}
}

// ValueStatus tells whether a transmitted field holds a usable value.
type ValueStatus uint8

const (
	StatusValid ValueStatus = iota
	StatusError
	StatusNotAvailable
)

// Value is one decoded SPN of a packet.
type Value struct {
	SPN    uint32
	Raw    uint64
	Scaled float64
	Status ValueStatus
}

// NotAvailable reports whether the sender flagged the field as not available.
func (v Value) NotAvailable() bool { return v.Status == StatusNotAvailable }

// Valid reports whether the field carries a concrete value.
func (v Value) Valid() bool { return v.Status == StatusValid }

// LampStatus is the 2-bit status of a diagnostic lamp.
type LampStatus uint8

const (
	LampOff LampStatus = iota
	LampOn
	LampError
	LampNotAvailable
)

func (l LampStatus) String() string {
	return [...]string{"off", "on", "error", "not available"}[l&0x03]
}

// Lamps is the lamp status byte shared by DM1-style messages and DM31.
type Lamps struct {
	MIL          LampStatus
	RedStop      LampStatus
	AmberWarning LampStatus
	Protect      LampStatus
}

// Off reports whether every lamp is off or not supported.
func (l Lamps) Off() bool {
	for _, s := range []LampStatus{l.MIL, l.RedStop, l.AmberWarning, l.Protect} {
		if s == LampOn {
			return false
		}
	}
	return true
}

// TestResult is one DM30 scaled test result.
type TestResult struct {
	TestID uint8
	SPN    uint32
	FMI    uint8
	SLOT   uint16
	Value  uint16
	Max    uint16
	Min    uint16
}

// Initialized reports whether the result still holds the values a module
// reports before the test has ever completed.
func (r TestResult) Initialized() bool {
	if r.Value == 0xFB00 && r.Max == 0xFFFF && r.Min == 0xFFFF {
		return true
	}
	return r.Value == 0 && r.Max == 0 && r.Min == 0
}

// PerformanceRatio is one DM20 monitor performance ratio.
type PerformanceRatio struct {
	SPN         uint32
	Numerator   uint16
	Denominator uint16
}

// AECDTimer is one DM33 emission-increasing AECD active time entry.
type AECDTimer struct {
	Number uint8
	Timer1 uint32
	Timer2 uint32
}

// FreezeFrame is one DM25 expanded freeze frame.
type FreezeFrame struct {
	DTC  DTC
	Data []byte
}

// DTCLamp is one DM31 DTC-to-lamp association.
type DTCLamp struct {
	DTC   DTC
	Lamps Lamps
}

// SupportedSPN is one DM24 record.
type SupportedSPN struct {
	SPN               uint32
	DataStream        bool
	FreezeFrame       bool
	ScaledTestResults bool
	Length            uint8
}

// Packet is an immutable, decoded J1939 message. Decoders never share
// backing arrays between packets; consumers must treat the slices as
// read-only.
type Packet struct {
	Priority    uint8
	PGN         uint32
	Source      uint8
	Destination uint8
	Timestamp   time.Time
	Data        []byte

	Kind Kind
	// AckedPGN is the PGN an acknowledgement refers to.
	AckedPGN uint32

	Values        []Value
	Lamps         Lamps
	DTCs          []DTC
	FreezeFrames  []FreezeFrame
	TestResults   []TestResult
	Ratios        []PerformanceRatio
	AECDTimers    []AECDTimer
	DTCLamps      []DTCLamp
	SupportedSPNs []SupportedSPN
}

// Value returns the decoded SPN, if the packet carries it.
func (p Packet) Value(spn uint32) (Value, bool) {
	for _, v := range p.Values {
		if v.SPN == spn {
			return v, true
		}
	}
	return Value{}, false
}

// Raw returns the raw value of spn, or 0 when it is absent.
func (p Packet) Raw(spn uint32) uint64 {
	v, _ := p.Value(spn)
	return v.Raw
}

// NotAvailableSPNs lists the carried SPNs flagged as not available.
func (p Packet) NotAvailableSPNs() []uint32 {
	var out []uint32
	for _, v := range p.Values {
		if v.NotAvailable() {
			out = append(out, v.SPN)
		}
	}
	return out
}

// IsNegative reports whether the packet is a negative acknowledgement of
// any kind.
func (p Packet) IsNegative() bool {
	return p.Kind == KindNack || p.Kind == KindAccessDenied || p.Kind == KindBusy
}

// ModuleName is the display name of the sender.
func (p Packet) ModuleName() string { return ModuleName(p.Source) }

// Name is the message name of the packet.
func (p Packet) Name() string {
	if p.Kind != KindData {
		return fmt.Sprintf("%s for %s", p.Kind, MessageName(p.AckedPGN))
	}
	return MessageName(p.PGN)
}

// Clone returns a deep copy of the packet.
func (p Packet) Clone() Packet {
	c := p
	c.Data = slices.Clone(p.Data)
	c.Values = slices.Clone(p.Values)
	c.DTCs = slices.Clone(p.DTCs)
	c.TestResults = slices.Clone(p.TestResults)
	c.Ratios = slices.Clone(p.Ratios)
	c.AECDTimers = slices.Clone(p.AECDTimers)
	c.DTCLamps = slices.Clone(p.DTCLamps)
	c.SupportedSPNs = slices.Clone(p.SupportedSPNs)
	if p.FreezeFrames != nil {
		c.FreezeFrames = make([]FreezeFrame, len(p.FreezeFrames))
		for i, ff := range p.FreezeFrames {
			c.FreezeFrames[i] = FreezeFrame{DTC: ff.DTC, Data: slices.Clone(ff.Data)}
		}
	}
	return c
}

func (p Packet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s from %s", p.Timestamp.Format("15:04:05.0000"), p.Name(), p.ModuleName())
	if len(p.DTCs) > 0 {
		fmt.Fprintf(&b, " DTCs=%v", p.DTCs)
	}
	return b.String()
}

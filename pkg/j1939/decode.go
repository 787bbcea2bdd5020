package j1939

import (
	"fmt"

	"github.com/autopeer-io/obdverify/pkg/j1939/metadata"
)

// Decoder turns frames into packets. Diagnostic messages use their fixed
// J1939-73 layouts; every other PGN is decoded with the metadata table.
type Decoder struct {
	table *metadata.Table
}

// NewDecoder returns a decoder backed by table.
func NewDecoder(table *metadata.Table) *Decoder {
	return &Decoder{table: table}
}

type decodeFunc func(p *Packet, data []byte) error

var dmDecoders = map[uint32]decodeFunc{
	PGNAcknowledge:  decodeAck,
	PGNDM1:          decodeDTCList,
	PGNDM2:          decodeDTCList,
	PGNDM6:          decodeDTCList,
	PGNDM12:         decodeDTCList,
	PGNDM23:         decodeDTCList,
	PGNDM28:         decodeDTCList,
	PGNDM5:          decodeDM5,
	PGNDM20:         decodeDM20,
	PGNDM21:         decodeDM21,
	PGNDM24:         decodeDM24,
	PGNDM25:         decodeDM25,
	PGNDM26:         decodeDM26,
	PGNDM29:         decodeDM29,
	PGNDM30:         decodeDM30,
	PGNDM31:         decodeDM31,
	PGNDM33:         decodeDM33,
	PGNDM11:         func(*Packet, []byte) error { return nil },
	PGNRequest:      func(*Packet, []byte) error { return nil },
	PGNDM7:          func(*Packet, []byte) error { return nil },
	PGNTPConnection: func(*Packet, []byte) error { return nil },
	PGNTPData:       func(*Packet, []byte) error { return nil },
}

// Decode parses f. The returned packet owns copies of all payload bytes.
func (d *Decoder) Decode(f Frame) (Packet, error) {
	p := Packet{
		Priority:    f.Priority,
		PGN:         f.PGN,
		Source:      f.Source,
		Destination: f.Destination,
		Timestamp:   f.Timestamp,
		Data:        append([]byte(nil), f.Data...),
		Kind:        KindData,
	}

	if fn := dmDecoders[f.PGN]; fn != nil {
		if err := fn(&p, p.Data); err != nil {
			return Packet{}, fmt.Errorf("%s from %s: %w", MessageName(f.PGN), ModuleName(f.Source), err)
		}
		return p, nil
	}

	def, ok := d.table.PGN(f.PGN)
	if !ok {
		return Packet{}, fmt.Errorf("%w: %d", ErrUnsupportedPGN, f.PGN)
	}
	for _, s := range def.SPNs {
		v, err := extract(s, p.Data)
		if err != nil {
			return Packet{}, fmt.Errorf("%s spn %d: %w", def.Acronym, s.ID, err)
		}
		p.Values = append(p.Values, v)
	}
	return p, nil
}

// extract reads one SPN using its bit layout and classifies the J1939
// "not available" and "error" ranges.
func extract(s metadata.SPN, data []byte) (Value, error) {
	nbytes := (s.StartBit + s.Bits + 7) / 8
	if s.StartByte+nbytes > len(data) {
		return Value{}, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, s.StartByte+nbytes, len(data))
	}

	var raw uint64
	for i := nbytes - 1; i >= 0; i-- {
		raw = raw<<8 | uint64(data[s.StartByte+i])
	}
	raw = (raw >> s.StartBit) & (1<<s.Bits - 1)

	v := Value{SPN: s.ID, Raw: raw, Status: classify(raw, s.Bits)}
	if v.Status == StatusValid {
		v.Scaled = float64(raw)*s.Resolution + s.Offset
	}
	return v, nil
}

// classify applies J1939-71 parameter ranges: for byte-sized fields the most
// significant byte 0xFF means not available and 0xFE an error indicator; for
// bit fields all ones is not available and all ones minus one is an error.
func classify(raw uint64, bits int) ValueStatus {
	if bits < 8 {
		full := uint64(1)<<bits - 1
		switch raw {
		case full:
			return StatusNotAvailable
		case full - 1:
			if bits > 1 {
				return StatusError
			}
		}
		return StatusValid
	}

	msb := (raw >> (bits - 8)) & 0xFF
	switch msb {
	case 0xFF:
		return StatusNotAvailable
	case 0xFE:
		return StatusError
	}
	return StatusValid
}

func byteValue(spn uint32, b byte) Value {
	return Value{SPN: spn, Raw: uint64(b), Scaled: float64(b), Status: classify(uint64(b), 8)}
}

func wordValue(spn uint32, w uint16) Value {
	return Value{SPN: spn, Raw: uint64(w), Scaled: float64(w), Status: classify(uint64(w), 16)}
}

func need(data []byte, n int) error {
	if len(data) < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, n, len(data))
	}
	return nil
}

func decodeLamps(b byte) Lamps {
	return Lamps{
		MIL:          LampStatus(b >> 6 & 0x03),
		RedStop:      LampStatus(b >> 4 & 0x03),
		AmberWarning: LampStatus(b >> 2 & 0x03),
		Protect:      LampStatus(b & 0x03),
	}
}

func lampValues(l Lamps) []Value {
	status := func(spn uint32, s LampStatus) Value {
		return Value{SPN: spn, Raw: uint64(s), Scaled: float64(s), Status: classify(uint64(s), 2)}
	}
	return []Value{
		status(SPNMIL, l.MIL),
		status(SPNRedStopLamp, l.RedStop),
		status(SPNAmberLamp, l.AmberWarning),
		status(SPNProtectLamp, l.Protect),
	}
}

func decodeAck(p *Packet, data []byte) error {
	if err := need(data, 8); err != nil {
		return err
	}
	switch data[0] {
	case 0:
		p.Kind = KindAck
	case 1:
		p.Kind = KindNack
	case 2:
		p.Kind = KindAccessDenied
	case 3:
		p.Kind = KindBusy
	default:
		return fmt.Errorf("%w: control byte %d", ErrMalformed, data[0])
	}
	p.AckedPGN = uint24(data[5:])
	return nil
}

func decodeDTCList(p *Packet, data []byte) error {
	if err := need(data, 2); err != nil {
		return err
	}
	p.Lamps = decodeLamps(data[0])
	p.Values = lampValues(p.Lamps)

	rest := data[2:]
	for len(rest) >= 4 {
		if !emptyDTC(rest) {
			p.DTCs = append(p.DTCs, decodeDTC(rest))
		}
		rest = rest[4:]
	}
	return nil
}

func decodeDM5(p *Packet, data []byte) error {
	if err := need(data, 3); err != nil {
		return err
	}
	p.Values = []Value{
		byteValue(SPNActiveCount, data[0]),
		byteValue(SPNPrevActCount, data[1]),
		byteValue(SPNOBDCompliance, data[2]),
	}
	return nil
}

func decodeDM20(p *Packet, data []byte) error {
	if err := need(data, 4); err != nil {
		return err
	}
	p.Values = []Value{
		wordValue(SPNIgnitionCycles, uint16At(data, 0)),
		wordValue(SPNOBDConditionsCount, uint16At(data, 2)),
	}
	for rest := data[4:]; len(rest) >= 7; rest = rest[7:] {
		spn, _ := decodeSPN19(rest)
		p.Ratios = append(p.Ratios, PerformanceRatio{
			SPN:         spn,
			Numerator:   uint16At(rest, 3),
			Denominator: uint16At(rest, 5),
		})
	}
	return nil
}

func decodeDM21(p *Packet, data []byte) error {
	if err := need(data, 8); err != nil {
		return err
	}
	p.Values = []Value{
		wordValue(SPNDistanceMILOn, uint16At(data, 0)),
		wordValue(SPNDistanceSinceClear, uint16At(data, 2)),
		wordValue(SPNMinutesMILOn, uint16At(data, 4)),
		wordValue(SPNTimeSinceClear, uint16At(data, 6)),
	}
	return nil
}

func decodeDM24(p *Packet, data []byte) error {
	for rest := data; len(rest) >= 4; rest = rest[4:] {
		if emptyDTC(rest) {
			continue
		}
		spn, flags := decodeSPN19(rest)
		// A cleared bit means supported.
		p.SupportedSPNs = append(p.SupportedSPNs, SupportedSPN{
			SPN:               spn,
			ScaledTestResults: flags&0x01 == 0,
			DataStream:        flags&0x02 == 0,
			FreezeFrame:       flags&0x04 == 0,
			Length:            rest[3],
		})
	}
	return nil
}

func decodeDM25(p *Packet, data []byte) error {
	for rest := data; len(rest) > 0; {
		n := int(rest[0])
		if n == 0 || n == 0xFF {
			break
		}
		if n < 4 || len(rest) < n+1 {
			return fmt.Errorf("%w: freeze frame length %d", ErrMalformed, n)
		}
		frame := rest[1 : n+1]
		if !emptyDTC(frame) {
			p.FreezeFrames = append(p.FreezeFrames, FreezeFrame{
				DTC:  decodeDTC(frame),
				Data: append([]byte(nil), frame[4:]...),
			})
		}
		rest = rest[n+1:]
	}
	return nil
}

func decodeDM26(p *Packet, data []byte) error {
	if err := need(data, 3); err != nil {
		return err
	}
	p.Values = []Value{
		wordValue(SPNTimeSinceStart, uint16At(data, 0)),
		byteValue(SPNWarmUpsSinceClear, data[2]),
	}
	return nil
}

func decodeDM29(p *Packet, data []byte) error {
	if err := need(data, 5); err != nil {
		return err
	}
	p.Values = []Value{
		byteValue(SPNPendingCount, data[0]),
		byteValue(SPNAllPendingCount, data[1]),
		byteValue(SPNMILOnCount, data[2]),
		byteValue(SPNPrevMILOnCount, data[3]),
		byteValue(SPNPermanentCount, data[4]),
	}
	return nil
}

func decodeDM30(p *Packet, data []byte) error {
	if len(data)%12 != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of test results", ErrMalformed, len(data))
	}
	for rest := data; len(rest) >= 12; rest = rest[12:] {
		spn, fmi := decodeSPN19(rest[1:])
		p.TestResults = append(p.TestResults, TestResult{
			TestID: rest[0],
			SPN:    spn,
			FMI:    fmi,
			SLOT:   uint16At(rest, 4),
			Value:  uint16At(rest, 6),
			Max:    uint16At(rest, 8),
			Min:    uint16At(rest, 10),
		})
	}
	return nil
}

func decodeDM31(p *Packet, data []byte) error {
	for rest := data; len(rest) >= 6; rest = rest[6:] {
		if emptyDTC(rest) {
			continue
		}
		p.DTCLamps = append(p.DTCLamps, DTCLamp{
			DTC:   decodeDTC(rest),
			Lamps: decodeLamps(rest[4]),
		})
	}
	return nil
}

func decodeDM33(p *Packet, data []byte) error {
	for rest := data; len(rest) >= 9; rest = rest[9:] {
		if rest[0] == 0xFF {
			continue
		}
		p.AECDTimers = append(p.AECDTimers, AECDTimer{
			Number: rest[0],
			Timer1: uint32At(rest, 1),
			Timer2: uint32At(rest, 5),
		})
	}
	return nil
}

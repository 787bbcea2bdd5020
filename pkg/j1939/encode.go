package j1939

import (
	"encoding/binary"

	"github.com/autopeer-io/obdverify/pkg/j1939/metadata"
)

// Encoders for the diagnostic messages. They are used by bus tooling and
// simulated ECUs; the verifier itself only ever decodes.

func encodeLamps(l Lamps) byte {
	return byte(l.MIL&0x03)<<6 | byte(l.RedStop&0x03)<<4 | byte(l.AmberWarning&0x03)<<2 | byte(l.Protect&0x03)
}

func pad(b []byte, n int) []byte {
	for len(b) < n {
		b = append(b, 0xFF)
	}
	return b
}

// EncodeDTCList encodes a DM1/DM2/DM6/DM12/DM23/DM28 payload.
func EncodeDTCList(lamps Lamps, dtcs []DTC) []byte {
	b := []byte{encodeLamps(lamps), 0xFF}
	if len(dtcs) == 0 {
		b = append(b, 0, 0, 0, 0)
	}
	for _, d := range dtcs {
		b = append(b, d.encode()...)
	}
	return pad(b, 8)
}

// EncodeDM5 encodes diagnostic readiness 1.
func EncodeDM5(active, previouslyActive, compliance uint8) []byte {
	return pad([]byte{active, previouslyActive, compliance}, 8)
}

// EncodeDM20 encodes monitor performance ratios.
func EncodeDM20(ignitionCycles, obdConditions uint16, ratios []PerformanceRatio) []byte {
	b := binary.LittleEndian.AppendUint16(nil, ignitionCycles)
	b = binary.LittleEndian.AppendUint16(b, obdConditions)
	for _, r := range ratios {
		b = append(b, encodeSPN19(r.SPN, 0x1F)...)
		b = binary.LittleEndian.AppendUint16(b, r.Numerator)
		b = binary.LittleEndian.AppendUint16(b, r.Denominator)
	}
	return pad(b, 8)
}

// EncodeDM21 encodes the MIL-on and since-clear distance/time counters.
func EncodeDM21(distanceMILOn, distanceSinceClear, minutesMILOn, timeSinceClear uint16) []byte {
	b := binary.LittleEndian.AppendUint16(nil, distanceMILOn)
	b = binary.LittleEndian.AppendUint16(b, distanceSinceClear)
	b = binary.LittleEndian.AppendUint16(b, minutesMILOn)
	return binary.LittleEndian.AppendUint16(b, timeSinceClear)
}

// EncodeDM24 encodes the supported SPN list.
func EncodeDM24(spns []SupportedSPN) []byte {
	var b []byte
	for _, s := range spns {
		var flags uint8 = 0x07
		if s.ScaledTestResults {
			flags &^= 0x01
		}
		if s.DataStream {
			flags &^= 0x02
		}
		if s.FreezeFrame {
			flags &^= 0x04
		}
		b = append(b, encodeSPN19(s.SPN, flags)...)
		b = append(b, s.Length)
	}
	return pad(b, 8)
}

// EncodeDM25 encodes expanded freeze frames.
func EncodeDM25(frames []FreezeFrame) []byte {
	if len(frames) == 0 {
		return []byte{0, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF}
	}
	var b []byte
	for _, f := range frames {
		b = append(b, byte(4+len(f.Data)))
		b = append(b, f.DTC.encode()...)
		b = append(b, f.Data...)
	}
	return pad(b, 8)
}

// EncodeDM26 encodes diagnostic readiness 3.
func EncodeDM26(timeSinceStart uint16, warmUpsSinceClear uint8) []byte {
	b := binary.LittleEndian.AppendUint16(nil, timeSinceStart)
	return pad(append(b, warmUpsSinceClear), 8)
}

// EncodeDM29 encodes the DTC counts in the order pending, all pending,
// MIL-on, previously MIL-on, permanent.
func EncodeDM29(pending, allPending, milOn, previouslyMILOn, permanent uint8) []byte {
	return pad([]byte{pending, allPending, milOn, previouslyMILOn, permanent}, 8)
}

// EncodeDM30 encodes scaled test results.
func EncodeDM30(results []TestResult) []byte {
	var b []byte
	for _, r := range results {
		b = append(b, r.TestID)
		b = append(b, encodeSPN19(r.SPN, r.FMI)...)
		b = binary.LittleEndian.AppendUint16(b, r.SLOT)
		b = binary.LittleEndian.AppendUint16(b, r.Value)
		b = binary.LittleEndian.AppendUint16(b, r.Max)
		b = binary.LittleEndian.AppendUint16(b, r.Min)
	}
	return b
}

// EncodeDM31 encodes DTC to lamp associations.
func EncodeDM31(entries []DTCLamp) []byte {
	var b []byte
	for _, e := range entries {
		b = append(b, e.DTC.encode()...)
		b = append(b, encodeLamps(e.Lamps), 0xFF)
	}
	return pad(b, 8)
}

// EncodeDM33 encodes emission-increasing AECD active times.
func EncodeDM33(timers []AECDTimer) []byte {
	var b []byte
	for _, t := range timers {
		b = append(b, t.Number)
		b = binary.LittleEndian.AppendUint32(b, t.Timer1)
		b = binary.LittleEndian.AppendUint32(b, t.Timer2)
	}
	return pad(b, 9)
}

// EncodeAck encodes an acknowledgement of pgn. kind must not be KindData.
func EncodeAck(kind Kind, pgn uint32, address uint8) []byte {
	b := []byte{byte(kind - KindAck), 0xFF, 0xFF, 0xFF, address, 0, 0, 0}
	putUint24(b[5:], pgn)
	return b
}

// NewDM7 builds a DM7 command asking dest for every test result of spn.
func NewDM7(spn uint32, source, dest uint8) Frame {
	b := []byte{247}
	b = append(b, encodeSPN19(spn, 31)...)
	return Frame{
		Priority:    DefaultPriority,
		PGN:         PGNDM7,
		Source:      source,
		Destination: dest,
		Data:        pad(b, 8),
	}
}

// EncodeSPNs lays out raw SPN values according to def; unspecified bits are
// left as ones, which J1939 reads as "not available".
func EncodeSPNs(def metadata.PGN, raw map[uint32]uint64) []byte {
	size := 8
	for _, s := range def.SPNs {
		if n := s.StartByte + (s.StartBit+s.Bits+7)/8; n > size {
			size = n
		}
	}
	b := pad(nil, size)

	for _, s := range def.SPNs {
		v, ok := raw[s.ID]
		if !ok {
			continue
		}
		nbytes := (s.StartBit + s.Bits + 7) / 8
		var word uint64
		for i := nbytes - 1; i >= 0; i-- {
			word = word<<8 | uint64(b[s.StartByte+i])
		}
		mask := (uint64(1)<<s.Bits - 1) << s.StartBit
		word = word&^mask | (v<<s.StartBit)&mask
		for i := 0; i < nbytes; i++ {
			b[s.StartByte+i] = byte(word >> (8 * i))
		}
	}
	return b
}

package j1939

import "fmt"

// DTC is a J1939-73 diagnostic trouble code (conversion method 4).
type DTC struct {
	SPN uint32
	FMI uint8
	OC  uint8
}

func (d DTC) String() string {
	return fmt.Sprintf("SPN %d FMI %d", d.SPN, d.FMI)
}

// decodeDTC reads the 4-byte DTC encoding at b[0:4].
func decodeDTC(b []byte) DTC {
	return DTC{
		SPN: uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2]>>5)<<16,
		FMI: b[2] & 0x1F,
		OC:  b[3] & 0x7F,
	}
}

func (d DTC) encode() []byte {
	return []byte{
		byte(d.SPN),
		byte(d.SPN >> 8),
		byte((d.SPN>>16)&0x07)<<5 | d.FMI&0x1F,
		d.OC & 0x7F,
	}
}

// empty reports whether the slot is the "no DTC" filler.
func emptyDTC(b []byte) bool {
	zero, ones := true, true
	for _, c := range b[:4] {
		zero = zero && c == 0x00
		ones = ones && c == 0xFF
	}
	return zero || ones
}

// decodeSPN19 reads a 19-bit SPN stored in three bytes with the high bits in
// the top of the third byte, returning the remaining 5 low bits.
func decodeSPN19(b []byte) (spn uint32, low5 uint8) {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2]>>5)<<16, b[2] & 0x1F
}

func encodeSPN19(spn uint32, low5 uint8) []byte {
	return []byte{byte(spn), byte(spn >> 8), byte((spn>>16)&0x07)<<5 | low5&0x1F}
}

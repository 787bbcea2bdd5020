package j1939

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a payload is too short or inconsistent.
	ErrMalformed = errors.New("malformed j1939 payload")
	// ErrUnsupportedPGN is returned when no decoder exists for a PGN.
	ErrUnsupportedPGN = errors.New("unsupported pgn")
)

// Network management and diagnostic PGNs.
const (
	PGNRequest      uint32 = 59904
	PGNAcknowledge  uint32 = 59392
	PGNTPConnection uint32 = 60416
	PGNTPData       uint32 = 60160

	PGNDM1  uint32 = 65226
	PGNDM2  uint32 = 65227
	PGNDM5  uint32 = 65230
	PGNDM6  uint32 = 65231
	PGNDM7  uint32 = 58112
	PGNDM11 uint32 = 65235
	PGNDM12 uint32 = 65236
	PGNDM20 uint32 = 49664
	PGNDM21 uint32 = 49408
	PGNDM23 uint32 = 64949
	PGNDM24 uint32 = 64950
	PGNDM25 uint32 = 64951
	PGNDM26 uint32 = 64952
	PGNDM28 uint32 = 64896
	PGNDM29 uint32 = 40448
	PGNDM30 uint32 = 41984
	PGNDM31 uint32 = 41728
	PGNDM33 uint32 = 41216

	PGNEngineHours   uint32 = 65253
	PGNIdleOperation uint32 = 65244
)

// SPNs carried by the fixed-layout diagnostic messages.
const (
	SPNMIL           uint32 = 1213
	SPNRedStopLamp   uint32 = 623
	SPNAmberLamp     uint32 = 624
	SPNProtectLamp   uint32 = 987
	SPNActiveCount   uint32 = 1218
	SPNPrevActCount  uint32 = 1219
	SPNOBDCompliance uint32 = 1220

	SPNDistanceMILOn      uint32 = 3069
	SPNDistanceSinceClear uint32 = 3294
	SPNMinutesMILOn       uint32 = 3295
	SPNTimeSinceClear     uint32 = 3296

	SPNTimeSinceStart     uint32 = 3301
	SPNWarmUpsSinceClear  uint32 = 3302
	SPNIgnitionCycles     uint32 = 3048
	SPNOBDConditionsCount uint32 = 3049

	SPNPendingCount     uint32 = 4104
	SPNAllPendingCount  uint32 = 4105
	SPNMILOnCount       uint32 = 4106
	SPNPrevMILOnCount   uint32 = 4107
	SPNPermanentCount   uint32 = 4108
	SPNEngineHours      uint32 = 247
	SPNEngineRevs       uint32 = 249
	SPNIdleFuelUsed     uint32 = 236
	SPNEngineIdleHours  uint32 = 235
	SPNTestIdentifier   uint32 = 1224
	SPNSupportedSPNList uint32 = 4150
)

var dmNames = map[uint32]string{
	PGNDM1:           "DM1",
	PGNDM2:           "DM2",
	PGNDM5:           "DM5",
	PGNDM6:           "DM6",
	PGNDM7:           "DM7",
	PGNDM11:          "DM11",
	PGNDM12:          "DM12",
	PGNDM20:          "DM20",
	PGNDM21:          "DM21",
	PGNDM23:          "DM23",
	PGNDM24:          "DM24",
	PGNDM25:          "DM25",
	PGNDM26:          "DM26",
	PGNDM28:          "DM28",
	PGNDM29:          "DM29",
	PGNDM30:          "DM30",
	PGNDM31:          "DM31",
	PGNDM33:          "DM33",
	PGNAcknowledge:   "ACK",
	PGNRequest:       "Request",
	PGNEngineHours:   "Engine Hours",
	PGNIdleOperation: "Idle Operation",
}

// MessageName returns the short diagnostic name of pgn ("DM12"), or the
// decimal PGN when none is known.
func MessageName(pgn uint32) string {
	if name, ok := dmNames[pgn]; ok {
		return name
	}
	return fmt.Sprintf("PGN %d", pgn)
}

var addressNames = map[uint8]string{
	0x00: "Engine #1",
	0x01: "Engine #2",
	0x03: "Transmission #1",
	0x0B: "Brakes - System Controller",
	0x0F: "Retarder - Engine",
	0x11: "Cruise Control",
	0x17: "Instrument Cluster #1",
	0x21: "Body Controller",
	0x28: "Cab Controller - Primary",
	0x3D: "Exhaust Emission Controller",
	0x55: "Aftertreatment #1 Outlet",
	0x5A: "Aftertreatment #1 Gas Intake",
	0xF9: "Off Board Diagnostic-Service Tool #1",
	0xFA: "Off Board Diagnostic-Service Tool #2",
	0xFF: "Global",
}

// ModuleName returns the display name of a source address, for example
// "Engine #1 (0)".
func ModuleName(address uint8) string {
	if name, ok := addressNames[address]; ok {
		return fmt.Sprintf("%s (%d)", name, address)
	}
	return fmt.Sprintf("Unknown (%d)", address)
}

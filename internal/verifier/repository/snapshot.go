package repository

import (
	"maps"
	"slices"

	"github.com/autopeer-io/obdverify/pkg/j1939"
)

// ModuleSnapshot is everything known about one OBD module. Snapshots are
// values: the With* methods return an updated copy and leave the receiver
// untouched, and accessors hand out copies, so a snapshot can be shared
// freely between goroutines.
type ModuleSnapshot struct {
	address uint8

	dataStreamSPNs  []uint32
	freezeFrameSPNs []uint32
	testResultSPNs  []uint32
	supported       []j1939.SupportedSPN

	// latest is the last packet of each PGN, whatever the part.
	latest map[uint32]j1939.Packet
	// byPart is the last packet of each PGN captured in a part.
	byPart map[int]map[uint32]j1939.Packet

	testResults []j1939.TestResult
}

// NewModuleSnapshot returns an empty snapshot of the module at address.
func NewModuleSnapshot(address uint8) ModuleSnapshot {
	return ModuleSnapshot{address: address}
}

func (m ModuleSnapshot) Address() uint8 { return m.address }

// Name is the display name of the module, e.g. "Engine #1 (0)".
func (m ModuleSnapshot) Name() string { return j1939.ModuleName(m.address) }

// DataStreamSPNs lists the SPNs the module supports in the data stream.
func (m ModuleSnapshot) DataStreamSPNs() []uint32 { return slices.Clone(m.dataStreamSPNs) }

// FreezeFrameSPNs lists the SPNs the module supports in freeze frames.
func (m ModuleSnapshot) FreezeFrameSPNs() []uint32 { return slices.Clone(m.freezeFrameSPNs) }

// TestResultSPNs lists the SPNs the module supports scaled test results for.
func (m ModuleSnapshot) TestResultSPNs() []uint32 { return slices.Clone(m.testResultSPNs) }

// SupportedSPNs returns the raw DM24 records.
func (m ModuleSnapshot) SupportedSPNs() []j1939.SupportedSPN { return slices.Clone(m.supported) }

// Latest returns the most recent packet of pgn.
func (m ModuleSnapshot) Latest(pgn uint32) (j1939.Packet, bool) {
	p, ok := m.latest[pgn]
	if !ok {
		return j1939.Packet{}, false
	}
	return p.Clone(), true
}

// InPart returns the packet of pgn captured during part.
func (m ModuleSnapshot) InPart(part int, pgn uint32) (j1939.Packet, bool) {
	p, ok := m.byPart[part][pgn]
	if !ok {
		return j1939.Packet{}, false
	}
	return p.Clone(), true
}

// PGNs lists the PGNs with a recorded packet, ascending.
func (m ModuleSnapshot) PGNs() []uint32 {
	return slices.Sorted(maps.Keys(m.latest))
}

// TestResults returns the DM30 results collected for the supported SPNs.
func (m ModuleSnapshot) TestResults() []j1939.TestResult { return slices.Clone(m.testResults) }

// WithSupportedSPNs records the module's DM24 response.
func (m ModuleSnapshot) WithSupportedSPNs(spns []j1939.SupportedSPN) ModuleSnapshot {
	m.supported = slices.Clone(spns)
	m.dataStreamSPNs, m.freezeFrameSPNs, m.testResultSPNs = nil, nil, nil
	for _, s := range spns {
		if s.DataStream {
			m.dataStreamSPNs = append(m.dataStreamSPNs, s.SPN)
		}
		if s.FreezeFrame {
			m.freezeFrameSPNs = append(m.freezeFrameSPNs, s.SPN)
		}
		if s.ScaledTestResults {
			m.testResultSPNs = append(m.testResultSPNs, s.SPN)
		}
	}
	return m
}

// WithPacket records p as captured during part. Negative acknowledgements
// are not data and leave the snapshot unchanged.
func (m ModuleSnapshot) WithPacket(part int, p j1939.Packet) ModuleSnapshot {
	if p.Kind != j1939.KindData {
		return m
	}
	p = p.Clone()

	latest := maps.Clone(m.latest)
	if latest == nil {
		latest = make(map[uint32]j1939.Packet)
	}
	latest[p.PGN] = p
	m.latest = latest

	byPart := make(map[int]map[uint32]j1939.Packet, len(m.byPart)+1)
	for k, v := range m.byPart {
		byPart[k] = v
	}
	inPart := maps.Clone(byPart[part])
	if inPart == nil {
		inPart = make(map[uint32]j1939.Packet)
	}
	inPart[p.PGN] = p
	byPart[part] = inPart
	m.byPart = byPart
	return m
}

// WithTestResults replaces the DM30 results.
func (m ModuleSnapshot) WithTestResults(results []j1939.TestResult) ModuleSnapshot {
	m.testResults = slices.Clone(results)
	return m
}

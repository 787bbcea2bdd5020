// Package broadcast checks that periodically broadcast parameter groups
// arrive at their defined rate and carry the SPNs a module claims to
// support.
package broadcast

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/internal/verifier/repository"
	"github.com/autopeer-io/obdverify/pkg/j1939"
	"github.com/autopeer-io/obdverify/pkg/j1939/metadata"
	"github.com/autopeer-io/obdverify/pkg/log"
)

const (
	// minimumListenPeriod is the shortest listen MaximumBroadcastPeriod returns.
	minimumListenPeriod = 5 * time.Second

	// Tolerances in percent of the defined period.
	fastTolerance = 90
	slowTolerance = 110
)

// PacketMap groups packets by PGN, then by source address, in arrival order.
type PacketMap map[uint32]map[uint8][]j1939.Packet

// BuildPGNPacketsMap groups the data packets of packets. Acknowledgements
// are left out.
func BuildPGNPacketsMap(packets []j1939.Packet) PacketMap {
	m := PacketMap{}
	for _, p := range packets {
		if p.Kind != j1939.KindData {
			continue
		}
		bySource := m[p.PGN]
		if bySource == nil {
			bySource = map[uint8][]j1939.Packet{}
			m[p.PGN] = bySource
		}
		bySource[p.Source] = append(bySource[p.Source], p)
	}
	return m
}

// PGNs returns the grouped PGNs in ascending order.
func (m PacketMap) PGNs() []uint32 {
	return slices.Sorted(maps.Keys(m))
}

// Sources returns the addresses that sent pgn in ascending order.
func (m PacketMap) Sources(pgn uint32) []uint8 {
	return slices.Sorted(maps.Keys(m[pgn]))
}

// Validator reports broadcast timing and data availability outcomes.
type Validator struct {
	table *metadata.Table
	repo  *repository.Repository
	log   log.Logger
}

// New returns a Validator over table and the modules recorded in repo.
func New(table *metadata.Table, repo *repository.Repository) *Validator {
	return &Validator{
		table: table,
		repo:  repo,
		log:   log.WithName("broadcast"),
	}
}

// MaximumBroadcastPeriod returns, in whole seconds, the longest broadcast
// period among pgns, but never less than five seconds. Without arguments it
// considers every PGN carrying a data-stream SPN of a known module.
func (v *Validator) MaximumBroadcastPeriod(pgns ...uint32) int {
	if len(pgns) == 0 {
		for _, m := range v.repo.Modules() {
			for _, spn := range m.DataStreamSPNs() {
				pgns = append(pgns, v.table.PGNsForSPN(spn)...)
			}
		}
	}

	longest := minimumListenPeriod
	for _, pgn := range pgns {
		longest = max(longest, v.table.BroadcastPeriod(pgn))
	}
	return int(math.Ceil(longest.Seconds()))
}

// ReportBroadcastPeriod checks the interval between the first three samples
// of every periodic PGN that carries one of supportedSPNs, per source.
// Fixed-rate PGNs fail when either interval is shorter than 90% of the
// defined period; every PGN fails when either interval exceeds 110% of it.
func (v *Validator) ReportBroadcastPeriod(packets PacketMap, supportedSPNs []uint32, l listener.Listener, part, step int) {
	section := model.Section(part, step, "a")

	for _, pgn := range packets.PGNs() {
		period := v.table.BroadcastPeriod(pgn)
		if period <= 0 || !v.carriesAny(pgn, supportedSPNs) {
			continue
		}
		label := v.table.Label(pgn)
		periodMs := period.Milliseconds()

		for _, source := range packets.Sources(pgn) {
			samples := packets[pgn][source]
			moduleName := j1939.ModuleName(source)
			if len(samples) < 3 {
				l.AddOutcome(part, step, model.Info, model.Cite(section,
					fmt.Sprintf("Unable to determine period for %s from %s", label, moduleName)))
				continue
			}

			d1 := samples[1].Timestamp.Sub(samples[0].Timestamp)
			d2 := samples[2].Timestamp.Sub(samples[1].Timestamp)
			v.log.Debug("Measured broadcast period", "pgn", pgn, "source", source, "d1", d1, "d2", d2, "period", period)

			if shortest := min(d1, d2); !v.table.IsVariableRate(pgn) && shortest*100 < period*fastTolerance {
				l.AddOutcome(part, step, model.Fail, model.Cite(section,
					fmt.Sprintf("Broadcast period of %s from %s is less than 90%% of specified broadcast period (%d ms measured, %d ms specified)",
						label, moduleName, roundMs(shortest), periodMs)))
			}
			if longest := max(d1, d2); longest*100 > period*slowTolerance {
				l.AddOutcome(part, step, model.Fail, model.Cite(section,
					fmt.Sprintf("Broadcast period of %s from %s is beyond 110%% of specified broadcast period (%d ms measured, %d ms specified)",
						label, moduleName, roundMs(longest), periodMs)))
			}
		}
	}
}

func roundMs(d time.Duration) int64 {
	return d.Round(time.Millisecond).Milliseconds()
}

// CollectAndReportNotAvailableSPNs checks one module's response to a
// request for pgn. A negative acknowledgement is a warning and no response
// at all fails, naming every supported SPN of pgn. It returns the supported
// SPNs the module reported as not available.
func (v *Validator) CollectAndReportNotAvailableSPNs(l listener.Listener, part, step int, section string,
	address uint8, pgn uint32, responses []j1939.Packet, supportedSPNs []uint32) []uint32 {
	moduleName := j1939.ModuleName(address)
	label := v.table.Label(pgn)

	for _, p := range responses {
		if p.IsNegative() {
			l.AddOutcome(part, step, model.Warn, model.Cite(section,
				fmt.Sprintf("%s responded NACK to DS request for %s", moduleName, label)))
			break
		}
	}

	if len(responses) == 0 {
		expected := v.supportedOf(pgn, supportedSPNs)
		l.AddOutcome(part, step, model.Fail, model.Cite(section,
			fmt.Sprintf("No DS response from %s for %s; expected SPNs %s", moduleName, label, spnList(expected))))
		return nil
	}

	var notAvailable []uint32
	for _, p := range responses {
		if p.Kind != j1939.KindData || p.PGN != pgn {
			continue
		}
		for _, spn := range p.NotAvailableSPNs() {
			if slices.Contains(supportedSPNs, spn) {
				notAvailable = append(notAvailable, spn)
			}
		}
	}
	slices.Sort(notAvailable)
	return slices.Compact(notAvailable)
}

// CollectAndReportModuleNotAvailableSPNs checks everything one module
// broadcast against requiredPGNs. Each supported SPN of a PGN that never
// arrived fails once, as does each supported SPN sent as not available. It
// returns both sets of SPNs, ascending.
func (v *Validator) CollectAndReportModuleNotAvailableSPNs(l listener.Listener, part, step int, section string,
	address uint8, packets []j1939.Packet, supportedSPNs, requiredPGNs []uint32) []uint32 {
	moduleName := j1939.ModuleName(address)

	observed := map[uint32]bool{}
	for _, p := range packets {
		if p.Source == address && p.Kind == j1939.KindData {
			observed[p.PGN] = true
		}
	}

	var missing []uint32
	for _, pgn := range sortedUnique(requiredPGNs) {
		if observed[pgn] {
			continue
		}
		for _, spn := range v.supportedOf(pgn, supportedSPNs) {
			l.AddOutcome(part, step, model.Fail, model.Cite(section,
				fmt.Sprintf("SPN %d was not broadcast by %s", spn, moduleName)))
			missing = append(missing, spn)
		}
	}

	reported := map[uint32]bool{}
	for _, p := range packets {
		if p.Source != address || p.Kind != j1939.KindData {
			continue
		}
		for _, spn := range p.NotAvailableSPNs() {
			if reported[spn] || !slices.Contains(supportedSPNs, spn) {
				continue
			}
			reported[spn] = true
			l.AddOutcome(part, step, model.Fail, model.Cite(section,
				fmt.Sprintf("SPN %d was broadcast as NOT AVAILABLE by %s", spn, moduleName)))
			missing = append(missing, spn)
		}
	}

	return sortedUnique(missing)
}

func (v *Validator) carriesAny(pgn uint32, spns []uint32) bool {
	return len(v.supportedOf(pgn, spns)) > 0
}

// supportedOf lists the SPNs of pgn found in spns, in PGN layout order.
func (v *Validator) supportedOf(pgn uint32, spns []uint32) []uint32 {
	var out []uint32
	for _, spn := range v.table.SPNsOf(pgn) {
		if slices.Contains(spns, spn) {
			out = append(out, spn)
		}
	}
	return out
}

func sortedUnique(ids []uint32) []uint32 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func spnList(spns []uint32) string {
	if len(spns) == 0 {
		return "none"
	}
	parts := make([]string, len(spns))
	for i, spn := range spns {
		parts[i] = strconv.FormatUint(uint64(spn), 10)
	}
	return strings.Join(parts, ", ")
}

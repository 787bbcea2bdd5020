package erasure

import (
	"context"
	"fmt"
	"iter"

	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/internal/verifier/repository"
	"github.com/autopeer-io/obdverify/pkg/j1939"
)

// Requester is the part of the bus service the checks talk through.
type Requester interface {
	DSRequest(ctx context.Context, pgn uint32, address uint8, spnDescription string) iter.Seq2[j1939.Packet, error]
	Command(ctx context.Context, f j1939.Frame, responsePGN uint32, message string) iter.Seq2[j1939.Packet, error]
}

// Check compares one kind of diagnostic data of one module with the last
// value recorded for it.
type Check interface {
	// DataName names the data in outcome messages, e.g. "DM6".
	DataName() string
	// Applies reports whether the module has a recorded value to compare
	// with and the check is relevant for the vehicle.
	Applies(m repository.ModuleSnapshot, v model.VehicleInformation) bool
	// Observe requests the current value. Only interruption is an error;
	// a missing response is reported through the observation.
	Observe(ctx context.Context, r Requester, m repository.ModuleSnapshot, v model.VehicleInformation) (Observation, error)
}

// Observation is the result of one check against one module.
type Observation struct {
	// Responded is false when no usable response arrived.
	Responded bool
	// Nacked is set when the module refused the request.
	Nacked bool

	// Monotonic checks only set Decreased; the others set WasErased and
	// IsErased.
	Monotonic bool
	WasErased bool
	IsErased  bool
	Decreased bool
}

type dsCheck struct {
	pgn uint32
	// erased tells whether p holds the values of a freshly cleared module.
	erased func(p j1939.Packet, v model.VehicleInformation) bool
	// decreased is set for monotonic checks.
	decreased func(prev, cur j1939.Packet) bool
	// from2019 limits the check to model year 2019 and later.
	from2019 bool
}

func (c dsCheck) DataName() string { return j1939.MessageName(c.pgn) }

func (c dsCheck) Applies(m repository.ModuleSnapshot, v model.VehicleInformation) bool {
	if c.from2019 && v.Before2019() {
		return false
	}
	_, ok := m.Latest(c.pgn)
	return ok
}

func (c dsCheck) Observe(ctx context.Context, r Requester, m repository.ModuleSnapshot, v model.VehicleInformation) (Observation, error) {
	prev, _ := m.Latest(c.pgn)

	var (
		cur   j1939.Packet
		found bool
		obs   Observation
	)
	for p, err := range r.DSRequest(ctx, c.pgn, m.Address(), "") {
		if err != nil {
			return Observation{}, err
		}
		switch {
		case p.IsNegative():
			obs.Nacked = true
		case p.Kind == j1939.KindData && p.PGN == c.pgn:
			cur, found = p, true
		}
	}
	if !found {
		return obs, nil
	}

	obs = Observation{Responded: true}
	if c.decreased != nil {
		obs.Monotonic = true
		obs.Decreased = c.decreased(prev, cur)
		return obs, nil
	}
	obs.WasErased = c.erased(prev, v)
	obs.IsErased = c.erased(cur, v)
	return obs, nil
}

type testResultCheck struct {
	toolAddress uint8
}

func (testResultCheck) DataName() string { return "DM30" }

func (testResultCheck) Applies(m repository.ModuleSnapshot, _ model.VehicleInformation) bool {
	return len(m.TestResultSPNs()) > 0 && len(m.TestResults()) > 0
}

func (c testResultCheck) Observe(ctx context.Context, r Requester, m repository.ModuleSnapshot, _ model.VehicleInformation) (Observation, error) {
	var (
		current []j1939.TestResult
		obs     Observation
	)
	for _, spn := range m.TestResultSPNs() {
		dm7 := j1939.NewDM7(spn, c.toolAddress, m.Address())
		msg := fmt.Sprintf("Direct DM7 Request to %s for SPN %d", m.Name(), spn)
		for p, err := range r.Command(ctx, dm7, j1939.PGNDM30, msg) {
			if err != nil {
				return Observation{}, err
			}
			if p.IsNegative() {
				obs.Nacked = true
				continue
			}
			current = append(current, p.TestResults...)
		}
	}
	if len(current) == 0 {
		return obs, nil
	}
	return Observation{
		Responded: true,
		WasErased: initialized(m.TestResults()),
		IsErased:  initialized(current),
	}, nil
}

func initialized(results []j1939.TestResult) bool {
	for _, r := range results {
		if !r.Initialized() {
			return false
		}
	}
	return len(results) > 0
}

// DefaultChecks returns every check run after a code clear, in reporting
// order. DM7 commands are sent from toolAddress.
func DefaultChecks(toolAddress uint8) []Check {
	return []Check{
		dsCheck{pgn: j1939.PGNDM6, erased: noDTCs},
		dsCheck{pgn: j1939.PGNDM12, erased: noDTCs},
		dsCheck{pgn: j1939.PGNDM23, erased: noDTCs},
		dsCheck{pgn: j1939.PGNDM2, erased: noDTCs},
		dsCheck{pgn: j1939.PGNDM29, erased: zeroDTCCounts},
		dsCheck{pgn: j1939.PGNDM5, erased: zeroReadinessCounts},
		dsCheck{pgn: j1939.PGNDM25, erased: noFreezeFrames},
		dsCheck{pgn: j1939.PGNDM31, erased: lampsOff, from2019: true},
		dsCheck{pgn: j1939.PGNDM21, erased: zeroSinceClear},
		dsCheck{pgn: j1939.PGNDM26, erased: zeroWarmUps},
		testResultCheck{toolAddress: toolAddress},
		dsCheck{pgn: j1939.PGNDM20, decreased: ratiosDecreased},
		dsCheck{pgn: j1939.PGNDM28, decreased: permanentDecreased},
		dsCheck{pgn: j1939.PGNDM33, decreased: timersDecreased},
		dsCheck{pgn: j1939.PGNEngineHours, decreased: counterDecreased(j1939.SPNEngineHours)},
		dsCheck{pgn: j1939.PGNIdleOperation, decreased: counterDecreased(j1939.SPNEngineIdleHours)},
	}
}

func noDTCs(p j1939.Packet, _ model.VehicleInformation) bool {
	return len(p.DTCs) == 0 && p.Lamps.MIL != j1939.LampOn
}

func zeroDTCCounts(p j1939.Packet, _ model.VehicleInformation) bool {
	for _, spn := range []uint32{j1939.SPNPendingCount, j1939.SPNAllPendingCount, j1939.SPNMILOnCount, j1939.SPNPrevMILOnCount} {
		if p.Raw(spn) != 0 {
			return false
		}
	}
	return true
}

func zeroReadinessCounts(p j1939.Packet, _ model.VehicleInformation) bool {
	return p.Raw(j1939.SPNActiveCount) == 0 && p.Raw(j1939.SPNPrevActCount) == 0
}

func noFreezeFrames(p j1939.Packet, _ model.VehicleInformation) bool {
	return len(p.FreezeFrames) == 0
}

func lampsOff(p j1939.Packet, _ model.VehicleInformation) bool {
	for _, e := range p.DTCLamps {
		if !e.Lamps.Off() {
			return false
		}
	}
	return true
}

// zeroSinceClear checks the since-clear counters, plus the MIL-on counters
// from model year 2019.
func zeroSinceClear(p j1939.Packet, v model.VehicleInformation) bool {
	spns := []uint32{j1939.SPNDistanceSinceClear, j1939.SPNTimeSinceClear}
	if !v.Before2019() {
		spns = append(spns, j1939.SPNDistanceMILOn, j1939.SPNMinutesMILOn)
	}
	for _, spn := range spns {
		if p.Raw(spn) != 0 {
			return false
		}
	}
	return true
}

func zeroWarmUps(p j1939.Packet, _ model.VehicleInformation) bool {
	return p.Raw(j1939.SPNWarmUpsSinceClear) == 0
}

func ratiosDecreased(prev, cur j1939.Packet) bool {
	if cur.Raw(j1939.SPNIgnitionCycles) < prev.Raw(j1939.SPNIgnitionCycles) ||
		cur.Raw(j1939.SPNOBDConditionsCount) < prev.Raw(j1939.SPNOBDConditionsCount) {
		return true
	}
	for _, old := range prev.Ratios {
		for _, r := range cur.Ratios {
			if r.SPN == old.SPN && (r.Numerator < old.Numerator || r.Denominator < old.Denominator) {
				return true
			}
		}
	}
	return false
}

func permanentDecreased(prev, cur j1939.Packet) bool {
	return len(cur.DTCs) < len(prev.DTCs)
}

func timersDecreased(prev, cur j1939.Packet) bool {
	for _, old := range prev.AECDTimers {
		for _, t := range cur.AECDTimers {
			if t.Number == old.Number && (t.Timer1 < old.Timer1 || t.Timer2 < old.Timer2) {
				return true
			}
		}
	}
	return false
}

// counterDecreased compares spn when both packets carry a concrete value.
func counterDecreased(spn uint32) func(prev, cur j1939.Packet) bool {
	return func(prev, cur j1939.Packet) bool {
		was, okWas := prev.Value(spn)
		is, okIs := cur.Value(spn)
		if !okWas || !okIs || !was.Valid() || !is.Valid() {
			return false
		}
		return is.Raw < was.Raw
	}
}

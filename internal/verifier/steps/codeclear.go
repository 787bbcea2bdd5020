package steps

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/autopeer-io/obdverify/internal/verifier/broadcast"
	"github.com/autopeer-io/obdverify/internal/verifier/bus"
	"github.com/autopeer-io/obdverify/internal/verifier/controller"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/internal/verifier/repository"
	"github.com/autopeer-io/obdverify/pkg/j1939"
)

// clearSettleSeconds is how long modules are given to finish a clear.
const clearSettleSeconds = 5

// snapshotPGNs are requested from every OBD module before the clear.
var snapshotPGNs = []uint32{
	j1939.PGNDM6, j1939.PGNDM12, j1939.PGNDM23, j1939.PGNDM2, j1939.PGNDM29,
	j1939.PGNDM5, j1939.PGNDM25, j1939.PGNDM31, j1939.PGNDM21, j1939.PGNDM26,
	j1939.PGNDM20, j1939.PGNDM28, j1939.PGNDM33,
	j1939.PGNEngineHours, j1939.PGNIdleOperation,
}

// VehicleInformation asks the operator for the vehicle and records it. The
// declared vehicle of the run options is used when no listener supplies one.
func VehicleInformation(ctx context.Context, r *Runner) error {
	v, err := vehicle(ctx, r)
	if err != nil {
		return err
	}

	if err := r.Repository.SetVehicle(v); err != nil {
		if !errors.Is(err, repository.ErrVehicleAlreadySet) {
			return err
		}
		r.Repository.ReplaceVehicle(v)
	}
	r.Listener.OnVehicleInformationReceived(v)
	r.Listener.AddOutcome(r.Part, r.Step, model.Info, model.Cite(r.Section("a"), "Vehicle is "+v.String()))
	return nil
}

func vehicle(ctx context.Context, r *Runner) (model.VehicleInformation, error) {
	supplied := make(chan model.VehicleInformation, 1)
	if !r.Listener.OnVehicleInformationNeeded(func(info model.VehicleInformation) {
		select {
		case supplied <- info:
		default:
		}
	}) {
		return r.Session.DeclaredVehicle(), nil
	}
	select {
	case v := <-supplied:
		return v, nil
	case <-ctx.Done():
		return model.VehicleInformation{}, ctx.Err()
	}
}

// DiscoverModules finds the OBD modules with a global DM5 request.
func DiscoverModules(ctx context.Context, r *Runner) error {
	packets, err := bus.Collect(r.Bus.GlobalRequest(ctx, j1939.PGNDM5, ""))
	if err != nil {
		return err
	}

	for _, p := range packets {
		if p.Kind != j1939.KindData || !isOBD(p) {
			continue
		}
		r.Repository.Update(p.Source, func(m repository.ModuleSnapshot) repository.ModuleSnapshot {
			return m.WithPacket(r.Part, p)
		})
		r.Listener.AddOutcome(r.Part, r.Step, model.Info,
			model.Cite(r.Section("a"), p.ModuleName()+" is an OBD module"))
	}

	if len(r.Repository.Addresses()) == 0 {
		r.Listener.AddOutcome(r.Part, r.Step, model.Fail,
			model.Cite(r.Section("a"), "No module reported OBD compliance in response to the global DM5 request"))
	}
	return nil
}

// isOBD reads the OBD compliance byte of a DM5: 5 means no OBD, 0xFE and
// 0xFF are error and not available.
func isOBD(p j1939.Packet) bool {
	v, ok := p.Value(j1939.SPNOBDCompliance)
	return ok && v.Raw != 5 && v.Raw < 0xFE
}

// SupportedSPNs records each module's DM24.
func SupportedSPNs(ctx context.Context, r *Runner) error {
	for _, address := range r.Repository.Addresses() {
		packets, err := bus.Collect(r.Bus.DSRequest(ctx, j1939.PGNDM24, address, ""))
		if err != nil {
			return err
		}
		i := slices.IndexFunc(packets, func(p j1939.Packet) bool { return p.Kind == j1939.KindData })
		if i < 0 {
			r.Listener.AddOutcome(r.Part, r.Step, model.Fail,
				model.Cite(r.Section("a"), j1939.ModuleName(address)+" did not provide a DM24 response"))
			continue
		}
		r.Repository.Update(address, func(m repository.ModuleSnapshot) repository.ModuleSnapshot {
			return m.WithSupportedSPNs(packets[i].SupportedSPNs).WithPacket(r.Part, packets[i])
		})
	}
	return nil
}

// DataStream listens for the longest broadcast period, checks the timing of
// every broadcast PGN and then checks each module's supported SPNs, falling
// back to DS requests for SPNs that were not broadcast.
func DataStream(ctx context.Context, r *Runner) error {
	modules := r.Repository.Modules()
	var supported []uint32
	for _, m := range modules {
		supported = append(supported, m.DataStreamSPNs()...)
	}

	seconds := r.Broadcast.MaximumBroadcastPeriod()
	packets, err := bus.Collect(r.Bus.ReadBus(ctx, seconds, r.Section("a"), func(p j1939.Packet) bool {
		return p.Kind == j1939.KindData
	}))
	if err != nil {
		return err
	}
	for _, p := range packets {
		r.Repository.RecordPacket(r.Part, p)
	}

	r.Broadcast.ReportBroadcastPeriod(broadcast.BuildPGNPacketsMap(packets), supported, r.Listener, r.Part, r.Step)

	for _, m := range modules {
		spns := m.DataStreamSPNs()
		if len(spns) == 0 {
			continue
		}
		required := r.Bus.CollectNonOnRequestPGNs(spns)
		missing := r.Broadcast.CollectAndReportModuleNotAvailableSPNs(r.Listener, r.Part, r.Step, r.Section("b"),
			m.Address(), packets, spns, required)

		for _, pgn := range r.Bus.PGNsForDSRequest(missing, spns) {
			var desc string
			if list := joinSPNs(r.Table.SPNsOf(pgn), spns); list != "" {
				desc = "SPNs " + list
			}
			responses, err := bus.Collect(r.Bus.DSRequest(ctx, pgn, m.Address(), desc))
			if err != nil {
				return err
			}
			for _, p := range responses {
				r.Repository.RecordPacket(r.Part, p)
			}
			for _, spn := range r.Broadcast.CollectAndReportNotAvailableSPNs(r.Listener, r.Part, r.Step, r.Section("c"),
				m.Address(), pgn, responses, spns) {
				r.Listener.AddOutcome(r.Part, r.Step, model.Fail, model.Cite(r.Section("c"),
					fmt.Sprintf("SPN %d was reported as NOT AVAILABLE by %s", spn, m.Name())))
			}
		}
	}
	return nil
}

func joinSPNs(carried, supported []uint32) string {
	out := ""
	for _, spn := range carried {
		if !slices.Contains(supported, spn) {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += strconv.FormatUint(uint64(spn), 10)
	}
	return out
}

// Snapshot records every diagnostic message of every module before the
// clear, including the DM30 test results of each supported SPN.
func Snapshot(ctx context.Context, r *Runner) error {
	for _, address := range r.Repository.Addresses() {
		for _, pgn := range snapshotPGNs {
			packets, err := bus.Collect(r.Bus.DSRequest(ctx, pgn, address, ""))
			if err != nil {
				return err
			}
			for _, p := range packets {
				r.Repository.RecordPacket(r.Part, p)
			}
		}

		m, _ := r.Repository.Module(address)
		var results []j1939.TestResult
		for _, spn := range m.TestResultSPNs() {
			dm7 := j1939.NewDM7(spn, r.Session.ToolAddress(), address)
			packets, err := bus.Collect(r.Bus.Command(ctx, dm7, j1939.PGNDM30, fmt.Sprintf("DM7 Request to %s for SPN %d", m.Name(), spn)))
			if err != nil {
				return err
			}
			for _, p := range packets {
				if p.Kind == j1939.KindData {
					results = append(results, p.TestResults...)
				}
			}
		}
		if len(results) > 0 {
			r.Repository.Update(address, func(m repository.ModuleSnapshot) repository.ModuleSnapshot {
				return m.WithTestResults(results)
			})
		}
	}
	return nil
}

// Clear asks the operator to confirm, sends a global DM11 and waits for the
// modules to settle. Modules refusing the clear are warned about.
func Clear(ctx context.Context, r *Runner) error {
	answer, err := confirm(ctx, r, "Diagnostic data of every module will be cleared with DM11.\nKey on, engine off. Continue?")
	if err != nil {
		return err
	}
	if answer != model.Yes {
		r.Controller.Stop()
		return controller.ErrInterrupted
	}

	packets, err := bus.Collect(r.Bus.GlobalRequest(ctx, j1939.PGNDM11, ""))
	if err != nil {
		return err
	}

	nacked := 0
	obd := r.Repository.Addresses()
	for _, p := range packets {
		if !slices.Contains(obd, p.Source) {
			continue
		}
		if p.IsNegative() {
			nacked++
			r.Listener.AddOutcome(r.Part, r.Step, model.Warn,
				model.Cite(r.Section("a"), p.ModuleName()+" responded NACK to the DM11 request"))
		}
	}
	if len(obd) > 0 && nacked == len(obd) {
		r.clearRefused = true
		r.Listener.AddOutcome(r.Part, r.Step, model.Fail,
			model.Cite(r.Section("a"), "Every OBD module refused the DM11 request"))
	}

	_, err = bus.Collect(r.Bus.ReadBus(ctx, clearSettleSeconds, r.Section("b"), func(j1939.Packet) bool { return false }))
	return err
}

func confirm(ctx context.Context, r *Runner, message string) (model.Answer, error) {
	answers := make(chan model.Answer, 1)
	r.Listener.OnUrgentMessage(message, fmt.Sprintf("Step %d.%d", r.Part, r.Step), model.MessageQuestion, func(a model.Answer) {
		select {
		case answers <- a:
		default:
		}
	})
	select {
	case a := <-answers:
		return a, nil
	case <-ctx.Done():
		return model.Cancel, ctx.Err()
	}
}

// VerifyErased checks that the clear erased every module's data. When every
// module refused the clear the data must instead be intact.
func VerifyErased(ctx context.Context, r *Runner) error {
	if r.clearRefused {
		return r.Erasure.VerifyDataNotErased(ctx, r.Listener, r.Part, r.Step, r.Section("a"))
	}
	return r.Erasure.VerifyDataErased(ctx, r.Listener, r.Part, r.Step, r.Section("a"))
}

// VerifyNotPartiallyErased checks that no module and no group of modules
// erased only part of the diagnostic data.
func VerifyNotPartiallyErased(ctx context.Context, r *Runner) error {
	return r.Erasure.VerifyDataNotPartialErased(ctx, r.Listener, r.Part, r.Step, r.Section("a"), r.Section("b"))
}


package steps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/obdverify/internal/verifier/bus/bustest"
	"github.com/autopeer-io/obdverify/internal/verifier/controller"
	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/listener/listenertest"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/internal/verifier/session"
	"github.com/autopeer-io/obdverify/pkg/j1939"
	"github.com/autopeer-io/obdverify/pkg/j1939/metadata"
)

const (
	engine  uint8 = 0x00
	cluster uint8 = 0x17
)

// stepHook runs fn when the named step begins.
type stepHook struct {
	listener.Base
	step string
	fn   func()
}

func (h stepHook) BeginStep(_, _ int, name string) {
	if name == h.step {
		h.fn()
	}
}

// lateSupplier answers the vehicle request from another goroutine.
type lateSupplier struct {
	listener.Base
	vehicle model.VehicleInformation
}

func (l lateSupplier) OnVehicleInformationNeeded(supply func(model.VehicleInformation)) bool {
	go func() {
		time.Sleep(20 * time.Millisecond)
		supply(l.vehicle)
	}()
	return true
}

type bench struct {
	table *metadata.Table
	tr    *bustest.Transport
	rec   *listenertest.Recorder
	hooks listener.List
}

func newBench(t *testing.T) *bench {
	t.Helper()
	table, err := metadata.Default()
	require.NoError(t, err)

	b := &bench{
		table: table,
		tr:    bustest.New(),
		rec: &listenertest.Recorder{
			Vehicle: &model.VehicleInformation{ModelYear: 2024, FuelType: model.Diesel, EngineCount: 1},
		},
	}

	dm5 := bustest.Frame(j1939.PGNDM5, engine, j1939.EncodeDM5(0, 0, 20))
	b.tr.Respond(j1939.PGNDM5, j1939.GlobalAddress, dm5, bustest.Frame(j1939.PGNDM5, cluster, j1939.EncodeDM5(0, 0, 5)))
	b.tr.Respond(j1939.PGNDM5, engine, dm5)
	b.tr.Respond(j1939.PGNDM24, engine, bustest.Frame(j1939.PGNDM24, engine, j1939.EncodeDM24([]j1939.SupportedSPN{
		{SPN: 110, DataStream: true, Length: 1},
		{SPN: 190, DataStream: true, Length: 2},
	})))
	b.tr.Broadcast(
		bustest.Frame(61444, engine, b.encode(t, 61444, map[uint32]uint64{190: 0x1F40})),
		bustest.Frame(65262, engine, b.encode(t, 65262, map[uint32]uint64{110: 120})),
	)
	b.tr.Respond(j1939.PGNDM12, engine, bustest.Frame(j1939.PGNDM12, engine,
		j1939.EncodeDTCList(j1939.Lamps{MIL: j1939.LampOn}, []j1939.DTC{{SPN: 110, FMI: 0, OC: 1}})))
	b.tr.Respond(j1939.PGNDM11, j1939.GlobalAddress, bustest.Ack(j1939.KindAck, j1939.PGNDM11, engine))
	return b
}

func (b *bench) encode(t *testing.T, pgn uint32, raw map[uint32]uint64) []byte {
	def, ok := b.table.PGN(pgn)
	require.True(t, ok)
	return j1939.EncodeSPNs(def, raw)
}

// onVerify changes the DM12 the engine returns once verification starts.
func (b *bench) onVerify(dm12 []byte) {
	b.hooks = append(b.hooks, stepHook{step: "Verify diagnostic data erased", fn: func() {
		b.tr.Respond(j1939.PGNDM12, engine, bustest.Frame(j1939.PGNDM12, engine, dm12))
	}})
}

func (b *bench) run(t *testing.T) controller.State {
	t.Helper()
	s := session.NewForTest(b.table, nil)
	c := CodeClear().Controller(s)
	l := append(listener.List{b.rec}, b.hooks...)
	state, err := c.Run(context.Background(), l, b.tr)
	require.NoError(t, err)
	return state
}

func (b *bench) dm11Sent() bool {
	for _, r := range b.tr.Requests() {
		if r.PGN == j1939.PGNDM11 && r.Destination == j1939.GlobalAddress {
			return true
		}
	}
	return false
}

func TestCodeClearErasesData(t *testing.T) {
	b := newBench(t)
	b.onVerify(j1939.EncodeDTCList(j1939.Lamps{}, nil))

	assert.Equal(t, controller.StateCompleted, b.run(t))
	assert.Equal(t, []bool{true}, b.rec.Completions())

	assert.True(t, b.dm11Sent())
	assert.Equal(t, 1, b.rec.Count(model.Info, "1.1.a - Vehicle is MY2024 diesel, 1 engine(s)"))
	assert.Equal(t, 1, b.rec.Count(model.Info, "1.2.a - Engine #1 (0) is an OBD module"))
	assert.Zero(t, b.rec.Count(model.Info, "Instrument Cluster"))
	assert.Zero(t, b.rec.Count(model.Fail, "erase"))
	assert.Zero(t, b.rec.Count(model.Fail, "was not broadcast"))
	assert.Len(t, b.rec.Vehicles(), 1)

	assert.Contains(t, b.rec.Events(), "begin part 1 Diagnostic Data Clear")
	assert.Contains(t, b.rec.Events(), "end step 1.8 Verify no partial erasure")
}

func TestCodeClearReportsRetainedData(t *testing.T) {
	b := newBench(t)

	assert.Equal(t, controller.StateCompleted, b.run(t))
	assert.Equal(t, []string{
		"1.7.a - Engine #1 (0) did not erase DM12 data",
		"1.7.a - Engine #1 (0) did not erase data",
	}, b.rec.Messages(model.Fail))
}

func TestCodeClearRefusedByEveryModule(t *testing.T) {
	b := newBench(t)
	b.tr.Respond(j1939.PGNDM11, j1939.GlobalAddress, bustest.Ack(j1939.KindNack, j1939.PGNDM11, engine))

	assert.Equal(t, controller.StateCompleted, b.run(t))
	assert.Equal(t, 1, b.rec.Count(model.Warn, "1.6.a - Engine #1 (0) responded NACK to the DM11 request"))
	assert.Equal(t, []string{"1.6.a - Every OBD module refused the DM11 request"}, b.rec.Messages(model.Fail))
}

func TestCodeClearDeclinedByOperator(t *testing.T) {
	b := newBench(t)
	b.rec.Answer = model.No

	assert.Equal(t, controller.StateStopped, b.run(t))
	assert.False(t, b.dm11Sent())
	assert.Equal(t, []bool{false}, b.rec.Completions())
	require.NotEmpty(t, b.rec.Prompts())
	assert.Equal(t, model.MessageQuestion, b.rec.Prompts()[0].Type)
}

func TestCodeClearWithoutOBDModules(t *testing.T) {
	b := newBench(t)
	b.tr.Respond(j1939.PGNDM5, j1939.GlobalAddress, bustest.Frame(j1939.PGNDM5, cluster, j1939.EncodeDM5(0, 0, 5)))

	assert.Equal(t, controller.StateCompleted, b.run(t))
	assert.Equal(t, 1, b.rec.Count(model.Fail, "No module reported OBD compliance"))
	assert.Empty(t, b.rec.Messages(model.Warn))
}

func TestVehicleInformation(t *testing.T) {
	supplied := model.VehicleInformation{ModelYear: 2019, FuelType: model.Gasoline, EngineCount: 2}
	tests := []struct {
		name string
		l    func(rec *listenertest.Recorder) listener.Listener
		want model.VehicleInformation
	}{
		{
			name: "supplied later",
			l: func(rec *listenertest.Recorder) listener.Listener {
				return listener.List{rec, lateSupplier{vehicle: supplied}}
			},
			want: supplied,
		},
		{
			name: "nobody supplies",
			l:    func(rec *listenertest.Recorder) listener.Listener { return rec },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := metadata.Default()
			require.NoError(t, err)
			rec := &listenertest.Recorder{}
			s := session.NewForTest(table, nil)
			part := Part{Number: 1, Name: "Vehicle", Steps: []Step{{Name: "Vehicle", Run: VehicleInformation}}}

			state, err := part.Controller(s).Run(context.Background(), tt.l(rec), bustest.New())
			require.NoError(t, err)
			assert.Equal(t, controller.StateCompleted, state)

			got, ok := s.Repository().Vehicle()
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []model.VehicleInformation{tt.want}, rec.Vehicles())
			assert.Equal(t, []string{"1.1.a - Vehicle is " + tt.want.String()}, rec.Messages(model.Info))
		})
	}
}

func TestSnapshotCollectsTestResults(t *testing.T) {
	b := newBench(t)
	b.tr.Respond(j1939.PGNDM24, engine, bustest.Frame(j1939.PGNDM24, engine, j1939.EncodeDM24([]j1939.SupportedSPN{
		{SPN: 3226, ScaledTestResults: true, Length: 2},
	})))
	result := j1939.TestResult{TestID: 247, SPN: 3226, FMI: 18, SLOT: 1, Value: 100, Max: 200}
	b.tr.OnSend(func(f j1939.Frame) []j1939.Frame {
		if f.PGN != j1939.PGNDM7 {
			return nil
		}
		return []j1939.Frame{bustest.Frame(j1939.PGNDM30, engine, j1939.EncodeDM30([]j1939.TestResult{result}))}
	})

	s := session.NewForTest(b.table, nil)
	part := Part{Number: 1, Name: "Snapshot", Steps: []Step{
		{Name: "DM5", Run: DiscoverModules},
		{Name: "DM24", Run: SupportedSPNs},
		{Name: "Snapshot", Run: Snapshot},
	}}
	state, err := part.Controller(s).Run(context.Background(), b.rec, b.tr)
	require.NoError(t, err)
	assert.Equal(t, controller.StateCompleted, state)

	m, ok := s.Repository().Module(engine)
	require.True(t, ok)
	assert.Equal(t, []uint32{3226}, m.TestResultSPNs())
	require.Len(t, m.TestResults(), 1)
	assert.Equal(t, uint32(3226), m.TestResults()[0].SPN)
	_, ok = m.Latest(j1939.PGNDM12)
	assert.True(t, ok)
	require.Len(t, b.tr.Sent(), 1)
	assert.Equal(t, j1939.PGNDM7, b.tr.Sent()[0].PGN)
}

func TestParts(t *testing.T) {
	parts, err := Parts([]int{1})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "Diagnostic Data Clear", parts[0].Name)
	assert.Len(t, parts[0].Steps, 8)

	_, err = Parts([]int{1, 9})
	assert.EqualError(t, err, "part 9 is not available")
}

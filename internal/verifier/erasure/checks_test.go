package erasure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/obdverify/internal/verifier/bus"
	"github.com/autopeer-io/obdverify/internal/verifier/bus/bustest"
	"github.com/autopeer-io/obdverify/internal/verifier/listener/listenertest"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/internal/verifier/repository"
	"github.com/autopeer-io/obdverify/pkg/j1939"
	"github.com/autopeer-io/obdverify/pkg/j1939/metadata"
)

type noProgress struct{}

func (noProgress) UpdateProgress(string) error { return nil }

type bench struct {
	table   *metadata.Table
	decoder *j1939.Decoder
	tr      *bustest.Transport
	repo    *repository.Repository
	v       *Verifier
}

func newBench(t *testing.T, modelYear int) *bench {
	t.Helper()
	table, err := metadata.Default()
	require.NoError(t, err)
	tr := bustest.New()
	repo := repository.New()
	require.NoError(t, repo.SetVehicle(model.VehicleInformation{ModelYear: modelYear, FuelType: model.Diesel, EngineCount: 1}))
	svc := bus.New(tr, table, noProgress{})
	return &bench{
		table:   table,
		decoder: j1939.NewDecoder(table),
		tr:      tr,
		repo:    repo,
		v:       New(repo, svc, j1939.ToolAddress),
	}
}

func (b *bench) packet(t *testing.T, pgn uint32, source uint8, data []byte) j1939.Packet {
	t.Helper()
	p, err := b.decoder.Decode(bustest.Frame(pgn, source, data))
	require.NoError(t, err)
	return p
}

// before records packets as captured in part 1 for module 0.
func (b *bench) before(t *testing.T, packets ...j1939.Packet) {
	t.Helper()
	m := repository.NewModuleSnapshot(0)
	for _, p := range packets {
		m = m.WithPacket(1, p)
	}
	b.repo.Put(m)
}

func (b *bench) hours(t *testing.T, raw uint64) []byte {
	t.Helper()
	def, ok := b.table.PGN(j1939.PGNEngineHours)
	require.True(t, ok)
	return j1939.EncodeSPNs(def, map[uint32]uint64{j1939.SPNEngineHours: raw, j1939.SPNEngineRevs: 1000})
}

var (
	milOn  = j1939.Lamps{MIL: j1939.LampOn}
	oneDTC = []j1939.DTC{{SPN: 102, FMI: 18, OC: 1}}
)

func TestDefaultChecksAfterClear(t *testing.T) {
	b := newBench(t, 2020)
	b.before(t,
		b.packet(t, j1939.PGNDM6, 0, j1939.EncodeDTCList(milOn, oneDTC)),
		b.packet(t, j1939.PGNDM12, 0, j1939.EncodeDTCList(milOn, oneDTC)),
		b.packet(t, j1939.PGNDM5, 0, j1939.EncodeDM5(1, 0, 0x13)),
		b.packet(t, j1939.PGNEngineHours, 0, b.hours(t, 2000)),
	)

	b.tr.Respond(j1939.PGNDM6, 0, bustest.Frame(j1939.PGNDM6, 0, j1939.EncodeDTCList(j1939.Lamps{}, nil)))
	b.tr.Respond(j1939.PGNDM12, 0, bustest.Frame(j1939.PGNDM12, 0, j1939.EncodeDTCList(milOn, oneDTC)))
	b.tr.Respond(j1939.PGNDM5, 0, bustest.Frame(j1939.PGNDM5, 0, j1939.EncodeDM5(0, 0, 0x13)))
	b.tr.Respond(j1939.PGNEngineHours, 0, bustest.Frame(j1939.PGNEngineHours, 0, b.hours(t, 1990)))

	rec := &listenertest.Recorder{}
	require.NoError(t, b.v.VerifyDataErased(context.Background(), rec, 6, 2, "6.2.5.a"))

	assert.Equal(t, []string{
		"6.2.5.a - Engine #1 (0) did not erase DM12 data",
		"6.2.5.a - Engine #1 (0) erased Engine Hours data",
		"6.2.5.a - Engine #1 (0) did not erase data",
	}, rec.Messages(model.Fail))

	var requested []uint32
	for _, r := range b.tr.Requests() {
		requested = append(requested, r.PGN)
	}
	assert.Equal(t, []uint32{j1939.PGNDM6, j1939.PGNDM12, j1939.PGNDM5, j1939.PGNEngineHours}, requested)
}

func TestDefaultChecksNackWarns(t *testing.T) {
	b := newBench(t, 2020)
	b.before(t, b.packet(t, j1939.PGNDM6, 0, j1939.EncodeDTCList(milOn, oneDTC)))
	b.tr.Respond(j1939.PGNDM6, 0, bustest.Ack(j1939.KindNack, j1939.PGNDM6, 0))

	rec := &listenertest.Recorder{}
	require.NoError(t, b.v.VerifyDataErased(context.Background(), rec, 6, 2, "6.2.5.a"))
	assert.Equal(t, []string{"6.2.5.a - Engine #1 (0) responded NACK to the DM6 request"}, rec.Messages(model.Warn))
	assert.Empty(t, rec.ResultsOf(model.Fail))
}

func TestDM31SkippedBefore2019(t *testing.T) {
	b := newBench(t, 2018)
	b.before(t, b.packet(t, j1939.PGNDM31, 0, j1939.EncodeDM31([]j1939.DTCLamp{{DTC: oneDTC[0], Lamps: milOn}})))

	rec := &listenertest.Recorder{}
	require.NoError(t, b.v.VerifyDataErased(context.Background(), rec, 6, 2, "6.2.5.a"))
	assert.Empty(t, b.tr.Requests())
	assert.Empty(t, rec.Results())
}

func TestDM21MILCountersFrom2019(t *testing.T) {
	before := j1939.EncodeDM21(40, 120, 30, 600)
	after := j1939.EncodeDM21(40, 0, 30, 0)

	for _, tt := range []struct {
		modelYear int
		fails     int
	}{
		{modelYear: 2018, fails: 0},
		{modelYear: 2021, fails: 2},
	} {
		b := newBench(t, tt.modelYear)
		b.before(t, b.packet(t, j1939.PGNDM21, 0, before))
		b.tr.Respond(j1939.PGNDM21, 0, bustest.Frame(j1939.PGNDM21, 0, after))

		rec := &listenertest.Recorder{}
		require.NoError(t, b.v.VerifyDataErased(context.Background(), rec, 6, 2, "6.2.5.a"))
		assert.Len(t, rec.ResultsOf(model.Fail), tt.fails, "MY%d", tt.modelYear)
	}
}

func TestDM30ThroughDM7(t *testing.T) {
	b := newBench(t, 2020)
	m := repository.NewModuleSnapshot(0).
		WithSupportedSPNs([]j1939.SupportedSPN{{SPN: 3226, ScaledTestResults: true}}).
		WithTestResults([]j1939.TestResult{{TestID: 247, SPN: 3226, FMI: 18, SLOT: 8, Value: 120, Max: 200, Min: 0}})
	b.repo.Put(m)
	b.tr.OnSend(func(f j1939.Frame) []j1939.Frame {
		return []j1939.Frame{bustest.Frame(j1939.PGNDM30, f.Destination, j1939.EncodeDM30([]j1939.TestResult{
			{TestID: 247, SPN: 3226, FMI: 18, SLOT: 8, Value: 0xFB00, Max: 0xFFFF, Min: 0xFFFF},
		}))}
	})

	rec := &listenertest.Recorder{}
	require.NoError(t, b.v.VerifyDataErased(context.Background(), rec, 6, 2, "6.2.5.a"))
	assert.Empty(t, rec.Results())

	require.NoError(t, b.v.VerifyDataNotErased(context.Background(), rec, 6, 3, "6.3.2.a"))
	assert.Equal(t, []string{
		"6.3.2.a - Engine #1 (0) erased DM30 data",
		"6.3.2.a - Engine #1 (0) erased data",
	}, rec.Messages(model.Fail))
	require.Len(t, b.tr.Sent(), 2)
	assert.Equal(t, j1939.PGNDM7, b.tr.Sent()[0].PGN)
}

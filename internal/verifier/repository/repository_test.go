package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/pkg/j1939"
)

func dm12(source uint8, dtcs ...j1939.DTC) j1939.Packet {
	return j1939.Packet{
		PGN:       j1939.PGNDM12,
		Source:    source,
		Kind:      j1939.KindData,
		Timestamp: time.Unix(10, 0),
		Lamps:     j1939.Lamps{MIL: j1939.LampOn},
		DTCs:      dtcs,
	}
}

func TestModuleReadsAreIndependent(t *testing.T) {
	r := New()
	r.Update(0, func(m ModuleSnapshot) ModuleSnapshot {
		return m.WithSupportedSPNs([]j1939.SupportedSPN{{SPN: 110, DataStream: true}, {SPN: 190, DataStream: true}}).
			WithPacket(1, dm12(0, j1939.DTC{SPN: 102, FMI: 18, OC: 1}))
	})

	first, ok := r.Module(0)
	require.True(t, ok)
	second, ok := r.Module(0)
	require.True(t, ok)

	spns := first.DataStreamSPNs()
	spns[0] = 9999
	p, _ := first.Latest(j1939.PGNDM12)
	p.DTCs[0].SPN = 9999
	_ = first.WithPacket(1, dm12(0))

	assert.Equal(t, []uint32{110, 190}, second.DataStreamSPNs())
	p2, ok := second.Latest(j1939.PGNDM12)
	require.True(t, ok)
	assert.EqualValues(t, 102, p2.DTCs[0].SPN)

	again, _ := r.Module(0)
	p3, _ := again.Latest(j1939.PGNDM12)
	assert.Len(t, p3.DTCs, 1)
}

func TestWithPacketKeepsPartHistory(t *testing.T) {
	m := NewModuleSnapshot(0x3D)
	before := m.WithPacket(1, dm12(0x3D, j1939.DTC{SPN: 3226, FMI: 2, OC: 1}))
	after := before.WithPacket(2, dm12(0x3D))

	p1, ok := after.InPart(1, j1939.PGNDM12)
	require.True(t, ok)
	assert.Len(t, p1.DTCs, 1)

	latest, ok := after.Latest(j1939.PGNDM12)
	require.True(t, ok)
	assert.Empty(t, latest.DTCs)

	_, ok = before.InPart(2, j1939.PGNDM12)
	assert.False(t, ok)
	_, ok = m.Latest(j1939.PGNDM12)
	assert.False(t, ok)
	assert.Equal(t, "Exhaust Emission Controller (61)", after.Name())
}

func TestWithPacketIgnoresNegativeAcknowledgement(t *testing.T) {
	m := NewModuleSnapshot(0).WithPacket(1, j1939.Packet{PGN: j1939.PGNAcknowledge, Kind: j1939.KindNack, AckedPGN: j1939.PGNDM12})
	assert.Empty(t, m.PGNs())
}

func TestRecordPacketOnlyForKnownModules(t *testing.T) {
	r := New()
	r.Put(NewModuleSnapshot(0))

	r.RecordPacket(1, dm12(0))
	r.RecordPacket(1, dm12(0x21))

	assert.Equal(t, []uint8{0}, r.Addresses())
	m, _ := r.Module(0)
	assert.Equal(t, []uint32{j1939.PGNDM12}, m.PGNs())
}

func TestVehicleSetOnce(t *testing.T) {
	r := New()
	_, ok := r.Vehicle()
	assert.False(t, ok)

	v := model.VehicleInformation{ModelYear: 2022, FuelType: model.Diesel, EngineCount: 1}
	require.NoError(t, r.SetVehicle(v))
	assert.ErrorIs(t, r.SetVehicle(v), ErrVehicleAlreadySet)

	v.ModelYear = 2018
	r.ReplaceVehicle(v)
	got, ok := r.Vehicle()
	require.True(t, ok)
	assert.Equal(t, 2018, got.ModelYear)

	r.Reset()
	_, ok = r.Vehicle()
	assert.False(t, ok)
	assert.Empty(t, r.Modules())
}

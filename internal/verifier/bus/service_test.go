package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/obdverify/internal/verifier/bus"
	"github.com/autopeer-io/obdverify/internal/verifier/bus/bustest"
	"github.com/autopeer-io/obdverify/pkg/j1939"
	"github.com/autopeer-io/obdverify/pkg/j1939/metadata"
)

type progress struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (p *progress) UpdateProgress(msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *progress) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.msgs...)
}

func newService(t *testing.T) (*bus.Service, *bustest.Transport, *progress) {
	t.Helper()
	table, err := metadata.Default()
	require.NoError(t, err)
	tr := bustest.New()
	p := &progress{}
	return bus.New(tr, table, p), tr, p
}

func TestDSRequestFiltersNonResponses(t *testing.T) {
	svc, tr, p := newService(t)
	tr.Respond(j1939.PGNDM5, 0x00,
		bustest.Frame(j1939.PGNDM5, 0x00, j1939.EncodeDM5(1, 2, 0x13)),
		bustest.Frame(j1939.PGNDM5, 0x01, j1939.EncodeDM5(0, 0, 0x13)),
		bustest.Frame(j1939.PGNDM5, 0x00, []byte{1}),
		bustest.Frame(65262, 0x00, []byte{0x64, 0x50, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}),
		bustest.Frame(0x1234, 0x00, []byte{1, 2, 3}),
	)

	packets, err := bus.Collect(svc.DSRequest(context.Background(), j1939.PGNDM5, 0x00, ""))
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, uint8(0x00), packets[0].Source)
	assert.Equal(t, uint64(1), packets[0].Raw(j1939.SPNActiveCount))

	assert.Equal(t, []string{"Direct DM5 Request to Engine #1 (0)"}, p.messages())
	assert.Equal(t, []bustest.Request{{PGN: j1939.PGNDM5, Destination: 0x00}}, tr.Requests())
}

func TestDSRequestYieldsNack(t *testing.T) {
	svc, tr, p := newService(t)
	tr.Respond(j1939.PGNDM20, 0x3D,
		bustest.Ack(j1939.KindNack, j1939.PGNDM20, 0x3D),
		bustest.Ack(j1939.KindNack, j1939.PGNDM21, 0x3D),
	)

	packets, err := bus.Collect(svc.DSRequest(context.Background(), j1939.PGNDM20, 0x3D, "SPN 3048"))
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.True(t, packets[0].IsNegative())
	assert.Equal(t, j1939.PGNDM20, packets[0].AckedPGN)
	assert.Equal(t, []string{"Direct DM20 Request to Exhaust Emission Controller (61) for SPN 3048"}, p.messages())
}

func TestGlobalRequestCollectsEveryModule(t *testing.T) {
	svc, tr, p := newService(t)
	tr.Respond(j1939.PGNDM26, j1939.GlobalAddress,
		bustest.Frame(j1939.PGNDM26, 0x00, j1939.EncodeDM26(10, 0)),
		bustest.Frame(j1939.PGNDM26, 0x3D, j1939.EncodeDM26(10, 2)),
	)

	packets, err := bus.Collect(svc.GlobalRequest(context.Background(), j1939.PGNDM26, ""))
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, uint8(0x3D), packets[1].Source)
	assert.Equal(t, []string{"Global DM26 Request"}, p.messages())
}

func TestRequestStopsWhenCheckpointFails(t *testing.T) {
	svc, tr, p := newService(t)
	p.err = errors.New("interrupted")

	_, err := bus.Collect(svc.DSRequest(context.Background(), j1939.PGNDM5, 0x00, ""))
	require.ErrorIs(t, err, p.err)
	assert.Empty(t, tr.Requests())
}

func TestRequestAfterCloseFails(t *testing.T) {
	svc, tr, _ := newService(t)
	tr.Respond(j1939.PGNDM5, 0x00, bustest.Frame(j1939.PGNDM5, 0x00, j1939.EncodeDM5(0, 0, 0x13)))
	require.NoError(t, tr.Close())

	_, err := bus.Collect(svc.DSRequest(context.Background(), j1939.PGNDM5, 0x00, ""))
	require.ErrorIs(t, err, bus.ErrTransportClosed)
}

func TestCommandMatchesResponsePGN(t *testing.T) {
	svc, tr, _ := newService(t)
	tr.OnSend(func(f j1939.Frame) []j1939.Frame {
		return []j1939.Frame{
			bustest.Frame(j1939.PGNDM30, f.Destination, j1939.EncodeDM30([]j1939.TestResult{
				{TestID: 247, SPN: 3226, FMI: 18, SLOT: 8, Value: 0xFB00, Max: 0xFFFF, Min: 0xFFFF},
			})),
		}
	})

	dm7 := j1939.NewDM7(3226, j1939.ToolAddress, 0x00)
	packets, err := bus.Collect(svc.Command(context.Background(), dm7, j1939.PGNDM30, "DM7 for SPN 3226"))
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Len(t, packets[0].TestResults, 1)
	assert.True(t, packets[0].TestResults[0].Initialized())
	assert.Equal(t, []j1939.Frame{dm7}, tr.Sent())
}

func TestReadBusAppliesFilter(t *testing.T) {
	svc, tr, p := newService(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	et1 := bustest.Frame(65262, 0x00, []byte{0x64, 0x50, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	ccvs := bustest.Frame(65265, 0x00, []byte{0xFF, 0x00, 0x10, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	tr.Broadcast(bustest.At(et1, base, 0), bustest.At(ccvs, base, 50*time.Millisecond), bustest.At(et1, base, time.Second))

	packets, err := bus.Collect(svc.ReadBus(context.Background(), 3, "6.1.9.a", func(p j1939.Packet) bool {
		return p.PGN == 65262
	}))
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, base.Add(time.Second), packets[1].Timestamp)
	assert.Contains(t, p.messages(), "6.1.9.a - Reading bus for 3 seconds")
}

func TestReadBusCountsDownOnClock(t *testing.T) {
	table, err := metadata.Default()
	require.NoError(t, err)
	tr := bustest.New()
	tr.Block(true)
	p := &progress{}
	fc := clocktesting.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := bus.New(tr, table, p, bus.WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := bus.Collect(svc.ReadBus(ctx, 30, "6.1.2.a", nil))
		done <- err
	}()

	waitFor := func(msg string) {
		t.Helper()
		require.Eventually(t, func() bool {
			for _, m := range p.messages() {
				if m == msg {
					return true
				}
			}
			return false
		}, 5*time.Second, time.Millisecond)
	}
	waitFor("6.1.2.a - Reading bus for 30 seconds")
	assert.Len(t, p.messages(), 1)

	fc.Step(time.Second)
	waitFor("6.1.2.a - Reading bus for 29 seconds")
	fc.Step(time.Second)
	waitFor("6.1.2.a - Reading bus for 28 seconds")

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadBus did not return after cancel")
	}
	assert.Equal(t, []string{
		"6.1.2.a - Reading bus for 30 seconds",
		"6.1.2.a - Reading bus for 29 seconds",
		"6.1.2.a - Reading bus for 28 seconds",
	}, p.messages())
}

func TestReadBusInterrupted(t *testing.T) {
	svc, tr, p := newService(t)
	tr.Block(true)
	p.err = errors.New("stopped")

	done := make(chan error, 1)
	go func() {
		_, err := bus.Collect(svc.ReadBus(context.Background(), 30, "", nil))
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, p.err)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadBus did not honour the interrupted checkpoint")
	}
}

func TestReadBusUnblockedByClose(t *testing.T) {
	svc, tr, _ := newService(t)
	tr.Block(true)

	done := make(chan error, 1)
	go func() {
		_, err := bus.Collect(svc.ReadBus(context.Background(), 30, "", nil))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, bus.ErrTransportClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadBus did not return after Close")
	}
}

func TestReadBusHonoursContext(t *testing.T) {
	svc, tr, _ := newService(t)
	tr.Block(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := bus.Collect(svc.ReadBus(ctx, 30, "", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassification(t *testing.T) {
	svc, _, _ := newService(t)

	assert.Equal(t, []uint32{65262, 61444}, svc.CollectBroadcastPGNs([]uint32{65262, 65253, 61444, 65260}))
	assert.Equal(t, []uint32{61444, 65262}, svc.CollectNonOnRequestPGNs([]uint32{110, 247, 190, 174}))
	assert.Equal(t, []uint32{65253, 65262}, svc.PGNsForDSRequest([]uint32{110}, []uint32{247, 190}))
	assert.Empty(t, svc.PGNsForDSRequest(nil, []uint32{190}))
}

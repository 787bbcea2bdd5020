package erasure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/obdverify/internal/verifier/listener/listenertest"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/internal/verifier/repository"
	"github.com/autopeer-io/obdverify/pkg/j1939"
)

func TestShouldBeReported(t *testing.T) {
	tests := []struct {
		verify, was, is bool
		want            bool
	}{
		{verify: true, was: false, is: false, want: true},
		{verify: true, was: false, is: true, want: false},
		{verify: true, was: true, is: false, want: false},
		{verify: true, was: true, is: true, want: false},
		{verify: false, was: false, is: false, want: false},
		{verify: false, was: false, is: true, want: true},
		{verify: false, was: true, is: false, want: false},
		{verify: false, was: true, is: true, want: false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("verify=%t/was=%t/is=%t", tt.verify, tt.was, tt.is), func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldBeReported(tt.verify, tt.was, tt.is))
		})
	}
}

// fakeCheck returns a fixed observation per module address.
type fakeCheck struct {
	name string
	obs  map[uint8]Observation
	err  error
}

func (f fakeCheck) DataName() string { return f.name }

func (f fakeCheck) Applies(m repository.ModuleSnapshot, _ model.VehicleInformation) bool {
	_, ok := f.obs[m.Address()]
	return ok
}

func (f fakeCheck) Observe(_ context.Context, _ Requester, m repository.ModuleSnapshot, _ model.VehicleInformation) (Observation, error) {
	return f.obs[m.Address()], f.err
}

var (
	erasedObs   = Observation{Responded: true, WasErased: false, IsErased: true}
	retainedObs = Observation{Responded: true, WasErased: false, IsErased: false}
	alreadyObs  = Observation{Responded: true, WasErased: true, IsErased: true}
)

func repoWith(addresses ...uint8) *repository.Repository {
	repo := repository.New()
	for _, a := range addresses {
		repo.Put(repository.NewModuleSnapshot(a))
	}
	return repo
}

// fakeChecks builds n checks; obsFor decides the observation of check i
// for each address.
func fakeChecks(n int, obsFor func(i int) map[uint8]Observation) []Check {
	checks := make([]Check, n)
	for i := range checks {
		checks[i] = fakeCheck{name: fmt.Sprintf("DM%d", 100+i), obs: obsFor(i)}
	}
	return checks
}

func TestPartialErasureOfOneModule(t *testing.T) {
	repo := repoWith(0x00, 0x3D)
	checks := fakeChecks(15, func(i int) map[uint8]Observation {
		engine := erasedObs
		if i == 7 {
			engine = retainedObs
		}
		return map[uint8]Observation{0x00: engine, 0x3D: erasedObs}
	})
	v := New(repo, nil, j1939.ToolAddress, WithChecks(checks...))
	rec := &listenertest.Recorder{}

	require.NoError(t, v.VerifyDataNotPartialErased(context.Background(), rec, 6, 4, "6.4.2.a", "6.4.2.b"))

	assert.Equal(t, []string{"6.4.2.a - Engine #1 (0) partially erased diagnostic information"}, rec.Messages(model.Fail))
}

func TestPartialErasureIgnoresAlreadyErasedAndMonotonic(t *testing.T) {
	repo := repoWith(0x00)
	checks := []Check{
		fakeCheck{name: "DM6", obs: map[uint8]Observation{0x00: erasedObs}},
		fakeCheck{name: "DM12", obs: map[uint8]Observation{0x00: alreadyObs}},
		fakeCheck{name: "DM28", obs: map[uint8]Observation{0x00: {Responded: true, Monotonic: true, Decreased: true}}},
	}
	v := New(repo, nil, j1939.ToolAddress, WithChecks(checks...))
	rec := &listenertest.Recorder{}

	require.NoError(t, v.VerifyDataNotPartialErased(context.Background(), rec, 6, 4, "6.4.2.a", "6.4.2.b"))
	assert.Empty(t, rec.Results())
}

func TestFleetInconsistency(t *testing.T) {
	repo := repoWith(0x00, 0x3D)
	checks := fakeChecks(4, func(int) map[uint8]Observation {
		return map[uint8]Observation{0x00: erasedObs, 0x3D: retainedObs}
	})
	v := New(repo, nil, j1939.ToolAddress, WithChecks(checks...))
	rec := &listenertest.Recorder{}

	require.NoError(t, v.VerifyDataNotPartialErased(context.Background(), rec, 6, 4, "6.4.2.a", "6.4.2.b"))

	fails := rec.Messages(model.Fail)
	require.Len(t, fails, 1)
	assert.Equal(t, "6.4.2.b - One or more ECUs erased diagnostic information and one or more other ECUs did not erase diagnostic information", fails[0])
	assert.Zero(t, rec.Count(model.Fail, "partially erased"))
}

func TestConsistentFleetPasses(t *testing.T) {
	repo := repoWith(0x00, 0x3D)
	checks := fakeChecks(3, func(int) map[uint8]Observation {
		return map[uint8]Observation{0x00: erasedObs, 0x3D: erasedObs}
	})
	v := New(repo, nil, j1939.ToolAddress, WithChecks(checks...))
	rec := &listenertest.Recorder{}

	require.NoError(t, v.VerifyDataNotPartialErased(context.Background(), rec, 6, 4, "6.4.2.a", "6.4.2.b"))
	assert.Empty(t, rec.Results())
}

func TestVerifyDataErased(t *testing.T) {
	repo := repoWith(0x00, 0x3D)
	checks := []Check{
		fakeCheck{name: "DM6", obs: map[uint8]Observation{0x00: erasedObs, 0x3D: erasedObs}},
		fakeCheck{name: "DM12", obs: map[uint8]Observation{0x00: retainedObs, 0x3D: alreadyObs}},
		fakeCheck{name: "Engine Hours", obs: map[uint8]Observation{
			0x00: {Responded: true, Monotonic: true},
			0x3D: {Responded: true, Monotonic: true, Decreased: true},
		}},
	}
	v := New(repo, nil, j1939.ToolAddress, WithChecks(checks...))
	rec := &listenertest.Recorder{}

	require.NoError(t, v.VerifyDataErased(context.Background(), rec, 6, 2, "6.2.5.a"))
	assert.Equal(t, []string{
		"6.2.5.a - Engine #1 (0) did not erase DM12 data",
		"6.2.5.a - Engine #1 (0) did not erase data",
		"6.2.5.a - Exhaust Emission Controller (61) erased Engine Hours data",
		"6.2.5.a - Exhaust Emission Controller (61) did not erase data",
	}, rec.Messages(model.Fail))
}

func TestVerifyDataNotErased(t *testing.T) {
	repo := repoWith(0x00)
	checks := []Check{
		fakeCheck{name: "DM6", obs: map[uint8]Observation{0x00: erasedObs}},
		fakeCheck{name: "DM12", obs: map[uint8]Observation{0x00: retainedObs}},
		fakeCheck{name: "DM23", obs: map[uint8]Observation{0x00: alreadyObs}},
	}
	v := New(repo, nil, j1939.ToolAddress, WithChecks(checks...))
	rec := &listenertest.Recorder{}

	require.NoError(t, v.VerifyDataNotErased(context.Background(), rec, 6, 3, "6.3.2.a"))
	assert.Equal(t, []string{
		"6.3.2.a - Engine #1 (0) erased DM6 data",
		"6.3.2.a - Engine #1 (0) erased data",
	}, rec.Messages(model.Fail))
}

func TestUnansweredCheckWarnsAndIsSkipped(t *testing.T) {
	repo := repoWith(0x00)
	checks := []Check{
		fakeCheck{name: "DM6", obs: map[uint8]Observation{0x00: {}}},
		fakeCheck{name: "DM12", obs: map[uint8]Observation{0x00: {Nacked: true}}},
	}
	v := New(repo, nil, j1939.ToolAddress, WithChecks(checks...))
	rec := &listenertest.Recorder{}

	require.NoError(t, v.VerifyDataErased(context.Background(), rec, 6, 2, "6.2.5.a"))
	assert.Equal(t, []string{
		"6.2.5.a - Engine #1 (0) did not respond to the DM6 request",
		"6.2.5.a - Engine #1 (0) responded NACK to the DM12 request",
	}, rec.Messages(model.Warn))
	assert.Empty(t, rec.ResultsOf(model.Fail))
}

func TestObserveErrorStopsVerification(t *testing.T) {
	repo := repoWith(0x00)
	stop := errors.New("interrupted")
	v := New(repo, nil, j1939.ToolAddress, WithChecks(fakeCheck{name: "DM6", obs: map[uint8]Observation{0x00: {}}, err: stop}))
	rec := &listenertest.Recorder{}

	require.ErrorIs(t, v.VerifyDataErased(context.Background(), rec, 6, 2, "6.2.5.a"), stop)
	assert.Empty(t, rec.Results())
}

func TestErasureMessage(t *testing.T) {
	assert.Equal(t, "6.2.5.a - Engine #1 (0) erased DM25 data", ErasureMessage("6.2.5.a", "Engine #1 (0)", "DM25", true))
	assert.Equal(t, "6.2.5.a - Engine #1 (0) did not erase DM25 data", ErasureMessage("6.2.5.a", "Engine #1 (0)", "DM25", false))
}

func TestSectionVerifierVehicleGate(t *testing.T) {
	repo := repository.New()
	s := NewSectionVerifier(repo)
	require.NoError(t, repo.SetVehicle(model.VehicleInformation{ModelYear: 2018}))
	assert.True(t, s.Before2019())

	repo.ReplaceVehicle(model.VehicleInformation{ModelYear: 2022})
	assert.False(t, s.Before2019())

	_, ok := s.Latest(0x00, j1939.PGNDM6)
	assert.False(t, ok)
}

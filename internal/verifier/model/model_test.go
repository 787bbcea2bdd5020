package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSectionCitation(t *testing.T) {
	s := Section(1, 12, "a")
	assert.Equal(t, "1.12.a", s)
	assert.Equal(t, "1.12.a - Engine #1 (0) did not erase DM12 data", Cite(s, "Engine #1 (0) did not erase DM12 data"))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "FAIL", Fail.String())
	assert.Equal(t, "ABORT", Abort.String())
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
}

func TestVehicleInformation(t *testing.T) {
	v := VehicleInformation{ModelYear: 2018, FuelType: HybridDiesel, EngineCount: 1}
	assert.True(t, v.Before2019())
	assert.True(t, v.FuelType.CompressionIgnition())
	assert.False(t, Gasoline.CompressionIgnition())
	assert.Equal(t, "MY2018 hybrid-diesel, 1 engine(s)", v.String())
}

package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	assert.Equal(t, time.Second, table.BroadcastPeriod(65262))
	assert.True(t, table.IsVariableRate(61444))
	assert.False(t, table.IsVariableRate(65262))
	assert.Zero(t, table.BroadcastPeriod(65253))
	assert.Zero(t, table.BroadcastPeriod(1))
	assert.Equal(t, []uint32{65262}, table.PGNsForSPN(110))
	assert.Equal(t, []uint32{899, 512, 513, 190}, table.SPNsOf(61444))
	assert.Equal(t, "Engine Temperature 1 (ET1)", table.Label(65262))
}

func TestLoadRejectsBadLayouts(t *testing.T) {
	_, err := Load(strings.NewReader(`
pgns:
  - pgn: 1
    period_ms: -5
`))
	assert.Error(t, err)

	_, err = Load(strings.NewReader(`
pgns:
  - pgn: 1
    period_ms: 100
    spns:
      - {spn: 9, start_byte: 0, start_bit: 0, bits: 0}
`))
	assert.Error(t, err)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pgns:
  - pgn: 65262
    label: Engine Temperature 1
    acronym: ET1
    period_ms: 500
    spns:
      - {spn: 175, label: Engine Oil Temperature 1, start_byte: 2, start_bit: 0, bits: 16, resolution: 0.03125, offset: -273}
`), 0o644))

	table, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, table.BroadcastPeriod(65262))
	assert.Empty(t, table.PGNsForSPN(110))
	assert.Equal(t, []uint32{65262}, table.PGNsForSPN(175))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

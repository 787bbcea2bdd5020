package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestToFields(t *testing.T) {
	err := errors.New("bus closed")

	tests := []struct {
		name  string
		input []any
		keys  []string
	}{
		{"empty input", nil, nil},
		{"pairs", []any{"pgn", uint32(65226), "source", uint8(0), "ok", true}, []string{"pgn", "source", "ok"}},
		{"duration", []any{"period", 100 * time.Millisecond}, []string{"period"}},
		{"bare error", []any{err}, []string{"error"}},
		{"zap field passthrough", []any{zap.String("x", "y"), "n", 1}, []string{"x", "n"}},
		{"trailing key", []any{"pgn", 1, "dangling"}, []string{"pgn", "arg#2"}},
		{"non-string key", []any{42, "value"}, []string{"invalid_key_1"}},
		{"bytes", []any{"data", []byte{0xFF}}, []string{"data"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)
			var keys []string
			for _, f := range fields {
				keys = append(keys, f.Key)
			}
			assert.Equal(t, tt.keys, keys)
		})
	}
}

func TestLoggerNamesAndValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core)).WithName("bus").WithValues("address", uint8(0))

	l.Info("request sent", "pgn", uint32(65236))
	l.Error(errors.New("timeout"), "no response")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "bus", entries[0].LoggerName)
	assert.Equal(t, "request sent", entries[0].Message)
	assert.Equal(t, uint32(65236), entries[0].ContextMap()["pgn"])
	assert.Equal(t, uint8(0), entries[0].ContextMap()["address"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "timeout", entries[1].ContextMap()["error"])
}

package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder("/j1939/bench-1/")
	assert.Equal(t, "j1939/bench-1/can/rx", b.CANRx())
	assert.Equal(t, "j1939/bench-1/can/tx", b.CANTx())
	assert.Equal(t, "j1939/bench-1/runs/42/outcomes", b.Outcomes("42"))
	assert.Equal(t, "j1939/bench-1/runs/42/state", b.State("42"))
	assert.Equal(t, "j1939/bench-1/runs/+/outcomes", b.AllOutcomes())

	assert.Equal(t, "can/rx", NewBuilder("").CANRx())
}

func TestParseOutcomes(t *testing.T) {
	b := NewBuilder("j1939/bench-1")

	id, ok := b.ParseOutcomes(b.Outcomes("20250301-101530"))
	assert.True(t, ok)
	assert.Equal(t, "20250301-101530", id)

	for _, topic := range []string{
		b.State("42"),
		"j1939/bench-2/runs/42/outcomes",
		"j1939/bench-1/runs//outcomes",
		"j1939/bench-1/can/rx",
	} {
		_, ok := b.ParseOutcomes(topic)
		assert.False(t, ok, topic)
	}

	id, ok = NewBuilder("").ParseOutcomes("runs/7/outcomes")
	assert.True(t, ok)
	assert.Equal(t, "7", id)
}

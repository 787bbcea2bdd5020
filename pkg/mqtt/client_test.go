package mqtt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsMatch(t *testing.T) {
	tests := map[string]struct {
		filter, topic string
		want          bool
	}{
		"exact":              {"j1939/bench/can/rx", "j1939/bench/can/rx", true},
		"single level":       {"j1939/+/can/rx", "j1939/bench/can/rx", true},
		"single level short": {"j1939/+/can/rx", "j1939/bench/can", false},
		"multi level":        {"j1939/#", "j1939/bench/runs/1/outcomes", true},
		"different leaf":     {"j1939/bench/can/rx", "j1939/bench/can/tx", false},
		"longer topic":       {"j1939/+", "j1939/bench/can", false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, topicsMatch(tc.filter, tc.topic))
		})
	}
}

func TestTopicFilterStripsSharePrefix(t *testing.T) {
	assert.Equal(t, "j1939/+/can/rx", topicFilter("$share/verifiers/j1939/+/can/rx"))
	assert.Equal(t, "j1939/bench/can/rx", topicFilter("j1939/bench/can/rx"))
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&ClientConfig{BrokerURL: "http://broker:1883", ClientID: "v"})
	assert.Error(t, err)

	_, err = NewClient(&ClientConfig{BrokerURL: "tcp://broker:1883"})
	assert.Error(t, err)

	c, err := NewClient(&ClientConfig{BrokerURL: "tcp://broker:1883", ClientID: "verifier"})
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish(context.Background(), "t", 0, false, nil), ErrNotStarted)
}

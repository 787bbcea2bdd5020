// Package topic builds the MQTT topic names shared by the CAN gateway and
// the verifier.
package topic

import (
	"strings"
)

// Builder constructs topic strings under a common root such as
// "j1939/bench-1".
type Builder struct {
	root string
}

// NewBuilder returns a Builder for root. Leading and trailing slashes are
// dropped.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// CANRx is where the gateway publishes every frame it sees on the bus.
// Direction: gateway -> verifier
func (b *Builder) CANRx() string {
	return b.build(SegmentCAN, SegmentRx)
}

// CANTx is where the verifier publishes frames for the gateway to transmit.
// Direction: verifier -> gateway
func (b *Builder) CANTx() string {
	return b.build(SegmentCAN, SegmentTx)
}

// Outcomes carries every outcome of run runID.
func (b *Builder) Outcomes(runID string) string {
	return b.build(SegmentRuns, runID, SegmentOutcomes)
}

// State carries the retained run state of runID.
func (b *Builder) State(runID string) string {
	return b.build(SegmentRuns, runID, SegmentState)
}

// AllOutcomes matches the outcomes of every run.
func (b *Builder) AllOutcomes() string {
	return b.build(SegmentRuns, Wildcard, SegmentOutcomes)
}

// ParseOutcomes returns the run ID of an outcomes topic.
func (b *Builder) ParseOutcomes(topic string) (string, bool) {
	rest := topic
	if b.root != "" {
		var ok bool
		if rest, ok = strings.CutPrefix(topic, b.root+"/"); !ok {
			return "", false
		}
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] != SegmentRuns || parts[2] != SegmentOutcomes || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (b *Builder) build(segments ...string) string {
	if b.root == "" {
		return strings.Join(segments, "/")
	}
	return b.root + "/" + strings.Join(segments, "/")
}

package topic

// Topic segments. Changing them breaks deployed gateways.
const (
	SegmentCAN      = "can"
	SegmentRx       = "rx"
	SegmentTx       = "tx"
	SegmentRuns     = "runs"
	SegmentOutcomes = "outcomes"
	SegmentState    = "state"
)

// MQTT wildcards.
const (
	// Wildcard matches exactly one topic level.
	Wildcard = "+"
	// MultiWildcard matches the remaining levels and must come last.
	MultiWildcard = "#"
)

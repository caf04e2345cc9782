package models

import "time"

// RecordOutcome says how the goal behind a strategy record settled.
type RecordOutcome string

const (
	// OutcomeSuccess indicates the strategy achieved its goal.
	OutcomeSuccess RecordOutcome = "success"
	// OutcomeFailure indicates the strategy was abandoned or decomposed.
	OutcomeFailure RecordOutcome = "failure"
)

// Valid returns true if the outcome is a known value.
func (o RecordOutcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// StrategyRecord is a distilled memory of a past goal's outcome,
// written once when a node settles and read many times to bias planning.
type StrategyRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// Fingerprint is the content address of the normalized goal text.
	Fingerprint string `json:"fingerprint"`
	// Goal is the original goal text.
	Goal string `json:"goal"`
	// Outcome says how the goal settled.
	Outcome RecordOutcome `json:"outcome"`
	// Narrative is the distilled lesson or winning approach.
	Narrative string `json:"narrative"`
	// Score rates the record's usefulness, 0 to 1.
	Score float64 `json:"score"`
	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`
}

package store

import "errors"

// Error kinds from spec 7. Each is a sentinel; callers use errors.Is.
var (
	ErrValidationFailed = errors.New("VALIDATION_FAILED")
	ErrNotFound         = errors.New("NOT_FOUND")
	ErrConflict         = errors.New("CONFLICT")
)

// ApplyOutcome is the three-way result of apply_om_reflection_with_cas.
type ApplyOutcome int

const (
	Applied ApplyOutcome = iota
	IdempotentEvent
	StaleGeneration
)

func (o ApplyOutcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case IdempotentEvent:
		return "idempotent_event"
	case StaleGeneration:
		return "stale_generation"
	default:
		return "unknown"
	}
}

package core

import "errors"

var (
	// ErrInvalidStateTransition is returned when a transition is requested
	// from a terminal quarantine status. Nothing is mutated.
	ErrInvalidStateTransition = errors.New("invalid quarantine state transition")

	// ErrStaleState is returned when the caller's expected status no longer
	// matches the stored one, e.g. two operators racing on the same record.
	ErrStaleState = errors.New("quarantine record changed underneath caller")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrScorerUnavailable marks a scorer that could not produce a usable
	// score. The pipeline degrades to a rule-driven decision instead of
	// failing the message.
	ErrScorerUnavailable = errors.New("ml scorer unavailable")

	// ErrInvalidConfiguration is a startup-time failure: weight sums,
	// thresholds or rule definitions that cannot be interpreted.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrActionFailed is recorded in the incident log when a response action
	// exhausted its retries.
	ErrActionFailed = errors.New("response action failed")
)

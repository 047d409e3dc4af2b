package domain

import (
	"errors"
	"fmt"
)

// The error taxonomy of the decision engine. Data-quality issues are
// absorbed silently with counts logged; everything else is surfaced as a
// typed error the caller can branch on with errors.As / errors.Is.

// InsufficientDataError is returned when an operation cannot proceed with
// the data it was given: a training window shorter than the required
// minimum, or a candidate shortlist that is empty after filtering. The
// operation aborts before any model fit or order generation is attempted.
type InsufficientDataError struct {
	Op       string // Operation that was aborted
	Needed   int
	Got      int
	Detail   string
}

func (e *InsufficientDataError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: insufficient data: %s (needed %d, got %d)", e.Op, e.Detail, e.Needed, e.Got)
	}
	return fmt.Sprintf("%s: insufficient data (needed %d, got %d)", e.Op, e.Needed, e.Got)
}

// ValidationFailure is returned when a newly trained model fails its
// held-out acceptance metric. The previous production model stays active;
// the failure is logged with the metric value. Non-fatal to the system.
type ValidationFailure struct {
	StrategyKey StrategyKey
	Metric      string
	Value       float64
	Floor       float64
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("%s: model rejected: %s %.4f below floor %.4f",
		e.StrategyKey, e.Metric, e.Value, e.Floor)
}

// DivergenceError is returned when a training run produces non-finite
// rewards, advantages or value estimates. The run is aborted and its
// in-progress update discarded; the production policy is unaffected.
type DivergenceError struct {
	Quantity string // "reward", "advantage", "value", "loss"
	Step     int
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("training diverged: non-finite %s at step %d", e.Quantity, e.Step)
}

/// ConstraintViolation signals a broken internal invariant: target weights
// outside bounds, or an order batch violating the cash constraint after
// scaling. This is a programming-contract bug, not a user-facing condition,
// but it is checked rather than assumed.
type ConstraintViolation struct {
	Invariant string
	Detail    string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation: %s: %s", e.Invariant, e.Detail)
}

// ExecutionPartialFailure reports an order batch that did not fully fill.
// The engine's only responsibility is accurate reporting; the next
// EVALUATE cycle recomputes drift from the true resulting portfolio state.
type ExecutionPartialFailure struct {
	BatchID string
	Results []OrderResult
}

func (e *ExecutionPartialFailure) Error() string {
	failed := 0
	partial := 0
	for _, r := range e.Results {
		switch r.Status {
		case OrderFailed:
			failed++
		case OrderPartial:
			partial++
		}
	}
	return fmt.Sprintf("order batch %s partially executed: %d failed, %d partial of %d",
		e.BatchID, failed, partial, len(e.Results))
}

// ErrRunActive is returned when a training run is requested for a strategy
// key that already has one in flight. Duplicate requests are rejected, not
// queued, to avoid racing writes to the same model-version slot.
var ErrRunActive = errors.New("training run already active for strategy key")

// ErrNoProductionModel is returned when no model version has been promoted
// for a strategy key yet.
var ErrNoProductionModel = errors.New("no production model for strategy key")

// ErrVersionNotFound is returned when a registry operation references a
// model version that does not exist.
var ErrVersionNotFound = errors.New("model version not found")

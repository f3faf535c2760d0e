package domain

import "fmt"

// ValidationError marks a request with a bad shape or out-of-range field.
// It is rejected at the boundary and never surfaces as a run transition.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Kind() string { return "ValidationError" }

// NotFound marks an unknown run or order id.
type NotFound struct {
	Resource string
	ID       string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("not found: %s %q", e.Resource, e.ID)
}

func (e *NotFound) Kind() string { return "NotFound" }

// IllegalTransition marks an operation attempted from the wrong lifecycle
// state, e.g. starting a run that isn't pending.
type IllegalTransition struct {
	Entity string
	From   string
	Op     string
}

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition: cannot %s %s from state %q", e.Op, e.Entity, e.From)
}

func (e *IllegalTransition) Kind() string { return "IllegalTransition" }

// IdempotencyReplay marks a duplicate client_order_id. Callers get the
// prior state back; no side effects occur.
type IdempotencyReplay struct {
	ClientOrderID string
}

func (e *IdempotencyReplay) Error() string {
	return fmt.Sprintf("idempotency replay: client_order_id %q already submitted", e.ClientOrderID)
}

func (e *IdempotencyReplay) Kind() string { return "IdempotencyReplay" }

// TransportTimeout marks an adapter or storage call that exceeded its
// configured timeout.
type TransportTimeout struct {
	Op  string
	Err error
}

func (e *TransportTimeout) Error() string {
	return fmt.Sprintf("transport timeout: %s: %v", e.Op, e.Err)
}

func (e *TransportTimeout) Unwrap() error { return e.Err }

func (e *TransportTimeout) Kind() string { return "TransportTimeout" }

// AdapterRejected marks an exchange-level rejection of an order.
type AdapterRejected struct {
	Code   string
	Reason string
}

func (e *AdapterRejected) Error() string {
	return fmt.Sprintf("adapter rejected [%s]: %s", e.Code, e.Reason)
}

func (e *AdapterRejected) Kind() string { return "AdapterRejected" }

// StorageFailure marks a persistence write that did not succeed. No
// dispatch, no local state update; the caller must decide what to do.
type StorageFailure struct {
	Op  string
	Err error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("storage failure: %s: %v", e.Op, e.Err)
}

func (e *StorageFailure) Unwrap() error { return e.Err }

func (e *StorageFailure) Kind() string { return "StorageFailure" }

// SubscriberFailure wraps a panic/error raised inside a subscriber
// callback. It is logged; dispatch to other subscribers continues.
type SubscriberFailure struct {
	SubscriptionID string
	Err            error
}

func (e *SubscriberFailure) Error() string {
	return fmt.Sprintf("subscriber %s failed: %v", e.SubscriptionID, e.Err)
}

func (e *SubscriberFailure) Unwrap() error { return e.Err }

func (e *SubscriberFailure) Kind() string { return "SubscriberFailure" }

// RunFailure wraps an unhandled error out of a run's tick loop. The
// orchestrator transitions the run to failed and emits run.Failed.
type RunFailure struct {
	RunID string
	Err   error
}

func (e *RunFailure) Error() string {
	return fmt.Sprintf("run %s failed: %v", e.RunID, e.Err)
}

func (e *RunFailure) Unwrap() error { return e.Err }

func (e *RunFailure) Kind() string { return "RunFailure" }

// Kinded is satisfied by every error type above; callers that need to
// branch on error taxonomy without a type switch can use this.
type Kinded interface {
	error
	Kind() string
}

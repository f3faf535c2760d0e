package events

import "testing"

func TestValidateNoOpForUnregisteredType(t *testing.T) {
	r := NewRegistry()
	env := NewEnvelope(KindEvent, "unregistered.Type", "1", "run-1", "x", fixedTime(), "payload")
	if err := r.Validate(env); err != nil {
		t.Errorf("expected no-op validation for unregistered type, got %v", err)
	}
}

func TestValidateRunsRegisteredValidator(t *testing.T) {
	r := NewRegistry()
	r.Register("orders.Created", func(payload any) error {
		if payload == nil {
			return errRequired
		}
		return nil
	})

	ok := NewEnvelope(KindEvent, "orders.Created", "1", "run-1", "veda", fixedTime(), "state")
	if err := r.Validate(ok); err != nil {
		t.Errorf("expected valid payload to pass, got %v", err)
	}

	bad := NewEnvelope(KindEvent, "orders.Created", "1", "run-1", "veda", fixedTime(), nil)
	if err := r.Validate(bad); err == nil {
		t.Error("expected validation error for nil payload")
	}
}

var errRequired = sentinelError("payload required")

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

package events

import "fmt"

// Validator checks one event type's payload shape. Schema validation is
// opt-in: types with no registered validator always pass.
type Validator func(payload any) error

// Registry holds the optional per-type payload validators mentioned in
// spec section 4.1. It is safe for concurrent registration and lookup
// only insofar as callers register validators during wiring, before the
// log starts accepting appends; Validate itself takes no lock since the
// map is read-only once wiring completes.
type Registry struct {
	validators map[string]Validator
}

func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

func (r *Registry) Register(eventType string, v Validator) {
	r.validators[eventType] = v
}

// Validate runs the registered validator for env.Type, if any. Unknown
// types are always valid.
func (r *Registry) Validate(env Envelope) error {
	v, ok := r.validators[env.Type]
	if !ok {
		return nil
	}
	if err := v(env.Payload); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", env.Type, err)
	}
	return nil
}

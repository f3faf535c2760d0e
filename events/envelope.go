// Package events implements the core's single durable, ordered, fan-out
// channel: envelopes, the append-only log, and durable consumer offsets.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EnvelopeKind string

const (
	KindEvent   EnvelopeKind = "evt"
	KindCommand EnvelopeKind = "cmd"
)

// Envelope is the single transport unit flowing through the log. It is
// immutable once constructed; every field is set once at creation.
type Envelope struct {
	ID          string
	Kind        EnvelopeKind
	Type        string
	Version     string
	RunID       string
	CorrID      string
	CausationID string
	TraceID     string
	Ts          time.Time
	Producer    string
	Headers     map[string]string
	Payload     any
}

// NewEnvelope starts a fresh correlation chain: a new id, with corr_id
// set to that same id. ts is caller-supplied so
// backtest envelopes carry simulated time rather than wall time.
func NewEnvelope(kind EnvelopeKind, eventType, version, runID, producer string, ts time.Time, payload any) Envelope {
	id := uuid.NewString()
	return Envelope{
		ID:       id,
		Kind:     kind,
		Type:     eventType,
		Version:  version,
		RunID:    runID,
		CorrID:   id,
		Producer: producer,
		Ts:       ts,
		Headers:  map[string]string{},
		Payload:  payload,
	}
}

// Derive builds the envelope a component emits in response to source: a
// fresh id, the same corr_id, and causation_id = source.id. ts is still
// caller-supplied, per the same simulated-time rule as NewEnvelope.
func Derive(source Envelope, eventType, version, producer string, ts time.Time, payload any) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		Kind:        KindEvent,
		Type:        eventType,
		Version:     version,
		RunID:       source.RunID,
		CorrID:      source.CorrID,
		CausationID: source.ID,
		TraceID:     source.TraceID,
		Producer:    producer,
		Ts:          ts,
		Headers:     map[string]string{},
		Payload:     payload,
	}
}

package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/5TFG4/weaver/domain"
)

// outboxModel is the persisted form of an appended envelope. Offset is
// the strictly monotonic, gap-free sequence number assigned at append
// time; it is not an autoincrement column because the Log itself must
// control assignment under its single in-process writer lock (grounded
// on the sequence-number bookkeeping of a file-backed append log,
// translated here onto a table).
type outboxModel struct {
	Offset      int64  `gorm:"primaryKey;autoIncrement:false"`
	EnvID       string `gorm:"uniqueIndex;column:env_id"`
	EnvKind     string `gorm:"column:env_kind"`
	Type        string `gorm:"index"`
	Version     string
	RunID       string `gorm:"index"`
	CorrID      string `gorm:"index"`
	CausationID string
	TraceID     string
	Ts          time.Time
	Producer    string
	Headers     string    // JSON-encoded map[string]string
	Payload     string    // JSON-encoded payload
	CreatedAt   time.Time `gorm:"index"`
}

func (outboxModel) TableName() string { return "outbox" }

func toRecord(offset int64, env Envelope) (*outboxModel, error) {
	headers, err := json.Marshal(env.Headers)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, err
	}
	return &outboxModel{
		Offset:      offset,
		EnvID:       env.ID,
		EnvKind:     string(env.Kind),
		Type:        env.Type,
		Version:     env.Version,
		RunID:       env.RunID,
		CorrID:      env.CorrID,
		CausationID: env.CausationID,
		TraceID:     env.TraceID,
		Ts:          env.Ts,
		Producer:    env.Producer,
		Headers:     string(headers),
		Payload:     string(payload),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func fromRecord(rec outboxModel) (Envelope, error) {
	var headers map[string]string
	if err := json.Unmarshal([]byte(rec.Headers), &headers); err != nil {
		return Envelope{}, err
	}
	var payload any
	if err := json.Unmarshal([]byte(rec.Payload), &payload); err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:          rec.EnvID,
		Kind:        EnvelopeKind(rec.EnvKind),
		Type:        rec.Type,
		Version:     rec.Version,
		RunID:       rec.RunID,
		CorrID:      rec.CorrID,
		CausationID: rec.CausationID,
		TraceID:     rec.TraceID,
		Ts:          rec.Ts,
		Producer:    rec.Producer,
		Headers:     headers,
		Payload:     payload,
	}, nil
}

// OffsetEnvelope pairs a committed record with its assigned offset, the
// shape read_from and replay handlers consume.
type OffsetEnvelope struct {
	Offset   int64
	Envelope Envelope
}

type subscription struct {
	id       string
	types    map[string]bool
	all      bool
	filter   func(Envelope) bool
	callback func(Envelope)
	queue    chan Envelope
	done     chan struct{}
}

// Log is the append-only outbox: transactional write, ordered
// read-from-offset, typed subscription with per-subscriber fan-out, and
// durable consumer offsets (see OffsetStore for the latter).
type Log struct {
	mu         sync.Mutex
	db         *gorm.DB
	registry   *Registry
	durable    bool
	nextOffset int64

	subMu sync.RWMutex
	subs  map[string]*subscription

	wake chan int64
}

// NewLog opens a Log against db, recovering nextOffset from the highest
// persisted offset so restarts resume without reusing or skipping
// offsets. durable marks whether the backing store is a real database
// (Postgres) as opposed to a local SQLite file, controlling whether
// external-consumer wake notifications are posted at all.
func NewLog(db *gorm.DB, registry *Registry, durable bool) (*Log, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	l := &Log{
		db:       db,
		registry: registry,
		durable:  durable,
		subs:     make(map[string]*subscription),
		wake:     make(chan int64, 256),
	}
	var last outboxModel
	err := db.Order("offset desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, err
	}
	if last.EnvID != "" {
		l.nextOffset = last.Offset + 1
	}
	return l, nil
}

// Wake exposes the channel external (durable-backed) consumers can
// select on to learn a new offset was committed; it is the in-process
// analogue of a NOTIFY payload. Non-durable logs never post to it.
func (l *Log) Wake() <-chan int64 { return l.wake }

// Append assigns the next offset to env under the Log's own transaction
// and, on commit, dispatches it to every matching in-process subscriber.
// It hands the envelope to each subscriber's own ordered queue (1024
// deep) and does not wait for callbacks to run, except that it blocks
// while a matching subscriber's queue is full.
func (l *Log) Append(env Envelope) (int64, error) {
	if err := l.registry.Validate(env); err != nil {
		return -1, err
	}

	l.mu.Lock()
	offset := l.nextOffset
	rec, err := toRecord(offset, env)
	if err != nil {
		l.mu.Unlock()
		return -1, err
	}
	if err := l.db.Create(rec).Error; err != nil {
		l.mu.Unlock()
		return -1, &domain.StorageFailure{Op: "events.Log.Append", Err: err}
	}
	l.nextOffset++
	// dispatch while still holding mu: two concurrent Appends must hand
	// their envelopes to subscriber queues in the same order they were
	// assigned offsets, or a subscriber can observe them out of order.
	// dispatch only pushes onto buffered channels; it blocks only while a
	// subscriber's queue is full.
	l.dispatch(offset, env)
	l.mu.Unlock()

	if l.durable {
		select {
		case l.wake <- offset:
		default:
			log.Warn().Int64("offset", offset).Msg("event log wake channel full, external consumers may lag")
		}
	}

	return offset, nil
}

func (l *Log) dispatch(offset int64, env Envelope) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	for _, sub := range l.subs {
		if !sub.all && !sub.types[env.Type] {
			continue
		}
		if sub.filter != nil && !sub.filter(env) {
			continue
		}
		select {
		case sub.queue <- env:
		case <-sub.done:
		}
	}
}

// ReadFrom returns committed records with offset strictly greater than
// offset, ascending, up to limit. It never blocks waiting for new
// records.
func (l *Log) ReadFrom(offset int64, limit int) ([]OffsetEnvelope, error) {
	var recs []outboxModel
	if err := l.db.Where("offset > ?", offset).Order("offset asc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, &domain.StorageFailure{Op: "events.Log.ReadFrom", Err: err}
	}
	out := make([]OffsetEnvelope, 0, len(recs))
	for _, rec := range recs {
		env, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, OffsetEnvelope{Offset: rec.Offset, Envelope: env})
	}
	return out, nil
}

// SubscribeFiltered registers an in-process consumer. types is a list of
// exact type strings, or the single value "*" to match everything.
// filter, if non-nil, further restricts delivery. The returned
// subscription id is used with UnsubscribeByID.
func (l *Log) SubscribeFiltered(types []string, callback func(Envelope), filter func(Envelope) bool) string {
	sub := &subscription{
		id:       uuid.NewString(),
		types:    make(map[string]bool, len(types)),
		filter:   filter,
		callback: callback,
		queue:    make(chan Envelope, 1024),
		done:     make(chan struct{}),
	}
	for _, t := range types {
		if t == "*" {
			sub.all = true
			continue
		}
		sub.types[t] = true
	}

	l.subMu.Lock()
	l.subs[sub.id] = sub
	l.subMu.Unlock()

	go sub.run()

	return sub.id
}

func (s *subscription) run() {
	for {
		select {
		case env := <-s.queue:
			s.invoke(env)
		case <-s.done:
			return
		}
	}
}

func (s *subscription) invoke(env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("subscription_id", s.id).Str("event_type", env.Type).
				Msg("subscriber callback panicked, continuing dispatch to others")
		}
	}()
	s.callback(env)
}

// UnsubscribeByID removes a subscription. It is a no-op for unknown ids.
func (l *Log) UnsubscribeByID(id string) {
	l.subMu.Lock()
	sub, ok := l.subs[id]
	if ok {
		delete(l.subs, id)
	}
	l.subMu.Unlock()
	if ok {
		close(sub.done)
	}
}

// GetLatestOffset returns the highest committed offset, or -1 if empty.
func (l *Log) GetLatestOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextOffset - 1
}

package events

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/5TFG4/weaver/domain"
)

// consumerOffsetModel backs the durable consumer_offsets table used by
// long-running external consumers that must resume after restart.
// In-process subscriptions that live for the duration of a run never
// touch this table.
type consumerOffsetModel struct {
	ConsumerID string `gorm:"primaryKey;column:consumer_id"`
	LastOffset int64  `gorm:"column:last_offset"`
	UpdatedAt  time.Time
}

func (consumerOffsetModel) TableName() string { return "consumer_offsets" }

type OffsetStore struct {
	db *gorm.DB
}

func NewOffsetStore(db *gorm.DB) *OffsetStore {
	return &OffsetStore{db: db}
}

// GetOffset returns the last committed offset for consumerID, or -1 if
// none has ever been recorded.
func (s *OffsetStore) GetOffset(consumerID string) (int64, error) {
	var rec consumerOffsetModel
	err := s.db.Where("consumer_id = ?", consumerID).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return -1, nil
	}
	if err != nil {
		return -1, &domain.StorageFailure{Op: "events.OffsetStore.GetOffset", Err: err}
	}
	return rec.LastOffset, nil
}

// SetOffset upserts consumerID's last-processed offset. Idempotent and
// commutative on retry: writing the same offset twice is a no-op in
// effect, and writing out of order simply leaves the last writer's value.
func (s *OffsetStore) SetOffset(consumerID string, offset int64) error {
	rec := consumerOffsetModel{
		ConsumerID: consumerID,
		LastOffset: offset,
		UpdatedAt:  time.Now().UTC(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "consumer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_offset", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return &domain.StorageFailure{Op: "events.OffsetStore.SetOffset", Err: err}
	}
	return nil
}

// GetAllOffsets returns every consumer's last-processed offset.
func (s *OffsetStore) GetAllOffsets() (map[string]int64, error) {
	var recs []consumerOffsetModel
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, &domain.StorageFailure{Op: "events.OffsetStore.GetAllOffsets", Err: err}
	}
	out := make(map[string]int64, len(recs))
	for _, r := range recs {
		out[r.ConsumerID] = r.LastOffset
	}
	return out, nil
}

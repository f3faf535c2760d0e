package events

import "gorm.io/gorm"

// Migrate creates/updates the outbox and consumer_offsets tables. Called
// by storage.AutoMigrate as part of the aggregate migration every
// package participates in.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&outboxModel{}, &consumerOffsetModel{})
}

// OpenForTest wires a Log against an already-open db after running this
// package's migration, so other packages' tests can stand up a real Log
// without reaching into unexported model types.
func OpenForTest(db *gorm.DB) (*Log, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return NewLog(db, nil, false)
}

package orchestrator

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/5TFG4/weaver/domain"
)

// runModel is the gorm-backed persisted form of domain.Run. Symbols and
// Config are JSON-encoded into text columns, following the same
// marshal-into-string idiom the Event Log uses for envelope payloads
// (events/log.go) and the teacher uses for position metadata
// (execution/reconciler.go).
type runModel struct {
	ID          string `gorm:"primaryKey"`
	StrategyID  string
	Mode        string `gorm:"index"`
	SymbolsJSON string
	Timeframe   string
	ConfigJSON  string
	Start       *time.Time
	End         *time.Time
	Status      string `gorm:"index"`
	CreatedAt   time.Time
	StartedAt   *time.Time
	StoppedAt   *time.Time
}

func (runModel) TableName() string { return "runs" }

func toRunModel(r domain.Run) (runModel, error) {
	symbolsJSON, err := json.Marshal(r.Symbols)
	if err != nil {
		return runModel{}, err
	}
	configJSON, err := json.Marshal(r.Config)
	if err != nil {
		return runModel{}, err
	}
	return runModel{
		ID: r.ID, StrategyID: r.StrategyID, Mode: string(r.Mode),
		SymbolsJSON: string(symbolsJSON), Timeframe: r.Timeframe, ConfigJSON: string(configJSON),
		Start: r.Start, End: r.End, Status: string(r.Status),
		CreatedAt: r.CreatedAt, StartedAt: r.StartedAt, StoppedAt: r.StoppedAt,
	}, nil
}

func fromRunModel(m runModel) (domain.Run, error) {
	var symbols []string
	if err := json.Unmarshal([]byte(m.SymbolsJSON), &symbols); err != nil {
		return domain.Run{}, err
	}
	var config map[string]any
	if m.ConfigJSON != "" && m.ConfigJSON != "null" {
		if err := json.Unmarshal([]byte(m.ConfigJSON), &config); err != nil {
			return domain.Run{}, err
		}
	}
	return domain.Run{
		ID: m.ID, StrategyID: m.StrategyID, Mode: domain.RunMode(m.Mode),
		Symbols: symbols, Timeframe: m.Timeframe, Config: config,
		Start: m.Start, End: m.End, Status: domain.RunStatus(m.Status),
		CreatedAt: m.CreatedAt, StartedAt: m.StartedAt, StoppedAt: m.StoppedAt,
	}, nil
}

// RunRepository is the Run Repository of spec §4.8: run state
// transitions are written through it so a restarting process can find
// runs whose last persisted status is "running".
type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Migrate creates/updates the runs table. Exported for storage.AutoMigrate.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&runModel{})
}

func (r *RunRepository) Save(run domain.Run) error {
	m, err := toRunModel(run)
	if err != nil {
		return &domain.StorageFailure{Op: "encode run", Err: err}
	}
	if err := r.db.Save(&m).Error; err != nil {
		return &domain.StorageFailure{Op: "save run", Err: err}
	}
	return nil
}

func (r *RunRepository) Get(runID string) (domain.Run, bool, error) {
	var m runModel
	err := r.db.First(&m, "id = ?", runID).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Run{}, false, nil
	}
	if err != nil {
		return domain.Run{}, false, &domain.StorageFailure{Op: "get run", Err: err}
	}
	run, err := fromRunModel(m)
	if err != nil {
		return domain.Run{}, false, &domain.StorageFailure{Op: "decode run", Err: err}
	}
	return run, true, nil
}

// ListByStatus supports the restart-recovery query of spec §4.8: find
// every run whose last persisted status is status (typically "running").
func (r *RunRepository) ListByStatus(status domain.RunStatus) ([]domain.Run, error) {
	var models []runModel
	if err := r.db.Where("status = ?", string(status)).Find(&models).Error; err != nil {
		return nil, &domain.StorageFailure{Op: "list runs by status", Err: err}
	}
	runs := make([]domain.Run, 0, len(models))
	for _, m := range models {
		run, err := fromRunModel(m)
		if err != nil {
			return nil, &domain.StorageFailure{Op: "decode run", Err: err}
		}
		runs = append(runs, run)
	}
	return runs, nil
}

package live

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/5TFG4/weaver/domain"
)

// orderModel and fillModel are the persisted forms of OrderState and
// Fill, grounded on the teacher's one-struct-per-table gorm style
// (internal/database/database.go's Market/Trade/ArbTrade models).
type orderModel struct {
	ID              string `gorm:"primaryKey"`
	RunID           string `gorm:"index"`
	ClientOrderID   string `gorm:"uniqueIndex"`
	ExchangeOrderID string
	Symbol          string
	Side            string
	OrderType       string
	Qty             decimal.Decimal `gorm:"type:decimal(28,10)"`
	LimitPrice      *decimal.Decimal `gorm:"type:decimal(28,10)"`
	StopPrice       *decimal.Decimal `gorm:"type:decimal(28,10)"`
	TimeInForce     string
	Status          string `gorm:"index"`
	FilledQty       decimal.Decimal `gorm:"type:decimal(28,10)"`
	FilledAvgPrice  decimal.Decimal `gorm:"type:decimal(28,10)"`
	CreatedAt       time.Time
	SubmittedAt     *time.Time
	FilledAt        *time.Time
	CancelledAt     *time.Time
	ErrorCode       string
	RejectReason    string
}

func (orderModel) TableName() string { return "orders" }

type fillModel struct {
	ID         string `gorm:"primaryKey"`
	OrderID    string `gorm:"index"`
	Qty        decimal.Decimal `gorm:"type:decimal(28,10)"`
	Price      decimal.Decimal `gorm:"type:decimal(28,10)"`
	Commission decimal.Decimal `gorm:"type:decimal(28,10)"`
	Timestamp  time.Time
}

func (fillModel) TableName() string { return "fills" }

// OrderRepository persists OrderState and Fill records.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&orderModel{}, &fillModel{})
}

func toOrderModel(s domain.OrderState) orderModel {
	return orderModel{
		ID:              s.ID,
		RunID:           s.RunID,
		ClientOrderID:   s.RunID + ":" + s.ClientOrderID,
		ExchangeOrderID: s.ExchangeOrderID,
		Symbol:          s.Symbol,
		Side:            string(s.Side),
		OrderType:       string(s.OrderType),
		Qty:             s.Qty,
		LimitPrice:      s.LimitPrice,
		StopPrice:       s.StopPrice,
		TimeInForce:     string(s.TimeInForce),
		Status:          string(s.Status),
		FilledQty:       s.FilledQty,
		FilledAvgPrice:  s.FilledAvgPrice,
		CreatedAt:       s.CreatedAt,
		SubmittedAt:     s.SubmittedAt,
		FilledAt:        s.FilledAt,
		CancelledAt:     s.CancelledAt,
		ErrorCode:       s.ErrorCode,
		RejectReason:    s.RejectReason,
	}
}

func fromOrderModel(m orderModel, clientOrderID string) domain.OrderState {
	return domain.OrderState{
		ID:              m.ID,
		RunID:           m.RunID,
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: m.ExchangeOrderID,
		Symbol:          m.Symbol,
		Side:            domain.OrderSide(m.Side),
		OrderType:       domain.OrderType(m.OrderType),
		Qty:             m.Qty,
		LimitPrice:      m.LimitPrice,
		StopPrice:       m.StopPrice,
		TimeInForce:     domain.TimeInForce(m.TimeInForce),
		Status:          domain.OrderStatus(m.Status),
		FilledQty:       m.FilledQty,
		FilledAvgPrice:  m.FilledAvgPrice,
		CreatedAt:       m.CreatedAt,
		SubmittedAt:     m.SubmittedAt,
		FilledAt:        m.FilledAt,
		CancelledAt:     m.CancelledAt,
		ErrorCode:       m.ErrorCode,
		RejectReason:    m.RejectReason,
	}
}

// Save upserts an OrderState keyed by its internal id.
func (r *OrderRepository) Save(s domain.OrderState) error {
	m := toOrderModel(s)
	if err := r.db.Save(&m).Error; err != nil {
		return &domain.StorageFailure{Op: "OrderRepository.Save", Err: err}
	}
	return nil
}

// GetByClientOrderID enforces invariant (iii): at most one OrderState
// per (run_id, client_order_id).
func (r *OrderRepository) GetByClientOrderID(runID, clientOrderID string) (domain.OrderState, bool, error) {
	var m orderModel
	err := r.db.Where("client_order_id = ?", runID+":"+clientOrderID).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return domain.OrderState{}, false, nil
	}
	if err != nil {
		return domain.OrderState{}, false, &domain.StorageFailure{Op: "OrderRepository.GetByClientOrderID", Err: err}
	}
	return fromOrderModel(m, clientOrderID), true, nil
}

func (r *OrderRepository) GetByID(id string) (domain.OrderState, bool, error) {
	var m orderModel
	err := r.db.Where("id = ?", id).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return domain.OrderState{}, false, nil
	}
	if err != nil {
		return domain.OrderState{}, false, &domain.StorageFailure{Op: "OrderRepository.GetByID", Err: err}
	}
	clientOrderID := m.ClientOrderID
	if len(m.RunID)+1 <= len(clientOrderID) {
		clientOrderID = clientOrderID[len(m.RunID)+1:]
	}
	return fromOrderModel(m, clientOrderID), true, nil
}

// ListByRun returns every order for a run, newest first.
func (r *OrderRepository) ListByRun(runID string) ([]domain.OrderState, error) {
	var ms []orderModel
	if err := r.db.Where("run_id = ?", runID).Order("created_at desc").Find(&ms).Error; err != nil {
		return nil, &domain.StorageFailure{Op: "OrderRepository.ListByRun", Err: err}
	}
	out := make([]domain.OrderState, 0, len(ms))
	for _, m := range ms {
		clientOrderID := m.ClientOrderID
		if len(m.RunID)+1 <= len(clientOrderID) {
			clientOrderID = clientOrderID[len(m.RunID)+1:]
		}
		out = append(out, fromOrderModel(m, clientOrderID))
	}
	return out, nil
}

// SaveFill appends an immutable fill record.
func (r *OrderRepository) SaveFill(f domain.Fill) error {
	m := fillModel{ID: f.ID, OrderID: f.OrderID, Qty: f.Qty, Price: f.Price, Commission: f.Commission, Timestamp: f.Timestamp}
	if err := r.db.Create(&m).Error; err != nil {
		return &domain.StorageFailure{Op: "OrderRepository.SaveFill", Err: err}
	}
	return nil
}

func (r *OrderRepository) ListFillsByOrder(orderID string) ([]domain.Fill, error) {
	var ms []fillModel
	if err := r.db.Where("order_id = ?", orderID).Order("timestamp asc").Find(&ms).Error; err != nil {
		return nil, &domain.StorageFailure{Op: "OrderRepository.ListFillsByOrder", Err: err}
	}
	out := make([]domain.Fill, 0, len(ms))
	for _, m := range ms {
		out = append(out, domain.Fill{ID: m.ID, OrderID: m.OrderID, Qty: m.Qty, Price: m.Price, Commission: m.Commission, Timestamp: m.Timestamp})
	}
	return out, nil
}

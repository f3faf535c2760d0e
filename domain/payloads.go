package domain

// Payload shapes for envelopes crossing component boundaries. Decimal
// fields are encoded as strings (see shopspring/decimal's native JSON
// marshaling, which already emits a numeric string) to avoid float
// drift across the wire, per the "decimals as strings" design note.

type FetchWindowPayload struct {
	Symbol   string `json:"symbol"`
	Lookback int    `json:"lookback"`
	AsOf     string `json:"as_of,omitempty"` // RFC3339, optional
}

type PlaceRequestPayload struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Qty         string  `json:"qty"`
	OrderType   string  `json:"order_type"`
	LimitPrice  *string `json:"limit_price,omitempty"`
	StopPrice   *string `json:"stop_price,omitempty"`
	TimeInForce string  `json:"time_in_force,omitempty"`
}

type BarPayload struct {
	Timestamp string `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

type WindowReadyPayload struct {
	Symbol string       `json:"symbol"`
	Bars   []BarPayload `json:"bars"`
}

// OrderStatePayload is the serialized form of an OrderState carried on
// orders.Created / orders.Rejected / orders.Filled / orders.Cancelled.
type OrderStatePayload struct {
	ID              string  `json:"id"`
	RunID           string  `json:"run_id"`
	ClientOrderID   string  `json:"client_order_id"`
	ExchangeOrderID string  `json:"exchange_order_id,omitempty"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	OrderType       string  `json:"order_type"`
	Qty             string  `json:"qty"`
	Status          string  `json:"status"`
	FilledQty       string  `json:"filled_qty"`
	FilledAvgPrice  string  `json:"filled_avg_price"`
	ErrorCode       string  `json:"error_code,omitempty"`
	RejectReason    string  `json:"reject_reason,omitempty"`
}

func BarToPayload(b Bar) BarPayload {
	return BarPayload{
		Timestamp: b.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Open:      b.Open.String(),
		High:      b.High.String(),
		Low:       b.Low.String(),
		Close:     b.Close.String(),
		Volume:    b.Volume.String(),
	}
}

func OrderStateToPayload(s OrderState) OrderStatePayload {
	return OrderStatePayload{
		ID:              s.ID,
		RunID:           s.RunID,
		ClientOrderID:   s.ClientOrderID,
		ExchangeOrderID: s.ExchangeOrderID,
		Symbol:          s.Symbol,
		Side:            string(s.Side),
		OrderType:       string(s.OrderType),
		Qty:             s.Qty.String(),
		Status:          string(s.Status),
		FilledQty:       s.FilledQty.String(),
		FilledAvgPrice:  s.FilledAvgPrice.String(),
		ErrorCode:       s.ErrorCode,
		RejectReason:    s.RejectReason,
	}
}

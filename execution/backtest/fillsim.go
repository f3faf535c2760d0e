package backtest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/5TFG4/weaver/domain"
)

// FillAt selects which bar price a market order fills at.
type FillAt string

const (
	FillAtOpen  FillAt = "open"
	FillAtClose FillAt = "close"
	FillAtVWAP  FillAt = "vwap"
)

// FillSimConfig parameterizes the fill model of spec §4.7, grounded on
// greta's FillSimulationConfig.
type FillSimConfig struct {
	SlippageBps   decimal.Decimal
	CommissionBps decimal.Decimal
	MinCommission decimal.Decimal
	FillAt        FillAt
}

// DefaultFillSimConfig matches the original's dataclass defaults.
func DefaultFillSimConfig() FillSimConfig {
	return FillSimConfig{
		SlippageBps:   decimal.NewFromInt(5),
		CommissionBps: decimal.NewFromInt(10),
		MinCommission: decimal.NewFromFloat(1),
		FillAt:        FillAtOpen,
	}
}

// SimulatedFill is one simulated execution, grounded on greta's
// SimulatedFill dataclass.
type SimulatedFill struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	Qty           decimal.Decimal
	FillPrice     decimal.Decimal
	Commission    decimal.Decimal
	Slippage      decimal.Decimal
	Timestamp     time.Time
	BarIndex      int
}

// Notional is the fill's gross value before commission and slippage.
func (f SimulatedFill) Notional() decimal.Decimal {
	return f.Qty.Mul(f.FillPrice)
}

// unsupportedOrderType marks a stop_limit order, out of scope per spec
// Open Question 1.
type unsupportedOrderType struct {
	OrderType domain.OrderType
}

func (e *unsupportedOrderType) Error() string {
	return fmt.Sprintf("fill simulator: unsupported order type %q", e.OrderType)
}

// FillSimulator computes whether a pending order fills against a bar,
// and at what price, translating greta's DefaultFillSimulator.simulate_fill.
type FillSimulator struct{}

// SimulateFill returns nil, nil if the order does not fill against bar.
// It returns an error only for order types it cannot evaluate.
func (FillSimulator) SimulateFill(intent domain.OrderIntent, bar domain.Bar, cfg FillSimConfig) (*SimulatedFill, error) {
	basePrice, ok, err := basePriceFor(intent, bar, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	fillPrice := applySlippage(basePrice, intent.Side, cfg.SlippageBps)
	notional := fillPrice.Mul(intent.Qty)
	commission := commissionFor(notional, cfg)
	slippageAmount := fillPrice.Sub(basePrice).Abs().Mul(intent.Qty)

	return &SimulatedFill{
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Qty:        intent.Qty,
		FillPrice:  fillPrice,
		Commission: commission,
		Slippage:   slippageAmount,
	}, nil
}

func basePriceFor(intent domain.OrderIntent, bar domain.Bar, cfg FillSimConfig) (decimal.Decimal, bool, error) {
	switch intent.OrderType {
	case domain.OrderMarket:
		return marketPrice(bar, cfg.FillAt), true, nil
	case domain.OrderLimit:
		if intent.LimitPrice == nil {
			return decimal.Zero, false, nil
		}
		limit := *intent.LimitPrice
		if intent.Side == domain.SideBuy {
			if bar.Low.LessThanOrEqual(limit) {
				return limit, true, nil
			}
			return decimal.Zero, false, nil
		}
		if bar.High.GreaterThanOrEqual(limit) {
			return limit, true, nil
		}
		return decimal.Zero, false, nil
	case domain.OrderStop:
		if intent.StopPrice == nil {
			return decimal.Zero, false, nil
		}
		stop := *intent.StopPrice
		if intent.Side == domain.SideBuy {
			if bar.High.GreaterThanOrEqual(stop) {
				return stop, true, nil
			}
			return decimal.Zero, false, nil
		}
		if bar.Low.LessThanOrEqual(stop) {
			return stop, true, nil
		}
		return decimal.Zero, false, nil
	case domain.OrderStopLimit:
		return decimal.Zero, false, &unsupportedOrderType{OrderType: intent.OrderType}
	default:
		return decimal.Zero, false, &unsupportedOrderType{OrderType: intent.OrderType}
	}
}

func marketPrice(bar domain.Bar, fillAt FillAt) decimal.Decimal {
	switch fillAt {
	case FillAtClose:
		return bar.Close
	case FillAtVWAP:
		return bar.High.Add(bar.Low).Add(bar.Close).Div(decimal.NewFromInt(3))
	default:
		return bar.Open
	}
}

// applySlippage moves price against the trader: buys pay more, sells
// receive less.
func applySlippage(price decimal.Decimal, side domain.OrderSide, bps decimal.Decimal) decimal.Decimal {
	factor := bps.Div(decimal.NewFromInt(10000))
	if side == domain.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(factor))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(factor))
}

func commissionFor(notional decimal.Decimal, cfg FillSimConfig) decimal.Decimal {
	bpsCommission := notional.Mul(cfg.CommissionBps).Div(decimal.NewFromInt(10000))
	return decimal.Max(cfg.MinCommission, bpsCommission)
}

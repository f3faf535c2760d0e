// Package strategy holds the strategies shipped alongside the core and
// the registry that binds a strategy_id to one of them.
package strategy

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/5TFG4/weaver/clock"
	"github.com/5TFG4/weaver/domain"
	"github.com/5TFG4/weaver/runner"
)

// SMAConfig configures SMAStrategy. FastPeriod must be smaller than
// SlowPeriod, mirroring the original's __post_init__ validation.
type SMAConfig struct {
	FastPeriod int
	SlowPeriod int
	Qty        decimal.Decimal
}

// DefaultSMAConfig matches the original's dataclass defaults.
func DefaultSMAConfig() SMAConfig {
	return SMAConfig{FastPeriod: 5, SlowPeriod: 20, Qty: decimal.NewFromInt(1)}
}

// SMAStrategy buys on a bullish fast/slow SMA crossover and sells on a
// bearish one, holding at most one open position per run at a time.
type SMAStrategy struct {
	cfg SMAConfig

	symbols     []string
	prevAbove   *bool
	hasPosition bool
}

func NewSMAStrategy(cfg SMAConfig) (*SMAStrategy, error) {
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("strategy: fast_period (%d) must be less than slow_period (%d)", cfg.FastPeriod, cfg.SlowPeriod)
	}
	return &SMAStrategy{cfg: cfg}, nil
}

func (s *SMAStrategy) Name() string { return "sma-crossover" }

func (s *SMAStrategy) Initialize(symbols []string) error {
	s.symbols = symbols
	return nil
}

// OnTick always requests a window large enough to compute both SMAs,
// per the original's slow_period+1 lookback.
func (s *SMAStrategy) OnTick(tick clock.Tick) ([]runner.Action, error) {
	symbol := "BTC/USD"
	if len(s.symbols) > 0 {
		symbol = s.symbols[0]
	}
	return []runner.Action{runner.FetchWindowAction{Symbol: symbol, Lookback: s.cfg.SlowPeriod + 1}}, nil
}

// OnData works on a data.WindowReady payload as a generic map, the way
// the original treats its "data: dict" argument. A map (an envelope read
// back from the log) is used as is; a typed payload such as the
// domain.WindowReadyPayload delivered in-process is converted to the
// same map through a JSON round trip.
func (s *SMAStrategy) OnData(payload any) ([]runner.Action, error) {
	data, ok := payload.(map[string]any)
	if !ok {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, nil
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, nil
		}
	}
	rawBars, _ := data["bars"].([]any)
	symbol, _ := data["symbol"].(string)
	if symbol == "" && len(s.symbols) > 0 {
		symbol = s.symbols[0]
	}

	if len(rawBars) < s.cfg.SlowPeriod {
		return nil, nil
	}

	closes := extractCloses(rawBars)
	fastSMA := smaOf(closes, s.cfg.FastPeriod)
	slowSMA := smaOf(closes, s.cfg.SlowPeriod)
	fastAboveSlow := fastSMA.GreaterThan(slowSMA)

	actions := s.checkCrossover(fastAboveSlow, symbol)
	s.prevAbove = &fastAboveSlow
	return actions, nil
}

func (s *SMAStrategy) checkCrossover(fastAboveSlow bool, symbol string) []runner.Action {
	if s.prevAbove == nil {
		return nil
	}
	switch {
	case fastAboveSlow && !*s.prevAbove:
		if !s.hasPosition {
			s.hasPosition = true
			return []runner.Action{runner.PlaceOrderAction{Symbol: symbol, Side: domain.SideBuy, Qty: s.cfg.Qty, OrderType: domain.OrderMarket}}
		}
	case !fastAboveSlow && *s.prevAbove:
		if s.hasPosition {
			s.hasPosition = false
			return []runner.Action{runner.PlaceOrderAction{Symbol: symbol, Side: domain.SideSell, Qty: s.cfg.Qty, OrderType: domain.OrderMarket}}
		}
	}
	return nil
}

func extractCloses(bars []any) []decimal.Decimal {
	closes := make([]decimal.Decimal, 0, len(bars))
	for _, raw := range bars {
		bar, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch c := bar["close"].(type) {
		case string:
			if d, err := decimal.NewFromString(c); err == nil {
				closes = append(closes, d)
			}
		case float64:
			closes = append(closes, decimal.NewFromFloat(c))
		}
	}
	return closes
}

// smaOf averages the last period values, or all of them if fewer exist,
// matching the original's graceful-degradation behavior.
func smaOf(values []decimal.Decimal, period int) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	window := values
	if len(values) >= period {
		window = values[len(values)-period:]
	}
	sum := decimal.Zero
	for _, v := range window {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(window))))
}

package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/5TFG4/weaver/domain"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Ts     time.Time
	Equity decimal.Decimal
}

// BacktestStats mirrors greta's BacktestStats dataclass. Sharpe and
// Sortino are pointers because they are undefined (not just zero) when
// the sample is too small or stdev is zero; ProfitFactor is a pointer
// for the analogous "no losing trades" undefined case.
type BacktestStats struct {
	TotalReturn     decimal.Decimal
	TotalReturnPct  decimal.Decimal
	MaxDrawdown     decimal.Decimal
	MaxDrawdownPct  decimal.Decimal
	SharpeRatio     *decimal.Decimal
	SortinoRatio    *decimal.Decimal
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRate         decimal.Decimal
	AvgWin          decimal.Decimal
	AvgLoss         decimal.Decimal
	ProfitFactor    *decimal.Decimal
	TotalBars       int
	TotalCommission decimal.Decimal
	TotalSlippage   decimal.Decimal
}

// computeStats derives BacktestStats from a run's fills and equity
// curve, translating greta's _calculate_stats/_compute_trade_stats/
// _compute_risk_metrics into Go. initialCash and finalEquity drive the
// return calculation; math.Sqrt is used for stdev because no example
// repo in the pack imports a statistics library.
func computeStats(fills []SimulatedFill, curve []EquityPoint, initialCash, finalEquity decimal.Decimal) BacktestStats {
	stats := BacktestStats{
		TotalTrades: len(fills),
		TotalBars:   len(curve),
	}
	if len(curve) == 0 {
		return stats
	}

	stats.TotalReturn = finalEquity.Sub(initialCash)
	if initialCash.IsPositive() {
		stats.TotalReturnPct = stats.TotalReturn.Div(initialCash).Mul(decimal.NewFromInt(100))
	}

	for _, f := range fills {
		stats.TotalCommission = stats.TotalCommission.Add(f.Commission)
		stats.TotalSlippage = stats.TotalSlippage.Add(f.Slippage)
	}

	computeTradeStats(&stats, fills)
	computeRiskMetrics(&stats, curve)
	return stats
}

// openLot is an unconsumed (or partially consumed) entry fill sitting
// in a symbol's FIFO queue. qty and commission shrink together as the
// lot is matched against opposing fills, so commission/qty stays the
// per-unit commission rate the lot was opened at.
type openLot struct {
	side       domain.OrderSide
	qty        decimal.Decimal
	price      decimal.Decimal
	commission decimal.Decimal
}

// computeTradeStats pairs fills per symbol via FIFO queues: a fill on
// the same side as the queue's current direction opens (or adds to) a
// lot; a fill on the opposite side consumes the oldest lots first,
// splitting a lot's remaining quantity when the opposing fill is
// smaller, and opening a new lot on the flipped side with whatever
// quantity is left over once the queue empties.
func computeTradeStats(stats *BacktestStats, fills []SimulatedFill) {
	bySymbol := make(map[string][]SimulatedFill)
	for _, f := range fills {
		bySymbol[f.Symbol] = append(bySymbol[f.Symbol], f)
	}

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	var wins, losses int

	for _, symbolFills := range bySymbol {
		var queue []openLot
		for _, f := range symbolFills {
			if f.Qty.IsZero() {
				continue
			}
			commissionPerUnit := f.Commission.Div(f.Qty)
			remaining := f.Qty

			for remaining.IsPositive() && len(queue) > 0 && queue[0].side != f.Side {
				entry := &queue[0]
				matched := decimal.Min(entry.qty, remaining)
				entryCommissionPerUnit := entry.commission.Div(entry.qty)

				var pnl decimal.Decimal
				if entry.side == domain.SideBuy {
					pnl = f.FillPrice.Sub(entry.price).Mul(matched)
				} else {
					pnl = entry.price.Sub(f.FillPrice).Mul(matched)
				}
				pnl = pnl.Sub(entryCommissionPerUnit.Mul(matched)).Sub(commissionPerUnit.Mul(matched))

				switch {
				case pnl.IsPositive():
					stats.WinningTrades++
					grossProfit = grossProfit.Add(pnl)
					wins++
				case pnl.IsNegative():
					stats.LosingTrades++
					grossLoss = grossLoss.Add(pnl.Abs())
					losses++
				}

				entry.qty = entry.qty.Sub(matched)
				entry.commission = entry.commission.Sub(entryCommissionPerUnit.Mul(matched))
				remaining = remaining.Sub(matched)
				if entry.qty.IsZero() {
					queue = queue[1:]
				}
			}

			if remaining.IsPositive() {
				queue = append(queue, openLot{
					side:       f.Side,
					qty:        remaining,
					price:      f.FillPrice,
					commission: commissionPerUnit.Mul(remaining),
				})
			}
		}
	}

	totalRoundTrips := stats.WinningTrades + stats.LosingTrades
	if totalRoundTrips > 0 {
		stats.WinRate = decimal.NewFromInt(int64(stats.WinningTrades)).
			Div(decimal.NewFromInt(int64(totalRoundTrips))).
			Mul(decimal.NewFromInt(100))
	}
	if wins > 0 {
		stats.AvgWin = grossProfit.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		stats.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(losses)))
	}
	if grossLoss.IsPositive() {
		pf := grossProfit.Div(grossLoss)
		stats.ProfitFactor = &pf
	}
}

func computeRiskMetrics(stats *BacktestStats, curve []EquityPoint) {
	if len(curve) < 2 {
		return
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		curr := curve[i].Equity
		if prev.IsZero() {
			continue
		}
		ret := curr.Sub(prev).Div(prev.Abs())
		f, _ := ret.Float64()
		returns = append(returns, f)
	}
	if len(returns) == 0 {
		return
	}

	mean := meanOf(returns)
	std := stdevOf(returns, mean)
	if std > 0 {
		sharpe := decimal.NewFromFloat(mean / std)
		stats.SharpeRatio = &sharpe
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) > 0 {
		downsideStd := math.Sqrt(sumSquares(downside) / float64(len(downside)))
		if downsideStd > 0 {
			sortino := decimal.NewFromFloat(mean / downsideStd)
			stats.SortinoRatio = &sortino
		}
	}

	peak := curve[0].Equity
	maxDD := decimal.Zero
	for _, pt := range curve {
		if pt.Equity.GreaterThan(peak) {
			peak = pt.Equity
		}
		dd := pt.Equity.Sub(peak)
		if dd.LessThan(maxDD) {
			maxDD = dd
		}
	}
	stats.MaxDrawdown = maxDD
	if peak.IsPositive() {
		stats.MaxDrawdownPct = maxDD.Div(peak).Mul(decimal.NewFromInt(100))
	}
}

func meanOf(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdevOf(xs []float64, mean float64) float64 {
	return math.Sqrt(sumSquares(shiftBy(xs, mean)) / float64(len(xs)))
}

func shiftBy(xs []float64, mean float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x - mean
	}
	return out
}

func sumSquares(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x * x
	}
	return sum
}

// Package valuation marks positions to market and aggregates account P&L.
package valuation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/riskdesk/risk-engine/internal/marketdata"
	"github.com/riskdesk/risk-engine/internal/metrics"
	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/store"
)

// PriceResolver returns the latest price for an instrument; ok is false
// when no observation exists. marketdata.Chain satisfies it.
type PriceResolver interface {
	Latest(ctx context.Context, ref marketdata.Ref) (decimal.Decimal, bool, error)
}

// Engine values positions against the latest available prices. It holds no
// state between calls.
type Engine struct {
	st     store.Store
	prices PriceResolver
}

// NewEngine creates a valuation engine. A nil resolver prices from the store.
func NewEngine(st store.Store, prices PriceResolver) *Engine {
	if prices == nil {
		prices = marketdata.Chain{marketdata.NewStoreSource(st)}
	}
	return &Engine{st: st, prices: prices}
}

// ValuePosition returns the unrealized and realized P&L of one position.
// A nil price is resolved from the latest observation; with no observation
// the position is marked at its average cost. Realized P&L is always zero:
// there is no lot accounting.
func (e *Engine) ValuePosition(ctx context.Context, pos model.Position, price *decimal.Decimal) (unrealized, realized decimal.Decimal, err error) {
	var mark decimal.Decimal
	if price != nil {
		mark = *price
	} else {
		p, ok, err := e.resolve(ctx, pos)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		if ok {
			mark = p
		} else {
			mark = pos.AverageCost
		}
	}
	return unrealizedPnL(pos, mark), decimal.Zero, nil
}

// ValuePortfolio aggregates P&L and market value over an account's
// positions. Positions without a price add nothing to portfolio value and
// zero to unrealized P&L.
func (e *Engine) ValuePortfolio(ctx context.Context, accountID string) (model.PortfolioPnL, error) {
	out := model.PortfolioPnL{
		AccountID:      accountID,
		UnrealizedPnL:  decimal.Zero,
		RealizedPnL:    decimal.Zero,
		TotalPnL:       decimal.Zero,
		PortfolioValue: decimal.Zero,
	}

	positions, err := e.positions(ctx, accountID)
	if err != nil {
		return out, err
	}

	for _, pos := range positions {
		price, ok, err := e.resolve(ctx, pos)
		if err != nil {
			return out, err
		}
		out.Positions++
		if !ok {
			out.MissingPrices++
			continue
		}
		out.UnrealizedPnL = out.UnrealizedPnL.Add(unrealizedPnL(pos, price))
		out.PortfolioValue = out.PortfolioValue.Add(price.Mul(pos.Quantity))
	}

	out.TotalPnL = out.UnrealizedPnL.Add(out.RealizedPnL)
	return out, nil
}

// Contributions ranks positions by absolute unrealized P&L. Each entry's
// percentage is its signed share of the summed absolute P&L. limit <= 0
// returns every position.
func (e *Engine) Contributions(ctx context.Context, accountID string, limit int) ([]model.PositionContribution, error) {
	positions, err := e.positions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	out := make([]model.PositionContribution, 0, len(positions))
	gross := decimal.Zero
	for _, pos := range positions {
		pnl, _, err := e.ValuePosition(ctx, pos, nil)
		if err != nil {
			return nil, err
		}
		gross = gross.Add(pnl.Abs())
		out = append(out, model.PositionContribution{
			InstrumentID:  pos.InstrumentID,
			Symbol:        pos.Symbol,
			Quantity:      pos.Quantity,
			UnrealizedPnL: pnl,
		})
	}

	if !gross.IsZero() {
		for i := range out {
			out[i].ContributionPct = out[i].UnrealizedPnL.Div(gross).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UnrealizedPnL.Abs().GreaterThan(out[j].UnrealizedPnL.Abs())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarketValue returns latest price × quantity, falling back to cost basis
// when the instrument has no price. missing reports the fallback.
func (e *Engine) MarketValue(ctx context.Context, pos model.Position) (value decimal.Decimal, missing bool, err error) {
	price, ok, err := e.resolve(ctx, pos)
	if err != nil {
		return decimal.Zero, false, err
	}
	if !ok {
		return pos.CostBasis(), true, nil
	}
	return price.Mul(pos.Quantity), false, nil
}

// Positions returns the account's non-zero positions.
func (e *Engine) Positions(ctx context.Context, accountID string) ([]model.Position, error) {
	return e.positions(ctx, accountID)
}

func (e *Engine) positions(ctx context.Context, accountID string) ([]model.Position, error) {
	all, err := e.st.GetPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load positions for %s: %w: %w", accountID, model.ErrDataUnavailable, err)
	}
	held := all[:0:0]
	for _, p := range all {
		if p.Quantity.IsZero() {
			continue
		}
		held = append(held, p)
	}
	return held, nil
}

func (e *Engine) resolve(ctx context.Context, pos model.Position) (decimal.Decimal, bool, error) {
	price, ok, err := e.prices.Latest(ctx, marketdata.Ref{InstrumentID: pos.InstrumentID, Symbol: pos.Symbol})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("price for %s: %w: %w", pos.InstrumentID, model.ErrDataUnavailable, err)
	}
	if !ok {
		metrics.MissingPrices.Inc()
		slog.Warn("no price observation, using cost basis",
			"account", pos.AccountID, "instrument_id", pos.InstrumentID, "symbol", pos.Symbol)
	}
	return price, ok, nil
}

func unrealizedPnL(pos model.Position, price decimal.Decimal) decimal.Decimal {
	return price.Sub(pos.AverageCost).Mul(pos.Quantity)
}

// Package model defines the core domain types shared across the risk engine.
// All monetary values use shopspring/decimal; never float64 for money.
// Statistical outputs (returns, percentages, volatility) are float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a tradable security. Immutable once created except for
// deactivation.
type Instrument struct {
	ID         string    `json:"id" db:"id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Name       string    `json:"name" db:"name"`
	AssetClass string    `json:"asset_class" db:"asset_class"` // equity, crypto, fx, commodity
	Currency   string    `json:"currency" db:"currency"`
	Exchange   string    `json:"exchange,omitempty" db:"exchange"`
	Active     bool      `json:"active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Price is an append-only price observation. The latest price of an
// instrument is the row with the greatest timestamp.
type Price struct {
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Volume       decimal.Decimal `json:"volume" db:"volume"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// Position is an account's holding in one instrument. Unique per
// (AccountID, InstrumentID).
type Position struct {
	AccountID     string          `json:"account_id" db:"account_id"`
	InstrumentID  string          `json:"instrument_id" db:"instrument_id"`
	Symbol        string          `json:"symbol"`
	AssetClass    string          `json:"asset_class"`
	Currency      string          `json:"currency"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`         // signed: +long, -short
	AverageCost   decimal.Decimal `json:"average_cost" db:"average_cost"` // per unit
	MarketValue   decimal.Decimal `json:"market_value" db:"market_value"` // cached, written by the update path
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// CostBasis returns quantity × average cost.
func (p Position) CostBasis() decimal.Decimal {
	return p.Quantity.Mul(p.AverageCost)
}

// PortfolioValuationRecord is one row of the daily P&L time series.
// Unique per (AccountID, Date); upserted once per day.
type PortfolioValuationRecord struct {
	AccountID      string          `json:"account_id" db:"account_id"`
	Date           time.Time       `json:"date" db:"date"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	TotalPnL       decimal.Decimal `json:"total_pnl" db:"total_pnl"`
	PortfolioValue decimal.Decimal `json:"portfolio_value" db:"portfolio_value"`
}

// RiskMetricsSnapshot is a persisted VaR computation kept for audit and for
// VaR change reporting.
type RiskMetricsSnapshot struct {
	ID                 string          `json:"id" db:"id"`
	AccountID          string          `json:"account_id" db:"account_id"`
	AsOf               time.Time       `json:"as_of" db:"as_of_date"`
	VarHistorical      decimal.Decimal `json:"var_historical" db:"var_historical"`
	VarParametric      decimal.Decimal `json:"var_parametric" db:"var_parametric"`
	VarEWMA            decimal.Decimal `json:"var_ewma" db:"var_ewma"`
	Alpha              float64         `json:"alpha" db:"var_alpha"`
	LookbackDays       int             `json:"lookback_days" db:"var_lookback_days"`
	Volatility         float64         `json:"volatility" db:"portfolio_volatility"`
	DataPoints         int             `json:"data_points" db:"data_points"`
	LargestPositionPct float64         `json:"largest_position_pct" db:"largest_position_pct"`
	NumPositions       int             `json:"num_positions" db:"num_positions"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// VarFor returns the stored dollar VaR for the given method name.
func (s RiskMetricsSnapshot) VarFor(method string) decimal.Decimal {
	switch method {
	case "parametric":
		return s.VarParametric
	case "ewma":
		return s.VarEWMA
	default:
		return s.VarHistorical
	}
}

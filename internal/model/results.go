package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioPnL is the aggregate valuation of one account.
type PortfolioPnL struct {
	AccountID      string          `json:"account_id"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"` // always zero: no lot accounting
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Positions      int             `json:"positions"`
	MissingPrices  int             `json:"missing_prices"`
}

// PositionContribution is one position's share of the account's
// unrealized P&L.
type PositionContribution struct {
	InstrumentID    string          `json:"instrument_id"`
	Symbol          string          `json:"symbol"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	ContributionPct float64         `json:"pnl_contribution_pct"`
}

// VarResult is the output of every VaR estimator. Method-specific fields are
// zero when the estimator does not produce them.
type VarResult struct {
	AccountID       string  `json:"account_id,omitempty"`
	Method          string  `json:"method"`
	VarValue        float64 `json:"var_value"`   // dollars, non-negative
	VarPercent      float64 `json:"var_percent"` // return units (0.02 = 2%)
	ConfidenceLevel float64 `json:"confidence_level"`
	LookbackDays    int     `json:"lookback_days"`
	DataPoints      int     `json:"data_points"`
	PortfolioValue  float64 `json:"portfolio_value"`

	// Insufficient is set when fewer than the minimum number of returns were
	// available. VarValue is then zero and must not be read as "no risk".
	Insufficient bool `json:"insufficient_data"`

	Volatility   float64 `json:"volatility"`
	MeanReturn   float64 `json:"mean_return"`
	ZScore       float64 `json:"z_score"`
	WeightedMean float64 `json:"weighted_mean,omitempty"`
	Lambda       float64 `json:"lambda_decay,omitempty"`
}

// VarChange compares the current VaR with a stored snapshot from DaysBack
// days ago.
type VarChange struct {
	AccountID         string    `json:"account_id"`
	Method            string    `json:"method"`
	CurrentVar        float64   `json:"current_var"`
	PreviousVar       float64   `json:"previous_var"`
	ChangeAbsolute    float64   `json:"change_absolute"`
	ChangePercent     float64   `json:"change_percent"`
	DaysBack          int       `json:"days_back"`
	PreviousAvailable bool      `json:"previous_available"`
	PreviousAsOf      time.Time `json:"previous_as_of,omitempty"`
}

// ExposureGroup is the cost-basis exposure of one asset class, currency or
// sector.
type ExposureGroup struct {
	Group           string          `json:"group"`
	ExposureValue   decimal.Decimal `json:"exposure_value"`
	ExposurePercent float64         `json:"exposure_percent"`
	PositionCount   int             `json:"num_positions"`
}

// WeightedPosition is a position ranked by market value.
type WeightedPosition struct {
	InstrumentID string          `json:"instrument_id"`
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	MarketValue  decimal.Decimal `json:"market_value"`
	Weight       float64         `json:"weight"` // percent of portfolio value
	PriceMissing bool            `json:"price_missing,omitempty"`
}

// ConcentrationMetrics summarises how concentrated a portfolio is.
type ConcentrationMetrics struct {
	LargestPositionPct float64         `json:"largest_position_pct"`
	Top5Pct            float64         `json:"top_5_positions_pct"`
	Top10Pct           float64         `json:"top_10_positions_pct"`
	HerfindahlIndex    float64         `json:"herfindahl_index"`
	TotalPositions     int             `json:"total_positions"`
	PortfolioValue     decimal.Decimal `json:"portfolio_value"`
}

// Concentration is the output of the concentration analysis.
type Concentration struct {
	LargestPositions []WeightedPosition   `json:"largest_positions"`
	Metrics          ConcentrationMetrics `json:"concentration_metrics"`
}

// ExposureSummary bundles every exposure breakdown for one account.
type ExposureSummary struct {
	AssetClass    []ExposureGroup `json:"asset_class_exposure"`
	Currency      []ExposureGroup `json:"currency_exposure"`
	Sector        []ExposureGroup `json:"sector_exposure"`
	Concentration Concentration   `json:"concentration_analysis"`
}

// RiskAlert is raised when a computed figure breaches a configured limit.
type RiskAlert struct {
	AccountID string    `json:"account_id"`
	Kind      string    `json:"kind"` // "var", "concentration", "herfindahl"
	Value     float64   `json:"value"`
	Limit     float64   `json:"limit"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
}

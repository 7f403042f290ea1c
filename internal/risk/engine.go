// Package risk estimates Value-at-Risk for trading accounts and tracks how
// it changes over time.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riskdesk/risk-engine/internal/metrics"
	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/returns"
	"github.com/riskdesk/risk-engine/internal/store"
	"github.com/riskdesk/risk-engine/internal/valuation"
)

// Defaults used when a caller does not specify parameters.
const (
	DefaultAlpha    = 0.99
	DefaultLookback = 250
	DefaultDaysBack = 7
)

// ConcentrationSource supplies concentration figures for risk snapshots.
type ConcentrationSource interface {
	Concentration(ctx context.Context, accountID string, topN int) (model.Concentration, error)
}

// Engine computes VaR for an account from its valuation history and
// current portfolio value. It keeps no per-account state, so concurrent
// calls are independent.
type Engine struct {
	st            store.Store
	valuer        *valuation.Engine
	returns       *returns.Builder
	concentration ConcentrationSource

	// Lambda is the EWMA decay factor.
	Lambda float64
	// Alpha and Lookback are used by Change and the snapshot job.
	Alpha    float64
	Lookback int

	now func() time.Time
}

// NewEngine creates a VaR engine. conc may be nil, in which case snapshots
// carry no concentration figures.
func NewEngine(st store.Store, valuer *valuation.Engine, builder *returns.Builder, conc ConcentrationSource) *Engine {
	return &Engine{
		st:            st,
		valuer:        valuer,
		returns:       builder,
		concentration: conc,
		Lambda:        DefaultLambda,
		Alpha:         DefaultAlpha,
		Lookback:      DefaultLookback,
		now:           time.Now,
	}
}

// WithClock overrides the engine's notion of "now".
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Calculate runs one estimator for the account. Fewer than MinObservations
// returns is not an error: the result has a zero VaR and Insufficient set.
func (e *Engine) Calculate(ctx context.Context, accountID string, method Method, alpha float64, lookbackDays int) (model.VarResult, error) {
	started := time.Now()
	if err := validate(alpha, lookbackDays); err != nil {
		return model.VarResult{}, err
	}
	est, err := NewEstimator(method, e.Lambda)
	if err != nil {
		return model.VarResult{}, err
	}

	series, err := e.returns.Build(ctx, accountID, lookbackDays)
	if err != nil {
		metrics.ObserveVar(string(method), "error", started, 0)
		return model.VarResult{}, err
	}

	var pv float64
	if len(series) >= MinObservations {
		if pv, err = e.portfolioValue(ctx, accountID); err != nil {
			metrics.ObserveVar(string(method), "error", started, 0)
			return model.VarResult{}, err
		}
	}

	res := est.Estimate(series, alpha, pv)
	res.AccountID = accountID
	res.LookbackDays = lookbackDays

	if res.Insufficient {
		metrics.ObserveVar(string(method), "insufficient_data", started, 0)
		slog.Warn("insufficient data for VaR",
			"account", accountID, "method", method, "data_points", res.DataPoints, "min", MinObservations)
		return res, nil
	}
	metrics.ObserveVar(string(method), "ok", started, res.VarValue)
	return res, nil
}

// Change compares the current VaR with the newest snapshot taken at least
// daysBack days ago. Without such a snapshot PreviousAvailable is false and
// the change fields stay zero. A snapshot computed on too few returns, or
// with a different alpha or lookback, is not a baseline.
func (e *Engine) Change(ctx context.Context, accountID string, method Method, daysBack int) (model.VarChange, error) {
	if daysBack <= 0 {
		return model.VarChange{}, fmt.Errorf("%w: days_back must be positive, got %d", ErrInvalidArgument, daysBack)
	}
	current, err := e.Calculate(ctx, accountID, method, e.Alpha, e.Lookback)
	if err != nil {
		return model.VarChange{}, err
	}

	out := model.VarChange{
		AccountID:  accountID,
		Method:     string(method),
		CurrentVar: current.VarValue,
		DaysBack:   daysBack,
	}

	cutoff := e.now().AddDate(0, 0, -daysBack)
	snap, ok, err := e.st.LatestRiskSnapshotBefore(ctx, accountID, cutoff)
	if err != nil {
		return model.VarChange{}, fmt.Errorf("load risk snapshot for %s: %w: %w", accountID, ErrDataUnavailable, err)
	}
	if !ok {
		return out, nil
	}
	if !e.comparable(snap) {
		slog.Info("risk snapshot not usable as VaR baseline",
			"account", accountID, "snapshot", snap.ID, "data_points", snap.DataPoints,
			"alpha", snap.Alpha, "lookback_days", snap.LookbackDays)
		return out, nil
	}

	out.PreviousAvailable = true
	out.PreviousAsOf = snap.AsOf
	out.PreviousVar = snap.VarFor(string(method)).InexactFloat64()
	out.ChangeAbsolute = out.CurrentVar - out.PreviousVar
	if out.PreviousVar != 0 {
		out.ChangePercent = out.ChangeAbsolute / out.PreviousVar * 100
	}
	return out, nil
}

// comparable reports whether snap was computed on a full sample with the
// engine's alpha and lookback.
func (e *Engine) comparable(snap model.RiskMetricsSnapshot) bool {
	if snap.DataPoints < MinObservations {
		return false
	}
	return math.Abs(snap.Alpha-e.Alpha) < 1e-9 && snap.LookbackDays == e.Lookback
}

// Report is every estimator's result for one account plus the
// concentration figures, as of a single point in time.
type Report struct {
	AccountID     string                     `json:"account_id"`
	AsOf          time.Time                  `json:"as_of"`
	Results       map[Method]model.VarResult `json:"var"`
	Concentration model.Concentration        `json:"concentration"`
}

// Report computes all three estimators from one return series and one
// portfolio valuation.
func (e *Engine) Report(ctx context.Context, accountID string, alpha float64, lookbackDays int) (*Report, error) {
	if err := validate(alpha, lookbackDays); err != nil {
		return nil, err
	}
	series, err := e.returns.Build(ctx, accountID, lookbackDays)
	if err != nil {
		return nil, err
	}
	pv, err := e.portfolioValue(ctx, accountID)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		AccountID: accountID,
		AsOf:      e.now().UTC(),
		Results:   make(map[Method]model.VarResult, len(Methods)),
	}
	for _, m := range Methods {
		est, _ := NewEstimator(m, e.Lambda)
		res := est.Estimate(series, alpha, pv)
		res.AccountID = accountID
		res.LookbackDays = lookbackDays
		rep.Results[m] = res
	}

	if e.concentration != nil {
		rep.Concentration, err = e.concentration.Concentration(ctx, accountID, 10)
		if err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// Snapshot computes a Report and persists it as a RiskMetricsSnapshot.
func (e *Engine) Snapshot(ctx context.Context, accountID string, alpha float64, lookbackDays int) (*Report, model.RiskMetricsSnapshot, error) {
	rep, err := e.Report(ctx, accountID, alpha, lookbackDays)
	if err != nil {
		return nil, model.RiskMetricsSnapshot{}, err
	}

	hist := rep.Results[MethodHistorical]
	snap := model.RiskMetricsSnapshot{
		ID:                 uuid.New().String(),
		AccountID:          accountID,
		AsOf:               rep.AsOf,
		VarHistorical:      dollars(hist.VarValue),
		VarParametric:      dollars(rep.Results[MethodParametric].VarValue),
		VarEWMA:            dollars(rep.Results[MethodEWMA].VarValue),
		Alpha:              alpha,
		LookbackDays:       lookbackDays,
		Volatility:         rep.Results[MethodParametric].Volatility,
		DataPoints:         hist.DataPoints,
		LargestPositionPct: rep.Concentration.Metrics.LargestPositionPct,
		NumPositions:       rep.Concentration.Metrics.TotalPositions,
		CreatedAt:          time.Now().UTC(),
	}
	if err := e.st.InsertRiskSnapshot(ctx, &snap); err != nil {
		return nil, model.RiskMetricsSnapshot{}, fmt.Errorf("save risk snapshot for %s: %w: %w", accountID, ErrDataUnavailable, err)
	}

	slog.Info("risk snapshot saved",
		"account", accountID, "var_historical", snap.VarHistorical.String(), "data_points", snap.DataPoints)
	return rep, snap, nil
}

func (e *Engine) portfolioValue(ctx context.Context, accountID string) (float64, error) {
	pnl, err := e.valuer.ValuePortfolio(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return pnl.PortfolioValue.InexactFloat64(), nil
}

func validate(alpha float64, lookbackDays int) error {
	if !(alpha > 0 && alpha < 1) {
		return fmt.Errorf("%w: alpha must be in (0,1), got %v", ErrInvalidArgument, alpha)
	}
	if lookbackDays <= 0 {
		return fmt.Errorf("%w: lookback must be positive, got %d", ErrInvalidArgument, lookbackDays)
	}
	return nil
}

func dollars(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

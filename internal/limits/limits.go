// Package limits checks computed risk figures against configured
// thresholds and turns breaches into alerts.
//
// Three kinds of limit apply to an account:
//   - dollar VaR above VarThreshold
//   - a single position heavier than MaxPositionPct of portfolio value
//   - a Herfindahl index above MaxHHI, or any correlated group (asset
//     class) heavier than MaxGroupPct of cost-basis exposure
//
// A zero threshold disables that check.
package limits

import (
	"errors"
	"fmt"
	"time"

	"github.com/riskdesk/risk-engine/internal/metrics"
	"github.com/riskdesk/risk-engine/internal/model"
)

var (
	// ErrVarLimitExceeded is returned when dollar VaR is above the threshold.
	ErrVarLimitExceeded = errors.New("limits: VaR limit exceeded")

	// ErrConcentrationExceeded is returned when the largest position's
	// weight is above the per-position maximum.
	ErrConcentrationExceeded = errors.New("limits: position concentration limit exceeded")

	// ErrHerfindahlExceeded is returned when the Herfindahl index is above
	// the maximum.
	ErrHerfindahlExceeded = errors.New("limits: herfindahl index limit exceeded")

	// ErrGroupLimitExceeded is returned when one exposure group's share is
	// above the correlated-group maximum.
	ErrGroupLimitExceeded = errors.New("limits: correlated group exposure limit exceeded")
)

// Alert kinds.
const (
	KindVar           = "var"
	KindConcentration = "concentration"
	KindHerfindahl    = "herfindahl"
	KindGroup         = "group"
)

// Checker holds the thresholds.
type Checker struct {
	// VarThreshold is the maximum dollar VaR.
	VarThreshold float64

	// MaxPositionPct is the maximum weight, in percent, of the largest
	// position.
	MaxPositionPct float64

	// MaxHHI is the maximum Herfindahl index (0..1).
	MaxHHI float64

	// MaxGroupPct is the maximum cost-basis share, in percent, of any one
	// exposure group.
	MaxGroupPct float64
}

// NewChecker creates a checker with the given thresholds.
func NewChecker(varThreshold, maxPositionPct, maxHHI, maxGroupPct float64) *Checker {
	return &Checker{
		VarThreshold:   varThreshold,
		MaxPositionPct: maxPositionPct,
		MaxHHI:         maxHHI,
		MaxGroupPct:    maxGroupPct,
	}
}

// CheckVar validates a VaR result. Results flagged as insufficient are
// never in breach.
func (c *Checker) CheckVar(res model.VarResult) error {
	if c.VarThreshold <= 0 || res.Insufficient {
		return nil
	}
	if res.VarValue > c.VarThreshold {
		return ErrVarLimitExceeded
	}
	return nil
}

// CheckConcentration validates concentration metrics.
func (c *Checker) CheckConcentration(m model.ConcentrationMetrics) error {
	if c.MaxPositionPct > 0 && m.LargestPositionPct > c.MaxPositionPct {
		return ErrConcentrationExceeded
	}
	if c.MaxHHI > 0 && m.HerfindahlIndex > c.MaxHHI {
		return ErrHerfindahlExceeded
	}
	return nil
}

// CheckGroups validates that no exposure group is above MaxGroupPct.
func (c *Checker) CheckGroups(groups []model.ExposureGroup) error {
	if c.MaxGroupPct <= 0 {
		return nil
	}
	for _, g := range groups {
		if g.ExposurePercent > c.MaxGroupPct {
			return fmt.Errorf("%w: %s at %.2f%%", ErrGroupLimitExceeded, g.Group, g.ExposurePercent)
		}
	}
	return nil
}

// Alerts runs every check and returns one alert per breach. groups may be
// nil to skip the correlated-group check.
func (c *Checker) Alerts(accountID string, res model.VarResult, m model.ConcentrationMetrics, groups []model.ExposureGroup, now time.Time) []model.RiskAlert {
	var alerts []model.RiskAlert
	raise := func(kind string, value, limit float64, msg string) {
		metrics.RiskAlerts.WithLabelValues(kind).Inc()
		alerts = append(alerts, model.RiskAlert{
			AccountID: accountID,
			Kind:      kind,
			Value:     value,
			Limit:     limit,
			Message:   msg,
			RaisedAt:  now,
		})
	}

	if err := c.CheckVar(res); err != nil {
		raise(KindVar, res.VarValue, c.VarThreshold,
			fmt.Sprintf("%s VaR %.2f above limit %.2f", res.Method, res.VarValue, c.VarThreshold))
	}
	if c.MaxPositionPct > 0 && m.LargestPositionPct > c.MaxPositionPct {
		raise(KindConcentration, m.LargestPositionPct, c.MaxPositionPct,
			fmt.Sprintf("largest position %.2f%% above limit %.2f%%", m.LargestPositionPct, c.MaxPositionPct))
	}
	if c.MaxHHI > 0 && m.HerfindahlIndex > c.MaxHHI {
		raise(KindHerfindahl, m.HerfindahlIndex, c.MaxHHI,
			fmt.Sprintf("herfindahl index %.4f above limit %.4f", m.HerfindahlIndex, c.MaxHHI))
	}
	if c.MaxGroupPct > 0 {
		for _, g := range groups {
			if g.ExposurePercent > c.MaxGroupPct {
				raise(KindGroup, g.ExposurePercent, c.MaxGroupPct,
					fmt.Sprintf("%s exposure %.2f%% above limit %.2f%%", g.Group, g.ExposurePercent, c.MaxGroupPct))
			}
		}
	}
	return alerts
}

// Package returns turns the stored daily valuation series into simple
// percentage returns.
package returns

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/riskdesk/risk-engine/internal/metrics"
	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/store"
)

// Builder loads valuation history and derives return series from it.
type Builder struct {
	st  store.Store
	now func() time.Time
}

// NewBuilder creates a return-series builder reading from st.
func NewBuilder(st store.Store) *Builder {
	return &Builder{st: st, now: time.Now}
}

// WithClock overrides the builder's notion of "now".
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build returns up to lookbackDays simple returns for the account, oldest
// first. The window is [now − (lookbackDays+1) days, now]. Missing days are
// not interpolated: consecutive records are used as they are.
func (b *Builder) Build(ctx context.Context, accountID string, lookbackDays int) ([]float64, error) {
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("%w: lookback must be positive, got %d", model.ErrInvalidArgument, lookbackDays)
	}

	to := b.now()
	from := store.DayOf(to.AddDate(0, 0, -(lookbackDays + 1)))
	records, err := b.History(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}

	r := SimpleReturns(records)
	if len(r) > lookbackDays {
		r = r[len(r)-lookbackDays:]
	}
	return r, nil
}

// History returns the valuation records in [from, to], ascending by date.
func (b *Builder) History(ctx context.Context, accountID string, from, to time.Time) ([]model.PortfolioValuationRecord, error) {
	records, err := b.st.GetValuationHistory(ctx, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load valuation history for %s: %w: %w", accountID, model.ErrDataUnavailable, err)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
	return records, nil
}

// SimpleReturns computes (v_i − v_{i−1}) / v_{i−1} over records already
// sorted by date. Returns whose prior value is zero or negative, or that
// are otherwise non-finite, are dropped, so the result may be shorter than
// len(records)-1.
func SimpleReturns(records []model.PortfolioValuationRecord) []float64 {
	if len(records) < 2 {
		return []float64{}
	}
	out := make([]float64, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		prev := records[i-1].PortfolioValue.InexactFloat64()
		cur := records[i].PortfolioValue.InexactFloat64()
		if prev <= 0 {
			metrics.DroppedReturns.Inc()
			continue
		}
		r := (cur - prev) / prev
		if math.IsNaN(r) || math.IsInf(r, 0) {
			metrics.DroppedReturns.Inc()
			continue
		}
		out = append(out, r)
	}
	return out
}

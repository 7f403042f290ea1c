// Package exposure breaks an account down by asset class, currency and
// sector, and measures how concentrated it is in single names.
package exposure

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/riskdesk/risk-engine/internal/instrument"
	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/valuation"
)

// DefaultTopN is the number of largest positions reported when the caller
// asks for none.
const DefaultTopN = 10

var hundred = decimal.NewFromInt(100)

// Analyzer reads positions and prices through the valuation engine.
type Analyzer struct {
	val *valuation.Engine
}

// NewAnalyzer creates an exposure analyzer.
func NewAnalyzer(val *valuation.Engine) *Analyzer {
	return &Analyzer{val: val}
}

// ByAssetClass returns cost-basis exposure per asset class.
func (a *Analyzer) ByAssetClass(ctx context.Context, accountID string) ([]model.ExposureGroup, error) {
	return a.group(ctx, accountID, func(p model.Position) string { return p.AssetClass })
}

// ByCurrency returns cost-basis exposure per instrument currency.
func (a *Analyzer) ByCurrency(ctx context.Context, accountID string) ([]model.ExposureGroup, error) {
	return a.group(ctx, accountID, func(p model.Position) string { return p.Currency })
}

// BySector returns cost-basis exposure per sector bucket.
func (a *Analyzer) BySector(ctx context.Context, accountID string) ([]model.ExposureGroup, error) {
	return a.group(ctx, accountID, func(p model.Position) string { return instrument.SectorFor(p.AssetClass) })
}

func (a *Analyzer) group(ctx context.Context, accountID string, key func(model.Position) string) ([]model.ExposureGroup, error) {
	positions, err := a.val.Positions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return Group(positions, key), nil
}

// Group sums quantity × average cost per key. Percentages are shares of the
// summed total and are zero when that total is zero. Groups are ordered by
// exposure descending, then by name.
func Group(positions []model.Position, key func(model.Position) string) []model.ExposureGroup {
	byKey := make(map[string]*model.ExposureGroup)
	total := decimal.Zero
	for _, p := range positions {
		if p.Quantity.IsZero() {
			continue
		}
		k := key(p)
		g, ok := byKey[k]
		if !ok {
			g = &model.ExposureGroup{Group: k, ExposureValue: decimal.Zero}
			byKey[k] = g
		}
		cost := p.CostBasis()
		g.ExposureValue = g.ExposureValue.Add(cost)
		g.PositionCount++
		total = total.Add(cost)
	}

	out := make([]model.ExposureGroup, 0, len(byKey))
	for _, g := range byKey {
		if !total.IsZero() {
			g.ExposurePercent = g.ExposureValue.Div(total).Mul(hundred).InexactFloat64()
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].ExposureValue.Cmp(out[j].ExposureValue); c != 0 {
			return c > 0
		}
		return out[i].Group < out[j].Group
	})
	return out
}

// Concentration ranks positions by market value and derives concentration
// statistics. Market value is latest price × quantity, or cost basis when
// the instrument has no price. topN <= 0 means DefaultTopN.
func (a *Analyzer) Concentration(ctx context.Context, accountID string, topN int) (model.Concentration, error) {
	positions, err := a.val.Positions(ctx, accountID)
	if err != nil {
		return model.Concentration{}, err
	}

	ranked := make([]model.WeightedPosition, 0, len(positions))
	for _, p := range positions {
		mv, missing, err := a.val.MarketValue(ctx, p)
		if err != nil {
			return model.Concentration{}, err
		}
		ranked = append(ranked, model.WeightedPosition{
			InstrumentID: p.InstrumentID,
			Symbol:       p.Symbol,
			Quantity:     p.Quantity,
			MarketValue:  mv,
			PriceMissing: missing,
		})
	}
	return Concentrate(ranked, topN), nil
}

// Concentrate weights already-valued positions and computes the
// concentration metrics. The Herfindahl index covers every position, not
// just the returned top N.
func Concentrate(positions []model.WeightedPosition, topN int) model.Concentration {
	if topN <= 0 {
		topN = DefaultTopN
	}
	out := model.Concentration{
		LargestPositions: []model.WeightedPosition{},
		Metrics:          model.ConcentrationMetrics{PortfolioValue: decimal.Zero},
	}
	if len(positions) == 0 {
		return out
	}

	ranked := make([]model.WeightedPosition, len(positions))
	copy(ranked, positions)

	total := decimal.Zero
	for _, p := range ranked {
		total = total.Add(p.MarketValue)
	}
	for i := range ranked {
		if !total.IsZero() {
			ranked[i].Weight = ranked[i].MarketValue.Div(total).Mul(hundred).InexactFloat64()
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].MarketValue.GreaterThan(ranked[j].MarketValue)
	})

	var top5, top10, hhi float64
	for i, p := range ranked {
		if i < 5 {
			top5 += p.Weight
		}
		if i < 10 {
			top10 += p.Weight
		}
		w := p.Weight / 100
		hhi += w * w
	}

	out.Metrics = model.ConcentrationMetrics{
		LargestPositionPct: ranked[0].Weight,
		Top5Pct:            top5,
		Top10Pct:           top10,
		HerfindahlIndex:    hhi,
		TotalPositions:     len(ranked),
		PortfolioValue:     total,
	}
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	out.LargestPositions = ranked
	return out
}

// Summary composes every exposure view for the account.
func (a *Analyzer) Summary(ctx context.Context, accountID string) (model.ExposureSummary, error) {
	positions, err := a.val.Positions(ctx, accountID)
	if err != nil {
		return model.ExposureSummary{}, err
	}
	conc, err := a.Concentration(ctx, accountID, DefaultTopN)
	if err != nil {
		return model.ExposureSummary{}, err
	}
	return model.ExposureSummary{
		AssetClass:    Group(positions, func(p model.Position) string { return p.AssetClass }),
		Currency:      Group(positions, func(p model.Position) string { return p.Currency }),
		Sector:        Group(positions, func(p model.Position) string { return instrument.SectorFor(p.AssetClass) }),
		Concentration: conc,
	}, nil
}

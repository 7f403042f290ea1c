package exposure

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/store"
	"github.com/riskdesk/risk-engine/internal/valuation"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type holding struct {
	id, symbol, class, currency string
	qty, avg, price             string
}

func newAnalyzer(t *testing.T, holdings ...holding) *Analyzer {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	for _, h := range holdings {
		require.NoError(t, st.CreateInstrument(ctx, &model.Instrument{
			ID: h.id, Symbol: h.symbol, AssetClass: h.class, Currency: h.currency, Active: true,
		}))
		require.NoError(t, st.UpsertPosition(ctx, &model.Position{
			AccountID: "acct-1", InstrumentID: h.id, Quantity: d(h.qty), AverageCost: d(h.avg),
		}))
		if h.price != "" {
			require.NoError(t, st.InsertPrice(ctx, &model.Price{
				InstrumentID: h.id, Price: d(h.price), Timestamp: time.Now(),
			}))
		}
	}
	return NewAnalyzer(valuation.NewEngine(st, nil))
}

// mixedBook holds cost bases AAPL 15000, MSFT 4000, BTC 30000 (unpriced)
// and EUR/USD 1000.
func mixedBook(t *testing.T) *Analyzer {
	return newAnalyzer(t,
		holding{"i1", "AAPL", "equity", "USD", "100", "150", "155"},
		holding{"i2", "MSFT", "equity", "USD", "10", "400", "420"},
		holding{"i3", "BTC/USDT", "crypto", "USDT", "1", "30000", ""},
		holding{"i4", "EUR/USD", "fx", "USD", "1000", "1", "1.1"},
	)
}

func TestByAssetClass(t *testing.T) {
	groups, err := mixedBook(t).ByAssetClass(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, "crypto", groups[0].Group)
	assert.True(t, groups[0].ExposureValue.Equal(d("30000")))
	assert.InDelta(t, 60.0, groups[0].ExposurePercent, 1e-9)

	assert.Equal(t, "equity", groups[1].Group)
	assert.True(t, groups[1].ExposureValue.Equal(d("19000")))
	assert.Equal(t, 2, groups[1].PositionCount)
	assert.InDelta(t, 38.0, groups[1].ExposurePercent, 1e-9)

	assert.Equal(t, "fx", groups[2].Group)
	assert.InDelta(t, 2.0, groups[2].ExposurePercent, 1e-9)
}

func TestByCurrency(t *testing.T) {
	groups, err := mixedBook(t).ByCurrency(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "USDT", groups[0].Group)
	assert.Equal(t, "USD", groups[1].Group)
	assert.Equal(t, 3, groups[1].PositionCount)

	var sum float64
	for _, g := range groups {
		sum += g.ExposurePercent
	}
	assert.InDelta(t, 100.0, sum, 1e-9)
}

func TestBySector(t *testing.T) {
	groups, err := mixedBook(t).BySector(context.Background(), "acct-1")
	require.NoError(t, err)
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Group)
	}
	assert.Equal(t, []string{"Digital Assets", "Technology", "Foreign Exchange"}, names)
}

func TestGroup_ZeroTotal(t *testing.T) {
	groups := Group([]model.Position{
		{AssetClass: "equity", Quantity: d("10"), AverageCost: d("100")},
		{AssetClass: "equity", Quantity: d("-10"), AverageCost: d("100")},
	}, func(p model.Position) string { return p.AssetClass })

	require.Len(t, groups, 1)
	assert.True(t, groups[0].ExposureValue.IsZero())
	assert.Zero(t, groups[0].ExposurePercent)
}

func TestGroup_SkipsZeroQuantity(t *testing.T) {
	groups := Group([]model.Position{
		{Currency: "USD", Quantity: d("0"), AverageCost: d("100")},
	}, func(p model.Position) string { return p.Currency })
	assert.Empty(t, groups)
}

func TestConcentration(t *testing.T) {
	c, err := mixedBook(t).Concentration(context.Background(), "acct-1", 2)
	require.NoError(t, err)

	// Market values: BTC 30000 (cost fallback), AAPL 15500, MSFT 4200, EUR 1100.
	m := c.Metrics
	assert.True(t, m.PortfolioValue.Equal(d("50800")), "portfolio value %s", m.PortfolioValue)
	assert.Equal(t, 4, m.TotalPositions)
	require.Len(t, c.LargestPositions, 2)
	assert.Equal(t, "BTC/USDT", c.LargestPositions[0].Symbol)
	assert.True(t, c.LargestPositions[0].PriceMissing)
	assert.Equal(t, "AAPL", c.LargestPositions[1].Symbol)

	assert.InDelta(t, 30000.0/50800*100, m.LargestPositionPct, 1e-9)
	assert.InDelta(t, 100.0, m.Top5Pct, 1e-9)
	assert.InDelta(t, 100.0, m.Top10Pct, 1e-9)

	var hhi float64
	for _, v := range []float64{30000, 15500, 4200, 1100} {
		w := v / 50800
		hhi += w * w
	}
	assert.InDelta(t, hhi, m.HerfindahlIndex, 1e-9)
}

func TestConcentration_Invariants(t *testing.T) {
	var positions []model.WeightedPosition
	for i := 1; i <= 15; i++ {
		positions = append(positions, model.WeightedPosition{
			Symbol:      fmt.Sprintf("S%02d", i),
			MarketValue: decimal.NewFromInt(int64(i * i * 100)),
		})
	}
	m := Concentrate(positions, 0).Metrics

	const eps = 1e-9
	assert.GreaterOrEqual(t, m.LargestPositionPct, 0.0)
	assert.LessOrEqual(t, m.LargestPositionPct, m.Top5Pct+eps)
	assert.LessOrEqual(t, m.Top5Pct, m.Top10Pct+eps)
	assert.LessOrEqual(t, m.Top10Pct, 100+eps)
	assert.GreaterOrEqual(t, m.HerfindahlIndex, 1.0/15-eps)
	assert.LessOrEqual(t, m.HerfindahlIndex, 1+eps)
}

func TestConcentration_EqualWeights(t *testing.T) {
	for _, n := range []int{1, 2, 4, 5, 8} {
		positions := make([]model.WeightedPosition, n)
		for i := range positions {
			positions[i].MarketValue = decimal.NewFromInt(2500)
		}
		m := Concentrate(positions, 10).Metrics
		assert.InDelta(t, 1/float64(n), m.HerfindahlIndex, 1e-12, "n=%d", n)
	}
}

func TestConcentration_DefaultTopN(t *testing.T) {
	positions := make([]model.WeightedPosition, 12)
	for i := range positions {
		positions[i].MarketValue = decimal.NewFromInt(int64(i + 1))
	}
	c := Concentrate(positions, 0)
	assert.Len(t, c.LargestPositions, DefaultTopN)
	assert.Equal(t, 12, c.Metrics.TotalPositions)
	assert.True(t, c.LargestPositions[0].MarketValue.Equal(decimal.NewFromInt(12)))
}

func TestConcentration_Empty(t *testing.T) {
	c, err := newAnalyzer(t).Concentration(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	assert.NotNil(t, c.LargestPositions)
	assert.Empty(t, c.LargestPositions)
	assert.Zero(t, c.Metrics.LargestPositionPct)
	assert.Zero(t, c.Metrics.Top5Pct)
	assert.Zero(t, c.Metrics.Top10Pct)
	assert.Zero(t, c.Metrics.HerfindahlIndex)
	assert.Zero(t, c.Metrics.TotalPositions)
	assert.True(t, c.Metrics.PortfolioValue.IsZero())
}

func TestSummary(t *testing.T) {
	s, err := mixedBook(t).Summary(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Len(t, s.AssetClass, 3)
	assert.Len(t, s.Currency, 2)
	assert.Len(t, s.Sector, 3)
	assert.Len(t, s.Concentration.LargestPositions, 4)
}

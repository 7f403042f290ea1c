package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t *testing.T, st *store.MemoryStore, id, symbol string, qty, avg string, price string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateInstrument(ctx, &model.Instrument{
		ID: id, Symbol: symbol, AssetClass: "equity", Currency: "USD", Active: true,
	}))
	require.NoError(t, st.UpsertPosition(ctx, &model.Position{
		AccountID: "acct-1", InstrumentID: id, Quantity: d(qty), AverageCost: d(avg),
	}))
	if price != "" {
		require.NoError(t, st.InsertPrice(ctx, &model.Price{
			InstrumentID: id, Price: d(price), Timestamp: time.Now(),
		}))
	}
}

func TestValuePosition_SuppliedPrice(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), nil)
	pos := model.Position{InstrumentID: "i1", Quantity: d("100"), AverageCost: d("150")}

	cases := map[string]string{
		"160": "1000",
		"140": "-1000",
		"155": "500",
	}
	for price, want := range cases {
		p := d(price)
		unrealized, realized, err := e.ValuePosition(context.Background(), pos, &p)
		require.NoError(t, err)
		assert.True(t, unrealized.Equal(d(want)), "price %s: got %s, want %s", price, unrealized, want)
		assert.True(t, realized.IsZero(), "realized P&L must be zero")
	}
}

func TestValuePosition_ResolvesLatestPrice(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "i1", "AAPL", "100", "150", "160")
	e := NewEngine(st, nil)

	positions, err := st.GetPositions(context.Background(), "acct-1")
	require.NoError(t, err)

	unrealized, _, err := e.ValuePosition(context.Background(), positions[0], nil)
	require.NoError(t, err)
	assert.True(t, unrealized.Equal(d("1000")), "got %s", unrealized)
}

func TestValuePosition_NoPriceUsesCost(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "i1", "AAPL", "100", "150", "")
	e := NewEngine(st, nil)

	positions, _ := st.GetPositions(context.Background(), "acct-1")
	unrealized, _, err := e.ValuePosition(context.Background(), positions[0], nil)
	require.NoError(t, err)
	assert.True(t, unrealized.IsZero(), "got %s", unrealized)
}

func TestValuePortfolio_SinglePosition(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "i1", "AAPL", "100", "150", "155")
	e := NewEngine(st, nil)

	pnl, err := e.ValuePortfolio(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, pnl.PortfolioValue.Equal(d("15500")), "portfolio value %s", pnl.PortfolioValue)
	assert.True(t, pnl.UnrealizedPnL.Equal(d("500")), "unrealized %s", pnl.UnrealizedPnL)
	assert.True(t, pnl.TotalPnL.Equal(d("500")), "total %s", pnl.TotalPnL)
	assert.True(t, pnl.RealizedPnL.IsZero())
	assert.Equal(t, 1, pnl.Positions)
	assert.Equal(t, 0, pnl.MissingPrices)
}

func TestValuePortfolio_MissingPriceContributesNothing(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "i1", "AAPL", "100", "150", "155")
	seed(t, st, "i2", "MSFT", "10", "400", "")
	e := NewEngine(st, nil)

	pnl, err := e.ValuePortfolio(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, pnl.PortfolioValue.Equal(d("15500")), "portfolio value %s", pnl.PortfolioValue)
	assert.True(t, pnl.UnrealizedPnL.Equal(d("500")))
	assert.Equal(t, 2, pnl.Positions)
	assert.Equal(t, 1, pnl.MissingPrices)
}

func TestValuePortfolio_SkipsZeroQuantity(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "i1", "AAPL", "100", "150", "155")
	seed(t, st, "i2", "MSFT", "0", "400", "420")
	e := NewEngine(st, nil)

	pnl, err := e.ValuePortfolio(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pnl.Positions)
	assert.True(t, pnl.PortfolioValue.Equal(d("15500")))
}

func TestValuePortfolio_Empty(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), nil)

	pnl, err := e.ValuePortfolio(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, pnl.PortfolioValue.IsZero())
	assert.True(t, pnl.TotalPnL.IsZero())
	assert.Equal(t, 0, pnl.Positions)
}

func TestValuePortfolio_Idempotent(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "i1", "AAPL", "100", "150", "155")
	seed(t, st, "i2", "TSLA", "-20", "800", "780")
	e := NewEngine(st, nil)

	first, err := e.ValuePortfolio(context.Background(), "acct-1")
	require.NoError(t, err)
	second, err := e.ValuePortfolio(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestContributions(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "i1", "AAPL", "100", "150", "155") // +500
	seed(t, st, "i2", "TSLA", "10", "800", "650")  // -1500
	seed(t, st, "i3", "MSFT", "10", "400", "")     // 0, no price
	e := NewEngine(st, nil)

	out, err := e.Contributions(context.Background(), "acct-1", 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "TSLA", out[0].Symbol)
	assert.Equal(t, "AAPL", out[1].Symbol)
	assert.InDelta(t, -75.0, out[0].ContributionPct, 1e-9)
	assert.InDelta(t, 25.0, out[1].ContributionPct, 1e-9)
	assert.Zero(t, out[2].ContributionPct)

	top, err := e.Contributions(context.Background(), "acct-1", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "TSLA", top[0].Symbol)
}

func TestMarketValue_FallsBackToCost(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "i1", "MSFT", "10", "400", "")
	e := NewEngine(st, nil)

	positions, _ := st.GetPositions(context.Background(), "acct-1")
	mv, missing, err := e.MarketValue(context.Background(), positions[0])
	require.NoError(t, err)
	assert.True(t, missing)
	assert.True(t, mv.Equal(d("4000")))
}

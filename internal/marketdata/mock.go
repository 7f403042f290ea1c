package marketdata

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"
)

// MockSource generates prices as a random walk with normal percentage steps
// from a seeded base price per symbol. Used for demos and local development.
type MockSource struct {
	mu      sync.Mutex
	enabled bool
	last    map[string]float64
	step    distuv.Normal
}

// DefaultMockBases seeds the walk for a handful of common symbols.
var DefaultMockBases = map[string]float64{
	"AAPL":     150,
	"GOOGL":    2500,
	"TSLA":     800,
	"BTC/USDT": 45000,
	"ETH/USDT": 3000,
	"EUR/USD":  1.10,
	"GBP/USD":  1.30,
	"USD/JPY":  110,
}

// NewMockSource creates a mock source. sigma is the per-tick log return
// volatility; bases may be nil.
func NewMockSource(enabled bool, sigma float64, bases map[string]float64) *MockSource {
	last := make(map[string]float64, len(bases))
	for k, v := range bases {
		last[k] = v
	}
	return &MockSource{
		enabled: enabled,
		last:    last,
		step:    distuv.Normal{Mu: 0, Sigma: sigma},
	}
}

func (m *MockSource) Name() string    { return "mock" }
func (m *MockSource) Available() bool { return m.enabled }

// Latest returns the current walk value for the symbol without advancing it.
// Symbols that were never seeded have no price.
func (m *MockSource) Latest(_ context.Context, ref Ref) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.last[ref.Symbol]
	if !ok {
		return decimal.Zero, false, nil
	}
	return decimal.NewFromFloat(v).Round(8), true, nil
}

// Tick advances the walk for a symbol by one step and returns the new
// price. Unknown symbols start at 100.
func (m *MockSource) Tick(symbol string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.last[symbol]
	if !ok {
		v = 100
	}
	v *= 1 + m.step.Rand()
	if v <= 0 {
		v = 0.01
	}
	m.last[symbol] = v
	return decimal.NewFromFloat(v).Round(8)
}

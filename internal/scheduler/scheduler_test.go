package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riskdesk/risk-engine/internal/exposure"
	"github.com/riskdesk/risk-engine/internal/limits"
	"github.com/riskdesk/risk-engine/internal/marketdata"
	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/returns"
	"github.com/riskdesk/risk-engine/internal/risk"
	"github.com/riskdesk/risk-engine/internal/store"
	"github.com/riskdesk/risk-engine/internal/stream"
	"github.com/riskdesk/risk-engine/internal/valuation"
)

var today = time.Date(2024, 6, 30, 23, 30, 0, 0, time.UTC)

type recorder struct {
	mu   sync.Mutex
	msgs []stream.Message
}

func (r *recorder) Publish(_ context.Context, msg stream.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) ofType(typ string) []stream.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []stream.Message
	for _, m := range r.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.CreateInstrument(ctx, &model.Instrument{ID: "i1", Symbol: "AAPL", AssetClass: "equity", Currency: "USD", Active: true})
	st.CreateInstrument(ctx, &model.Instrument{ID: "i2", Symbol: "OLD", AssetClass: "equity", Currency: "USD", Active: false})
	for _, acct := range []string{"acct-1", "acct-2"} {
		if err := st.UpsertPosition(ctx, &model.Position{
			AccountID: acct, InstrumentID: "i1",
			Quantity: decimal.NewFromInt(100), AverageCost: decimal.NewFromInt(150),
		}); err != nil {
			t.Fatal(err)
		}
	}
	st.InsertPrice(ctx, &model.Price{InstrumentID: "i1", Price: decimal.NewFromInt(155), Timestamp: today.Add(-time.Hour)})
	return st
}

func TestValuationJob(t *testing.T) {
	st := seedStore(t)
	rec := &recorder{}
	job := &ValuationJob{
		Store:     st,
		Valuer:    valuation.NewEngine(st, nil),
		Publisher: rec,
		Accounts:  Accounts{Store: st},
		Now:       func() time.Time { return today },
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	// Running twice on the same day replaces the row.
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	for _, acct := range []string{"acct-1", "acct-2"} {
		history, _ := st.GetValuationHistory(context.Background(), acct, store.DayOf(today), today)
		if len(history) != 1 {
			t.Fatalf("%s: expected 1 valuation row, got %d", acct, len(history))
		}
		if !history[0].PortfolioValue.Equal(decimal.NewFromInt(15500)) {
			t.Errorf("%s: expected portfolio value 15500, got %s", acct, history[0].PortfolioValue)
		}
		if !history[0].TotalPnL.Equal(decimal.NewFromInt(500)) {
			t.Errorf("%s: expected total P&L 500, got %s", acct, history[0].TotalPnL)
		}
	}
	if got := len(rec.ofType(stream.TypePnLUpdate)); got != 4 {
		t.Errorf("expected 4 pnl updates, got %d", got)
	}
}

func TestSnapshotJob_RaisesAlerts(t *testing.T) {
	st := seedStore(t)
	ctx := context.Background()
	clock := func() time.Time { return today }

	val := valuation.NewEngine(st, nil)
	analyzer := exposure.NewAnalyzer(val)
	engine := risk.NewEngine(st, val, returns.NewBuilder(st).WithClock(clock), analyzer).WithClock(clock)
	rec := &recorder{}

	job := &SnapshotJob{
		Engine:    engine,
		Exposure:  analyzer,
		Checker:   limits.NewChecker(0, 25, 0.25, 50),
		Publisher: rec,
		Accounts:  Accounts{Store: st, Fixed: []string{"acct-1"}},
		Alpha:     0.99,
		Lookback:  250,
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, ok, _ := st.LatestRiskSnapshotBefore(ctx, "acct-1", today); !ok {
		t.Fatal("expected a stored snapshot")
	}
	if _, ok, _ := st.LatestRiskSnapshotBefore(ctx, "acct-2", today); ok {
		t.Error("acct-2 is not in the fixed account list")
	}

	// One position: 100% weight, HHI 1, asset class 100%.
	alerts := rec.ofType(stream.TypeRiskAlert)
	if len(alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(alerts))
	}
	kinds := map[string]bool{}
	for _, m := range alerts {
		kinds[m.Data.(model.RiskAlert).Kind] = true
	}
	for _, k := range []string{limits.KindConcentration, limits.KindHerfindahl, limits.KindGroup} {
		if !kinds[k] {
			t.Errorf("missing %s alert", k)
		}
	}
}

func TestPriceJob(t *testing.T) {
	st := seedStore(t)
	rec := &recorder{}
	job := &PriceJob{
		Store:     st,
		Mock:      marketdata.NewMockSource(true, 0, map[string]float64{"AAPL": 160}),
		Publisher: rec,
		Now:       func() time.Time { return today },
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	p, ok, _ := st.LatestPrice(context.Background(), "i1")
	if !ok || !p.Price.Equal(decimal.NewFromInt(160)) {
		t.Errorf("expected mock price 160, got %s", p.Price)
	}
	if _, ok, _ := st.LatestPrice(context.Background(), "i2"); ok {
		t.Error("inactive instrument should not be priced")
	}
	if got := len(rec.ofType(stream.TypePriceUpdate)); got != 1 {
		t.Errorf("expected 1 price update, got %d", got)
	}
}

func TestPriceJob_DisabledMock(t *testing.T) {
	st := seedStore(t)
	job := &PriceJob{Store: st, Mock: marketdata.NewMockSource(false, 0.01, nil)}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	p, _, _ := st.LatestPrice(context.Background(), "i1")
	if !p.Price.Equal(decimal.NewFromInt(155)) {
		t.Errorf("price should be untouched, got %s", p.Price)
	}
}

type failingJob struct{ runs int }

func (f *failingJob) Name() string { return "failing" }
func (f *failingJob) Run(context.Context) error {
	f.runs++
	return errors.New("boom")
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(context.Background())
	job := &failingJob{}
	if err := s.RunNow(job); err == nil {
		t.Error("expected job error to be returned")
	}
	if job.runs != 1 {
		t.Errorf("expected 1 run, got %d", job.runs)
	}
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(context.Background())
	if err := s.AddJob("@every 1h", &failingJob{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := s.AddJob("not a schedule", &failingJob{}); err == nil {
		t.Error("expected invalid schedule to be rejected")
	}
	s.Start()
	s.Stop()
}

func TestForEachAccount_IsolatesFailures(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	err := forEachAccount(context.Background(), []string{"a", "b", "c"}, func(_ context.Context, id string) error {
		mu.Lock()
		seen[id] = true
		mu.Unlock()
		if id == "b" {
			return errors.New("bad account")
		}
		return nil
	})
	if err == nil {
		t.Error("expected the failure to be reported")
	}
	if len(seen) != 3 {
		t.Errorf("expected every account to run, got %v", seen)
	}
}

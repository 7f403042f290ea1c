package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riskdesk/risk-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedInstrument(t *testing.T, s *MemoryStore, id, symbol string) {
	t.Helper()
	if err := s.CreateInstrument(context.Background(), &model.Instrument{
		ID: id, Symbol: symbol, AssetClass: "equity", Currency: "USD", Active: true,
	}); err != nil {
		t.Fatalf("failed to seed instrument: %v", err)
	}
}

func TestInstruments(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedInstrument(t, s, "i2", "MSFT")
	seedInstrument(t, s, "i1", "AAPL")

	if err := s.CreateInstrument(ctx, &model.Instrument{ID: "i3", Symbol: "AAPL"}); err == nil {
		t.Error("expected duplicate symbol to be rejected")
	}

	list, _ := s.ListInstruments(ctx)
	if len(list) != 2 || list[0].Symbol != "AAPL" {
		t.Errorf("expected instruments ordered by symbol, got %+v", list)
	}

	if err := s.DeactivateInstrument(ctx, "i1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	inst, err := s.GetInstrument(ctx, "i1")
	if err != nil || inst.Active {
		t.Errorf("expected inactive instrument, got %+v err=%v", inst, err)
	}

	if _, err := s.GetInstrument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestPrice(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedInstrument(t, s, "i1", "AAPL")

	if _, ok, _ := s.LatestPrice(ctx, "i1"); ok {
		t.Fatal("expected no price before insert")
	}

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s.InsertPrice(ctx, &model.Price{InstrumentID: "i1", Price: d(150), Timestamp: base.Add(2 * time.Hour)})
	s.InsertPrice(ctx, &model.Price{InstrumentID: "i1", Price: d(140), Timestamp: base}) // late arrival, older
	s.InsertPrice(ctx, &model.Price{InstrumentID: "i1", Price: d(155), Timestamp: base.Add(2 * time.Hour)})

	p, ok, err := s.LatestPrice(ctx, "i1")
	if err != nil || !ok {
		t.Fatalf("expected price, got ok=%v err=%v", ok, err)
	}
	if !p.Price.Equal(d(155)) {
		t.Errorf("expected 155 (later insert wins a timestamp tie), got %s", p.Price)
	}

	if err := s.InsertPrice(ctx, &model.Price{InstrumentID: "missing", Price: d(1)}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown instrument, got %v", err)
	}
}

func TestPositions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedInstrument(t, s, "i1", "MSFT")
	seedInstrument(t, s, "i2", "AAPL")

	s.UpsertPosition(ctx, &model.Position{AccountID: "a", InstrumentID: "i1", Quantity: d(10), AverageCost: d(400)})
	s.UpsertPosition(ctx, &model.Position{AccountID: "a", InstrumentID: "i2", Quantity: d(5), AverageCost: d(150)})
	s.UpsertPosition(ctx, &model.Position{AccountID: "a", InstrumentID: "i2", Quantity: d(7), AverageCost: d(152)})
	s.UpsertPosition(ctx, &model.Position{AccountID: "b", InstrumentID: "i1", Quantity: d(1), AverageCost: d(400)})

	positions, err := s.GetPositions(ctx, "a")
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions (upsert replaces), got %d", len(positions))
	}
	if positions[0].Symbol != "AAPL" || !positions[0].Quantity.Equal(d(7)) {
		t.Errorf("unexpected first position %+v", positions[0])
	}
	if positions[1].AssetClass != "equity" || positions[1].Currency != "USD" {
		t.Errorf("expected instrument metadata joined, got %+v", positions[1])
	}

	accounts, _ := s.ListAccounts(ctx)
	if len(accounts) != 2 || accounts[0] != "a" || accounts[1] != "b" {
		t.Errorf("unexpected accounts %v", accounts)
	}
}

func TestValuationHistory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	for _, offset := range []int{3, 0, 1} {
		s.UpsertValuation(ctx, &model.PortfolioValuationRecord{
			AccountID: "a", Date: day.AddDate(0, 0, offset).Add(15 * time.Hour), PortfolioValue: d(100),
		})
	}
	// Same day again: replaces rather than appends.
	s.UpsertValuation(ctx, &model.PortfolioValuationRecord{AccountID: "a", Date: day, PortfolioValue: d(200)})

	records, _ := s.GetValuationHistory(ctx, "a", day, day.AddDate(0, 0, 1))
	if len(records) != 2 {
		t.Fatalf("expected 2 records in range, got %d", len(records))
	}
	if !records[0].Date.Equal(day) || !records[0].PortfolioValue.Equal(d(200)) {
		t.Errorf("unexpected first record %+v", records[0])
	}
	if !records[1].Date.After(records[0].Date) {
		t.Error("records not ascending")
	}
}

func TestRiskSnapshots(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	for i, days := range []int{0, 5, 10} {
		s.InsertRiskSnapshot(ctx, &model.RiskMetricsSnapshot{
			ID: string(rune('a' + i)), AccountID: "a", AsOf: base.AddDate(0, 0, days),
		})
	}

	if _, ok, _ := s.LatestRiskSnapshotBefore(ctx, "a", base.Add(-time.Second)); ok {
		t.Error("expected no snapshot before the first")
	}
	snap, ok, _ := s.LatestRiskSnapshotBefore(ctx, "a", base.AddDate(0, 0, 7))
	if !ok || snap.ID != "b" {
		t.Errorf("expected snapshot b, got %+v ok=%v", snap, ok)
	}
	snap, _, _ = s.LatestRiskSnapshotBefore(ctx, "a", base.AddDate(0, 0, 10))
	if snap.ID != "c" {
		t.Errorf("expected boundary snapshot c, got %s", snap.ID)
	}
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	got := DayOf(time.Date(2024, 6, 10, 2, 0, 0, 0, loc))
	want := time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

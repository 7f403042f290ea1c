package returns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/store"
)

var today = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func record(daysAgo int, value string) model.PortfolioValuationRecord {
	return model.PortfolioValuationRecord{
		AccountID:      "acct-1",
		Date:           store.DayOf(today.AddDate(0, 0, -daysAgo)),
		PortfolioValue: decimal.RequireFromString(value),
	}
}

func builder(t *testing.T, records ...model.PortfolioValuationRecord) *Builder {
	t.Helper()
	st := store.NewMemoryStore()
	for i := range records {
		require.NoError(t, st.UpsertValuation(context.Background(), &records[i]))
	}
	return NewBuilder(st).WithClock(func() time.Time { return today })
}

func TestSimpleReturns(t *testing.T) {
	got := SimpleReturns([]model.PortfolioValuationRecord{
		record(2, "100"), record(1, "110"), record(0, "99"),
	})
	require.Len(t, got, 2)
	assert.InDelta(t, 0.10, got[0], 1e-12)
	assert.InDelta(t, -0.10, got[1], 1e-12)
}

func TestSimpleReturns_TooFewRecords(t *testing.T) {
	assert.Empty(t, SimpleReturns(nil))
	assert.Empty(t, SimpleReturns([]model.PortfolioValuationRecord{record(0, "100")}))
}

func TestSimpleReturns_DropsNonPositivePrior(t *testing.T) {
	got := SimpleReturns([]model.PortfolioValuationRecord{
		record(3, "100"), record(2, "0"), record(1, "50"), record(0, "55"),
	})
	// 100→0 is kept (-100%), 0→50 is dropped, 50→55 is kept.
	require.Len(t, got, 2)
	assert.InDelta(t, -1.0, got[0], 1e-12)
	assert.InDelta(t, 0.10, got[1], 1e-12)
}

func TestBuild_SortsAndTruncates(t *testing.T) {
	b := builder(t,
		record(0, "104"), record(3, "100"), record(1, "103"), record(2, "101"),
	)

	got, err := b.Build(context.Background(), "acct-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 103.0/101.0-1, got[0], 1e-12)
	assert.InDelta(t, 104.0/103.0-1, got[1], 1e-12)
}

func TestBuild_WindowExcludesOldRecords(t *testing.T) {
	b := builder(t, record(10, "50"), record(2, "100"), record(1, "110"), record(0, "121"))

	// Truncation alone would keep the 50→100 return; only the date window
	// [now-6d, now] can drop the day-10 record.
	got, err := b.Build(context.Background(), "acct-1", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.10, got[0], 1e-12)
	assert.InDelta(t, 0.10, got[1], 1e-12)
}

func TestBuild_GapsAreNotInterpolated(t *testing.T) {
	b := builder(t, record(5, "100"), record(0, "120"))

	got, err := b.Build(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.20, got[0], 1e-12)
}

func TestBuild_NoHistory(t *testing.T) {
	got, err := builder(t).Build(context.Background(), "acct-1", 30)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuild_InvalidLookback(t *testing.T) {
	_, err := builder(t).Build(context.Background(), "acct-1", 0)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument), "got %v", err)
}

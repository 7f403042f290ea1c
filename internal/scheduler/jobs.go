package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riskdesk/risk-engine/internal/exposure"
	"github.com/riskdesk/risk-engine/internal/limits"
	"github.com/riskdesk/risk-engine/internal/marketdata"
	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/risk"
	"github.com/riskdesk/risk-engine/internal/store"
	"github.com/riskdesk/risk-engine/internal/stream"
	"github.com/riskdesk/risk-engine/internal/valuation"
)

// maxParallelAccounts bounds per-job fan-out.
const maxParallelAccounts = 8

// Accounts selects the accounts a job covers: the configured list, or
// every account holding positions.
type Accounts struct {
	Store store.Store
	Fixed []string
}

func (a Accounts) list(ctx context.Context) ([]string, error) {
	if len(a.Fixed) > 0 {
		return a.Fixed, nil
	}
	return a.Store.ListAccounts(ctx)
}

// forEachAccount runs fn for every account with bounded parallelism. A
// failing account does not stop the others; all failures are returned.
func forEachAccount(ctx context.Context, accounts []string, fn func(ctx context.Context, accountID string) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(maxParallelAccounts)
	for _, id := range accounts {
		id := id // per-iteration copy; go directive lowered to 1.21 for the local toolchain
		g.Go(func() error {
			if err := fn(ctx, id); err != nil {
				slog.Error("account job failed", "account", id, "err", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// ValuationJob values every account and upserts today's row of the P&L
// time series, which the return-series builder later reads.
type ValuationJob struct {
	Store     store.Store
	Valuer    *valuation.Engine
	Publisher stream.Publisher
	Accounts  Accounts
	Now       func() time.Time
}

func (j *ValuationJob) Name() string { return "daily_valuation" }

func (j *ValuationJob) Run(ctx context.Context) error {
	accounts, err := j.Accounts.list(ctx)
	if err != nil {
		return err
	}
	day := store.DayOf(now(j.Now))
	return forEachAccount(ctx, accounts, func(ctx context.Context, accountID string) error {
		pnl, err := j.Valuer.ValuePortfolio(ctx, accountID)
		if err != nil {
			return err
		}
		rec := &model.PortfolioValuationRecord{
			AccountID:      accountID,
			Date:           day,
			UnrealizedPnL:  pnl.UnrealizedPnL,
			RealizedPnL:    pnl.RealizedPnL,
			TotalPnL:       pnl.TotalPnL,
			PortfolioValue: pnl.PortfolioValue,
		}
		if err := j.Store.UpsertValuation(ctx, rec); err != nil {
			return err
		}
		return publish(ctx, j.Publisher, stream.Message{Type: stream.TypePnLUpdate, AccountID: accountID, Data: pnl})
	})
}

// SnapshotJob persists a risk snapshot per account and raises alerts for
// limit breaches.
type SnapshotJob struct {
	Engine    *risk.Engine
	Exposure  *exposure.Analyzer
	Checker   *limits.Checker
	Publisher stream.Publisher
	Accounts  Accounts
	Alpha     float64
	Lookback  int
}

func (j *SnapshotJob) Name() string { return "risk_snapshot" }

func (j *SnapshotJob) Run(ctx context.Context) error {
	accounts, err := j.Accounts.list(ctx)
	if err != nil {
		return err
	}
	return forEachAccount(ctx, accounts, func(ctx context.Context, accountID string) error {
		rep, _, err := j.Engine.Snapshot(ctx, accountID, j.Alpha, j.Lookback)
		if err != nil {
			return err
		}
		if j.Checker == nil {
			return nil
		}

		var groups []model.ExposureGroup
		if j.Exposure != nil {
			if groups, err = j.Exposure.ByAssetClass(ctx, accountID); err != nil {
				return err
			}
		}
		alerts := j.Checker.Alerts(accountID, rep.Results[risk.MethodHistorical], rep.Concentration.Metrics, groups, rep.AsOf)
		for _, a := range alerts {
			slog.Warn("risk limit breached", "account", accountID, "kind", a.Kind, "value", a.Value, "limit", a.Limit)
			if err := publish(ctx, j.Publisher, stream.Message{Type: stream.TypeRiskAlert, AccountID: accountID, Data: a}); err != nil {
				return err
			}
		}
		return nil
	})
}

// PriceJob appends one synthetic price per active instrument from the mock
// source. It only runs when mock prices are enabled.
type PriceJob struct {
	Store     store.Store
	Mock      *marketdata.MockSource
	Publisher stream.Publisher
	Now       func() time.Time
}

func (j *PriceJob) Name() string { return "mock_price_ingest" }

func (j *PriceJob) Run(ctx context.Context) error {
	if j.Mock == nil || !j.Mock.Available() {
		return nil
	}
	instruments, err := j.Store.ListInstruments(ctx)
	if err != nil {
		return err
	}
	ts := now(j.Now)
	for _, inst := range instruments {
		if !inst.Active {
			continue
		}
		p := &model.Price{InstrumentID: inst.ID, Price: j.Mock.Tick(inst.Symbol), Timestamp: ts}
		if err := j.Store.InsertPrice(ctx, p); err != nil {
			return fmt.Errorf("insert price for %s: %w", inst.Symbol, err)
		}
		update := map[string]string{"instrument_id": inst.ID, "symbol": inst.Symbol, "price": p.Price.String()}
		if err := publish(ctx, j.Publisher, stream.Message{Type: stream.TypePriceUpdate, Data: update, Timestamp: ts}); err != nil {
			return err
		}
	}
	return nil
}

func publish(ctx context.Context, pub stream.Publisher, msg stream.Message) error {
	if pub == nil {
		return nil
	}
	return pub.Publish(ctx, msg)
}

func now(fn func() time.Time) time.Time {
	if fn != nil {
		return fn()
	}
	return time.Now()
}

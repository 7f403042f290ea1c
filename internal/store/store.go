// Package store defines the persistence interface for the risk engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/riskdesk/risk-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. The analytics packages only read
// through it; the write methods serve the scheduler and the admin endpoints.
type Store interface {
	// --- Instruments ---

	// CreateInstrument persists a new instrument. Symbols are unique.
	CreateInstrument(ctx context.Context, inst *model.Instrument) error

	// GetInstrument retrieves an instrument by ID.
	GetInstrument(ctx context.Context, id string) (*model.Instrument, error)

	// ListInstruments returns all instruments ordered by symbol.
	ListInstruments(ctx context.Context) ([]model.Instrument, error)

	// DeactivateInstrument clears the active flag. The only permitted mutation.
	DeactivateInstrument(ctx context.Context, id string) error

	// --- Prices (append-only) ---

	// InsertPrice appends a price observation.
	InsertPrice(ctx context.Context, p *model.Price) error

	// LatestPrice returns the max-timestamp observation for an instrument.
	// ok is false when the instrument has never been priced.
	LatestPrice(ctx context.Context, instrumentID string) (p model.Price, ok bool, err error)

	// --- Positions ---

	// UpsertPosition inserts or replaces the (account, instrument) holding.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// GetPositions returns all positions of an account joined with their
	// instrument's symbol, asset class and currency.
	GetPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// ListAccounts returns every account holding at least one position.
	ListAccounts(ctx context.Context) ([]string, error)

	// --- Valuation time series ---

	// UpsertValuation writes the (account, date) row, replacing any existing one.
	UpsertValuation(ctx context.Context, rec *model.PortfolioValuationRecord) error

	// GetValuationHistory returns records with from <= date <= to, ascending by date.
	GetValuationHistory(ctx context.Context, accountID string, from, to time.Time) ([]model.PortfolioValuationRecord, error)

	// --- Risk snapshots ---

	// InsertRiskSnapshot persists a VaR computation.
	InsertRiskSnapshot(ctx context.Context, s *model.RiskMetricsSnapshot) error

	// LatestRiskSnapshotBefore returns the newest snapshot with AsOf <= t.
	LatestRiskSnapshotBefore(ctx context.Context, accountID string, t time.Time) (s model.RiskMetricsSnapshot, ok bool, err error)
}

// DayOf truncates t to midnight UTC, the key of the valuation time series.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

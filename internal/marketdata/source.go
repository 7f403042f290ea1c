// Package marketdata resolves the latest price of an instrument through an
// ordered chain of price sources.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/store"
)

// Ref identifies the instrument a price is requested for. Store-backed
// sources key by ID, synthetic sources by symbol.
type Ref struct {
	InstrumentID string
	Symbol       string
}

// Source is one way of obtaining a latest price.
type Source interface {
	Name() string
	// Available reports whether the source can currently serve requests.
	Available() bool
	// Latest returns the latest price; ok is false when the source has none.
	Latest(ctx context.Context, ref Ref) (price decimal.Decimal, ok bool, err error)
}

// StoreSource serves the max-timestamp price observation from the store.
type StoreSource struct {
	st store.Store
}

// NewStoreSource creates a store-backed source.
func NewStoreSource(st store.Store) *StoreSource {
	return &StoreSource{st: st}
}

func (s *StoreSource) Name() string    { return "store" }
func (s *StoreSource) Available() bool { return s.st != nil }

func (s *StoreSource) Latest(ctx context.Context, ref Ref) (decimal.Decimal, bool, error) {
	p, ok, err := s.st.LatestPrice(ctx, ref.InstrumentID)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	return p.Price, true, nil
}

// Chain tries each available source in order and returns the first hit.
// A failing source is logged and skipped; the error is reported only when
// no later source produced a price.
type Chain []Source

func (c Chain) Latest(ctx context.Context, ref Ref) (decimal.Decimal, bool, error) {
	var errs []error
	for _, src := range c {
		if !src.Available() {
			continue
		}
		price, ok, err := src.Latest(ctx, ref)
		if err != nil {
			slog.Warn("price source failed", "source", src.Name(), "instrument_id", ref.InstrumentID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if ok {
			return price, true, nil
		}
	}
	if len(errs) > 0 {
		return decimal.Zero, false, fmt.Errorf("%w: %w", model.ErrDataUnavailable, errors.Join(errs...))
	}
	return decimal.Zero, false, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riskdesk/risk-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: latest prices and account positions. Writes
// go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertPrice(ctx context.Context, p *model.Price) error {
	if err := s.primary.InsertPrice(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, priceKey(p.InstrumentID))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.AccountID))
	return nil
}

func (s *CachedStore) DeactivateInstrument(ctx context.Context, id string) error {
	return s.primary.DeactivateInstrument(ctx, id)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestPrice(ctx context.Context, instrumentID string) (model.Price, bool, error) {
	data, err := s.rdb.Get(ctx, priceKey(instrumentID)).Bytes()
	if err == nil {
		var p model.Price
		if json.Unmarshal(data, &p) == nil {
			return p, true, nil
		}
	}

	// Cache miss: read from primary. Absence is not cached so that the
	// first inserted price is visible immediately.
	p, ok, err := s.primary.LatestPrice(ctx, instrumentID)
	if err != nil || !ok {
		return p, ok, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, priceKey(instrumentID), data, s.ttl)
	}
	return p, true, nil
}

func (s *CachedStore) GetPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(accountID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateInstrument(ctx context.Context, inst *model.Instrument) error {
	return s.primary.CreateInstrument(ctx, inst)
}

func (s *CachedStore) GetInstrument(ctx context.Context, id string) (*model.Instrument, error) {
	return s.primary.GetInstrument(ctx, id)
}

func (s *CachedStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	return s.primary.ListInstruments(ctx)
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]string, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) UpsertValuation(ctx context.Context, rec *model.PortfolioValuationRecord) error {
	return s.primary.UpsertValuation(ctx, rec)
}

func (s *CachedStore) GetValuationHistory(ctx context.Context, accountID string, from, to time.Time) ([]model.PortfolioValuationRecord, error) {
	return s.primary.GetValuationHistory(ctx, accountID, from, to)
}

func (s *CachedStore) InsertRiskSnapshot(ctx context.Context, snap *model.RiskMetricsSnapshot) error {
	return s.primary.InsertRiskSnapshot(ctx, snap)
}

func (s *CachedStore) LatestRiskSnapshotBefore(ctx context.Context, accountID string, t time.Time) (model.RiskMetricsSnapshot, bool, error) {
	return s.primary.LatestRiskSnapshotBefore(ctx, accountID, t)
}

// --- Cache helpers ---

func priceKey(id string) string      { return fmt.Sprintf("price:latest:%s", id) }
func positionsKey(acct string) string { return fmt.Sprintf("positions:%s", acct) }

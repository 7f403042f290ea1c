package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/riskdesk/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	instruments map[string]*model.Instrument
	prices      map[string][]model.Price             // instrumentID → observations
	positions   map[string]map[string]model.Position // accountID → instrumentID → position
	valuations  map[string]map[time.Time]model.PortfolioValuationRecord
	snapshots   map[string][]model.RiskMetricsSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instruments: make(map[string]*model.Instrument),
		prices:      make(map[string][]model.Price),
		positions:   make(map[string]map[string]model.Position),
		valuations:  make(map[string]map[time.Time]model.PortfolioValuationRecord),
		snapshots:   make(map[string][]model.RiskMetricsSnapshot),
	}
}

func (s *MemoryStore) CreateInstrument(_ context.Context, inst *model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.instruments {
		if existing.Symbol == inst.Symbol {
			return fmt.Errorf("instrument %s already exists", inst.Symbol)
		}
	}

	// Store a copy to avoid external mutation.
	copy := *inst
	s.instruments[inst.ID] = &copy
	return nil
}

func (s *MemoryStore) GetInstrument(_ context.Context, id string) (*model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instruments[id]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	copy := *inst
	return &copy, nil
}

func (s *MemoryStore) ListInstruments(_ context.Context) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) DeactivateInstrument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instruments[id]
	if !ok {
		return fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	inst.Active = false
	return nil
}

func (s *MemoryStore) InsertPrice(_ context.Context, p *model.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instruments[p.InstrumentID]; !ok {
		return fmt.Errorf("instrument %s: %w", p.InstrumentID, ErrNotFound)
	}
	s.prices[p.InstrumentID] = append(s.prices[p.InstrumentID], *p)
	return nil
}

func (s *MemoryStore) LatestPrice(_ context.Context, instrumentID string) (model.Price, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest model.Price
	found := false
	for _, p := range s.prices[instrumentID] {
		// Ties go to the later insert, matching an append-only table.
		if !found || !p.Timestamp.Before(latest.Timestamp) {
			latest = p
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instruments[p.InstrumentID]; !ok {
		return fmt.Errorf("instrument %s: %w", p.InstrumentID, ErrNotFound)
	}
	acct, ok := s.positions[p.AccountID]
	if !ok {
		acct = make(map[string]model.Position)
		s.positions[p.AccountID] = acct
	}
	acct[p.InstrumentID] = *p
	return nil
}

// GetPositions joins positions with instrument metadata (single lock, no
// re-entrant calls). Ordered by symbol for deterministic output.
func (s *MemoryStore) GetPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.positions[accountID]))
	for _, p := range s.positions[accountID] {
		if inst := s.instruments[p.InstrumentID]; inst != nil {
			p.Symbol = inst.Symbol
			p.AssetClass = inst.AssetClass
			p.Currency = inst.Currency
		}
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]string, 0, len(s.positions))
	for id, held := range s.positions {
		if len(held) > 0 {
			accounts = append(accounts, id)
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (s *MemoryStore) UpsertValuation(_ context.Context, rec *model.PortfolioValuationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := DayOf(rec.Date)
	acct, ok := s.valuations[rec.AccountID]
	if !ok {
		acct = make(map[time.Time]model.PortfolioValuationRecord)
		s.valuations[rec.AccountID] = acct
	}
	r := *rec
	r.Date = day
	acct[day] = r
	return nil
}

func (s *MemoryStore) GetValuationHistory(_ context.Context, accountID string, from, to time.Time) ([]model.PortfolioValuationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PortfolioValuationRecord
	for day, r := range s.valuations[accountID] {
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryStore) InsertRiskSnapshot(_ context.Context, snap *model.RiskMetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.AccountID] = append(s.snapshots[snap.AccountID], *snap)
	return nil
}

func (s *MemoryStore) LatestRiskSnapshotBefore(_ context.Context, accountID string, t time.Time) (model.RiskMetricsSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best model.RiskMetricsSnapshot
	found := false
	for _, snap := range s.snapshots[accountID] {
		if snap.AsOf.After(t) {
			continue
		}
		if !found || snap.AsOf.After(best.AsOf) {
			best = snap
			found = true
		}
	}
	return best, found, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/riskdesk/risk-engine/internal/model"
)

// schema is the minimal table layout the store needs. Monetary columns are
// NUMERIC for exact decimal precision.
const schema = `
CREATE TABLE IF NOT EXISTS instruments (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	asset_class TEXT NOT NULL,
	currency    TEXT NOT NULL,
	exchange    TEXT NOT NULL DEFAULT '',
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS prices (
	instrument_id TEXT NOT NULL REFERENCES instruments(id),
	timestamp     TIMESTAMPTZ NOT NULL,
	price         NUMERIC(20,8) NOT NULL,
	volume        NUMERIC(20,8) NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS ix_prices_instrument_timestamp ON prices (instrument_id, timestamp DESC);
CREATE TABLE IF NOT EXISTS positions (
	account_id     TEXT NOT NULL,
	instrument_id  TEXT NOT NULL REFERENCES instruments(id),
	quantity       NUMERIC(20,8) NOT NULL,
	average_cost   NUMERIC(20,8) NOT NULL,
	market_value   NUMERIC(20,8) NOT NULL DEFAULT 0,
	unrealized_pnl NUMERIC(20,8) NOT NULL DEFAULT 0,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (account_id, instrument_id)
);
CREATE TABLE IF NOT EXISTS pnl_timeseries (
	account_id      TEXT NOT NULL,
	date            DATE NOT NULL,
	unrealized_pnl  NUMERIC(20,8) NOT NULL DEFAULT 0,
	realized_pnl    NUMERIC(20,8) NOT NULL DEFAULT 0,
	total_pnl       NUMERIC(20,8) NOT NULL DEFAULT 0,
	portfolio_value NUMERIC(20,8) NOT NULL DEFAULT 0,
	PRIMARY KEY (account_id, date)
);
CREATE TABLE IF NOT EXISTS risk_metrics (
	id                   TEXT PRIMARY KEY,
	account_id           TEXT NOT NULL,
	as_of_date           TIMESTAMPTZ NOT NULL,
	var_historical       NUMERIC(20,8),
	var_parametric       NUMERIC(20,8),
	var_ewma             NUMERIC(20,8),
	var_alpha            DOUBLE PRECISION NOT NULL,
	var_lookback_days    INTEGER NOT NULL,
	portfolio_volatility DOUBLE PRECISION,
	data_points          INTEGER NOT NULL DEFAULT 0,
	largest_position_pct DOUBLE PRECISION,
	num_positions        INTEGER,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_risk_metrics_account_date ON risk_metrics (account_id, as_of_date DESC);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// NUMERIC values cross the wire as text and are parsed into decimals.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates missing tables and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) CreateInstrument(ctx context.Context, inst *model.Instrument) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO instruments (id, symbol, name, asset_class, currency, exchange, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID, inst.Symbol, inst.Name, inst.AssetClass, inst.Currency,
		inst.Exchange, inst.Active, inst.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetInstrument(ctx context.Context, id string) (*model.Instrument, error) {
	var inst model.Instrument
	err := s.pool.QueryRow(ctx,
		`SELECT id, symbol, name, asset_class, currency, exchange, is_active, created_at
		 FROM instruments WHERE id = $1`, id).
		Scan(&inst.ID, &inst.Symbol, &inst.Name, &inst.AssetClass, &inst.Currency,
			&inst.Exchange, &inst.Active, &inst.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument %s: %w", id, err)
	}
	return &inst, nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, name, asset_class, currency, exchange, is_active, created_at
		 FROM instruments ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		if err := rows.Scan(&inst.ID, &inst.Symbol, &inst.Name, &inst.AssetClass,
			&inst.Currency, &inst.Exchange, &inst.Active, &inst.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeactivateInstrument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE instruments SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertPrice(ctx context.Context, p *model.Price) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prices (instrument_id, timestamp, price, volume)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)`,
		p.InstrumentID, p.Timestamp, p.Price.String(), p.Volume.String(),
	)
	return err
}

func (s *PostgresStore) LatestPrice(ctx context.Context, instrumentID string) (model.Price, bool, error) {
	var p model.Price
	var priceS, volumeS string

	err := s.pool.QueryRow(ctx,
		`SELECT instrument_id, timestamp, price::TEXT, volume::TEXT
		 FROM prices WHERE instrument_id = $1
		 ORDER BY timestamp DESC LIMIT 1`, instrumentID).
		Scan(&p.InstrumentID, &p.Timestamp, &priceS, &volumeS)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Price{}, false, nil
	}
	if err != nil {
		return model.Price{}, false, fmt.Errorf("latest price %s: %w", instrumentID, err)
	}

	p.Price, _ = decimal.NewFromString(priceS)
	p.Volume, _ = decimal.NewFromString(volumeS)
	return p, true, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (account_id, instrument_id, quantity, average_cost, market_value, unrealized_pnl, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)
		 ON CONFLICT (account_id, instrument_id) DO UPDATE
		 SET quantity = EXCLUDED.quantity,
		     average_cost = EXCLUDED.average_cost,
		     market_value = EXCLUDED.market_value,
		     unrealized_pnl = EXCLUDED.unrealized_pnl,
		     updated_at = EXCLUDED.updated_at`,
		p.AccountID, p.InstrumentID,
		p.Quantity.String(), p.AverageCost.String(),
		p.MarketValue.String(), p.UnrealizedPnL.String(),
		p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.account_id, p.instrument_id, i.symbol, i.asset_class, i.currency,
		        p.quantity::TEXT, p.average_cost::TEXT,
		        p.market_value::TEXT, p.unrealized_pnl::TEXT, p.updated_at
		 FROM positions p
		 JOIN instruments i ON i.id = p.instrument_id
		 WHERE p.account_id = $1
		 ORDER BY i.symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qtyS, costS, mvS, pnlS string
		if err := rows.Scan(&p.AccountID, &p.InstrumentID, &p.Symbol, &p.AssetClass, &p.Currency,
			&qtyS, &costS, &mvS, &pnlS, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Quantity, _ = decimal.NewFromString(qtyS)
		p.AverageCost, _ = decimal.NewFromString(costS)
		p.MarketValue, _ = decimal.NewFromString(mvS)
		p.UnrealizedPnL, _ = decimal.NewFromString(pnlS)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT account_id FROM positions ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		accounts = append(accounts, id)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) UpsertValuation(ctx context.Context, r *model.PortfolioValuationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pnl_timeseries (account_id, date, unrealized_pnl, realized_pnl, total_pnl, portfolio_value)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)
		 ON CONFLICT (account_id, date) DO UPDATE
		 SET unrealized_pnl = EXCLUDED.unrealized_pnl,
		     realized_pnl = EXCLUDED.realized_pnl,
		     total_pnl = EXCLUDED.total_pnl,
		     portfolio_value = EXCLUDED.portfolio_value`,
		r.AccountID, DayOf(r.Date),
		r.UnrealizedPnL.String(), r.RealizedPnL.String(),
		r.TotalPnL.String(), r.PortfolioValue.String(),
	)
	return err
}

func (s *PostgresStore) GetValuationHistory(ctx context.Context, accountID string, from, to time.Time) ([]model.PortfolioValuationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, date,
		        unrealized_pnl::TEXT, realized_pnl::TEXT, total_pnl::TEXT, portfolio_value::TEXT
		 FROM pnl_timeseries
		 WHERE account_id = $1 AND date >= $2 AND date <= $3
		 ORDER BY date`, accountID, DayOf(from), to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PortfolioValuationRecord
	for rows.Next() {
		var r model.PortfolioValuationRecord
		var unrealS, realS, totalS, valueS string
		if err := rows.Scan(&r.AccountID, &r.Date, &unrealS, &realS, &totalS, &valueS); err != nil {
			return nil, err
		}
		r.UnrealizedPnL, _ = decimal.NewFromString(unrealS)
		r.RealizedPnL, _ = decimal.NewFromString(realS)
		r.TotalPnL, _ = decimal.NewFromString(totalS)
		r.PortfolioValue, _ = decimal.NewFromString(valueS)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertRiskSnapshot(ctx context.Context, m *model.RiskMetricsSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_metrics (id, account_id, as_of_date, var_historical, var_parametric, var_ewma,
		                           var_alpha, var_lookback_days, portfolio_volatility, data_points,
		                           largest_position_pct, num_positions, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.AccountID, m.AsOf,
		m.VarHistorical.String(), m.VarParametric.String(), m.VarEWMA.String(),
		m.Alpha, m.LookbackDays, m.Volatility, m.DataPoints,
		m.LargestPositionPct, m.NumPositions, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) LatestRiskSnapshotBefore(ctx context.Context, accountID string, t time.Time) (model.RiskMetricsSnapshot, bool, error) {
	var m model.RiskMetricsSnapshot
	var histS, paramS, ewmaS string

	err := s.pool.QueryRow(ctx,
		`SELECT id, account_id, as_of_date,
		        COALESCE(var_historical, 0)::TEXT, COALESCE(var_parametric, 0)::TEXT, COALESCE(var_ewma, 0)::TEXT,
		        var_alpha, var_lookback_days, COALESCE(portfolio_volatility, 0), data_points,
		        COALESCE(largest_position_pct, 0), COALESCE(num_positions, 0), created_at
		 FROM risk_metrics
		 WHERE account_id = $1 AND as_of_date <= $2
		 ORDER BY as_of_date DESC LIMIT 1`, accountID, t).
		Scan(&m.ID, &m.AccountID, &m.AsOf, &histS, &paramS, &ewmaS,
			&m.Alpha, &m.LookbackDays, &m.Volatility, &m.DataPoints,
			&m.LargestPositionPct, &m.NumPositions, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RiskMetricsSnapshot{}, false, nil
	}
	if err != nil {
		return model.RiskMetricsSnapshot{}, false, fmt.Errorf("latest risk snapshot %s: %w", accountID, err)
	}

	m.VarHistorical, _ = decimal.NewFromString(histS)
	m.VarParametric, _ = decimal.NewFromString(paramS)
	m.VarEWMA, _ = decimal.NewFromString(ewmaS)
	return m, true, nil
}

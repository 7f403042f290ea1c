// Package api provides the HTTP handlers over the valuation, VaR and
// exposure engines. Handlers parse and default query parameters; the
// engines own validation of the values they receive.
//
// All monetary values use shopspring/decimal.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riskdesk/risk-engine/internal/exposure"
	"github.com/riskdesk/risk-engine/internal/instrument"
	"github.com/riskdesk/risk-engine/internal/limits"
	"github.com/riskdesk/risk-engine/internal/model"
	"github.com/riskdesk/risk-engine/internal/returns"
	"github.com/riskdesk/risk-engine/internal/risk"
	"github.com/riskdesk/risk-engine/internal/store"
	"github.com/riskdesk/risk-engine/internal/stream"
	"github.com/riskdesk/risk-engine/internal/valuation"
)

// Service serves the account, risk and reference-data endpoints.
type Service struct {
	store    store.Store
	valuer   *valuation.Engine
	returns  *returns.Builder
	risk     *risk.Engine
	exposure *exposure.Analyzer
	checker  *limits.Checker
	pub      stream.Publisher // optional
}

// NewService creates the HTTP service. Pass nil for pub if price updates
// should not be broadcast.
func NewService(
	st store.Store,
	valuer *valuation.Engine,
	builder *returns.Builder,
	engine *risk.Engine,
	analyzer *exposure.Analyzer,
	checker *limits.Checker,
	pub stream.Publisher,
) *Service {
	return &Service{
		store:    st,
		valuer:   valuer,
		returns:  builder,
		risk:     engine,
		exposure: analyzer,
		checker:  checker,
		pub:      pub,
	}
}

// Routes registers the handlers under r, which is normally mounted at
// /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Get("/positions", s.GetPositions)
		r.Get("/pnl/summary", s.GetPnLSummary)
		r.Get("/pnl/timeseries", s.GetPnLTimeseries)
		r.Get("/pnl/contributors", s.GetPnLContributors)
		r.Get("/risk/var", s.GetVar)
		r.Get("/risk/var/change", s.GetVarChange)
		r.Get("/risk/exposure", s.GetExposure)
		r.Get("/risk/concentration", s.GetConcentration)
		r.Get("/risk/metrics", s.GetRiskMetrics)
	})
	r.Get("/instruments", s.ListInstruments)
	r.Post("/instruments", s.CreateInstrument)
	r.Get("/instruments/{instrumentID}", s.GetInstrument)
	r.Post("/instruments/{instrumentID}/deactivate", s.DeactivateInstrument)
	r.Post("/prices", s.PostPrice)
}

// --- Request/Response types ---

// CreateInstrumentRequest is the JSON body for POST /instruments.
type CreateInstrumentRequest struct {
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	AssetClass string `json:"asset_class"`
	Currency   string `json:"currency"`
	Exchange   string `json:"exchange"`
}

// PriceRequest is the JSON body for POST /prices.
type PriceRequest struct {
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	Volume       decimal.Decimal `json:"volume"`
	Timestamp    time.Time       `json:"timestamp"` // zero → now
}

// RiskMetricsResponse is the body of GET /risk/metrics.
type RiskMetricsResponse struct {
	*risk.Report
	Alerts         []model.RiskAlert `json:"alerts"`
	AlertTriggered bool              `json:"alert_triggered"`
}

// --- Account handlers ---

// GetPositions handles GET /accounts/{accountID}/positions. Market value
// and unrealized P&L are marked at the latest price.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	positions, err := s.valuer.Positions(ctx, accountID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	for i, p := range positions {
		mv, missing, err := s.valuer.MarketValue(ctx, p)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		positions[i].MarketValue = mv
		positions[i].UnrealizedPnL = decimal.Zero
		if !missing {
			positions[i].UnrealizedPnL = mv.Sub(p.CostBasis())
		}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPnLSummary handles GET /accounts/{accountID}/pnl/summary.
func (s *Service) GetPnLSummary(w http.ResponseWriter, r *http.Request) {
	pnl, err := s.valuer.ValuePortfolio(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pnl)
}

// GetPnLTimeseries handles GET /accounts/{accountID}/pnl/timeseries?from=&to=.
// Dates are YYYY-MM-DD or RFC 3339; the default window is the last 30 days.
func (s *Service) GetPnLTimeseries(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := store.DayOf(to.AddDate(0, 0, -30))
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = parseDate(v); err != nil {
			writeError(w, "invalid from date", http.StatusBadRequest)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = parseDate(v); err != nil {
			writeError(w, "invalid to date", http.StatusBadRequest)
			return
		}
	}
	if to.Before(from) {
		writeError(w, "to must not be before from", http.StatusBadRequest)
		return
	}

	records, err := s.returns.History(r.Context(), chi.URLParam(r, "accountID"), from, to)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []model.PortfolioValuationRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetPnLContributors handles GET /accounts/{accountID}/pnl/contributors?limit=.
func (s *Service) GetPnLContributors(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 10)
	if !ok {
		return
	}
	out, err := s.valuer.Contributions(r.Context(), chi.URLParam(r, "accountID"), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetVar handles GET /accounts/{accountID}/risk/var?alpha=&lookback=&method=.
// Unknown or missing methods default to historical.
func (s *Service) GetVar(w http.ResponseWriter, r *http.Request) {
	alpha, ok := floatParam(w, r, "alpha", s.risk.Alpha)
	if !ok {
		return
	}
	lookback, ok := intParam(w, r, "lookback", s.risk.Lookback)
	if !ok {
		return
	}

	res, err := s.risk.Calculate(r.Context(), chi.URLParam(r, "accountID"), methodParam(r), alpha, lookback)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetVarChange handles GET /accounts/{accountID}/risk/var/change?method=&days_back=.
func (s *Service) GetVarChange(w http.ResponseWriter, r *http.Request) {
	daysBack, ok := intParam(w, r, "days_back", risk.DefaultDaysBack)
	if !ok {
		return
	}
	out, err := s.risk.Change(r.Context(), chi.URLParam(r, "accountID"), methodParam(r), daysBack)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetExposure handles GET /accounts/{accountID}/risk/exposure.
func (s *Service) GetExposure(w http.ResponseWriter, r *http.Request) {
	out, err := s.exposure.Summary(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetConcentration handles GET /accounts/{accountID}/risk/concentration?top=.
func (s *Service) GetConcentration(w http.ResponseWriter, r *http.Request) {
	top, ok := intParam(w, r, "top", exposure.DefaultTopN)
	if !ok {
		return
	}
	out, err := s.exposure.Concentration(r.Context(), chi.URLParam(r, "accountID"), top)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRiskMetrics handles GET /accounts/{accountID}/risk/metrics: every VaR
// estimator, concentration, and any limit breaches.
func (s *Service) GetRiskMetrics(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	rep, err := s.risk.Report(ctx, accountID, s.risk.Alpha, s.risk.Lookback)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := RiskMetricsResponse{Report: rep, Alerts: []model.RiskAlert{}}
	if s.checker != nil {
		groups, err := s.exposure.ByAssetClass(ctx, accountID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if alerts := s.checker.Alerts(accountID, rep.Results[risk.MethodHistorical], rep.Concentration.Metrics, groups, rep.AsOf); len(alerts) > 0 {
			resp.Alerts = alerts
			resp.AlertTriggered = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Reference data ---

// ListInstruments handles GET /instruments.
func (s *Service) ListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.store.ListInstruments(r.Context())
	if err != nil {
		writeError(w, "failed to list instruments", http.StatusInternalServerError)
		return
	}
	if instruments == nil {
		instruments = []model.Instrument{}
	}
	writeJSON(w, http.StatusOK, instruments)
}

// CreateInstrument handles POST /instruments.
func (s *Service) CreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req CreateInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sym, err := instrument.ParseSymbol(req.Symbol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	class := strings.ToLower(strings.TrimSpace(req.AssetClass))
	if err := instrument.ValidateAssetClass(class); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	symbol := sym.Raw
	if class == instrument.ClassCrypto {
		if symbol, err = instrument.CryptoPair(sym.Raw); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}
	if err := instrument.ValidateCurrency(currency); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	inst := &model.Instrument{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Name:       req.Name,
		AssetClass: class,
		Currency:   currency,
		Exchange:   req.Exchange,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateInstrument(r.Context(), inst); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("instrument created", "id", inst.ID, "symbol", inst.Symbol, "asset_class", inst.AssetClass)
	writeJSON(w, http.StatusCreated, inst)
}

// GetInstrument handles GET /instruments/{instrumentID}.
func (s *Service) GetInstrument(w http.ResponseWriter, r *http.Request) {
	inst, err := s.store.GetInstrument(r.Context(), chi.URLParam(r, "instrumentID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "instrument not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to get instrument", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// DeactivateInstrument handles POST /instruments/{instrumentID}/deactivate.
// Deactivation is the only change an instrument accepts after creation;
// existing positions and prices are kept.
func (s *Service) DeactivateInstrument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "instrumentID")
	if err := s.store.DeactivateInstrument(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "instrument not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to deactivate instrument", http.StatusInternalServerError)
		return
	}
	inst, err := s.store.GetInstrument(ctx, id)
	if err != nil {
		writeError(w, "failed to get instrument", http.StatusInternalServerError)
		return
	}

	slog.Info("instrument deactivated", "id", id, "symbol", inst.Symbol)
	writeJSON(w, http.StatusOK, inst)
}

// PostPrice handles POST /prices, appending one price observation.
func (s *Service) PostPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.InstrumentID == "" {
		writeError(w, "instrument_id is required", http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	ctx := r.Context()
	p := &model.Price{InstrumentID: req.InstrumentID, Price: req.Price, Volume: req.Volume, Timestamp: req.Timestamp}
	if err := s.store.InsertPrice(ctx, p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "instrument not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to record price", http.StatusInternalServerError)
		return
	}

	if s.pub != nil {
		msg := stream.Message{Type: stream.TypePriceUpdate, Data: p, Timestamp: p.Timestamp}
		if err := s.pub.Publish(ctx, msg); err != nil {
			slog.Warn("price broadcast failed", "instrument_id", p.InstrumentID, "err", err)
		}
	}
	writeJSON(w, http.StatusCreated, p)
}

// --- Helpers ---

func methodParam(r *http.Request) risk.Method {
	m, err := risk.ParseMethod(r.URL.Query().Get("method"))
	if err != nil {
		return risk.MethodHistorical
	}
	return m
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func floatParam(w http.ResponseWriter, r *http.Request, name string, def float64) (float64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		writeError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return f, true
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// writeEngineError maps engine error kinds to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrDataUnavailable):
		slog.Error("data unavailable", "err", err)
		writeError(w, "data unavailable", http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

package risk

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/riskdesk/risk-engine/internal/model"
)

// MinObservations is the smallest return sample a VaR estimate is computed
// from. Smaller samples yield a zero VaR flagged as insufficient.
const MinObservations = 30

// DefaultLambda is the RiskMetrics EWMA decay factor.
const DefaultLambda = 0.94

// Method names a VaR estimator.
type Method string

const (
	MethodHistorical Method = "historical"
	MethodParametric Method = "parametric"
	MethodEWMA       Method = "ewma"
)

// Methods lists every supported estimator.
var Methods = []Method{MethodHistorical, MethodParametric, MethodEWMA}

// ParseMethod validates a method name. Matching is case-insensitive.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodHistorical, MethodParametric, MethodEWMA:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown VaR method %q", ErrInvalidArgument, s)
}

// Estimator turns a return sample into a VaR figure. Implementations are
// pure: the same inputs always give the same result.
type Estimator interface {
	Method() Method
	Estimate(returns []float64, alpha, portfolioValue float64) model.VarResult
}

// Historical reads VaR off the empirical return distribution.
type Historical struct{}

func (Historical) Method() Method { return MethodHistorical }

func (h Historical) Estimate(returns []float64, alpha, portfolioValue float64) model.VarResult {
	res, ok := base(h.Method(), returns, alpha, portfolioValue)
	if !ok {
		return res
	}
	pct := percentile(returns, (1-alpha)*100)
	res.VarPercent = pct
	res.VarValue = math.Abs(pct * portfolioValue)
	return res
}

// Parametric assumes normally distributed returns with the sample mean and
// standard deviation.
type Parametric struct{}

func (Parametric) Method() Method { return MethodParametric }

func (p Parametric) Estimate(returns []float64, alpha, portfolioValue float64) model.VarResult {
	res, ok := base(p.Method(), returns, alpha, portfolioValue)
	if !ok {
		return res
	}
	mean, sd := stat.MeanStdDev(returns, nil)
	z := zScore(alpha)

	res.VarPercent = math.Abs(z*sd - mean)
	res.VarValue = res.VarPercent * portfolioValue
	res.Volatility = sd
	res.MeanReturn = mean
	res.ZScore = z
	return res
}

// EWMA is the parametric estimate with exponentially decaying weights, so
// recent returns dominate the volatility.
type EWMA struct {
	Lambda float64
}

func (EWMA) Method() Method { return MethodEWMA }

func (e EWMA) Estimate(returns []float64, alpha, portfolioValue float64) model.VarResult {
	lambda := e.Lambda
	if lambda <= 0 || lambda >= 1 {
		lambda = DefaultLambda
	}
	res, ok := base(e.Method(), returns, alpha, portfolioValue)
	res.Lambda = lambda
	if !ok {
		return res
	}
	mean, variance := stat.PopMeanVariance(returns, ewmaWeights(len(returns), lambda))
	vol := math.Sqrt(variance)
	z := zScore(alpha)

	res.VarPercent = math.Abs(z*vol - mean)
	res.VarValue = res.VarPercent * portfolioValue
	res.Volatility = vol
	res.WeightedMean = mean
	res.ZScore = z
	return res
}

// base fills the fields common to every estimator. ok is false when the
// sample is below MinObservations; the result then carries a zero VaR.
func base(m Method, returns []float64, alpha, portfolioValue float64) (model.VarResult, bool) {
	res := model.VarResult{
		Method:          string(m),
		ConfidenceLevel: alpha,
		DataPoints:      len(returns),
		PortfolioValue:  portfolioValue,
	}
	if len(returns) < MinObservations {
		res.Insufficient = true
		return res, false
	}
	return res, true
}

// zScore is Φ⁻¹(1−alpha), negative for alpha above one half.
func zScore(alpha float64) float64 {
	return distuv.UnitNormal.Quantile(1 - alpha)
}

// NewEstimator returns the estimator for a method. lambda is only used by
// EWMA.
func NewEstimator(m Method, lambda float64) (Estimator, error) {
	switch m {
	case MethodHistorical:
		return Historical{}, nil
	case MethodParametric:
		return Parametric{}, nil
	case MethodEWMA:
		return EWMA{Lambda: lambda}, nil
	}
	return nil, fmt.Errorf("%w: unknown VaR method %q", ErrInvalidArgument, m)
}
